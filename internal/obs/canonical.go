package obs

import "strings"

// CanonicalPath collapses resource identifiers in metric labels so the
// cardinality of path labels stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}

	for _, prefix := range []string{"/v1/products", "/v1/batches", "/v1/role-requests"} {
		rest, ok := strings.CutPrefix(path, prefix+"/")
		if !ok {
			continue
		}
		parts := strings.Split(strings.Trim(rest, "/"), "/")
		if len(parts) == 0 || parts[0] == "" || parts[0] == "count" {
			return path
		}
		switch len(parts) {
		case 1:
			return prefix + "/:id"
		case 2:
			return prefix + "/:id/" + parts[1]
		}
		return path
	}
	return path
}
