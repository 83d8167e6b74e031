package roles

import "fmt"

// Role is a closed set of capability tags gating mutating operations.
// Admin implicitly satisfies any role check.
type Role uint8

const (
	Admin Role = iota
	Farmer
	Distributor
	Retailer
	QualityChecker
)

// All lists every defined role in declaration order.
func All() []Role {
	return []Role{Admin, Farmer, Distributor, Retailer, QualityChecker}
}

func (r Role) String() string {
	switch r {
	case Admin:
		return "ADMIN"
	case Farmer:
		return "FARMER"
	case Distributor:
		return "DISTRIBUTOR"
	case Retailer:
		return "RETAILER"
	case QualityChecker:
		return "QUALITY_CHECKER"
	default:
		return fmt.Sprintf("ROLE(%d)", uint8(r))
	}
}

// Parse maps a wire name onto the closed enumeration.
func Parse(name string) (Role, error) {
	switch name {
	case "ADMIN":
		return Admin, nil
	case "FARMER":
		return Farmer, nil
	case "DISTRIBUTOR":
		return Distributor, nil
	case "RETAILER":
		return Retailer, nil
	case "QUALITY_CHECKER":
		return QualityChecker, nil
	default:
		return 0, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, name)
	}
}

// MarshalText encodes the role name for JSON payloads.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a role name, rejecting anything outside the enumeration.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
