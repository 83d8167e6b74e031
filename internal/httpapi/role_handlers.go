package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"agrotrace.org/internal/access"
	"agrotrace.org/internal/obs"
	"agrotrace.org/internal/roles"
	"agrotrace.org/internal/stream"
)

func (a *API) handleRoleRequests(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.submitRoleRequest(w, r)
	case http.MethodGet:
		a.listRoleRequests(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) submitRoleRequest(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r, a)
	if !ok {
		return
	}
	if err := a.policy.Authorize(r.Context(), principal, access.OpSubmitRoleRequest); err != nil {
		handleAccessError(w, r, err)
		return
	}

	var req struct {
		Role          string `json:"role"`
		Justification string `json:"justification"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := roles.Parse(req.Role)
	if err != nil {
		handleRolesError(w, r, err)
		return
	}

	submitted, err := a.authority.SubmitRequest(r.Context(), principal, role, req.Justification)
	obs.CountLedgerOp(string(access.OpSubmitRoleRequest), err)
	if err != nil {
		handleRolesError(w, r, err)
		return
	}

	a.audit(r.Context(), "role.request_submitted", "role_request", strconv.FormatUint(submitted.ID, 10), map[string]string{
		"role": role.String(),
	})
	writeJSON(w, http.StatusCreated, submitted)
}

func (a *API) listRoleRequests(w http.ResponseWriter, r *http.Request) {
	status := strings.ToLower(r.URL.Query().Get("status"))

	var (
		list []roles.Request
		err  error
	)
	switch status {
	case "", "pending":
		list, err = a.authority.PendingRequests(r.Context())
	case "processed":
		list, err = a.authority.ProcessedRequests(r.Context())
	default:
		writeError(w, r, http.StatusBadRequest, "status must be pending or processed")
		return
	}
	if err != nil {
		handleRolesError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": list})
}

func (a *API) handleRoleRequestResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/role-requests/")
	idPart, sub, _ := strings.Cut(rest, "/")
	if sub != "process" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	requestID, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil || requestID == 0 {
		writeError(w, r, http.StatusBadRequest, "invalid role request id")
		return
	}

	principal, ok := requirePrincipal(w, r, a)
	if !ok {
		return
	}
	if err := a.policy.Authorize(r.Context(), principal, access.OpProcessRoleRequest); err != nil {
		handleAccessError(w, r, err)
		return
	}

	var req struct {
		Approve bool `json:"approve"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	processed, err := a.authority.ProcessRequest(r.Context(), principal, requestID, req.Approve)
	obs.CountLedgerOp(string(access.OpProcessRoleRequest), err)
	if err != nil {
		handleRolesError(w, r, err)
		return
	}

	a.audit(r.Context(), "role.request_processed", "role_request", strconv.FormatUint(requestID, 10), map[string]string{
		"status": string(processed.Status),
		"role":   processed.Role.String(),
	})
	a.stream.Publish(stream.Event{
		Type:   stream.EventRoleDecision,
		Actor:  principal,
		Detail: processed.Requester + ":" + string(processed.Status),
	})
	writeJSON(w, http.StatusOK, processed)
}

func (a *API) handleGrantRole(w http.ResponseWriter, r *http.Request) {
	a.changeRoleMembership(w, r, access.OpGrantRole)
}

func (a *API) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	a.changeRoleMembership(w, r, access.OpRevokeRole)
}

func (a *API) changeRoleMembership(w http.ResponseWriter, r *http.Request, op access.Operation) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := requirePrincipal(w, r, a)
	if !ok {
		return
	}
	if err := a.policy.Authorize(r.Context(), principal, op); err != nil {
		handleAccessError(w, r, err)
		return
	}

	var req struct {
		Target string `json:"target"`
		Role   string `json:"role"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := roles.Parse(req.Role)
	if err != nil {
		handleRolesError(w, r, err)
		return
	}

	if op == access.OpGrantRole {
		err = a.authority.Grant(r.Context(), principal, req.Target, role)
	} else {
		err = a.authority.Revoke(r.Context(), principal, req.Target, role)
	}
	obs.CountLedgerOp(string(op), err)
	if err != nil {
		handleRolesError(w, r, err)
		return
	}

	a.audit(r.Context(), string(op), "role", role.String(), map[string]string{
		"target": strings.TrimSpace(req.Target),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"target": strings.TrimSpace(req.Target),
		"role":   role.String(),
	})
}

func (a *API) handleRoleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal := strings.TrimSpace(r.URL.Query().Get("principal"))
	if principal == "" {
		writeError(w, r, http.StatusBadRequest, "principal query parameter is required")
		return
	}
	role, err := roles.Parse(r.URL.Query().Get("role"))
	if err != nil {
		handleRolesError(w, r, err)
		return
	}

	held, err := a.authority.HasRole(r.Context(), principal, role)
	if err != nil {
		handleRolesError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"principal": principal,
		"role":      role.String(),
		"has_role":  held,
	})
}

func (a *API) handleUserCount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	n, err := a.authority.UserCount(r.Context())
	if err != nil {
		handleRolesError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": n})
}
