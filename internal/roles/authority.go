package roles

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Service defines role membership and request workflow operations.
type Service interface {
	Grant(ctx context.Context, actor, target string, role Role) error
	Revoke(ctx context.Context, actor, target string, role Role) error
	HasRole(ctx context.Context, principal string, role Role) (bool, error)
	SubmitRequest(ctx context.Context, requester string, role Role, justification string) (Request, error)
	ProcessRequest(ctx context.Context, actor string, requestID uint64, approve bool) (Request, error)
	PendingRequests(ctx context.Context) ([]Request, error)
	ProcessedRequests(ctx context.Context) ([]Request, error)
	UserCount(ctx context.Context) (uint64, error)
}

// InMemory implements Service with in-process concurrency safety.
// Mutations are serialized by a single lock, which gives every
// state-changing call a place in one global order.
type InMemory struct {
	mu       sync.RWMutex
	members  map[Role]map[string]struct{}
	requests []*Request
	byID     map[uint64]*Request
	nextID   uint64
	known    map[string]struct{} // principals ever granted a role or requesting one
}

var _ Service = (*InMemory)(nil)

// NewInMemory creates an authority with the given bootstrap admins,
// mirroring the deployer grant a fresh ledger starts with.
func NewInMemory(bootstrapAdmins ...string) *InMemory {
	a := &InMemory{
		members: make(map[Role]map[string]struct{}),
		byID:    make(map[uint64]*Request),
		known:   make(map[string]struct{}),
	}
	for _, admin := range bootstrapAdmins {
		admin = strings.TrimSpace(admin)
		if admin == "" {
			continue
		}
		a.addMember(Admin, admin)
	}
	return a
}

// addMember mutates membership; callers must hold the write lock
// (or be the constructor).
func (a *InMemory) addMember(role Role, principal string) {
	set, ok := a.members[role]
	if !ok {
		set = make(map[string]struct{})
		a.members[role] = set
	}
	set[principal] = struct{}{}
	a.known[principal] = struct{}{}
}

func (a *InMemory) isAdmin(principal string) bool {
	_, ok := a.members[Admin][principal]
	return ok
}

// Grant gives target the role. Only admins may grant; granting an
// already-held role is a no-op success.
func (a *InMemory) Grant(ctx context.Context, actor, target string, role Role) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return fmt.Errorf("%w: target principal is required", ErrInvalidInput)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.isAdmin(actor) {
		return fmt.Errorf("%w: %s may not grant roles", ErrUnauthorized, actor)
	}
	a.addMember(role, target)
	return nil
}

// Revoke removes the role from target. Revoking an unheld role is a
// no-op success.
func (a *InMemory) Revoke(ctx context.Context, actor, target string, role Role) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return fmt.Errorf("%w: target principal is required", ErrInvalidInput)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.isAdmin(actor) {
		return fmt.Errorf("%w: %s may not revoke roles", ErrUnauthorized, actor)
	}
	delete(a.members[role], target)
	return nil
}

// HasRole reports role membership. Admins satisfy every role query.
func (a *InMemory) HasRole(ctx context.Context, principal string, role Role) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.isAdmin(principal) {
		return true, nil
	}
	_, ok := a.members[role][principal]
	return ok, nil
}

// SubmitRequest records a pending role request. No role is required to ask.
func (a *InMemory) SubmitRequest(ctx context.Context, requester string, role Role, justification string) (Request, error) {
	requester = strings.TrimSpace(requester)
	if requester == "" {
		return Request{}, fmt.Errorf("%w: requester principal is required", ErrInvalidInput)
	}
	justification = strings.TrimSpace(justification)
	if justification == "" {
		return Request{}, fmt.Errorf("%w: justification is required", ErrInvalidInput)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.nextID++
	req := &Request{
		ID:            a.nextID,
		Requester:     requester,
		Role:          role,
		Justification: justification,
		CreatedAt:     time.Now().UTC(),
		Status:        StatusPending,
	}
	a.requests = append(a.requests, req)
	a.byID[req.ID] = req
	a.known[requester] = struct{}{}
	return *req, nil
}

// ProcessRequest settles a pending request exactly once. Approving
// grants the requested role in the same step; rejecting grants nothing.
func (a *InMemory) ProcessRequest(ctx context.Context, actor string, requestID uint64, approve bool) (Request, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isAdmin(actor) {
		return Request{}, fmt.Errorf("%w: %s may not process role requests", ErrUnauthorized, actor)
	}
	req, ok := a.byID[requestID]
	if !ok {
		return Request{}, fmt.Errorf("%w: request %d", ErrNotFound, requestID)
	}
	if req.Status != StatusPending {
		return Request{}, fmt.Errorf("%w: request %d is %s", ErrAlreadyProcessed, requestID, req.Status)
	}

	now := time.Now().UTC()
	if approve {
		a.addMember(req.Role, req.Requester)
		req.Status = StatusApproved
	} else {
		req.Status = StatusRejected
	}
	req.ProcessedBy = actor
	req.ProcessedAt = &now
	return *req, nil
}

// PendingRequests returns unsettled requests in submission order.
func (a *InMemory) PendingRequests(ctx context.Context) ([]Request, error) {
	return a.list(func(r *Request) bool { return r.Status == StatusPending }), nil
}

// ProcessedRequests returns settled requests in submission order.
func (a *InMemory) ProcessedRequests(ctx context.Context) ([]Request, error) {
	return a.list(func(r *Request) bool { return r.Status != StatusPending }), nil
}

func (a *InMemory) list(keep func(*Request) bool) []Request {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Request, 0, len(a.requests))
	for _, r := range a.requests {
		if keep(r) {
			out = append(out, *r)
		}
	}
	return out
}

// UserCount reports how many distinct principals the authority has seen.
func (a *InMemory) UserCount(ctx context.Context) (uint64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return uint64(len(a.known)), nil
}
