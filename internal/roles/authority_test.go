package roles

import (
	"context"
	"errors"
	"testing"
)

func TestGrantIsIdempotent(t *testing.T) {
	a := NewInMemory("admin-1")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := a.Grant(ctx, "admin-1", "farmer-1", Farmer); err != nil {
			t.Fatalf("grant #%d: %v", i+1, err)
		}
		ok, err := a.HasRole(ctx, "farmer-1", Farmer)
		if err != nil || !ok {
			t.Fatalf("grant #%d: hasRole=%v err=%v", i+1, ok, err)
		}
	}
}

func TestGrantRequiresAdmin(t *testing.T) {
	a := NewInMemory("admin-1")
	ctx := context.Background()

	if err := a.Grant(ctx, "nobody", "farmer-1", Farmer); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if ok, _ := a.HasRole(ctx, "farmer-1", Farmer); ok {
		t.Fatal("role must not be granted by a non-admin")
	}
}

func TestRevokeUnheldRoleIsNoop(t *testing.T) {
	a := NewInMemory("admin-1")
	ctx := context.Background()

	if err := a.Revoke(ctx, "admin-1", "farmer-1", Farmer); err != nil {
		t.Fatalf("revoke of unheld role must succeed, got %v", err)
	}
}

func TestAdminSatisfiesAnyRoleCheck(t *testing.T) {
	a := NewInMemory("admin-1")
	ctx := context.Background()

	for _, role := range All() {
		ok, err := a.HasRole(ctx, "admin-1", role)
		if err != nil {
			t.Fatalf("hasRole(%s): %v", role, err)
		}
		if !ok {
			t.Fatalf("admin must satisfy %s check", role)
		}
	}
}

func TestRequestLifecycle(t *testing.T) {
	a := NewInMemory("admin-1")
	ctx := context.Background()

	req, err := a.SubmitRequest(ctx, "farmer-1", Farmer, "own a farm")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if req.ID != 1 || req.Status != StatusPending {
		t.Fatalf("unexpected request: %+v", req)
	}

	pending, _ := a.PendingRequests(ctx)
	if len(pending) != 1 || pending[0].ID != req.ID {
		t.Fatalf("pending list wrong: %+v", pending)
	}

	processed, err := a.ProcessRequest(ctx, "admin-1", req.ID, true)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if processed.Status != StatusApproved || processed.ProcessedBy != "admin-1" {
		t.Fatalf("unexpected processed request: %+v", processed)
	}
	if ok, _ := a.HasRole(ctx, "farmer-1", Farmer); !ok {
		t.Fatal("approval must grant the requested role")
	}

	pending, _ = a.PendingRequests(ctx)
	if len(pending) != 0 {
		t.Fatalf("request still pending after approval: %+v", pending)
	}
	done, _ := a.ProcessedRequests(ctx)
	if len(done) != 1 || done[0].Status != StatusApproved {
		t.Fatalf("processed list wrong: %+v", done)
	}
}

func TestProcessRequestTwiceFails(t *testing.T) {
	a := NewInMemory("admin-1")
	ctx := context.Background()

	req, _ := a.SubmitRequest(ctx, "dist-1", Distributor, "regional logistics")
	if _, err := a.ProcessRequest(ctx, "admin-1", req.ID, false); err != nil {
		t.Fatalf("first process: %v", err)
	}
	if _, err := a.ProcessRequest(ctx, "admin-1", req.ID, true); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}
	// The rejected decision must not be overturned by the failed retry.
	if ok, _ := a.HasRole(ctx, "dist-1", Distributor); ok {
		t.Fatal("role granted by a rejected request")
	}
}

func TestProcessRequestRequiresAdmin(t *testing.T) {
	a := NewInMemory("admin-1")
	ctx := context.Background()

	req, _ := a.SubmitRequest(ctx, "ret-1", Retailer, "storefront")
	if _, err := a.ProcessRequest(ctx, "ret-1", req.ID, true); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestProcessUnknownRequest(t *testing.T) {
	a := NewInMemory("admin-1")
	if _, err := a.ProcessRequest(context.Background(), "admin-1", 99, true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubmitRequestValidation(t *testing.T) {
	a := NewInMemory("admin-1")
	ctx := context.Background()

	if _, err := a.SubmitRequest(ctx, "farmer-1", Farmer, "  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty justification: expected ErrInvalidInput, got %v", err)
	}
	if _, err := a.SubmitRequest(ctx, "", Farmer, "why"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty requester: expected ErrInvalidInput, got %v", err)
	}
}

func TestRequestIDsAreMonotonic(t *testing.T) {
	a := NewInMemory("admin-1")
	ctx := context.Background()

	for want := uint64(1); want <= 5; want++ {
		req, err := a.SubmitRequest(ctx, "p", Farmer, "j")
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if req.ID != want {
			t.Fatalf("expected id %d, got %d", want, req.ID)
		}
	}
}

func TestUserCount(t *testing.T) {
	a := NewInMemory("admin-1")
	ctx := context.Background()

	if n, _ := a.UserCount(ctx); n != 1 {
		t.Fatalf("bootstrap count: %d", n)
	}
	_ = a.Grant(ctx, "admin-1", "farmer-1", Farmer)
	_, _ = a.SubmitRequest(ctx, "dist-1", Distributor, "trucks")
	_ = a.Grant(ctx, "admin-1", "farmer-1", Retailer) // same principal again

	if n, _ := a.UserCount(ctx); n != 3 {
		t.Fatalf("expected 3 known principals, got %d", n)
	}
	// Revoking does not forget the principal.
	_ = a.Revoke(ctx, "admin-1", "farmer-1", Farmer)
	if n, _ := a.UserCount(ctx); n != 3 {
		t.Fatalf("count changed after revoke: %d", n)
	}
}

func TestParseRoleRoundTrip(t *testing.T) {
	for _, role := range All() {
		parsed, err := Parse(role.String())
		if err != nil {
			t.Fatalf("parse %s: %v", role, err)
		}
		if parsed != role {
			t.Fatalf("round trip mismatch: %s != %s", parsed, role)
		}
	}
	if _, err := Parse("MINER"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown role must fail, got %v", err)
	}
}
