package batch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"agrotrace.org/internal/provenance"
	"agrotrace.org/internal/roles"
)

func newTestRegistry(t *testing.T) (*Registry, *provenance.InMemory) {
	t.Helper()
	ctx := context.Background()
	authority := roles.NewInMemory("admin-1")
	if err := authority.Grant(ctx, "admin-1", "farmer-1", roles.Farmer); err != nil {
		t.Fatalf("grant: %v", err)
	}
	ledger := provenance.NewInMemory(authority)
	return NewRegistry(authority, ledger), ledger
}

func registerProducts(t *testing.T, ledger *provenance.InMemory, n int) []uint64 {
	t.Helper()
	ctx := context.Background()
	ids := make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		p, err := ledger.Register(ctx, "farmer-1", fmt.Sprintf("Lot %d", i+1), "Valencia", time.Now().UTC().Add(-time.Hour))
		if err != nil {
			t.Fatalf("register: %v", err)
		}
		ids = append(ids, p.ID)
	}
	return ids
}

func TestCreateAndGetBatch(t *testing.T) {
	r, ledger := newTestRegistry(t)
	ctx := context.Background()
	ids := registerProducts(t, ledger, 3)

	b, err := r.Create(ctx, "farmer-1", "HARVEST-2026-W35", ids)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := r.Get(ctx, "HARVEST-2026-W35")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CreatedBy != "farmer-1" || len(got.ProductIDs) != 3 {
		t.Fatalf("unexpected batch: %+v", got)
	}
	for i, id := range ids {
		if got.ProductIDs[i] != id {
			t.Fatalf("member order not preserved: %v vs %v", got.ProductIDs, ids)
		}
	}
	if !got.CreatedAt.Equal(b.CreatedAt) {
		t.Fatalf("created at mismatch")
	}
}

func TestBatchIDNeverReused(t *testing.T) {
	r, ledger := newTestRegistry(t)
	ctx := context.Background()
	ids := registerProducts(t, ledger, 2)

	if _, err := r.Create(ctx, "farmer-1", "B-1", ids[:1]); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := r.Create(ctx, "farmer-1", "B-1", ids[1:]); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	// Case-sensitive: a different casing is a different id.
	if _, err := r.Create(ctx, "farmer-1", "b-1", ids[1:]); err != nil {
		t.Fatalf("case-sensitive id rejected: %v", err)
	}
}

func TestCreateBatchIsAtomic(t *testing.T) {
	r, ledger := newTestRegistry(t)
	ctx := context.Background()
	ids := registerProducts(t, ledger, 5)
	members := append(append([]uint64(nil), ids...), 999) // one invalid member

	if _, err := r.Create(ctx, "farmer-1", "B-partial", members); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := r.Get(ctx, "B-partial"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("partial batch persisted: %v", err)
	}
}

func TestCreateBatchValidation(t *testing.T) {
	r, ledger := newTestRegistry(t)
	ctx := context.Background()
	ids := registerProducts(t, ledger, 1)

	if _, err := r.Create(ctx, "farmer-1", "  ", ids); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank id: expected ErrInvalidInput, got %v", err)
	}
	if _, err := r.Create(ctx, "farmer-1", "B-empty", nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty members: expected ErrInvalidInput, got %v", err)
	}
	if _, err := r.Create(ctx, "farmer-1", "B-dup", []uint64{ids[0], ids[0]}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("duplicate member: expected ErrInvalidInput, got %v", err)
	}
	if _, err := r.Create(ctx, "stranger", "B-role", ids); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("role gate: expected ErrUnauthorized, got %v", err)
	}
}

func TestBatchCopyIsDetached(t *testing.T) {
	r, ledger := newTestRegistry(t)
	ctx := context.Background()
	ids := registerProducts(t, ledger, 2)

	if _, err := r.Create(ctx, "farmer-1", "B-copy", ids); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, _ := r.Get(ctx, "B-copy")
	got.ProductIDs[0] = 42

	again, _ := r.Get(ctx, "B-copy")
	if again.ProductIDs[0] != ids[0] {
		t.Fatal("registry state mutated through returned copy")
	}
}
