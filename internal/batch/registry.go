package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"agrotrace.org/internal/roles"
)

// Batch is a named, immutable grouping of previously registered product ids.
// Batches reference products by value; they do not own them.
type Batch struct {
	ID         string    `json:"batch_id"`
	ProductIDs []uint64  `json:"product_ids"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
}

var (
	ErrNotFound     = errors.New("batch not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidInput = errors.New("invalid input")
	ErrDuplicate    = errors.New("batch id already exists")
)

// RoleChecker answers role membership queries. Admins satisfy every check.
type RoleChecker interface {
	HasRole(ctx context.Context, principal string, role roles.Role) (bool, error)
}

// ProductIndex reports whether a product id is registered.
type ProductIndex interface {
	Exists(ctx context.Context, productID uint64) (bool, error)
}

// Service defines batch registry operations.
type Service interface {
	Create(ctx context.Context, actor, batchID string, productIDs []uint64) (Batch, error)
	Get(ctx context.Context, batchID string) (Batch, error)
}

// Registry implements Service in memory. All member ids are validated
// before anything is stored, so no partial batch is ever visible.
type Registry struct {
	mu       sync.RWMutex
	roles    RoleChecker
	products ProductIndex
	batches  map[string]*Batch
}

var _ Service = (*Registry)(nil)

// NewRegistry creates an empty batch registry.
func NewRegistry(checker RoleChecker, products ProductIndex) *Registry {
	return &Registry{
		roles:    checker,
		products: products,
		batches:  make(map[string]*Batch),
	}
}

// Create stores a batch atomically. Batch ids are case-sensitive and,
// once used, can never be reused.
func (r *Registry) Create(ctx context.Context, actor, batchID string, productIDs []uint64) (Batch, error) {
	ok, err := r.roles.HasRole(ctx, actor, roles.Farmer)
	if err != nil {
		return Batch{}, err
	}
	if !ok {
		return Batch{}, fmt.Errorf("%w: %s may not create batches", ErrUnauthorized, actor)
	}
	if strings.TrimSpace(batchID) == "" {
		return Batch{}, fmt.Errorf("%w: batch id is required", ErrInvalidInput)
	}
	if len(productIDs) == 0 {
		return Batch{}, fmt.Errorf("%w: batch needs at least one product", ErrInvalidInput)
	}
	seen := make(map[uint64]struct{}, len(productIDs))
	for _, id := range productIDs {
		if _, dup := seen[id]; dup {
			return Batch{}, fmt.Errorf("%w: duplicate product %d in batch", ErrInvalidInput, id)
		}
		seen[id] = struct{}{}
	}
	for _, id := range productIDs {
		exists, err := r.products.Exists(ctx, id)
		if err != nil {
			return Batch{}, err
		}
		if !exists {
			return Batch{}, fmt.Errorf("%w: product %d", ErrNotFound, id)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.batches[batchID]; taken {
		return Batch{}, fmt.Errorf("%w: %q", ErrDuplicate, batchID)
	}
	b := &Batch{
		ID:         batchID,
		ProductIDs: append([]uint64(nil), productIDs...),
		CreatedBy:  actor,
		CreatedAt:  time.Now().UTC(),
	}
	r.batches[batchID] = b
	return *b, nil
}

// Get returns a copy of the batch.
func (r *Registry) Get(ctx context.Context, batchID string) (Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.batches[batchID]
	if !ok {
		return Batch{}, fmt.Errorf("%w: %q", ErrNotFound, batchID)
	}
	out := *b
	out.ProductIDs = append([]uint64(nil), b.ProductIDs...)
	return out, nil
}
