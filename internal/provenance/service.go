package provenance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"agrotrace.org/internal/roles"
)

// Service defines product ledger operations. Reads never mutate state
// and never require a role; provenance is publicly auditable.
type Service interface {
	Register(ctx context.Context, actor, name, origin string, harvestDate time.Time) (Product, error)
	TransferOwnership(ctx context.Context, actor string, productID uint64, newOwner string) (Product, error)
	UpdateLocation(ctx context.Context, actor string, productID uint64, location string) error
	AddQualityCheck(ctx context.Context, actor string, productID uint64, result string) error
	AddCertification(ctx context.Context, actor string, productID uint64, cert Certification) error
	SetCarbonFootprint(ctx context.Context, actor string, productID uint64, fp CarbonFootprint) error

	History(ctx context.Context, productID uint64) (History, error)
	Footprint(ctx context.Context, productID uint64) (CarbonFootprint, error)
	Certifications(ctx context.Context, productID uint64) ([]Certification, error)
	Count(ctx context.Context) (uint64, error)
	Exists(ctx context.Context, productID uint64) (bool, error)
}

type record struct {
	Product
	qualityChecks  []string
	owners         []string
	locations      []string
	certifications []Certification
	footprint      *CarbonFootprint
}

// InMemory implements Service with one lock serializing all mutations.
// Every state-changing call validates fully before touching state, so a
// rejected call leaves nothing behind.
type InMemory struct {
	mu       sync.RWMutex
	roles    RoleChecker
	products map[uint64]*record
	count    uint64
}

var _ Service = (*InMemory)(nil)

// NewInMemory creates an empty product ledger.
func NewInMemory(checker RoleChecker) *InMemory {
	return &InMemory{
		roles:    checker,
		products: make(map[uint64]*record),
	}
}

// Register adds a product and assigns the next sequential id, starting at 1.
// The caller becomes the first owner; no history is written yet.
func (s *InMemory) Register(ctx context.Context, actor, name, origin string, harvestDate time.Time) (Product, error) {
	if err := s.requireRole(ctx, actor, roles.Farmer); err != nil {
		return Product{}, err
	}
	name = strings.TrimSpace(name)
	origin = strings.TrimSpace(origin)
	if name == "" {
		return Product{}, fmt.Errorf("%w: product name is required", ErrInvalidInput)
	}
	if origin == "" {
		return Product{}, fmt.Errorf("%w: origin is required", ErrInvalidInput)
	}
	if harvestDate.IsZero() || harvestDate.After(time.Now().UTC()) {
		return Product{}, fmt.Errorf("%w: harvest date must be in the past or present", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	rec := &record{Product: Product{
		ID:           s.count,
		Name:         name,
		Origin:       origin,
		HarvestDate:  harvestDate.UTC(),
		CurrentOwner: actor,
	}}
	s.products[rec.ID] = rec
	return rec.Product, nil
}

// TransferOwnership appends the old owner to the ownership history and
// installs the new one. A self-transfer is rejected rather than silently
// accepted so the history stays meaningful.
func (s *InMemory) TransferOwnership(ctx context.Context, actor string, productID uint64, newOwner string) (Product, error) {
	newOwner = strings.TrimSpace(newOwner)
	if newOwner == "" {
		return Product{}, fmt.Errorf("%w: new owner is required", ErrInvalidInput)
	}
	admin, err := s.isAdmin(ctx, actor)
	if err != nil {
		return Product{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.products[productID]
	if !ok {
		return Product{}, fmt.Errorf("%w: product %d", ErrNotFound, productID)
	}
	if actor != rec.CurrentOwner && !admin {
		return Product{}, fmt.Errorf("%w: %s does not own product %d", ErrUnauthorized, actor, productID)
	}
	if newOwner == rec.CurrentOwner {
		return Product{}, fmt.Errorf("%w: product %d already owned by %s", ErrInvalidInput, productID, newOwner)
	}

	rec.owners = append(rec.owners, rec.CurrentOwner)
	rec.CurrentOwner = newOwner
	return rec.Product, nil
}

// UpdateLocation appends unconditionally; a repeated location entry
// represents dwell time at the same place.
func (s *InMemory) UpdateLocation(ctx context.Context, actor string, productID uint64, location string) error {
	location = strings.TrimSpace(location)
	if location == "" {
		return fmt.Errorf("%w: location is required", ErrInvalidInput)
	}
	admin, err := s.isAdmin(ctx, actor)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.products[productID]
	if !ok {
		return fmt.Errorf("%w: product %d", ErrNotFound, productID)
	}
	if actor != rec.CurrentOwner && !admin {
		return fmt.Errorf("%w: %s does not own product %d", ErrUnauthorized, actor, productID)
	}
	rec.locations = append(rec.locations, location)
	return nil
}

// AddQualityCheck appends a check result. Only quality checkers and
// admins may attest.
func (s *InMemory) AddQualityCheck(ctx context.Context, actor string, productID uint64, result string) error {
	if err := s.requireRole(ctx, actor, roles.QualityChecker); err != nil {
		return err
	}
	result = strings.TrimSpace(result)
	if result == "" {
		return fmt.Errorf("%w: check result is required", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.products[productID]
	if !ok {
		return fmt.Errorf("%w: product %d", ErrNotFound, productID)
	}
	rec.qualityChecks = append(rec.qualityChecks, result)
	return nil
}

// AddCertification appends a certification after checking its validity window.
func (s *InMemory) AddCertification(ctx context.Context, actor string, productID uint64, cert Certification) error {
	cert.Standard = strings.TrimSpace(cert.Standard)
	cert.Issuer = strings.TrimSpace(cert.Issuer)
	if cert.Standard == "" || cert.Issuer == "" {
		return fmt.Errorf("%w: certification standard and issuer are required", ErrInvalidInput)
	}
	if !cert.ExpiryDate.After(cert.IssueDate) {
		return fmt.Errorf("%w: certification expiry must be after issue date", ErrInvalidInput)
	}
	admin, err := s.isAdmin(ctx, actor)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.products[productID]
	if !ok {
		return fmt.Errorf("%w: product %d", ErrNotFound, productID)
	}
	if actor != rec.CurrentOwner && !admin {
		return fmt.Errorf("%w: %s does not own product %d", ErrUnauthorized, actor, productID)
	}
	cert.IssueDate = cert.IssueDate.UTC()
	cert.ExpiryDate = cert.ExpiryDate.UTC()
	rec.certifications = append(rec.certifications, cert)
	return nil
}

// SetCarbonFootprint overwrites the single footprint snapshot of a product.
func (s *InMemory) SetCarbonFootprint(ctx context.Context, actor string, productID uint64, fp CarbonFootprint) error {
	if err := s.requireAnyRole(ctx, actor, roles.Distributor, roles.Retailer); err != nil {
		return err
	}
	if fp.TransportEmissions < 0 || fp.ProductionEmissions < 0 || fp.PackagingEmissions < 0 {
		return fmt.Errorf("%w: emissions must be non-negative", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.products[productID]
	if !ok {
		return fmt.Errorf("%w: product %d", ErrNotFound, productID)
	}
	snapshot := fp
	rec.footprint = &snapshot
	return nil
}

// History returns a copy of the product record and its histories.
func (s *InMemory) History(ctx context.Context, productID uint64) (History, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.products[productID]
	if !ok {
		return History{}, fmt.Errorf("%w: product %d", ErrNotFound, productID)
	}
	return History{
		ID:               rec.ID,
		Name:             rec.Name,
		Origin:           rec.Origin,
		HarvestDate:      rec.HarvestDate,
		CurrentOwner:     rec.CurrentOwner,
		QualityChecks:    append([]string(nil), rec.qualityChecks...),
		OwnershipHistory: append([]string(nil), rec.owners...),
		LocationHistory:  append([]string(nil), rec.locations...),
	}, nil
}

// Footprint returns the snapshot, or zeros when none has been set yet.
func (s *InMemory) Footprint(ctx context.Context, productID uint64) (CarbonFootprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.products[productID]
	if !ok {
		return CarbonFootprint{}, fmt.Errorf("%w: product %d", ErrNotFound, productID)
	}
	if rec.footprint == nil {
		return CarbonFootprint{}, nil
	}
	return *rec.footprint, nil
}

// Certifications returns a copy of the certification sequence.
func (s *InMemory) Certifications(ctx context.Context, productID uint64) ([]Certification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.products[productID]
	if !ok {
		return nil, fmt.Errorf("%w: product %d", ErrNotFound, productID)
	}
	return append([]Certification(nil), rec.certifications...), nil
}

// Count reports how many products have been registered.
func (s *InMemory) Count(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count, nil
}

// Exists reports whether the product id is registered.
func (s *InMemory) Exists(ctx context.Context, productID uint64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.products[productID]
	return ok, nil
}

func (s *InMemory) isAdmin(ctx context.Context, actor string) (bool, error) {
	return s.roles.HasRole(ctx, actor, roles.Admin)
}

// requireRole rejects the call unless actor holds the role (or is an admin,
// which the checker resolves implicitly).
func (s *InMemory) requireRole(ctx context.Context, actor string, role roles.Role) error {
	ok, err := s.roles.HasRole(ctx, actor, role)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s lacks role %s", ErrUnauthorized, actor, role)
	}
	return nil
}

func (s *InMemory) requireAnyRole(ctx context.Context, actor string, anyOf ...roles.Role) error {
	for _, role := range anyOf {
		ok, err := s.roles.HasRole(ctx, actor, role)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%w: %s lacks any of the required roles", ErrUnauthorized, actor)
}
