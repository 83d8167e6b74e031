package provenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"agrotrace.org/internal/roles"
)

func newTestLedger(t *testing.T) (*InMemory, *roles.InMemory) {
	t.Helper()
	authority := roles.NewInMemory("admin-1")
	ctx := context.Background()
	if err := authority.Grant(ctx, "admin-1", "farmer-1", roles.Farmer); err != nil {
		t.Fatalf("grant farmer: %v", err)
	}
	if err := authority.Grant(ctx, "admin-1", "qc-1", roles.QualityChecker); err != nil {
		t.Fatalf("grant quality checker: %v", err)
	}
	if err := authority.Grant(ctx, "admin-1", "dist-1", roles.Distributor); err != nil {
		t.Fatalf("grant distributor: %v", err)
	}
	return NewInMemory(authority), authority
}

func harvested() time.Time {
	return time.Now().UTC().Add(-24 * time.Hour)
}

func TestRegisterAssignsSequentialIDs(t *testing.T) {
	s, _ := newTestLedger(t)
	ctx := context.Background()

	for want := uint64(1); want <= 4; want++ {
		p, err := s.Register(ctx, "farmer-1", fmt.Sprintf("Lot %d", want), "Valencia", harvested())
		if err != nil {
			t.Fatalf("register #%d: %v", want, err)
		}
		if p.ID != want {
			t.Fatalf("expected id %d, got %d", want, p.ID)
		}
		if p.CurrentOwner != "farmer-1" {
			t.Fatalf("registrant must own the product, got %s", p.CurrentOwner)
		}
	}
	if n, _ := s.Count(ctx); n != 4 {
		t.Fatalf("count=%d", n)
	}
}

func TestRegisterValidation(t *testing.T) {
	s, _ := newTestLedger(t)
	ctx := context.Background()

	cases := []struct {
		name, origin string
		harvest      time.Time
		wantErr      error
	}{
		{"", "Valencia", harvested(), ErrInvalidInput},
		{"Orange", "  ", harvested(), ErrInvalidInput},
		{"Orange", "Valencia", time.Time{}, ErrInvalidInput},
		{"Orange", "Valencia", time.Now().Add(48 * time.Hour), ErrInvalidInput},
	}
	for _, tc := range cases {
		if _, err := s.Register(ctx, "farmer-1", tc.name, tc.origin, tc.harvest); !errors.Is(err, tc.wantErr) {
			t.Fatalf("register(%q,%q): expected %v, got %v", tc.name, tc.origin, tc.wantErr, err)
		}
	}
	if n, _ := s.Count(ctx); n != 0 {
		t.Fatalf("rejected registrations must not consume ids, count=%d", n)
	}
}

func TestRegisterRequiresFarmerOrAdmin(t *testing.T) {
	s, _ := newTestLedger(t)
	ctx := context.Background()

	if _, err := s.Register(ctx, "stranger", "Orange", "Valencia", harvested()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := s.Register(ctx, "admin-1", "Orange", "Valencia", harvested()); err != nil {
		t.Fatalf("admin register: %v", err)
	}
}

func TestTransferOwnership(t *testing.T) {
	s, _ := newTestLedger(t)
	ctx := context.Background()

	p, _ := s.Register(ctx, "farmer-1", "Orange", "Valencia", harvested())

	updated, err := s.TransferOwnership(ctx, "farmer-1", p.ID, "dist-1")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if updated.CurrentOwner != "dist-1" {
		t.Fatalf("owner not updated: %s", updated.CurrentOwner)
	}

	h, err := s.History(ctx, p.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if h.CurrentOwner != "dist-1" {
		t.Fatalf("history owner: %s", h.CurrentOwner)
	}
	if len(h.OwnershipHistory) != 1 || h.OwnershipHistory[0] != "farmer-1" {
		t.Fatalf("previous owner appended wrong: %v", h.OwnershipHistory)
	}
}

func TestTransferRejections(t *testing.T) {
	s, _ := newTestLedger(t)
	ctx := context.Background()

	p, _ := s.Register(ctx, "farmer-1", "Orange", "Valencia", harvested())

	if _, err := s.TransferOwnership(ctx, "farmer-1", 99, "dist-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown product: expected ErrNotFound, got %v", err)
	}
	if _, err := s.TransferOwnership(ctx, "dist-1", p.ID, "ret-1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-owner transfer: expected ErrUnauthorized, got %v", err)
	}
	if _, err := s.TransferOwnership(ctx, "farmer-1", p.ID, "farmer-1"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("self transfer: expected ErrInvalidInput, got %v", err)
	}

	h, _ := s.History(ctx, p.ID)
	if len(h.OwnershipHistory) != 0 {
		t.Fatalf("rejected transfers must leave no history: %v", h.OwnershipHistory)
	}
}

func TestAdminMayTransferForOwner(t *testing.T) {
	s, _ := newTestLedger(t)
	ctx := context.Background()

	p, _ := s.Register(ctx, "farmer-1", "Orange", "Valencia", harvested())
	if _, err := s.TransferOwnership(ctx, "admin-1", p.ID, "dist-1"); err != nil {
		t.Fatalf("admin transfer: %v", err)
	}
}

func TestUpdateLocationAppendsRepeats(t *testing.T) {
	s, _ := newTestLedger(t)
	ctx := context.Background()

	p, _ := s.Register(ctx, "farmer-1", "Orange", "Valencia", harvested())
	for i := 0; i < 2; i++ {
		if err := s.UpdateLocation(ctx, "farmer-1", p.ID, "Warehouse 7"); err != nil {
			t.Fatalf("update #%d: %v", i+1, err)
		}
	}
	h, _ := s.History(ctx, p.ID)
	if len(h.LocationHistory) != 2 {
		t.Fatalf("repeat locations must both be logged: %v", h.LocationHistory)
	}
	if err := s.UpdateLocation(ctx, "stranger", p.ID, "Elsewhere"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestAddQualityCheckRoleGate(t *testing.T) {
	s, _ := newTestLedger(t)
	ctx := context.Background()

	p, _ := s.Register(ctx, "farmer-1", "Orange", "Valencia", harvested())
	if err := s.AddQualityCheck(ctx, "farmer-1", p.ID, "grade A"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("farmer quality check: expected ErrUnauthorized, got %v", err)
	}
	if err := s.AddQualityCheck(ctx, "qc-1", p.ID, "grade A"); err != nil {
		t.Fatalf("quality check: %v", err)
	}
	if err := s.AddQualityCheck(ctx, "qc-1", p.ID, " "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty result: expected ErrInvalidInput, got %v", err)
	}
	h, _ := s.History(ctx, p.ID)
	if len(h.QualityChecks) != 1 || h.QualityChecks[0] != "grade A" {
		t.Fatalf("quality checks: %v", h.QualityChecks)
	}
}

func TestAddCertificationValidityWindow(t *testing.T) {
	s, _ := newTestLedger(t)
	ctx := context.Background()

	p, _ := s.Register(ctx, "farmer-1", "Orange", "Valencia", harvested())
	issue := time.Now().UTC()

	bad := Certification{Standard: "GlobalGAP", Issuer: "SGS", IssueDate: issue, ExpiryDate: issue}
	if err := s.AddCertification(ctx, "farmer-1", p.ID, bad); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expiry == issue: expected ErrInvalidInput, got %v", err)
	}
	certs, _ := s.Certifications(ctx, p.ID)
	if len(certs) != 0 {
		t.Fatalf("rejected certification persisted: %v", certs)
	}

	good := Certification{Standard: "GlobalGAP", Issuer: "SGS", IssueDate: issue, ExpiryDate: issue.Add(365 * 24 * time.Hour)}
	if err := s.AddCertification(ctx, "farmer-1", p.ID, good); err != nil {
		t.Fatalf("add certification: %v", err)
	}
	certs, _ = s.Certifications(ctx, p.ID)
	if len(certs) != 1 || certs[0].Standard != "GlobalGAP" {
		t.Fatalf("certifications: %v", certs)
	}
}

func TestSetCarbonFootprintOverwrites(t *testing.T) {
	s, _ := newTestLedger(t)
	ctx := context.Background()

	p, _ := s.Register(ctx, "farmer-1", "Orange", "Valencia", harvested())

	if err := s.SetCarbonFootprint(ctx, "farmer-1", p.ID, CarbonFootprint{}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("farmer footprint: expected ErrUnauthorized, got %v", err)
	}
	if err := s.SetCarbonFootprint(ctx, "dist-1", p.ID, CarbonFootprint{TransportEmissions: -1}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("negative emissions: expected ErrInvalidInput, got %v", err)
	}

	first := CarbonFootprint{TransportEmissions: 100, ProductionEmissions: 250, PackagingEmissions: 30}
	if err := s.SetCarbonFootprint(ctx, "dist-1", p.ID, first); err != nil {
		t.Fatalf("set footprint: %v", err)
	}
	second := CarbonFootprint{TransportEmissions: 120, ProductionEmissions: 250, PackagingEmissions: 30}
	if err := s.SetCarbonFootprint(ctx, "dist-1", p.ID, second); err != nil {
		t.Fatalf("overwrite footprint: %v", err)
	}
	got, err := s.Footprint(ctx, p.ID)
	if err != nil {
		t.Fatalf("footprint: %v", err)
	}
	if got != second {
		t.Fatalf("footprint not overwritten: %+v", got)
	}
}

func TestReadsOnUnknownProduct(t *testing.T) {
	s, _ := newTestLedger(t)
	ctx := context.Background()

	if _, err := s.History(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("history: %v", err)
	}
	if _, err := s.Footprint(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("footprint: %v", err)
	}
	if _, err := s.Certifications(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("certifications: %v", err)
	}
}

func TestConcurrentRegistrations(t *testing.T) {
	s, _ := newTestLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	N := 50
	for i := 0; i < N; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.Register(ctx, "farmer-1", fmt.Sprintf("Lot %d", i), "Valencia", harvested())
		}(i)
	}
	wg.Wait()

	count, _ := s.Count(ctx)
	if count != uint64(N) {
		t.Fatalf("expected %d products, got %d", N, count)
	}
	// Ids must be dense: every id in [1,N] resolves.
	for id := uint64(1); id <= uint64(N); id++ {
		if ok, _ := s.Exists(ctx, id); !ok {
			t.Fatalf("gap at id %d", id)
		}
	}
}
