package provenance

import (
	"context"
	"errors"
	"time"

	"agrotrace.org/internal/roles"
)

// Product is the registered item the ledger tracks. Histories live in
// append-only sequences keyed by the product id.
type Product struct {
	ID           uint64    `json:"id"`
	Name         string    `json:"name"`
	Origin       string    `json:"origin"`
	HarvestDate  time.Time `json:"harvest_date"`
	CurrentOwner string    `json:"current_owner"`
}

// Certification is an attestation against an external standard.
// ExpiryDate is strictly after IssueDate.
type Certification struct {
	Standard   string    `json:"standard"`
	Issuer     string    `json:"issuer"`
	IssueDate  time.Time `json:"issue_date"`
	ExpiryDate time.Time `json:"expiry_date"`
}

// CarbonFootprint is a single overwritable snapshot per product.
// Emissions are integer grams CO2e; no floats, values round-trip exactly.
type CarbonFootprint struct {
	TransportEmissions  int64 `json:"transport_emissions"`
	ProductionEmissions int64 `json:"production_emissions"`
	PackagingEmissions  int64 `json:"packaging_emissions"`
}

// History is the public provenance view of one product.
type History struct {
	ID               uint64    `json:"id"`
	Name             string    `json:"name"`
	Origin           string    `json:"origin"`
	HarvestDate      time.Time `json:"harvest_date"`
	CurrentOwner     string    `json:"current_owner"`
	QualityChecks    []string  `json:"quality_checks"`
	OwnershipHistory []string  `json:"ownership_history"`
	LocationHistory  []string  `json:"location_history"`
}

var (
	ErrNotFound     = errors.New("product not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidInput = errors.New("invalid input")
)

// RoleChecker answers role membership queries. Admins satisfy every check.
type RoleChecker interface {
	HasRole(ctx context.Context, principal string, role roles.Role) (bool, error)
}
