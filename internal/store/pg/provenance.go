package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"agrotrace.org/internal/provenance"
	"agrotrace.org/internal/roles"
)

func (s *Store) Register(ctx context.Context, actor, name, origin string, harvestDate time.Time) (provenance.Product, error) {
	if err := s.requireRole(ctx, actor, roles.Farmer); err != nil {
		return provenance.Product{}, err
	}
	name = strings.TrimSpace(name)
	origin = strings.TrimSpace(origin)
	if name == "" {
		return provenance.Product{}, fmt.Errorf("%w: product name is required", provenance.ErrInvalidInput)
	}
	if origin == "" {
		return provenance.Product{}, fmt.Errorf("%w: origin is required", provenance.ErrInvalidInput)
	}
	if harvestDate.IsZero() || harvestDate.After(time.Now().UTC()) {
		return provenance.Product{}, fmt.Errorf("%w: harvest date must be in the past or present", provenance.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return provenance.Product{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// Ids are dense and sequential from 1; serializable isolation keeps
	// concurrent registrations from picking the same id.
	var id uint64
	if err := tx.QueryRowContext(ctx, `
		select coalesce(max(id), 0) + 1 from products
	`).Scan(&id); err != nil {
		return provenance.Product{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into products(id, name, origin, harvest_date, current_owner)
		values ($1, $2, $3, $4, $5)
	`, id, name, origin, harvestDate.UTC(), actor); err != nil {
		return provenance.Product{}, err
	}
	if err := tx.Commit(); err != nil {
		return provenance.Product{}, err
	}

	return provenance.Product{
		ID:           id,
		Name:         name,
		Origin:       origin,
		HarvestDate:  harvestDate.UTC(),
		CurrentOwner: actor,
	}, nil
}

func (s *Store) TransferOwnership(ctx context.Context, actor string, productID uint64, newOwner string) (provenance.Product, error) {
	newOwner = strings.TrimSpace(newOwner)
	if newOwner == "" {
		return provenance.Product{}, fmt.Errorf("%w: new owner is required", provenance.ErrInvalidInput)
	}
	admin, err := s.hasRole(ctx, actor, roles.Admin)
	if err != nil {
		return provenance.Product{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return provenance.Product{}, err
	}
	defer func() { _ = tx.Rollback() }()

	product, err := lockProduct(ctx, tx, productID)
	if err != nil {
		return provenance.Product{}, err
	}
	if actor != product.CurrentOwner && !admin {
		return provenance.Product{}, fmt.Errorf("%w: %s does not own product %d", provenance.ErrUnauthorized, actor, productID)
	}
	if newOwner == product.CurrentOwner {
		return provenance.Product{}, fmt.Errorf("%w: product %d already owned by %s", provenance.ErrInvalidInput, productID, newOwner)
	}

	if _, err := tx.ExecContext(ctx, `
		insert into ownership_history(product_id, owner) values ($1, $2)
	`, productID, product.CurrentOwner); err != nil {
		return provenance.Product{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		update products set current_owner = $2 where id = $1
	`, productID, newOwner); err != nil {
		return provenance.Product{}, err
	}
	if err := tx.Commit(); err != nil {
		return provenance.Product{}, err
	}

	product.CurrentOwner = newOwner
	return product, nil
}

func (s *Store) UpdateLocation(ctx context.Context, actor string, productID uint64, location string) error {
	location = strings.TrimSpace(location)
	if location == "" {
		return fmt.Errorf("%w: location is required", provenance.ErrInvalidInput)
	}
	admin, err := s.hasRole(ctx, actor, roles.Admin)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	product, err := lockProduct(ctx, tx, productID)
	if err != nil {
		return err
	}
	if actor != product.CurrentOwner && !admin {
		return fmt.Errorf("%w: %s does not own product %d", provenance.ErrUnauthorized, actor, productID)
	}
	if _, err := tx.ExecContext(ctx, `
		insert into location_history(product_id, location) values ($1, $2)
	`, productID, location); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) AddQualityCheck(ctx context.Context, actor string, productID uint64, result string) error {
	if err := s.requireRole(ctx, actor, roles.QualityChecker); err != nil {
		return err
	}
	result = strings.TrimSpace(result)
	if result == "" {
		return fmt.Errorf("%w: check result is required", provenance.ErrInvalidInput)
	}

	res, err := s.db.ExecContext(ctx, `
		insert into quality_checks(product_id, result)
		select $1, $2 where exists (select 1 from products where id = $1)
	`, productID, result)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: product %d", provenance.ErrNotFound, productID)
	}
	return nil
}

func (s *Store) AddCertification(ctx context.Context, actor string, productID uint64, cert provenance.Certification) error {
	cert.Standard = strings.TrimSpace(cert.Standard)
	cert.Issuer = strings.TrimSpace(cert.Issuer)
	if cert.Standard == "" || cert.Issuer == "" {
		return fmt.Errorf("%w: certification standard and issuer are required", provenance.ErrInvalidInput)
	}
	if !cert.ExpiryDate.After(cert.IssueDate) {
		return fmt.Errorf("%w: certification expiry must be after issue date", provenance.ErrInvalidInput)
	}
	admin, err := s.hasRole(ctx, actor, roles.Admin)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	product, err := lockProduct(ctx, tx, productID)
	if err != nil {
		return err
	}
	if actor != product.CurrentOwner && !admin {
		return fmt.Errorf("%w: %s does not own product %d", provenance.ErrUnauthorized, actor, productID)
	}
	if _, err := tx.ExecContext(ctx, `
		insert into certifications(product_id, standard, issuer, issue_date, expiry_date)
		values ($1, $2, $3, $4, $5)
	`, productID, cert.Standard, cert.Issuer, cert.IssueDate.UTC(), cert.ExpiryDate.UTC()); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) SetCarbonFootprint(ctx context.Context, actor string, productID uint64, fp provenance.CarbonFootprint) error {
	if err := s.requireAnyRole(ctx, actor, roles.Distributor, roles.Retailer); err != nil {
		return err
	}
	if fp.TransportEmissions < 0 || fp.ProductionEmissions < 0 || fp.PackagingEmissions < 0 {
		return fmt.Errorf("%w: emissions must be non-negative", provenance.ErrInvalidInput)
	}

	res, err := s.db.ExecContext(ctx, `
		update products
		set transport_emissions = $2,
		    production_emissions = $3,
		    packaging_emissions = $4,
		    footprint_set = true
		where id = $1
	`, productID, fp.TransportEmissions, fp.ProductionEmissions, fp.PackagingEmissions)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: product %d", provenance.ErrNotFound, productID)
	}
	return nil
}

func (s *Store) History(ctx context.Context, productID uint64) (provenance.History, error) {
	var h provenance.History
	err := s.db.QueryRowContext(ctx, `
		select id, name, origin, harvest_date, current_owner
		from products where id = $1
	`, productID).Scan(&h.ID, &h.Name, &h.Origin, &h.HarvestDate, &h.CurrentOwner)
	if errors.Is(err, sql.ErrNoRows) {
		return provenance.History{}, fmt.Errorf("%w: product %d", provenance.ErrNotFound, productID)
	}
	if err != nil {
		return provenance.History{}, err
	}

	h.OwnershipHistory, err = s.stringColumn(ctx, `
		select owner from ownership_history where product_id = $1 order by id asc
	`, productID)
	if err != nil {
		return provenance.History{}, err
	}
	h.LocationHistory, err = s.stringColumn(ctx, `
		select location from location_history where product_id = $1 order by id asc
	`, productID)
	if err != nil {
		return provenance.History{}, err
	}
	h.QualityChecks, err = s.stringColumn(ctx, `
		select result from quality_checks where product_id = $1 order by id asc
	`, productID)
	if err != nil {
		return provenance.History{}, err
	}
	return h, nil
}

func (s *Store) Footprint(ctx context.Context, productID uint64) (provenance.CarbonFootprint, error) {
	var (
		fp  provenance.CarbonFootprint
		set bool
	)
	err := s.db.QueryRowContext(ctx, `
		select transport_emissions, production_emissions, packaging_emissions, footprint_set
		from products where id = $1
	`, productID).Scan(&fp.TransportEmissions, &fp.ProductionEmissions, &fp.PackagingEmissions, &set)
	if errors.Is(err, sql.ErrNoRows) {
		return provenance.CarbonFootprint{}, fmt.Errorf("%w: product %d", provenance.ErrNotFound, productID)
	}
	if err != nil {
		return provenance.CarbonFootprint{}, err
	}
	if !set {
		return provenance.CarbonFootprint{}, nil
	}
	return fp, nil
}

func (s *Store) Certifications(ctx context.Context, productID uint64) ([]provenance.Certification, error) {
	exists, err := s.Exists(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: product %d", provenance.ErrNotFound, productID)
	}

	rows, err := s.db.QueryContext(ctx, `
		select standard, issuer, issue_date, expiry_date
		from certifications
		where product_id = $1
		order by id asc
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []provenance.Certification
	for rows.Next() {
		var c provenance.Certification
		if err := rows.Scan(&c.Standard, &c.Issuer, &c.IssueDate, &c.ExpiryDate); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context) (uint64, error) {
	var n uint64
	if err := s.db.QueryRowContext(ctx, `select coalesce(max(id), 0) from products`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) Exists(ctx context.Context, productID uint64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists (select 1 from products where id = $1)
	`, productID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// --- helpers ---

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// lockProduct loads the product row for update within tx.
func lockProduct(ctx context.Context, tx queryRower, productID uint64) (provenance.Product, error) {
	var p provenance.Product
	err := tx.QueryRowContext(ctx, `
		select id, name, origin, harvest_date, current_owner
		from products where id = $1
		for update
	`, productID).Scan(&p.ID, &p.Name, &p.Origin, &p.HarvestDate, &p.CurrentOwner)
	if errors.Is(err, sql.ErrNoRows) {
		return provenance.Product{}, fmt.Errorf("%w: product %d", provenance.ErrNotFound, productID)
	}
	if err != nil {
		return provenance.Product{}, err
	}
	return p, nil
}

func (s *Store) stringColumn(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) requireRole(ctx context.Context, actor string, role roles.Role) error {
	ok, err := s.hasRole(ctx, actor, role)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s lacks role %s", provenance.ErrUnauthorized, actor, role)
	}
	return nil
}

func (s *Store) requireAnyRole(ctx context.Context, actor string, anyOf ...roles.Role) error {
	for _, role := range anyOf {
		ok, err := s.hasRole(ctx, actor, role)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%w: %s lacks any of the required roles", provenance.ErrUnauthorized, actor)
}
