package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"agrotrace.org/internal/batch"
	"agrotrace.org/internal/roles"
)

func (s *Store) Create(ctx context.Context, actor, batchID string, productIDs []uint64) (batch.Batch, error) {
	ok, err := s.hasRole(ctx, actor, roles.Farmer)
	if err != nil {
		return batch.Batch{}, err
	}
	if !ok {
		return batch.Batch{}, fmt.Errorf("%w: %s may not create batches", batch.ErrUnauthorized, actor)
	}
	if strings.TrimSpace(batchID) == "" {
		return batch.Batch{}, fmt.Errorf("%w: batch id is required", batch.ErrInvalidInput)
	}
	if len(productIDs) == 0 {
		return batch.Batch{}, fmt.Errorf("%w: batch needs at least one product", batch.ErrInvalidInput)
	}
	seen := make(map[uint64]struct{}, len(productIDs))
	for _, id := range productIDs {
		if _, dup := seen[id]; dup {
			return batch.Batch{}, fmt.Errorf("%w: duplicate product %d in batch", batch.ErrInvalidInput, id)
		}
		seen[id] = struct{}{}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return batch.Batch{}, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range productIDs {
		var exists bool
		if err := tx.QueryRowContext(ctx, `
			select exists (select 1 from products where id = $1)
		`, id).Scan(&exists); err != nil {
			return batch.Batch{}, err
		}
		if !exists {
			return batch.Batch{}, fmt.Errorf("%w: product %d", batch.ErrNotFound, id)
		}
	}

	b := batch.Batch{
		ID:         batchID,
		ProductIDs: append([]uint64(nil), productIDs...),
		CreatedBy:  actor,
	}
	err = tx.QueryRowContext(ctx, `
		insert into batches(id, created_by) values ($1, $2)
		returning created_at
	`, batchID, actor).Scan(&b.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return batch.Batch{}, fmt.Errorf("%w: %q", batch.ErrDuplicate, batchID)
		}
		return batch.Batch{}, err
	}
	for pos, id := range productIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into batch_members(batch_id, position, product_id)
			values ($1, $2, $3)
		`, batchID, pos, id); err != nil {
			return batch.Batch{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return batch.Batch{}, err
	}
	return b, nil
}

func (s *Store) Get(ctx context.Context, batchID string) (batch.Batch, error) {
	var b batch.Batch
	err := s.db.QueryRowContext(ctx, `
		select id, created_by, created_at from batches where id = $1
	`, batchID).Scan(&b.ID, &b.CreatedBy, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return batch.Batch{}, fmt.Errorf("%w: %q", batch.ErrNotFound, batchID)
	}
	if err != nil {
		return batch.Batch{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		select product_id from batch_members
		where batch_id = $1
		order by position asc
	`, batchID)
	if err != nil {
		return batch.Batch{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return batch.Batch{}, err
		}
		b.ProductIDs = append(b.ProductIDs, id)
	}
	if err := rows.Err(); err != nil {
		return batch.Batch{}, err
	}
	return b, nil
}
