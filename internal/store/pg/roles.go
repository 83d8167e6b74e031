package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"agrotrace.org/internal/roles"
)

func (s *Store) Grant(ctx context.Context, actor, target string, role roles.Role) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return fmt.Errorf("%w: target principal is required", roles.ErrInvalidInput)
	}
	admin, err := s.hasRole(ctx, actor, roles.Admin)
	if err != nil {
		return err
	}
	if !admin {
		return fmt.Errorf("%w: %s may not grant roles", roles.ErrUnauthorized, actor)
	}
	return s.recordMembership(ctx, s.db, role, target)
}

func (s *Store) Revoke(ctx context.Context, actor, target string, role roles.Role) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return fmt.Errorf("%w: target principal is required", roles.ErrInvalidInput)
	}
	admin, err := s.hasRole(ctx, actor, roles.Admin)
	if err != nil {
		return err
	}
	if !admin {
		return fmt.Errorf("%w: %s may not revoke roles", roles.ErrUnauthorized, actor)
	}
	_, err = s.db.ExecContext(ctx, `
		delete from role_members where role = $1 and principal = $2
	`, role.String(), target)
	return err
}

// HasRole reports role membership. Admins satisfy every role query.
func (s *Store) HasRole(ctx context.Context, principal string, role roles.Role) (bool, error) {
	return s.hasRole(ctx, principal, role)
}

func (s *Store) hasRole(ctx context.Context, principal string, role roles.Role) (bool, error) {
	var held bool
	err := s.db.QueryRowContext(ctx, `
		select exists (
			select 1 from role_members
			where principal = $1 and role in ($2, $3)
		)
	`, principal, role.String(), roles.Admin.String()).Scan(&held)
	if err != nil {
		return false, err
	}
	return held, nil
}

func (s *Store) SubmitRequest(ctx context.Context, requester string, role roles.Role, justification string) (roles.Request, error) {
	requester = strings.TrimSpace(requester)
	if requester == "" {
		return roles.Request{}, fmt.Errorf("%w: requester principal is required", roles.ErrInvalidInput)
	}
	justification = strings.TrimSpace(justification)
	if justification == "" {
		return roles.Request{}, fmt.Errorf("%w: justification is required", roles.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return roles.Request{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into principals(principal) values ($1)
		on conflict do nothing
	`, requester); err != nil {
		return roles.Request{}, err
	}

	req := roles.Request{
		Requester:     requester,
		Role:          role,
		Justification: justification,
		Status:        roles.StatusPending,
	}
	err = tx.QueryRowContext(ctx, `
		insert into role_requests(requester, role, justification, status)
		values ($1, $2, $3, $4)
		returning id, created_at
	`, requester, role.String(), justification, string(roles.StatusPending)).Scan(&req.ID, &req.CreatedAt)
	if err != nil {
		return roles.Request{}, err
	}
	if err := tx.Commit(); err != nil {
		return roles.Request{}, err
	}
	return req, nil
}

func (s *Store) ProcessRequest(ctx context.Context, actor string, requestID uint64, approve bool) (roles.Request, error) {
	admin, err := s.hasRole(ctx, actor, roles.Admin)
	if err != nil {
		return roles.Request{}, err
	}
	if !admin {
		return roles.Request{}, fmt.Errorf("%w: %s may not process role requests", roles.ErrUnauthorized, actor)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return roles.Request{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		req      roles.Request
		roleName string
		status   string
	)
	err = tx.QueryRowContext(ctx, `
		select id, requester, role, justification, status, created_at
		from role_requests
		where id = $1
		for update
	`, requestID).Scan(&req.ID, &req.Requester, &roleName, &req.Justification, &status, &req.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return roles.Request{}, fmt.Errorf("%w: request %d", roles.ErrNotFound, requestID)
	}
	if err != nil {
		return roles.Request{}, err
	}
	if roles.RequestStatus(status) != roles.StatusPending {
		return roles.Request{}, fmt.Errorf("%w: request %d is %s", roles.ErrAlreadyProcessed, requestID, status)
	}
	req.Role, err = roles.Parse(roleName)
	if err != nil {
		return roles.Request{}, err
	}

	now := time.Now().UTC()
	req.Status = roles.StatusRejected
	if approve {
		req.Status = roles.StatusApproved
		if err := s.recordMembership(ctx, tx, req.Role, req.Requester); err != nil {
			return roles.Request{}, err
		}
	}
	if _, err := tx.ExecContext(ctx, `
		update role_requests
		set status = $2, processed_by = $3, processed_at = $4
		where id = $1
	`, requestID, string(req.Status), actor, now); err != nil {
		return roles.Request{}, err
	}
	if err := tx.Commit(); err != nil {
		return roles.Request{}, err
	}

	req.ProcessedBy = actor
	req.ProcessedAt = &now
	return req, nil
}

func (s *Store) PendingRequests(ctx context.Context) ([]roles.Request, error) {
	return s.listRequests(ctx, `status = 'PENDING'`)
}

func (s *Store) ProcessedRequests(ctx context.Context) ([]roles.Request, error) {
	return s.listRequests(ctx, `status <> 'PENDING'`)
}

func (s *Store) listRequests(ctx context.Context, where string) ([]roles.Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, requester, role, justification, status, created_at, processed_by, processed_at
		from role_requests
		where `+where+`
		order by id asc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []roles.Request
	for rows.Next() {
		var (
			req         roles.Request
			roleName    string
			status      string
			processedBy sql.NullString
			processedAt sql.NullTime
		)
		if err := rows.Scan(&req.ID, &req.Requester, &roleName, &req.Justification, &status, &req.CreatedAt, &processedBy, &processedAt); err != nil {
			return nil, err
		}
		req.Role, err = roles.Parse(roleName)
		if err != nil {
			return nil, err
		}
		req.Status = roles.RequestStatus(status)
		if processedBy.Valid {
			req.ProcessedBy = processedBy.String
		}
		if processedAt.Valid {
			t := processedAt.Time
			req.ProcessedAt = &t
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UserCount(ctx context.Context) (uint64, error) {
	var n uint64
	if err := s.db.QueryRowContext(ctx, `select count(*) from principals`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
