// Package access maps each mutating operation onto the role set allowed
// to perform it. The policy is consulted before dispatching to the
// underlying component; it holds no mutable state of its own.
package access

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"agrotrace.org/internal/roles"
)

// Operation names a mutating call on the external surface.
type Operation string

const (
	OpRegisterProduct    Operation = "product.register"
	OpTransferOwnership  Operation = "product.transfer"
	OpUpdateLocation     Operation = "product.location.update"
	OpAddQualityCheck    Operation = "product.quality.add"
	OpAddCertification   Operation = "product.certification.add"
	OpSetCarbonFootprint Operation = "product.footprint.set"
	OpCreateBatch        Operation = "batch.create"
	OpSubmitRoleRequest  Operation = "role.request.submit"
	OpProcessRoleRequest Operation = "role.request.process"
	OpGrantRole          Operation = "role.grant"
	OpRevokeRole         Operation = "role.revoke"
)

// requirements is the static operation table. OR semantics: holding any
// listed role qualifies, and ADMIN always qualifies. An empty set means
// the gate is state-dependent (ownership) and enforced by the component
// that owns the state.
var requirements = map[Operation][]roles.Role{
	OpRegisterProduct:    {roles.Farmer},
	OpTransferOwnership:  {},
	OpUpdateLocation:     {},
	OpAddQualityCheck:    {roles.QualityChecker},
	OpAddCertification:   {},
	OpSetCarbonFootprint: {roles.Distributor, roles.Retailer},
	OpCreateBatch:        {roles.Farmer},
	OpSubmitRoleRequest:  {},
	OpProcessRoleRequest: {roles.Admin},
	OpGrantRole:          {roles.Admin},
	OpRevokeRole:         {roles.Admin},
}

var (
	ErrUnauthorized     = errors.New("operation not permitted")
	ErrUnknownOperation = errors.New("unknown operation")
)

// Checker answers role membership queries. Admins satisfy every check.
type Checker interface {
	HasRole(ctx context.Context, principal string, role roles.Role) (bool, error)
}

// Policy authorizes operations against the static table.
type Policy struct {
	checker Checker
}

// NewPolicy wires the policy to a role authority.
func NewPolicy(checker Checker) (*Policy, error) {
	if checker == nil {
		return nil, errors.New("role checker is required")
	}
	return &Policy{checker: checker}, nil
}

// Authorize returns nil when principal may perform op. Operations outside
// the table are refused outright; the enumeration is closed.
func (p *Policy) Authorize(ctx context.Context, principal string, op Operation) error {
	if strings.TrimSpace(principal) == "" {
		return fmt.Errorf("%w: principal is required", ErrUnauthorized)
	}
	required, ok := requirements[op]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOperation, op)
	}
	if len(required) == 0 {
		// State-dependent gate; the owning component decides.
		return nil
	}
	for _, role := range required {
		held, err := p.checker.HasRole(ctx, principal, role)
		if err != nil {
			return err
		}
		if held {
			return nil
		}
	}
	return fmt.Errorf("%w: %s lacks a role for %s", ErrUnauthorized, principal, op)
}

// Requirements exposes a copy of the role set for an operation, for
// listing endpoints and tests.
func Requirements(op Operation) ([]roles.Role, bool) {
	req, ok := requirements[op]
	if !ok {
		return nil, false
	}
	return append([]roles.Role(nil), req...), true
}
