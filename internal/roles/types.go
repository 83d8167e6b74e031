package roles

import (
	"errors"
	"time"
)

// RequestStatus is the lifecycle state of a role request.
type RequestStatus string

const (
	StatusPending  RequestStatus = "PENDING"
	StatusApproved RequestStatus = "APPROVED"
	StatusRejected RequestStatus = "REJECTED"
)

// Request is a pending ask by a principal to be granted a role.
// Once the status leaves PENDING it never changes again.
type Request struct {
	ID            uint64        `json:"id"`
	Requester     string        `json:"requester"`
	Role          Role          `json:"role"`
	Justification string        `json:"justification"`
	CreatedAt     time.Time     `json:"created_at"`
	Status        RequestStatus `json:"status"`
	ProcessedBy   string        `json:"processed_by,omitempty"`
	ProcessedAt   *time.Time    `json:"processed_at,omitempty"`
}

var (
	ErrNotFound         = errors.New("role request not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidInput     = errors.New("invalid input")
	ErrAlreadyProcessed = errors.New("role request already processed")
)
