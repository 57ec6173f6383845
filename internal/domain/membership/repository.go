package membership

import (
	"context"

	"membership_billing/internal/domain/audit"
)

// Repository defines the operations for persisting and retrieving memberships.
type Repository interface {
	Create(ctx context.Context, m *Membership) error
	GetByID(ctx context.Context, id int64) (*Membership, error)
	// Transition moves the membership from status from to status to and
	// appends entry to the audit log, both or neither. It fails with
	// ErrInvalidTransition when the stored status is no longer from.
	Transition(ctx context.Context, id int64, from, to Status, entry *audit.Entry) error
	ListByStatus(ctx context.Context, status Status) ([]*Membership, error) // ordered by id
}
