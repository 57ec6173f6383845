package audit

import (
	"context"
	"errors"
	"time"
)

var ErrInvalidEntry = errors.New("invalid audit entry")

// Change descriptions recorded for membership workflow actions.
const (
	ChangeCreated     = "Created"
	ChangePreapproved = "Preapproved"
	ChangeApproved    = "Approved"
	ChangeDisapproved = "Disapproved"
)

// EntityMembership is the entity type used for membership entries.
const EntityMembership = "membership"

// Entry is one append-only record of a state change on an entity.
type Entry struct {
	ID         int64
	EntityType string
	EntityID   int64
	Actor      string
	Change     string
	CreatedAt  time.Time
}

// Validate rejects entries that name no entity or no change.
func (e *Entry) Validate() error {
	if e.EntityType == "" || e.EntityID == 0 || e.Change == "" {
		return ErrInvalidEntry
	}
	return nil
}

// Log is the append-only audit log. Entries are never updated or removed.
type Log interface {
	Append(ctx context.Context, e *Entry) error
	// Matching returns the entries for one entity whose change description
	// equals change, oldest first.
	Matching(ctx context.Context, entityType string, entityID int64, change string) ([]*Entry, error)
}
