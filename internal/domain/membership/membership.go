package membership

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound          = errors.New("membership not found")
	ErrInvalidTransition = errors.New("invalid membership status transition")
)

// Type is the membership category. The fee schedule is keyed by it.
type Type string

const (
	TypePersonal     Type = "P"
	TypeOrganization Type = "O"
	TypeSupporting   Type = "S"
	TypeHonorary     Type = "H"
)

// Types lists every membership type in a stable order.
func Types() []Type {
	return []Type{TypePersonal, TypeOrganization, TypeSupporting, TypeHonorary}
}

func (t Type) Valid() bool {
	switch t {
	case TypePersonal, TypeOrganization, TypeSupporting, TypeHonorary:
		return true
	}
	return false
}

// Status is the position of a membership in the approval workflow.
type Status string

const (
	StatusNew         Status = "N"
	StatusPreapproved Status = "P"
	StatusApproved    Status = "A"
	StatusDisapproved Status = "D"
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusPreapproved:
		return "preapproved"
	case StatusApproved:
		return "approved"
	case StatusDisapproved:
		return "disapproved"
	}
	return string(s)
}

// CanTransition reports whether a membership may move from one status to
// another. Statuses only move forward.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusNew:
		return to == StatusPreapproved || to == StatusDisapproved
	case StatusPreapproved:
		return to == StatusApproved || to == StatusDisapproved
	}
	return false
}

// Membership represents a person or organization enrolled in the association.
type Membership struct {
	ID           int64
	Type         Type
	Status       Status
	Name         string
	Email        string
	BillingEmail string // overrides Email for invoices when set
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// BillingAddress returns the address invoices are sent to.
func (m *Membership) BillingAddress() string {
	if m.BillingEmail != "" {
		return m.BillingEmail
	}
	return m.Email
}

func (m *Membership) String() string {
	return fmt.Sprintf("membership #%d (%s)", m.ID, m.Name)
}
