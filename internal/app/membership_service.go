package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"membership_billing/internal/domain/audit"
	"membership_billing/internal/domain/billing"
	"membership_billing/internal/domain/membership"
	"membership_billing/internal/infra/logger"
)

// MembershipService runs the approval workflow. Every status change is
// recorded in the audit log, which is the authority for approval times.
type MembershipService struct {
	memberRepo membership.Repository
	auditLog   audit.Log
	log        *logrus.Entry
	now        func() time.Time
}

func NewMembershipService(mr membership.Repository, al audit.Log, log *logrus.Entry) *MembershipService {
	return &MembershipService{
		memberRepo: mr,
		auditLog:   al,
		log:        log.WithField("component", "membership_service"),
		now:        time.Now,
	}
}

// Apply stores a new application with status New.
func (s *MembershipService) Apply(ctx context.Context, m *membership.Membership, actor string) error {
	if !m.Type.Valid() {
		return fmt.Errorf("unknown membership type %q", m.Type)
	}
	m.Status = membership.StatusNew
	if err := s.memberRepo.Create(ctx, m); err != nil {
		return fmt.Errorf("failed to create membership: %w", err)
	}
	return s.record(ctx, m.ID, actor, audit.ChangeCreated)
}

// Preapprove moves a New membership to Preapproved.
func (s *MembershipService) Preapprove(ctx context.Context, id int64, actor string) error {
	return s.transition(ctx, id, membership.StatusPreapproved, actor, audit.ChangePreapproved)
}

// Approve moves a Preapproved membership to Approved. Only approved
// memberships are billed.
func (s *MembershipService) Approve(ctx context.Context, id int64, actor string) error {
	return s.transition(ctx, id, membership.StatusApproved, actor, audit.ChangeApproved)
}

// Disapprove rejects a New or Preapproved membership.
func (s *MembershipService) Disapprove(ctx context.Context, id int64, actor string) error {
	return s.transition(ctx, id, membership.StatusDisapproved, actor, audit.ChangeDisapproved)
}

// transition checks the move against the current status and stores it
// together with its audit entry. A concurrent change between the read and
// the write surfaces as ErrInvalidTransition.
func (s *MembershipService) transition(ctx context.Context, id int64, to membership.Status, actor, change string) error {
	m, err := s.memberRepo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get membership %d: %w", id, err)
	}
	if !membership.CanTransition(m.Status, to) {
		return fmt.Errorf("%s: %s -> %s: %w", m, m.Status, to, membership.ErrInvalidTransition)
	}
	if err := s.memberRepo.Transition(ctx, id, m.Status, to, s.entry(id, actor, change)); err != nil {
		return fmt.Errorf("failed to move %s from %s to %s: %w", m, m.Status, to, err)
	}
	s.log.WithFields(logrus.Fields{"membership_id": id, "actor": actor}).Infof("Membership %s", to)
	return nil
}

func (s *MembershipService) entry(id int64, actor, change string) *audit.Entry {
	return &audit.Entry{
		EntityType: audit.EntityMembership,
		EntityID:   id,
		Actor:      actor,
		Change:     change,
		CreatedAt:  s.now(),
	}
}

func (s *MembershipService) record(ctx context.Context, id int64, actor, change string) error {
	if err := s.auditLog.Append(ctx, s.entry(id, actor, change)); err != nil {
		return fmt.Errorf("failed to append audit entry %q for membership %d: %w", change, id, err)
	}
	return nil
}

// ApprovedTime returns when m was approved, read from its single "Approved"
// audit entry. No entry or more than one is ErrNoApprovedLogEntry and is
// logged critical.
func (s *MembershipService) ApprovedTime(ctx context.Context, m *membership.Membership) (time.Time, error) {
	entries, err := s.auditLog.Matching(ctx, audit.EntityMembership, m.ID, audit.ChangeApproved)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read audit log of %s: %w", m, err)
	}
	if len(entries) != 1 {
		err := fmt.Errorf("%s has %d Approved entries: %w", m, len(entries), billing.ErrNoApprovedLogEntry)
		msg := "%s doesn't have Approved log entry"
		if len(entries) > 1 {
			msg = "%s has more than one Approved log entry"
		}
		logger.Critical(s.log.WithField("membership_id", m.ID)).Errorf(msg, m)
		return time.Time{}, err
	}
	return entries[0].CreatedAt, nil
}
