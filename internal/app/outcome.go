package app

import (
	"fmt"

	"membership_billing/internal/domain/billing"
)

// OutcomeKind enumerates what a per-membership step did.
type OutcomeKind int

const (
	OutcomeSkipped  OutcomeKind = iota // nothing to do
	OutcomeExisting                    // work was already done earlier
	OutcomeCreated                     // a cycle or bill was created
	OutcomeFailed                      // the step could not proceed; Err says why
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeExisting:
		return "existing"
	case OutcomeCreated:
		return "created"
	case OutcomeFailed:
		return "failed"
	}
	return fmt.Sprintf("OutcomeKind(%d)", int(k))
}

// Outcome is the typed result of EnsureCycle and MaybeRemind.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
	Err    error
}

func created(reason string) Outcome  { return Outcome{Kind: OutcomeCreated, Reason: reason} }
func existing(reason string) Outcome { return Outcome{Kind: OutcomeExisting, Reason: reason} }
func skipped(reason string) Outcome  { return Outcome{Kind: OutcomeSkipped, Reason: reason} }
func failed(err error) Outcome       { return Outcome{Kind: OutcomeFailed, Reason: err.Error(), Err: err} }

func (o Outcome) String() string {
	if o.Reason == "" {
		return o.Kind.String()
	}
	return o.Kind.String() + ": " + o.Reason
}

// CycleResult is returned by CycleManager.EnsureCycle. Cycle is the cycle
// the outcome refers to (nil when skipped before any lookup), and Bill is
// the original bill when one was emitted for a new cycle.
type CycleResult struct {
	Outcome
	Cycle *billing.Cycle
	Bill  *billing.Bill
}

// ReminderResult is returned by ReminderEngine.MaybeRemind.
type ReminderResult struct {
	Outcome
	Bill *billing.Bill
}
