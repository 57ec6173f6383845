package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Cycle is a time-bounded period for which a fee is owed.
// Corresponds to the 'billing_cycles' table.
type Cycle struct {
	ID              int64
	MembershipID    int64
	Start           time.Time
	End             time.Time
	Sum             decimal.Decimal // fixed at creation from the fee schedule
	IsPaid          bool
	ReferenceNumber string // shared by the original bill and its reminders
	CreatedAt       time.Time
}

// Contains reports whether t falls inside [Start, End).
func (c *Cycle) Contains(t time.Time) bool {
	return !t.Before(c.Start) && t.Before(c.End)
}

// EndsWithin reports whether the cycle ends before now+window.
func (c *Cycle) EndsWithin(now time.Time, window time.Duration) bool {
	return c.End.Before(now.Add(window))
}

// IsLastBillLate reports whether last, the most recently due bill of the
// cycle, is past due while the cycle is still unpaid.
func (c *Cycle) IsLastBillLate(last *Bill, now time.Time) bool {
	if c.IsPaid || last == nil {
		return false
	}
	return last.DueDate.Before(now)
}

// Bill is an invoice instance within a cycle: the original or a reminder.
type Bill struct {
	ID      int64
	CycleID int64
	// ReferenceNumber is copied from the cycle, so the original bill and
	// every reminder of that cycle carry the same reference. Payments are
	// matched by reference to the cycle, not to an individual bill.
	ReferenceNumber string
	DueDate         time.Time
	Amount          decimal.Decimal
	Reminder        bool
	CreatedAt       time.Time
}

// IsReminder reports whether the bill is a payment reminder.
func (b *Bill) IsReminder() bool { return b.Reminder }

// Payment is money received against a bill. Created by the payment importer
// or manual entry; the billing engine only reads it.
type Payment struct {
	ID            int64
	BillID        int64
	Amount        decimal.Decimal
	PaymentDate   time.Time
	TransactionID string // bank archive id, unique
	Payer         string
	CreatedAt     time.Time
}
