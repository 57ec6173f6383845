package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"membership_billing/internal/domain/membership"
)

// Repository defines the queries the billing engine runs against the store.
type Repository interface {
	// Fees
	CreateFee(ctx context.Context, f *Fee) error
	// LatestFeeAt returns the fee of the given type with the greatest start
	// not after at, or ErrNoFeeDefined.
	LatestFeeAt(ctx context.Context, t membership.Type, at time.Time) (*Fee, error)

	// Cycles
	// CreateCycle fails with ErrDuplicateCycle when the membership already
	// has a cycle with the same start or the reference number is taken.
	CreateCycle(ctx context.Context, c *Cycle) error
	GetCycleByReference(ctx context.Context, reference string) (*Cycle, error)
	LatestCycle(ctx context.Context, membershipID int64) (*Cycle, error)  // greatest end
	ListCycles(ctx context.Context, membershipID int64) ([]*Cycle, error) // ordered by start
	MarkCyclePaid(ctx context.Context, cycleID int64) error

	// Bills
	// CreateBill fails with ErrDuplicateBill when an original bill exists
	// for the cycle and b is not a reminder.
	CreateBill(ctx context.Context, b *Bill) error
	HasOriginalBill(ctx context.Context, cycleID int64) (bool, error)
	LastBill(ctx context.Context, cycleID int64) (*Bill, error)    // greatest due date
	ListBills(ctx context.Context, cycleID int64) ([]*Bill, error) // ordered by due date

	// Payments
	// CreatePayment fails with ErrDuplicatePayment on a known transaction id.
	CreatePayment(ctx context.Context, p *Payment) error
	LatestPayment(ctx context.Context) (*Payment, error)
	SumPaymentsForCycle(ctx context.Context, cycleID int64) (decimal.Decimal, error)
}
