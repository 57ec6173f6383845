package app

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"membership_billing/internal/domain/billing"
)

// CycleStatement is one billing cycle with its bills and payments so far.
type CycleStatement struct {
	Cycle       *billing.Cycle
	Bills       []*billing.Bill
	Paid        decimal.Decimal
	Outstanding decimal.Decimal
	Current     bool
}

// Statement lists every cycle of a membership, oldest first. Current marks
// the cycle that contains now.
func (re *ReminderEngine) Statement(ctx context.Context, membershipID int64, now time.Time) ([]CycleStatement, error) {
	cycles, err := re.repo.ListCycles(ctx, membershipID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cycles of membership %d: %w", membershipID, err)
	}

	statements := make([]CycleStatement, 0, len(cycles))
	for _, c := range cycles {
		bills, err := re.repo.ListBills(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list bills of cycle %d: %w", c.ID, err)
		}
		outstanding, err := re.outstanding(ctx, c)
		if err != nil {
			return nil, err
		}
		statements = append(statements, CycleStatement{
			Cycle:       c,
			Bills:       bills,
			Paid:        c.Sum.Sub(outstanding),
			Outstanding: decimal.Max(outstanding, decimal.Zero),
			Current:     c.Contains(now),
		})
	}
	return statements, nil
}
