package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"membership_billing/internal/domain/billing"
	"membership_billing/internal/domain/membership"
)

// FeeResolver answers which fee is in force for a membership type at a
// given instant.
type FeeResolver struct {
	repo billing.Repository
}

func NewFeeResolver(repo billing.Repository) *FeeResolver {
	return &FeeResolver{repo: repo}
}

// FeeFor returns the sum of the fee with the latest start not after at.
// Fees starting later are invisible until then. The error wraps
// billing.ErrNoFeeDefined when the type has no eligible fee.
func (r *FeeResolver) FeeFor(ctx context.Context, t membership.Type, at time.Time) (decimal.Decimal, error) {
	fee, err := r.repo.LatestFeeAt(ctx, t, at)
	if err != nil {
		if errors.Is(err, billing.ErrNoFeeDefined) {
			return decimal.Zero, fmt.Errorf("membership type %s at %s: %w", t, at.Format(time.RFC3339), err)
		}
		return decimal.Zero, fmt.Errorf("failed to look up fee: %w", err)
	}
	return fee.Sum, nil
}
