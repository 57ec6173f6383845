package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"membership_billing/internal/domain/membership"
)

// Fee is the amount owed per membership type from Start until a fee with a
// later Start supersedes it. Fees are never edited.
type Fee struct {
	ID        int64
	Type      membership.Type
	Sum       decimal.Decimal
	Start     time.Time
	CreatedAt time.Time
}
