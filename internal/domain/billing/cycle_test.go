package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCycleIsLastBillLate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cycle := &Cycle{Start: now.AddDate(0, -1, 0), End: now.AddDate(0, 11, 0)}

	assert.False(t, cycle.IsLastBillLate(nil, now), "no bill")

	bill := &Bill{DueDate: now.AddDate(0, 0, 5)}
	assert.False(t, cycle.IsLastBillLate(bill, now), "not yet due")

	bill.DueDate = now.AddDate(0, 0, -1)
	assert.True(t, cycle.IsLastBillLate(bill, now), "overdue")

	cycle.IsPaid = true
	assert.False(t, cycle.IsLastBillLate(bill, now), "paid cycle")
}

func TestCycleWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cycle := &Cycle{Start: now.AddDate(-1, 0, 0), End: now.AddDate(0, 0, 20)}

	assert.True(t, cycle.Contains(now))
	assert.False(t, cycle.Contains(cycle.End))
	assert.True(t, cycle.EndsWithin(now, 30*24*time.Hour))
	assert.False(t, cycle.EndsWithin(now, 10*24*time.Hour))
}
