package app

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"membership_billing/internal/domain/billing"
	"membership_billing/internal/domain/membership"
)

func TestNoticeRender(t *testing.T) {
	cfg := testConfig()
	cfg.CCEmail = "archive@example.org"
	r, err := NewNoticeRenderer(cfg)
	require.NoError(t, err)

	m := &membership.Membership{ID: 42, Name: "Ada Example", Email: "ada@example.org"}
	c := &billing.Cycle{Start: testNow, End: testNow.AddDate(1, 0, 0)}
	b := &billing.Bill{ReferenceNumber: "42264", DueDate: testNow.AddDate(0, 0, 14), Amount: decimal.RequireFromString("35")}

	msg, err := r.Render(m, c, b)
	require.NoError(t, err)

	assert.Equal(t, "treasurer@example.org", msg.From)
	assert.Equal(t, "ada@example.org", msg.To)
	assert.Equal(t, "archive@example.org", msg.Cc)
	assert.Equal(t, "Membership fee 2026", msg.Subject)
	assert.Contains(t, msg.Body, "Hello Ada Example")
	assert.Contains(t, msg.Body, "35.00 EUR")
	assert.Contains(t, msg.Body, "02.11.2026")
	assert.Contains(t, msg.Body, "42264")
	assert.Contains(t, msg.Body, cfg.IBAN)
	assert.Contains(t, msg.Body, cfg.BIC)
	assert.NotContains(t, msg.Body, "still unpaid")

	b.Reminder = true
	msg, err = r.Render(m, c, b)
	require.NoError(t, err)
	assert.Equal(t, "Reminder: membership fee 2026", msg.Subject)
	assert.Contains(t, msg.Body, "still unpaid")
}

func TestNoticeRendererRejectsBadSubject(t *testing.T) {
	cfg := testConfig()
	cfg.BillSubject = "Fee {{.CycleStart.Year"
	_, err := NewNoticeRenderer(cfg)
	assert.Error(t, err)
}
