package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"membership_billing/internal/domain/audit"
	"membership_billing/internal/domain/billing"
	"membership_billing/internal/domain/membership"
)

func TestEnsureCycleSkipsUnapproved(t *testing.T) {
	f := newFixture(t)
	f.addFees()
	m := f.preapprovedMember(membership.TypePersonal, testNow.Add(-time.Hour))

	res, err := f.cycles.EnsureCycle(f.ctx, m, testNow)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Kind)
	assert.Empty(t, f.cyclesOf(m))
	assert.Zero(t, f.mailer.count())
}

func TestEnsureCycleFirstCycleIsBilledOnce(t *testing.T) {
	f := newFixture(t)
	f.addFees()
	m := f.approvedMember(membership.TypePersonal, testNow.Add(-time.Hour))

	res, err := f.cycles.EnsureCycle(f.ctx, m, testNow)
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, res.Kind)
	require.NotNil(t, res.Cycle)
	require.NotNil(t, res.Bill)

	assert.Equal(t, testNow, res.Cycle.Start)
	assert.Equal(t, testNow.AddDate(1, 0, 0), res.Cycle.End)
	assert.True(t, res.Cycle.Sum.Equal(yearlyFee))
	assert.Equal(t, billing.GenerateReferenceNumber(m.ID, 2026), res.Cycle.ReferenceNumber)
	assert.True(t, billing.ValidReferenceNumber(res.Cycle.ReferenceNumber))

	assert.Equal(t, res.Cycle.ReferenceNumber, res.Bill.ReferenceNumber)
	assert.Equal(t, testNow.AddDate(0, 0, 14), res.Bill.DueDate)
	assert.False(t, res.Bill.IsReminder())

	require.Equal(t, 1, f.mailer.count())
	assert.Equal(t, m.BillingAddress(), f.mailer.sent[0].To)

	again, err := f.cycles.EnsureCycle(f.ctx, m, testNow)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExisting, again.Kind)
	assert.Nil(t, again.Bill)
	assert.Len(t, f.cyclesOf(m), 1)
	assert.Equal(t, 1, f.mailer.count())
}

func TestEnsureCycleStartsAtApprovalWhenLater(t *testing.T) {
	f := newFixture(t)
	f.addFees()
	approvedAt := testNow.Add(2 * time.Hour)
	m := f.approvedMember(membership.TypeOrganization, approvedAt)

	res, err := f.cycles.EnsureCycle(f.ctx, m, testNow)
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, res.Kind)
	assert.Equal(t, approvedAt, res.Cycle.Start)
}

func TestEnsureCycleRenewsExpiringCycle(t *testing.T) {
	f := newFixture(t)
	f.addFees()
	firstRun := testNow.AddDate(0, 0, -340)
	m := f.approvedMember(membership.TypePersonal, firstRun.Add(-time.Hour))

	first, err := f.cycles.EnsureCycle(f.ctx, m, firstRun)
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, first.Kind)
	require.True(t, first.Cycle.EndsWithin(testNow, 30*24*time.Hour))

	res, err := f.cycles.EnsureCycle(f.ctx, m, testNow)
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, res.Kind)
	assert.Equal(t, first.Cycle.End, res.Cycle.Start)
	assert.NotEqual(t, first.Cycle.ReferenceNumber, res.Cycle.ReferenceNumber)
	assert.Len(t, f.cyclesOf(m), 2)
	assert.Equal(t, 2, f.mailer.count())

	again, err := f.cycles.EnsureCycle(f.ctx, m, testNow)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExisting, again.Kind)
	assert.Equal(t, 2, f.mailer.count())
}

func TestEnsureCycleAfterExpiredCycle(t *testing.T) {
	f := newFixture(t)
	f.addFees()
	m := f.approvedMember(membership.TypePersonal, testNow.AddDate(-1, 0, -1))

	first, err := f.cycles.EnsureCycle(f.ctx, m, testNow.AddDate(-1, 0, 0))
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, first.Kind)
	require.NoError(t, f.store.SetCycleEnd(f.ctx, first.Cycle.ID, testNow.Add(-time.Hour)))
	sent := f.mailer.count()

	res, err := f.cycles.EnsureCycle(f.ctx, m, testNow)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Kind)
	assert.ErrorIs(t, res.Err, billing.ErrCycleExpired)
	assert.True(t, f.criticalContaining("no new billing cycle created for"))
	assert.Equal(t, sent, f.mailer.count())
	assert.Len(t, f.cyclesOf(m), 1)
}

func TestEnsureCycleWithoutFee(t *testing.T) {
	f := newFixture(t)
	m := f.approvedMember(membership.TypeHonorary, testNow.Add(-time.Hour))

	res, err := f.cycles.EnsureCycle(f.ctx, m, testNow)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Kind)
	assert.ErrorIs(t, res.Err, billing.ErrNoFeeDefined)
	assert.Len(t, f.criticals(), 1)
	assert.True(t, f.criticalContaining("no new billing cycle created for"))
	assert.Empty(t, f.cyclesOf(m))
	assert.Zero(t, f.mailer.count())
}

func TestEnsureCycleApprovalEntries(t *testing.T) {
	tests := []struct {
		name    string
		entries int
		message string
	}{
		{"no entries", 0, "doesn't have Approved log entry"},
		{"two entries", 2, "more than one Approved log entry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.addFees()
			m := &membership.Membership{Type: membership.TypePersonal, Status: membership.StatusApproved, Name: "Imported"}
			require.NoError(t, f.store.Create(f.ctx, m))
			for i := 0; i < tt.entries; i++ {
				require.NoError(t, f.store.Append(f.ctx, &audit.Entry{
					EntityType: audit.EntityMembership,
					EntityID:   m.ID,
					Change:     audit.ChangeApproved,
					CreatedAt:  testNow.Add(-time.Duration(i+1) * time.Hour),
				}))
			}

			res, err := f.cycles.EnsureCycle(f.ctx, m, testNow)
			require.NoError(t, err)
			assert.Equal(t, OutcomeFailed, res.Kind)
			assert.ErrorIs(t, res.Err, billing.ErrNoApprovedLogEntry)
			assert.True(t, f.criticalContaining(tt.message))
			assert.Empty(t, f.cyclesOf(m))
		})
	}
}

func TestEnsureCycleNeverBillsPreexistingCycle(t *testing.T) {
	f := newFixture(t)
	f.addFees()
	m := f.approvedMember(membership.TypePersonal, testNow.AddDate(0, 0, -20))

	c := &billing.Cycle{
		MembershipID:    m.ID,
		Start:           testNow.AddDate(0, 0, -10),
		End:             testNow.AddDate(0, 0, 300),
		Sum:             yearlyFee,
		ReferenceNumber: billing.GenerateReferenceNumber(m.ID, 2026),
	}
	require.NoError(t, f.store.CreateCycle(f.ctx, c))

	res, err := f.cycles.EnsureCycle(f.ctx, m, testNow)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExisting, res.Kind)
	assert.Zero(t, f.mailer.count())

	has, err := f.store.HasOriginalBill(f.ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, has)
}
