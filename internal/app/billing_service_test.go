package app

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"membership_billing/internal/domain/billing"
	"membership_billing/internal/domain/membership"
	"membership_billing/internal/infra/memory"
)

type recordingObserver struct {
	runs []RunSummary
}

func (o *recordingObserver) ObserveRun(s RunSummary) { o.runs = append(o.runs, s) }

func TestRunOnceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.addFees()
	obs := &recordingObserver{}
	f.service.observers = append(f.service.observers, obs)

	a := f.approvedMember(membership.TypePersonal, testNow.Add(-time.Hour))
	b := f.approvedMember(membership.TypeOrganization, testNow.Add(-time.Hour))
	pending := f.preapprovedMember(membership.TypePersonal, testNow.Add(-time.Hour))

	summary, err := f.service.RunOnce(f.ctx, testNow)
	require.NoError(t, err)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 2, summary.Memberships)
	assert.Equal(t, 2, summary.CyclesCreated)
	assert.Equal(t, 2, summary.BillsSent)
	assert.Zero(t, summary.Errors)
	assert.Equal(t, 2, f.mailer.count())

	assert.Len(t, f.cyclesOf(a), 1)
	assert.Len(t, f.cyclesOf(b), 1)
	assert.Empty(t, f.cyclesOf(pending))

	second, err := f.service.RunOnce(f.ctx, testNow)
	require.NoError(t, err)
	assert.NotEqual(t, summary.RunID, second.RunID)
	assert.Zero(t, second.CyclesCreated)
	assert.Zero(t, second.BillsSent)
	assert.Equal(t, 2, f.mailer.count())

	require.Len(t, obs.runs, 2)
	assert.Equal(t, summary.RunID, obs.runs[0].RunID)
}

func TestRunOncePreapprovedOnlyDoesNothing(t *testing.T) {
	f := newFixture(t)
	f.addFees()
	m := f.preapprovedMember(membership.TypePersonal, testNow.Add(-time.Hour))

	summary, err := f.service.RunOnce(f.ctx, testNow)
	require.NoError(t, err)
	assert.Zero(t, summary.Memberships)
	assert.Empty(t, f.cyclesOf(m))
	assert.Zero(t, f.mailer.count())
}

func TestRunOnceIsolatesDomainFailures(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateFee(f.ctx, &billing.Fee{Type: membership.TypePersonal, Sum: yearlyFee, Start: testNow.AddDate(-1, 0, 0)}))

	honorary := f.approvedMember(membership.TypeHonorary, testNow.Add(-time.Hour))
	personal := f.approvedMember(membership.TypePersonal, testNow.Add(-time.Hour))

	summary, err := f.service.RunOnce(f.ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.CyclesCreated)
	assert.Empty(t, f.cyclesOf(honorary))
	assert.Len(t, f.cyclesOf(personal), 1)
	assert.True(t, f.criticalContaining("no new billing cycle created for"))
}

// panickyRepo panics when asked about one membership.
type panickyRepo struct {
	*memory.Store
	membershipID int64
}

func (r *panickyRepo) LatestCycle(ctx context.Context, membershipID int64) (*billing.Cycle, error) {
	if membershipID == r.membershipID {
		panic("corrupt row")
	}
	return r.Store.LatestCycle(ctx, membershipID)
}

func TestRunOnceRecoversPerMembership(t *testing.T) {
	var repo *panickyRepo
	f := newFixtureWithRepo(t, testConfig(), func(s *memory.Store) billing.Repository {
		repo = &panickyRepo{Store: s}
		return repo
	})
	f.addFees()
	bad := f.approvedMember(membership.TypePersonal, testNow.Add(-time.Hour))
	good := f.approvedMember(membership.TypePersonal, testNow.Add(-time.Hour))
	repo.membershipID = bad.ID

	summary, err := f.service.RunOnce(f.ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 1, summary.CyclesCreated)
	assert.Len(t, f.cyclesOf(good), 1)
	assert.True(t, f.criticalContaining("panic while billing"))
}

func TestRunOnceReminderPass(t *testing.T) {
	for _, enabled := range []bool{false, true} {
		t.Run(map[bool]string{false: "disabled", true: "enabled"}[enabled], func(t *testing.T) {
			f := newFixture(t, func(c *BillingConfig) { c.EnableReminders = enabled })
			f.addFees()
			_, _, bill := f.billedMember(testNow.AddDate(0, -2, 0))
			f.pay(bill, decimal.NewFromInt(1), testNow)

			summary, err := f.service.RunOnce(f.ctx, testNow)
			require.NoError(t, err)
			if enabled {
				assert.Equal(t, 1, summary.RemindersSent)
			} else {
				assert.Zero(t, summary.RemindersSent)
			}
		})
	}
}

// failingMembers cannot list memberships.
type failingMembers struct {
	membership.Repository
}

func (failingMembers) ListByStatus(context.Context, membership.Status) ([]*membership.Membership, error) {
	return nil, errStoreDown
}

func TestRunOnceFailsWhenMembershipsUnavailable(t *testing.T) {
	f := newFixture(t)
	svc := NewBillingService(failingMembers{f.store}, f.cycles, f.reminders, f.cfg, f.log)

	_, err := svc.RunOnce(f.ctx, testNow)
	assert.ErrorIs(t, err, errStoreDown)
}
