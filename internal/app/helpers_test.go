package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"membership_billing/internal/domain/billing"
	"membership_billing/internal/domain/mail"
	"membership_billing/internal/domain/membership"
	"membership_billing/internal/infra/logger"
	"membership_billing/internal/infra/memory"
)

var testNow = time.Date(2026, 10, 19, 6, 0, 0, 0, time.UTC)

var yearlyFee = decimal.NewFromInt(30)

type fakeMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (f *fakeMailer) Send(_ context.Context, msg mail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeMailer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fixture struct {
	t         *testing.T
	ctx       context.Context
	cfg       BillingConfig
	store     *memory.Store
	mailer    *fakeMailer
	hook      *test.Hook
	log       *logrus.Entry
	members   *MembershipService
	fees      *FeeResolver
	emitter   *BillEmitter
	cycles    *CycleManager
	reminders *ReminderEngine
	service   *BillingService
}

func testConfig() BillingConfig {
	return BillingConfig{
		DaysBeforeCycle:   30,
		DaysToDue:         14,
		ReminderGraceDays: 14,
		EnableReminders:   true,
		CycleLengthMonths: 12,
		IBAN:              "FI21 1234 5600 0007 85",
		BIC:               "NDEAFIHH",
		FromEmail:         "treasurer@example.org",
		BillSubject:       "Membership fee {{.CycleStart.Year}}",
		ReminderSubject:   "Reminder: membership fee {{.CycleStart.Year}}",
	}
}

func newFixture(t *testing.T, opts ...func(*BillingConfig)) *fixture {
	t.Helper()
	cfg := testConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return newFixtureWithRepo(t, cfg, nil)
}

// newFixtureWithRepo wires the engine on a memory store. When wrap is not
// nil, the billing components see wrap(store) instead of the store.
func newFixtureWithRepo(t *testing.T, cfg BillingConfig, wrap func(*memory.Store) billing.Repository) *fixture {
	t.Helper()
	l, hook := test.NewNullLogger()
	l.SetLevel(logrus.DebugLevel)
	log := logrus.NewEntry(l)

	store := memory.NewStore()
	var repo billing.Repository = store
	if wrap != nil {
		repo = wrap(store)
	}

	notices, err := NewNoticeRenderer(cfg)
	require.NoError(t, err)

	f := &fixture{t: t, ctx: context.Background(), cfg: cfg, store: store, mailer: &fakeMailer{}, hook: hook, log: log}
	f.members = NewMembershipService(store, store, log)
	f.fees = NewFeeResolver(repo)
	f.emitter = NewBillEmitter(repo, f.mailer, notices, cfg, log)
	f.cycles = NewCycleManager(repo, f.fees, f.emitter, f.members, cfg, log)
	f.reminders = NewReminderEngine(repo, f.emitter, cfg, log)
	f.service = NewBillingService(store, f.cycles, f.reminders, cfg, log)
	return f
}

// addFees gives every membership type a yearly fee valid since long ago.
func (f *fixture) addFees() {
	f.t.Helper()
	for _, typ := range membership.Types() {
		fee := &billing.Fee{Type: typ, Sum: yearlyFee, Start: testNow.AddDate(-5, 0, 0)}
		require.NoError(f.t, f.store.CreateFee(f.ctx, fee))
	}
}

// approvedMember runs a new membership through the workflow, approving it
// at approvedAt.
func (f *fixture) approvedMember(typ membership.Type, approvedAt time.Time) *membership.Membership {
	f.t.Helper()
	m := f.preapprovedMember(typ, approvedAt)
	f.members.now = func() time.Time { return approvedAt }
	require.NoError(f.t, f.members.Approve(f.ctx, m.ID, "admin"))
	got, err := f.store.GetByID(f.ctx, m.ID)
	require.NoError(f.t, err)
	return got
}

func (f *fixture) preapprovedMember(typ membership.Type, at time.Time) *membership.Membership {
	f.t.Helper()
	f.members.now = func() time.Time { return at }
	m := &membership.Membership{Type: typ, Name: "Test Member", Email: "member@example.org", BillingEmail: "billing@example.org"}
	require.NoError(f.t, f.members.Apply(f.ctx, m, "applicant"))
	require.NoError(f.t, f.members.Preapprove(f.ctx, m.ID, "admin"))
	got, err := f.store.GetByID(f.ctx, m.ID)
	require.NoError(f.t, err)
	return got
}

func (f *fixture) cyclesOf(m *membership.Membership) []*billing.Cycle {
	f.t.Helper()
	cs, err := f.store.ListCycles(f.ctx, m.ID)
	require.NoError(f.t, err)
	return cs
}

func (f *fixture) criticals() []*logrus.Entry {
	var out []*logrus.Entry
	for _, e := range f.hook.AllEntries() {
		if logger.IsCritical(e) {
			out = append(out, e)
		}
	}
	return out
}

func (f *fixture) criticalContaining(substr string) bool {
	for _, e := range f.criticals() {
		if strings.Contains(strings.ToLower(e.Message), strings.ToLower(substr)) {
			return true
		}
	}
	return false
}

var errStoreDown = errors.New("store is down")
