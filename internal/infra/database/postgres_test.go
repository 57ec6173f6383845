package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"membership_billing/internal/domain/audit"
	"membership_billing/internal/domain/billing"
	"membership_billing/internal/domain/membership"
)

func setupTestDB(t testing.TB) *sql.DB {
	t.Helper()

	env := func(key, def string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return def
	}
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		env("PGHOST", "localhost"), env("PGPORT", "5432"), env("PGUSER", "user"),
		env("PGPASSWORD", "password"), env("PGDATABASE", "testdb"))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	db, err := NewPostgresConnection(ctx, connStr)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Migrate(context.Background(), db))
	_, err = db.Exec(`TRUNCATE payments, bills, billing_cycles, fees, audit_log, memberships RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	assert.NoError(t, Migrate(context.Background(), db))
}

func TestPostgresMembershipRepository(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := NewPostgresMembershipRepository(db)

	m := &membership.Membership{Type: membership.TypePersonal, Status: membership.StatusNew, Name: "Ada", Email: "ada@example.org"}
	require.NoError(t, repo.Create(ctx, m))
	require.NotZero(t, m.ID)

	entry := func(change string) *audit.Entry {
		return &audit.Entry{EntityType: audit.EntityMembership, EntityID: m.ID, Actor: "admin", Change: change}
	}
	require.NoError(t, repo.Transition(ctx, m.ID, membership.StatusNew, membership.StatusPreapproved, entry(audit.ChangePreapproved)))
	got, err := repo.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, membership.StatusPreapproved, got.Status)
	assert.Equal(t, "ada@example.org", got.BillingAddress())

	list, err := repo.ListByStatus(ctx, membership.StatusPreapproved)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = repo.GetByID(ctx, m.ID+100)
	assert.ErrorIs(t, err, membership.ErrNotFound)
	assert.ErrorIs(t, repo.Transition(ctx, m.ID+100, membership.StatusPreapproved, membership.StatusApproved, entry(audit.ChangeApproved)), membership.ErrNotFound)

	// Stale from status.
	err = repo.Transition(ctx, m.ID, membership.StatusNew, membership.StatusDisapproved, entry(audit.ChangeDisapproved))
	assert.ErrorIs(t, err, membership.ErrInvalidTransition)

	// The audit insert fails after the update; the update is rolled back.
	err = repo.Transition(ctx, m.ID, membership.StatusPreapproved, membership.StatusApproved, entry(""))
	assert.ErrorIs(t, err, audit.ErrInvalidEntry)
	got, err = repo.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, membership.StatusPreapproved, got.Status)

	require.NoError(t, repo.Transition(ctx, m.ID, membership.StatusPreapproved, membership.StatusApproved, entry(audit.ChangeApproved)))
	approved, err := NewPostgresAuditLog(db).Matching(ctx, audit.EntityMembership, m.ID, audit.ChangeApproved)
	require.NoError(t, err)
	assert.Len(t, approved, 1)
}

func TestPostgresAuditLog(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	log := NewPostgresAuditLog(db)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, log.Append(ctx, &audit.Entry{EntityType: audit.EntityMembership, EntityID: 1, Actor: "admin", Change: audit.ChangeApproved, CreatedAt: at}))
	require.NoError(t, log.Append(ctx, &audit.Entry{EntityType: audit.EntityMembership, EntityID: 1, Actor: "admin", Change: audit.ChangePreapproved}))

	entries, err := log.Matching(ctx, audit.EntityMembership, 1, audit.ChangeApproved)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, at.Equal(entries[0].CreatedAt))
}

func TestPostgresBillingRepository(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	members := NewPostgresMembershipRepository(db)
	repo := NewPostgresBillingRepository(db)
	now := time.Now().UTC().Truncate(time.Second)

	m := &membership.Membership{Type: membership.TypePersonal, Status: membership.StatusApproved, Name: "Ada"}
	require.NoError(t, members.Create(ctx, m))

	require.NoError(t, repo.CreateFee(ctx, &billing.Fee{Type: membership.TypePersonal, Sum: decimal.NewFromInt(20), Start: now.AddDate(0, 0, -7)}))
	require.NoError(t, repo.CreateFee(ctx, &billing.Fee{Type: membership.TypePersonal, Sum: decimal.NewFromInt(40), Start: now}))
	require.NoError(t, repo.CreateFee(ctx, &billing.Fee{Type: membership.TypePersonal, Sum: decimal.NewFromInt(80), Start: now.Add(time.Hour)}))
	fee, err := repo.LatestFeeAt(ctx, membership.TypePersonal, now)
	require.NoError(t, err)
	assert.Equal(t, "40.00", fee.Sum.StringFixed(2))
	_, err = repo.LatestFeeAt(ctx, membership.TypeHonorary, now)
	assert.ErrorIs(t, err, billing.ErrNoFeeDefined)

	ref := billing.GenerateReferenceNumber(m.ID, now.Year())
	c := &billing.Cycle{MembershipID: m.ID, Start: now, End: now.AddDate(1, 0, 0), Sum: fee.Sum, ReferenceNumber: ref}
	require.NoError(t, repo.CreateCycle(ctx, c))
	dup := &billing.Cycle{MembershipID: m.ID, Start: now, End: now.AddDate(1, 0, 0), Sum: fee.Sum, ReferenceNumber: ref + "0"}
	assert.ErrorIs(t, repo.CreateCycle(ctx, dup), billing.ErrDuplicateCycle)

	byRef, err := repo.GetCycleByReference(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, c.ID, byRef.ID)
	latest, err := repo.LatestCycle(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, latest.ID)

	original := &billing.Bill{CycleID: c.ID, ReferenceNumber: ref, DueDate: now.AddDate(0, 0, 14), Amount: c.Sum}
	require.NoError(t, repo.CreateBill(ctx, original))
	assert.ErrorIs(t, repo.CreateBill(ctx, &billing.Bill{CycleID: c.ID, ReferenceNumber: ref, DueDate: now, Amount: c.Sum}), billing.ErrDuplicateBill)
	reminder := &billing.Bill{CycleID: c.ID, ReferenceNumber: ref, DueDate: now.AddDate(0, 1, 0), Amount: c.Sum, Reminder: true}
	require.NoError(t, repo.CreateBill(ctx, reminder))

	has, err := repo.HasOriginalBill(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, has)
	last, err := repo.LastBill(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, reminder.ID, last.ID)
	bills, err := repo.ListBills(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, bills, 2)

	_, err = repo.LatestPayment(ctx)
	assert.ErrorIs(t, err, billing.ErrPaymentNotFound)
	require.NoError(t, repo.CreatePayment(ctx, &billing.Payment{BillID: original.ID, Amount: decimal.RequireFromString("15.50"), PaymentDate: now, TransactionID: "ARC-1"}))
	assert.ErrorIs(t, repo.CreatePayment(ctx, &billing.Payment{BillID: original.ID, Amount: decimal.NewFromInt(1), PaymentDate: now, TransactionID: "ARC-1"}), billing.ErrDuplicatePayment)

	sum, err := repo.SumPaymentsForCycle(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "15.50", sum.StringFixed(2))

	require.NoError(t, repo.MarkCyclePaid(ctx, c.ID))
	paid, err := repo.GetCycleByReference(ctx, c.ReferenceNumber)
	require.NoError(t, err)
	assert.True(t, paid.IsPaid)
	assert.False(t, paid.IsLastBillLate(last, now.AddDate(1, 0, 0)))
}
