package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"membership_billing/internal/domain/billing"
	"membership_billing/internal/domain/membership"
)

type PostgresBillingRepository struct {
	db *sql.DB
}

func NewPostgresBillingRepository(db *sql.DB) *PostgresBillingRepository {
	return &PostgresBillingRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// --- Fee Methods ---

func (r *PostgresBillingRepository) CreateFee(ctx context.Context, f *billing.Fee) error {
	query := `INSERT INTO fees (type, sum, start_at)
               VALUES ($1, $2, $3)
               RETURNING id, created_at`
	if err := r.db.QueryRowContext(ctx, query, f.Type, f.Sum, f.Start).Scan(&f.ID, &f.CreatedAt); err != nil {
		return fmt.Errorf("error creating fee: %w", err)
	}
	return nil
}

func (r *PostgresBillingRepository) LatestFeeAt(ctx context.Context, t membership.Type, at time.Time) (*billing.Fee, error) {
	query := `SELECT id, type, sum, start_at, created_at FROM fees
               WHERE type = $1 AND start_at <= $2
               ORDER BY start_at DESC, id DESC LIMIT 1`
	f := &billing.Fee{}
	err := r.db.QueryRowContext(ctx, query, t, at).Scan(&f.ID, &f.Type, &f.Sum, &f.Start, &f.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, billing.ErrNoFeeDefined
		}
		return nil, fmt.Errorf("error getting fee: %w", err)
	}
	return f, nil
}

// --- BillingCycle Methods ---

const cycleColumns = `id, membership_id, start_at, end_at, sum, is_paid, reference_number, created_at`

func scanCycle(row rowScanner) (*billing.Cycle, error) {
	c := &billing.Cycle{}
	err := row.Scan(&c.ID, &c.MembershipID, &c.Start, &c.End, &c.Sum, &c.IsPaid, &c.ReferenceNumber, &c.CreatedAt)
	return c, err
}

func (r *PostgresBillingRepository) getCycle(ctx context.Context, where string, args ...any) (*billing.Cycle, error) {
	c, err := scanCycle(r.db.QueryRowContext(ctx, `SELECT `+cycleColumns+` FROM billing_cycles `+where, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, billing.ErrCycleNotFound
		}
		return nil, fmt.Errorf("error getting billing cycle: %w", err)
	}
	return c, nil
}

func (r *PostgresBillingRepository) CreateCycle(ctx context.Context, c *billing.Cycle) error {
	query := `INSERT INTO billing_cycles (membership_id, start_at, end_at, sum, is_paid, reference_number)
               VALUES ($1, $2, $3, $4, $5, $6)
               RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query, c.MembershipID, c.Start, c.End, c.Sum, c.IsPaid, c.ReferenceNumber).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return billing.ErrDuplicateCycle
		}
		return fmt.Errorf("error creating billing cycle: %w", err)
	}
	return nil
}

func (r *PostgresBillingRepository) GetCycleByReference(ctx context.Context, reference string) (*billing.Cycle, error) {
	return r.getCycle(ctx, `WHERE reference_number = $1`, reference)
}

func (r *PostgresBillingRepository) LatestCycle(ctx context.Context, membershipID int64) (*billing.Cycle, error) {
	return r.getCycle(ctx, `WHERE membership_id = $1 ORDER BY end_at DESC, id DESC LIMIT 1`, membershipID)
}

func (r *PostgresBillingRepository) ListCycles(ctx context.Context, membershipID int64) ([]*billing.Cycle, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+cycleColumns+` FROM billing_cycles WHERE membership_id = $1 ORDER BY start_at`, membershipID)
	if err != nil {
		return nil, fmt.Errorf("error listing billing cycles: %w", err)
	}
	defer rows.Close()

	var cycles []*billing.Cycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning billing cycle row: %w", err)
		}
		cycles = append(cycles, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating billing cycle rows: %w", err)
	}
	return cycles, nil
}

func (r *PostgresBillingRepository) MarkCyclePaid(ctx context.Context, cycleID int64) error {
	result, err := r.db.ExecContext(ctx, `UPDATE billing_cycles SET is_paid = TRUE WHERE id = $1`, cycleID)
	if err != nil {
		return fmt.Errorf("error marking billing cycle paid: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected for billing cycle update: %w", err)
	}
	if rowsAffected == 0 {
		return billing.ErrCycleNotFound
	}
	return nil
}

// --- Bill Methods ---

const billColumns = `id, cycle_id, reference_number, due_date, amount, reminder, created_at`

func scanBill(row rowScanner) (*billing.Bill, error) {
	b := &billing.Bill{}
	err := row.Scan(&b.ID, &b.CycleID, &b.ReferenceNumber, &b.DueDate, &b.Amount, &b.Reminder, &b.CreatedAt)
	return b, err
}

func (r *PostgresBillingRepository) CreateBill(ctx context.Context, b *billing.Bill) error {
	query := `INSERT INTO bills (cycle_id, reference_number, due_date, amount, reminder)
               VALUES ($1, $2, $3, $4, $5)
               RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query, b.CycleID, b.ReferenceNumber, b.DueDate, b.Amount, b.Reminder).Scan(&b.ID, &b.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return billing.ErrDuplicateBill
		}
		return fmt.Errorf("error creating bill: %w", err)
	}
	return nil
}

func (r *PostgresBillingRepository) HasOriginalBill(ctx context.Context, cycleID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM bills WHERE cycle_id = $1 AND NOT reminder)`, cycleID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("error checking original bill: %w", err)
	}
	return exists, nil
}

func (r *PostgresBillingRepository) LastBill(ctx context.Context, cycleID int64) (*billing.Bill, error) {
	query := `SELECT ` + billColumns + ` FROM bills WHERE cycle_id = $1 ORDER BY due_date DESC, id DESC LIMIT 1`
	b, err := scanBill(r.db.QueryRowContext(ctx, query, cycleID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, billing.ErrBillNotFound
		}
		return nil, fmt.Errorf("error getting last bill: %w", err)
	}
	return b, nil
}

func (r *PostgresBillingRepository) ListBills(ctx context.Context, cycleID int64) ([]*billing.Bill, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+billColumns+` FROM bills WHERE cycle_id = $1 ORDER BY due_date, id`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("error listing bills: %w", err)
	}
	defer rows.Close()

	var bills []*billing.Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning bill row: %w", err)
		}
		bills = append(bills, b)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bill rows: %w", err)
	}
	return bills, nil
}

// --- Payment Methods ---

func (r *PostgresBillingRepository) CreatePayment(ctx context.Context, p *billing.Payment) error {
	query := `INSERT INTO payments (bill_id, amount, payment_date, transaction_id, payer)
               VALUES ($1, $2, $3, $4, $5)
               RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query, p.BillID, p.Amount, p.PaymentDate, p.TransactionID, p.Payer).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return billing.ErrDuplicatePayment
		}
		return fmt.Errorf("error creating payment: %w", err)
	}
	return nil
}

func (r *PostgresBillingRepository) LatestPayment(ctx context.Context) (*billing.Payment, error) {
	query := `SELECT id, bill_id, amount, payment_date, transaction_id, payer, created_at
               FROM payments ORDER BY payment_date DESC, id DESC LIMIT 1`
	p := &billing.Payment{}
	err := r.db.QueryRowContext(ctx, query).Scan(&p.ID, &p.BillID, &p.Amount, &p.PaymentDate, &p.TransactionID, &p.Payer, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, billing.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("error getting latest payment: %w", err)
	}
	return p, nil
}

func (r *PostgresBillingRepository) SumPaymentsForCycle(ctx context.Context, cycleID int64) (decimal.Decimal, error) {
	query := `SELECT COALESCE(SUM(p.amount), 0) FROM payments p
               JOIN bills b ON b.id = p.bill_id
               WHERE b.cycle_id = $1`
	var sum decimal.Decimal
	if err := r.db.QueryRowContext(ctx, query, cycleID).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("error summing payments: %w", err)
	}
	return sum, nil
}
