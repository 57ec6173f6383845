package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"membership_billing/internal/domain/audit"
	"membership_billing/internal/domain/membership"
)

type PostgresMembershipRepository struct {
	db *sql.DB
}

func NewPostgresMembershipRepository(db *sql.DB) *PostgresMembershipRepository {
	return &PostgresMembershipRepository{db: db}
}

const membershipColumns = `id, type, status, name, email, billing_email, created_at, updated_at`

func scanMembership(row interface{ Scan(...any) error }) (*membership.Membership, error) {
	m := &membership.Membership{}
	err := row.Scan(&m.ID, &m.Type, &m.Status, &m.Name, &m.Email, &m.BillingEmail, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

func (r *PostgresMembershipRepository) Create(ctx context.Context, m *membership.Membership) error {
	query := `INSERT INTO memberships (type, status, name, email, billing_email)
               VALUES ($1, $2, $3, $4, $5)
               RETURNING id, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query, m.Type, m.Status, m.Name, m.Email, m.BillingEmail).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error creating membership: %w", err)
	}
	return nil
}

func (r *PostgresMembershipRepository) GetByID(ctx context.Context, id int64) (*membership.Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM memberships WHERE id = $1`
	m, err := scanMembership(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, membership.ErrNotFound
		}
		return nil, fmt.Errorf("error getting membership by ID: %w", err)
	}
	return m, nil
}

// Transition updates the status only if it still equals from, and writes
// the audit entry in the same transaction.
func (r *PostgresMembershipRepository) Transition(ctx context.Context, id int64, from, to membership.Status, entry *audit.Entry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting status transition: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query := `UPDATE memberships SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`
	result, err := tx.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return fmt.Errorf("error updating membership status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected for membership status update: %w", err)
	}
	if rowsAffected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM memberships WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("error checking membership: %w", err)
		}
		if !exists {
			return membership.ErrNotFound
		}
		return membership.ErrInvalidTransition
	}

	if err := insertAuditEntry(ctx, tx, entry); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing status transition: %w", err)
	}
	return nil
}

func (r *PostgresMembershipRepository) ListByStatus(ctx context.Context, status membership.Status) ([]*membership.Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM memberships WHERE status = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("error listing memberships by status: %w", err)
	}
	defer rows.Close()

	var members []*membership.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning membership row: %w", err)
		}
		members = append(members, m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating membership rows: %w", err)
	}
	return members, nil
}
