package database

import (
	"context"
	"database/sql"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"membership_billing/internal/domain/audit"
)

// PostgresAuditLog is the append-only audit log. It never updates or
// deletes rows.
type PostgresAuditLog struct {
	db     *sql.DB
	tracer trace.Tracer
}

func NewPostgresAuditLog(db *sql.DB) *PostgresAuditLog {
	return &PostgresAuditLog{
		db:     db,
		tracer: otel.Tracer("membership_billing/auditlog"),
	}
}

func (l *PostgresAuditLog) Append(ctx context.Context, e *audit.Entry) error {
	ctx, span := l.tracer.Start(ctx, "auditlog.append",
		trace.WithAttributes(
			attribute.String("entity.type", e.EntityType),
			attribute.Int64("entity.id", e.EntityID),
			attribute.String("change", e.Change),
		),
	)
	defer span.End()

	if err := insertAuditEntry(ctx, l.db, e); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// insertAuditEntry appends e through q, which is the pool or an open
// transaction.
func insertAuditEntry(ctx context.Context, q queryRower, e *audit.Entry) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	query := `INSERT INTO audit_log (entity_type, entity_id, actor, change, created_at)
               VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))
               RETURNING id, created_at`
	var createdAt sql.NullTime
	if !e.CreatedAt.IsZero() {
		createdAt = sql.NullTime{Time: e.CreatedAt, Valid: true}
	}
	err := q.QueryRowContext(ctx, query, e.EntityType, e.EntityID, e.Actor, e.Change, createdAt).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (l *PostgresAuditLog) Matching(ctx context.Context, entityType string, entityID int64, change string) ([]*audit.Entry, error) {
	ctx, span := l.tracer.Start(ctx, "auditlog.matching",
		trace.WithAttributes(
			attribute.String("entity.type", entityType),
			attribute.Int64("entity.id", entityID),
			attribute.String("change", change),
		),
	)
	defer span.End()

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, actor, change, created_at
		FROM audit_log
		WHERE entity_type = $1 AND entity_id = $2 AND change = $3
		ORDER BY created_at, id
	`, entityType, entityID, change)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*audit.Entry
	for rows.Next() {
		e := &audit.Entry{}
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Actor, &e.Change, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}

	span.SetAttributes(attribute.Int("entries.loaded", len(entries)))
	return entries, nil
}
