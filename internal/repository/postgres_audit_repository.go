package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/database"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/domain"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/errors"
)

// PostgresAuditRepository appends and reads the immutable audit event log.
type PostgresAuditRepository struct {
	db *database.DB
}

// NewPostgresAuditRepository creates a new PostgresAuditRepository.
func NewPostgresAuditRepository(db *database.DB) *PostgresAuditRepository {
	return &PostgresAuditRepository{db: db}
}

// appendTx inserts events with sequence numbers starting at firstSeq. It runs
// inside the caller's state transaction so the log never diverges from the
// embedded trail.
func (r *PostgresAuditRepository) appendTx(ctx context.Context, tx pgx.Tx, invoiceID string, firstSeq int, events []domain.AuditEvent) error {
	query := `
		INSERT INTO invoice_audit_events
		    (invoice_id, seq, event_type, actor, title, description, details, ai_summary, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	batch := &pgx.Batch{}
	for i, ev := range events {
		var details []byte
		if ev.Details != nil {
			var err error
			details, err = json.Marshal(ev.Details)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit details")
			}
		}
		batch.Queue(query,
			invoiceID,
			firstSeq+i,
			string(ev.EventType),
			ev.Actor,
			ev.Title,
			ev.Description,
			details,
			ev.AISummary,
			ev.Timestamp,
		)
	}
	if batch.Len() == 0 {
		return nil
	}

	results := tx.SendBatch(ctx, batch)
	defer results.Close()
	for range events {
		if _, err := results.Exec(); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to append audit event")
		}
	}
	return nil
}

// nextSeqTx returns the sequence number for the next event of an invoice.
func (r *PostgresAuditRepository) nextSeqTx(ctx context.Context, tx pgx.Tx, invoiceID string) (int, error) {
	var next int
	err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq) + 1, 0) FROM invoice_audit_events WHERE invoice_id = $1`,
		invoiceID,
	).Scan(&next)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to read audit sequence")
	}
	return next, nil
}

// GetByInvoiceID returns the audit trail for an invoice ordered oldest-first.
func (r *PostgresAuditRepository) GetByInvoiceID(ctx context.Context, invoiceID string) (domain.AuditTrail, error) {
	query := `
		SELECT event_type, actor, title, description, details, ai_summary, occurred_at
		FROM invoice_audit_events
		WHERE invoice_id = $1
		ORDER BY seq ASC
	`

	rows, err := r.db.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	trail := domain.AuditTrail{}
	for rows.Next() {
		var (
			ev      domain.AuditEvent
			kind    string
			details []byte
		)
		if err := rows.Scan(&kind, &ev.Actor, &ev.Title, &ev.Description, &details, &ev.AISummary, &ev.Timestamp); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit event")
		}
		ev.EventType = domain.EventKind(kind)
		if details != nil {
			if err := json.Unmarshal(details, &ev.Details); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit details")
			}
		}
		trail = append(trail, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read audit log")
	}
	return trail, nil
}
