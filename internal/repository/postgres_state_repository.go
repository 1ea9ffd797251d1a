package repository

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/database"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/domain"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/errors"
)

// PostgresStateRepository stores one JSONB WorkflowState row per invoice and
// mirrors new audit events into invoice_audit_events in the same transaction.
type PostgresStateRepository struct {
	db    *database.DB
	audit *PostgresAuditRepository
}

// NewPostgresStateRepository creates a new PostgresStateRepository.
func NewPostgresStateRepository(db *database.DB) *PostgresStateRepository {
	return &PostgresStateRepository{db: db, audit: NewPostgresAuditRepository(db)}
}

// Audit exposes the audit log reader.
func (r *PostgresStateRepository) Audit() *PostgresAuditRepository {
	return r.audit
}

// Get retrieves a workflow state by invoice id
func (r *PostgresStateRepository) Get(ctx context.Context, invoiceID string) (*domain.WorkflowState, error) {
	var (
		version int64
		data    []byte
	)
	err := r.db.QueryRow(ctx,
		`SELECT version, state FROM invoice_workflow_states WHERE invoice_id = $1`,
		invoiceID,
	).Scan(&version, &data)

	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("invoice", invoiceID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get workflow state")
	}
	return decodeState(data, version)
}

// Put inserts a new workflow state at version 1 together with its audit trail.
func (r *PostgresStateRepository) Put(ctx context.Context, state *domain.WorkflowState) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		data, err := encodeState(state, 1)
		if err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO invoice_workflow_states (invoice_id, version, invoice_status, state, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (invoice_id) DO NOTHING
		`,
			state.InvoiceID,
			int64(1),
			string(state.InvoiceStatus),
			data,
			state.CreatedAt,
			state.UpdatedAt,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create workflow state")
		}
		if tag.RowsAffected() == 0 {
			return errors.AlreadyExists("invoice", state.InvoiceID)
		}

		if err := r.audit.appendTx(ctx, tx, state.InvoiceID, 0, state.AuditTrail); err != nil {
			return err
		}
		state.Version = 1
		return nil
	})
}

// CompareAndSwap updates the row only when its version matches expectedVersion.
func (r *PostgresStateRepository) CompareAndSwap(ctx context.Context, state *domain.WorkflowState, expectedVersion int64) error {
	next := expectedVersion + 1
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		data, err := encodeState(state, next)
		if err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			UPDATE invoice_workflow_states
			SET version = $3, invoice_status = $4, state = $5, updated_at = $6
			WHERE invoice_id = $1 AND version = $2
		`,
			state.InvoiceID,
			expectedVersion,
			next,
			string(state.InvoiceStatus),
			data,
			state.UpdatedAt,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update workflow state")
		}
		if tag.RowsAffected() == 0 {
			return r.casFailure(ctx, tx, state.InvoiceID, expectedVersion)
		}

		seq, err := r.audit.nextSeqTx(ctx, tx, state.InvoiceID)
		if err != nil {
			return err
		}
		if seq < len(state.AuditTrail) {
			if err := r.audit.appendTx(ctx, tx, state.InvoiceID, seq, state.AuditTrail[seq:]); err != nil {
				return err
			}
		}

		state.Version = next
		return nil
	})
}

func (r *PostgresStateRepository) casFailure(ctx context.Context, tx pgx.Tx, invoiceID string, expected int64) error {
	var current int64
	err := tx.QueryRow(ctx, `SELECT version FROM invoice_workflow_states WHERE invoice_id = $1`, invoiceID).Scan(&current)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return errors.NotFound("invoice", invoiceID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to read workflow state version")
	}
	return errors.Newf(errors.ErrCodeConflict,
		"invoice %s was modified concurrently (expected version %d, found %d)", invoiceID, expected, current)
}

// List retrieves workflow states with filtering, oldest first
func (r *PostgresStateRepository) List(ctx context.Context, filter domain.ListFilter) ([]*domain.WorkflowState, error) {
	query := `SELECT version, state FROM invoice_workflow_states WHERE 1 = 1`

	args := []any{}
	argCount := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND invoice_status = $%d", argCount)
		args = append(args, string(filter.Status))
		argCount++
	}

	if !filter.UpdatedBefore.IsZero() {
		query += fmt.Sprintf(" AND updated_at < $%d", argCount)
		args = append(args, filter.UpdatedBefore)
		argCount++
	}

	query += " ORDER BY created_at ASC, invoice_id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list workflow states")
	}
	defer rows.Close()

	var states []*domain.WorkflowState
	for rows.Next() {
		var (
			version int64
			data    []byte
		)
		if err := rows.Scan(&version, &data); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan workflow state")
		}
		state, err := decodeState(data, version)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list workflow states")
	}
	return states, nil
}

// ── encoding helpers ──────────────────────────────────────────────────────────

// encodeState serialises state with the version it will be stored at,
// without touching the caller's copy.
func encodeState(state *domain.WorkflowState, version int64) ([]byte, error) {
	stored := *state
	stored.Version = version
	data, err := json.Marshal(&stored)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal workflow state")
	}
	return data, nil
}

func decodeState(data []byte, version int64) (*domain.WorkflowState, error) {
	state := &domain.WorkflowState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal workflow state")
	}
	state.Version = version
	return state, nil
}
