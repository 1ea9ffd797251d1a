package repository

import (
	"context"

	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/database"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/errors"
)

// postgresSchema creates the workflow state table and the append-only audit
// event table. Deletes on the audit table are refused by trigger.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS invoice_workflow_states (
	invoice_id     TEXT PRIMARY KEY,
	version        BIGINT NOT NULL,
	invoice_status TEXT NOT NULL,
	state          JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_workflow_states_status_updated
	ON invoice_workflow_states (invoice_status, updated_at);

CREATE TABLE IF NOT EXISTS invoice_audit_events (
	id          BIGSERIAL PRIMARY KEY,
	invoice_id  TEXT NOT NULL REFERENCES invoice_workflow_states (invoice_id),
	seq         INTEGER NOT NULL,
	event_type  TEXT NOT NULL,
	actor       TEXT NOT NULL,
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	details     JSONB,
	ai_summary  TEXT NOT NULL DEFAULT '',
	occurred_at TIMESTAMPTZ NOT NULL,
	UNIQUE (invoice_id, seq)
);

CREATE OR REPLACE FUNCTION invoice_audit_events_no_delete() RETURNS trigger AS $$
BEGIN
	RAISE EXCEPTION 'invoice_audit_events is append-only';
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_invoice_audit_events_no_delete ON invoice_audit_events;
CREATE TRIGGER trg_invoice_audit_events_no_delete
	BEFORE DELETE OR UPDATE ON invoice_audit_events
	FOR EACH ROW EXECUTE FUNCTION invoice_audit_events_no_delete();
`

// MigratePostgres creates the pipeline tables if they do not exist.
func MigratePostgres(ctx context.Context, db *database.DB) error {
	if _, err := db.Exec(ctx, postgresSchema); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to migrate postgres schema")
	}
	return nil
}
