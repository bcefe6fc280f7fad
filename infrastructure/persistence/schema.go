package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

var crmTables = []string{
	`CREATE TABLE IF NOT EXISTS integrations (
		id VARCHAR(36) PRIMARY KEY,
		organization_id TEXT NOT NULL UNIQUE,
		provider TEXT NOT NULL,
		status TEXT NOT NULL,
		access_token TEXT NOT NULL DEFAULT '',
		refresh_token TEXT NOT NULL DEFAULT '',
		token_expires_at TIMESTAMPTZ NULL,
		instance_url TEXT NULL,
		provider_account_id TEXT NULL,
		webhook_secret TEXT NULL,
		last_sync_at TIMESTAMPTZ NULL,
		last_sync_status TEXT NULL,
		last_sync_error TEXT NULL,
		is_demo BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_integrations_provider_status ON integrations (provider, status)`,
	`CREATE TABLE IF NOT EXISTS recipients (
		id VARCHAR(36) PRIMARY KEY,
		organization_id TEXT NOT NULL,
		email TEXT NULL,
		first_name TEXT NULL,
		last_name TEXT NULL,
		company TEXT NULL,
		job_title TEXT NULL,
		phone TEXT NULL,
		notes TEXT NULL,
		tags TEXT[] NOT NULL DEFAULT '{}',
		do_not_send BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// recipients may predate the CRM layer, so sync columns are added one by one.
var recipientSyncColumns = []struct {
	column string
	ddl    string
}{
	{"lead_status", "ALTER TABLE recipients ADD COLUMN lead_status TEXT NULL"},
	{"external_id", "ALTER TABLE recipients ADD COLUMN external_id TEXT NULL"},
	{"external_source", "ALTER TABLE recipients ADD COLUMN external_source TEXT NULL"},
	{"external_url", "ALTER TABLE recipients ADD COLUMN external_url TEXT NULL"},
	{"external_entity_type", "ALTER TABLE recipients ADD COLUMN external_entity_type TEXT NULL"},
	{"sync_status", "ALTER TABLE recipients ADD COLUMN sync_status TEXT NULL"},
	{"last_synced_at", "ALTER TABLE recipients ADD COLUMN last_synced_at TIMESTAMPTZ NULL"},
	{"sync_version", "ALTER TABLE recipients ADD COLUMN sync_version BIGINT NOT NULL DEFAULT 0"},
	{"pending_since", "ALTER TABLE recipients ADD COLUMN pending_since TIMESTAMPTZ NULL"},
}

const recipientExternalIndex = `CREATE UNIQUE INDEX IF NOT EXISTS uq_recipients_external
	ON recipients (organization_id, external_id, external_source) WHERE external_id IS NOT NULL`

// EnsureCRMSchema creates the integration and recipient tables and adds any
// missing sync columns. Safe to call on every start.
func EnsureCRMSchema(ctx context.Context, db *sql.DB) error {
	for _, ddl := range crmTables {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensuring crm schema: %w", err)
		}
	}
	for _, c := range recipientSyncColumns {
		exists, err := columnExists(ctx, db, "recipients", c.column)
		if err != nil {
			return err
		}
		if !exists {
			if _, err := db.ExecContext(ctx, c.ddl); err != nil {
				return fmt.Errorf("adding column recipients.%s failed: %w", c.column, err)
			}
		}
	}
	if _, err := db.ExecContext(ctx, recipientExternalIndex); err != nil {
		return fmt.Errorf("creating recipient external index: %w", err)
	}
	return nil
}

func columnExists(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	row := db.QueryRowContext(ctx, `SELECT 1 FROM information_schema.columns WHERE table_name=$1 AND column_name=$2`, table, column)
	var one int
	if err := row.Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
