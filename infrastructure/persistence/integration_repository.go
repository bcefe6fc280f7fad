package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"crm-sync/domain/model"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const integrationColumns = `id, organization_id, provider, status, access_token, refresh_token, token_expires_at,
	instance_url, provider_account_id, webhook_secret, last_sync_at, last_sync_status, last_sync_error,
	is_demo, created_at, updated_at`

// IntegrationRepository stores one integration row per organization.
type IntegrationRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewIntegrationRepository(db *sql.DB) *IntegrationRepository {
	return &IntegrationRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Upsert replaces the organization's integration in place. The row id is
// kept so earlier sync logs stay attached.
func (r *IntegrationRepository) Upsert(ctx context.Context, in *model.Integration) error {
	now := r.now()
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	in.UpdatedAt = now
	q := `INSERT INTO integrations (id, organization_id, provider, status, access_token, refresh_token, token_expires_at,
			instance_url, provider_account_id, webhook_secret, is_demo, created_at, updated_at)
		  VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)
		  ON CONFLICT (organization_id) DO UPDATE SET
			provider=EXCLUDED.provider,
			status=EXCLUDED.status,
			access_token=EXCLUDED.access_token,
			refresh_token=EXCLUDED.refresh_token,
			token_expires_at=EXCLUDED.token_expires_at,
			instance_url=EXCLUDED.instance_url,
			provider_account_id=EXCLUDED.provider_account_id,
			webhook_secret=EXCLUDED.webhook_secret,
			is_demo=EXCLUDED.is_demo,
			last_sync_error=NULL,
			updated_at=EXCLUDED.updated_at
		  RETURNING id, created_at`
	row := r.db.QueryRowContext(ctx, q,
		in.ID, in.OrganizationID, string(in.Provider), string(in.Status), in.AccessToken, in.RefreshToken, in.TokenExpiresAt,
		in.InstanceURL, in.ProviderAccountID, in.WebhookSecret, in.IsDemo, now)
	if err := row.Scan(&in.ID, &in.CreatedAt); err != nil {
		return fmt.Errorf("upserting integration for %s: %w", in.OrganizationID, err)
	}
	return nil
}

func (r *IntegrationRepository) GetByOrganization(ctx context.Context, organizationID string) (*model.Integration, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+integrationColumns+` FROM integrations WHERE organization_id=$1`, organizationID)
	in, err := scanIntegration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return in, err
}

func (r *IntegrationRepository) ListByProvider(ctx context.Context, provider model.Provider, statuses []model.IntegrationStatus) ([]*model.Integration, error) {
	return r.list(ctx, `SELECT `+integrationColumns+` FROM integrations WHERE provider=$1 AND status = ANY($2) ORDER BY created_at`,
		string(provider), pq.Array(statusStrings(statuses)))
}

func (r *IntegrationRepository) ListByStatus(ctx context.Context, statuses []model.IntegrationStatus) ([]*model.Integration, error) {
	return r.list(ctx, `SELECT `+integrationColumns+` FROM integrations WHERE status = ANY($1) ORDER BY created_at`,
		pq.Array(statusStrings(statuses)))
}

func (r *IntegrationRepository) list(ctx context.Context, q string, args ...any) ([]*model.Integration, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Integration
	for rows.Next() {
		in, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// UpdateTokens stores refreshed credentials. An empty refresh token or nil
// instance url keeps the stored value.
func (r *IntegrationRepository) UpdateTokens(ctx context.Context, organizationID string, t model.TokenSet) error {
	_, err := r.db.ExecContext(ctx, `UPDATE integrations SET
			access_token=$2,
			refresh_token=COALESCE(NULLIF($3, ''), refresh_token),
			token_expires_at=$4,
			instance_url=COALESCE($5, instance_url),
			updated_at=$6
		  WHERE organization_id=$1`,
		organizationID, t.AccessToken, t.RefreshToken, t.ExpiresAt, t.InstanceURL, r.now())
	return err
}

// TryBeginSync is a compare-and-set on status; only one caller across all
// server instances moves a given integration into SYNCING. A run that died
// without FinishSync leaves a SYNCING row whose updated_at stops moving.
func (r *IntegrationRepository) TryBeginSync(ctx context.Context, organizationID string, staleBefore time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE integrations SET status='SYNCING', updated_at=$2
		  WHERE organization_id=$1 AND (status IN ('CONNECTED','ERROR') OR (status='SYNCING' AND updated_at < $3))`,
		organizationID, r.now(), staleBefore)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// FinishSync only applies while the row is still SYNCING, so a disconnect
// that lands mid-sync is not undone.
func (r *IntegrationRepository) FinishSync(ctx context.Context, organizationID string, status model.IntegrationStatus, syncStatus string, syncErr *string, syncedAt *time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE integrations SET status=$2, last_sync_at=COALESCE($3, last_sync_at), last_sync_status=$4, last_sync_error=$5, updated_at=$6
		  WHERE organization_id=$1 AND status='SYNCING'`,
		organizationID, string(status), syncedAt, syncStatus, syncErr, r.now())
	return err
}

func (r *IntegrationRepository) MarkError(ctx context.Context, organizationID string, message string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE integrations SET
			status=CASE WHEN status='SYNCING' THEN status ELSE 'ERROR' END,
			last_sync_error=$2,
			updated_at=$3
		  WHERE organization_id=$1 AND status <> 'DISCONNECTED'`, organizationID, message, r.now())
	return err
}

// Disconnect keeps the row for audit and drops every credential.
func (r *IntegrationRepository) Disconnect(ctx context.Context, organizationID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE integrations SET status='DISCONNECTED', access_token='', refresh_token='',
			token_expires_at=NULL, webhook_secret=NULL, updated_at=$2
		  WHERE organization_id=$1`, organizationID, r.now())
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntegration(row rowScanner) (*model.Integration, error) {
	in := &model.Integration{}
	var provider, status string
	var expires, lastSyncAt sql.NullTime
	var instanceURL, accountID, webhookSecret, lastSyncStatus, lastSyncError sql.NullString
	if err := row.Scan(&in.ID, &in.OrganizationID, &provider, &status, &in.AccessToken, &in.RefreshToken, &expires,
		&instanceURL, &accountID, &webhookSecret, &lastSyncAt, &lastSyncStatus, &lastSyncError,
		&in.IsDemo, &in.CreatedAt, &in.UpdatedAt); err != nil {
		return nil, err
	}
	in.Provider = model.Provider(provider)
	in.Status = model.IntegrationStatus(status)
	in.TokenExpiresAt = nullTime(expires)
	in.LastSyncAt = nullTime(lastSyncAt)
	in.InstanceURL = nullString(instanceURL)
	in.ProviderAccountID = nullString(accountID)
	in.WebhookSecret = nullString(webhookSecret)
	in.LastSyncStatus = nullString(lastSyncStatus)
	in.LastSyncError = nullString(lastSyncError)
	return in, nil
}

func statusStrings(statuses []model.IntegrationStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
