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

const recipientColumns = `id, organization_id, email, first_name, last_name, company, job_title, phone, lead_status, notes,
	tags, do_not_send, external_id, external_source, external_url, external_entity_type, sync_status, last_synced_at,
	sync_version, pending_since, created_at, updated_at`

// upsertExternalQuery inserts or updates by the external join key. A nil
// inbound value never erases local data. The update is skipped when nothing
// differs or when a local edit queued after $15 is waiting to be pushed;
// RETURNING then yields no row. Older PENDING marks belong to pushes that
// were lost and no longer hold inbound data back.
const upsertExternalQuery = `INSERT INTO recipients (id, organization_id, email, first_name, last_name, company, job_title, phone,
		lead_status, external_id, external_source, external_url, external_entity_type, sync_status, last_synced_at, created_at, updated_at)
	  VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,'SYNCED',$14,$14,$14)
	  ON CONFLICT (organization_id, external_id, external_source) WHERE external_id IS NOT NULL DO UPDATE SET
		email=COALESCE(EXCLUDED.email, recipients.email),
		first_name=COALESCE(EXCLUDED.first_name, recipients.first_name),
		last_name=COALESCE(EXCLUDED.last_name, recipients.last_name),
		company=COALESCE(EXCLUDED.company, recipients.company),
		job_title=COALESCE(EXCLUDED.job_title, recipients.job_title),
		phone=COALESCE(EXCLUDED.phone, recipients.phone),
		lead_status=COALESCE(EXCLUDED.lead_status, recipients.lead_status),
		external_url=EXCLUDED.external_url,
		external_entity_type=EXCLUDED.external_entity_type,
		sync_status='SYNCED',
		pending_since=NULL,
		last_synced_at=EXCLUDED.last_synced_at,
		updated_at=EXCLUDED.updated_at
	  WHERE (recipients.sync_status IS DISTINCT FROM 'PENDING' OR recipients.pending_since IS NULL OR recipients.pending_since < $15) AND (
		(EXCLUDED.email IS NOT NULL AND EXCLUDED.email IS DISTINCT FROM recipients.email) OR
		(EXCLUDED.first_name IS NOT NULL AND EXCLUDED.first_name IS DISTINCT FROM recipients.first_name) OR
		(EXCLUDED.last_name IS NOT NULL AND EXCLUDED.last_name IS DISTINCT FROM recipients.last_name) OR
		(EXCLUDED.company IS NOT NULL AND EXCLUDED.company IS DISTINCT FROM recipients.company) OR
		(EXCLUDED.job_title IS NOT NULL AND EXCLUDED.job_title IS DISTINCT FROM recipients.job_title) OR
		(EXCLUDED.phone IS NOT NULL AND EXCLUDED.phone IS DISTINCT FROM recipients.phone) OR
		(EXCLUDED.lead_status IS NOT NULL AND EXCLUDED.lead_status IS DISTINCT FROM recipients.lead_status) OR
		EXCLUDED.external_url IS DISTINCT FROM recipients.external_url OR
		EXCLUDED.external_entity_type IS DISTINCT FROM recipients.external_entity_type OR
		recipients.sync_status IS DISTINCT FROM 'SYNCED')
	  RETURNING (xmax = 0) AS inserted`

const defaultPendingTimeout = 15 * time.Minute

type RecipientRepository struct {
	db  *sql.DB
	now func() time.Time
	// pendingTimeout bounds how long a queued push protects a record from
	// inbound updates.
	pendingTimeout time.Duration
}

func NewRecipientRepository(db *sql.DB, pendingTimeout time.Duration) *RecipientRepository {
	if pendingTimeout <= 0 {
		pendingTimeout = defaultPendingTimeout
	}
	return &RecipientRepository{db: db, now: func() time.Time { return time.Now().UTC() }, pendingTimeout: pendingTimeout}
}

func (r *RecipientRepository) UpsertExternal(ctx context.Context, organizationID string, m *model.MappedRecipient, syncedAt time.Time) (model.UpsertOutcome, error) {
	if m == nil || m.ExternalID == "" {
		return model.UpsertUnchanged, errors.New("upsert requires an external id")
	}
	var externalURL *string
	if m.ExternalURL != "" {
		externalURL = &m.ExternalURL
	}
	pendingCutoff := r.now().Add(-r.pendingTimeout)
	var inserted bool
	err := r.db.QueryRowContext(ctx, upsertExternalQuery,
		uuid.NewString(), organizationID, m.Email, m.FirstName, m.LastName, m.Company, m.JobTitle, m.Phone,
		m.LeadStatus, m.ExternalID, string(m.ExternalSource), externalURL, string(m.EntityType), syncedAt, pendingCutoff,
	).Scan(&inserted)
	switch {
	case err == nil && inserted:
		return model.UpsertCreated, nil
	case err == nil:
		return model.UpsertUpdated, nil
	case !errors.Is(err, sql.ErrNoRows):
		return model.UpsertUnchanged, fmt.Errorf("upserting %s %s: %w", m.ExternalSource, m.ExternalID, err)
	}

	var status sql.NullString
	err = r.db.QueryRowContext(ctx, `SELECT sync_status FROM recipients WHERE organization_id=$1 AND external_id=$2 AND external_source=$3`,
		organizationID, m.ExternalID, string(m.ExternalSource)).Scan(&status)
	if err != nil {
		return model.UpsertUnchanged, fmt.Errorf("reading sync status of %s %s: %w", m.ExternalSource, m.ExternalID, err)
	}
	if status.Valid && status.String == string(model.RecipientPending) {
		return model.UpsertSkippedPending, nil
	}
	return model.UpsertUnchanged, nil
}

func (r *RecipientRepository) GetByID(ctx context.Context, organizationID, id string) (*model.Recipient, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recipientColumns+` FROM recipients WHERE organization_id=$1 AND id=$2`, organizationID, id)
	rec, err := scanRecipient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrRecipientNotFound
	}
	return rec, err
}

func (r *RecipientRepository) GetByExternal(ctx context.Context, organizationID, externalID string, source model.Provider) (*model.Recipient, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recipientColumns+` FROM recipients WHERE organization_id=$1 AND external_id=$2 AND external_source=$3`,
		organizationID, externalID, string(source))
	rec, err := scanRecipient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrRecipientNotFound
	}
	return rec, err
}

// UpdateLocal writes the editable fields of a recipient. With queuePush the
// recipient is also marked PENDING under a new sync version, which rec
// receives. External linkage columns are owned by the sync paths.
func (r *RecipientRepository) UpdateLocal(ctx context.Context, rec *model.Recipient, queuePush bool) error {
	rec.UpdatedAt = r.now()
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	var status sql.NullString
	var pendingSince sql.NullTime
	err := r.db.QueryRowContext(ctx, `UPDATE recipients SET email=$3, first_name=$4, last_name=$5, company=$6, job_title=$7, phone=$8,
			lead_status=$9, notes=$10, tags=$11, do_not_send=$12, updated_at=$14,
			sync_status=CASE WHEN $13 THEN 'PENDING' ELSE sync_status END,
			sync_version=CASE WHEN $13 THEN sync_version + 1 ELSE sync_version END,
			pending_since=CASE WHEN $13 THEN $14 ELSE pending_since END
		  WHERE organization_id=$1 AND id=$2
		  RETURNING sync_status, sync_version, pending_since`,
		rec.OrganizationID, rec.ID, rec.Email, rec.FirstName, rec.LastName, rec.Company, rec.JobTitle, rec.Phone,
		rec.LeadStatus, rec.Notes, pq.Array(tags), rec.DoNotSend, queuePush, rec.UpdatedAt,
	).Scan(&status, &rec.SyncVersion, &pendingSince)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrRecipientNotFound
	}
	if err != nil {
		return err
	}
	rec.SyncStatus = nil
	if status.Valid {
		s := model.RecipientSyncStatus(status.String)
		rec.SyncStatus = &s
	}
	rec.PendingSince = nullTime(pendingSince)
	return nil
}

// ClearExternalLink soft-disconnects recipients from a deleted CRM record.
func (r *RecipientRepository) ClearExternalLink(ctx context.Context, organizationID, externalID string, source model.Provider) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE recipients SET external_id=NULL, external_source=NULL, external_url=NULL,
			external_entity_type=NULL, sync_status=NULL, updated_at=$4
		  WHERE organization_id=$1 AND external_id=$2 AND external_source=$3`,
		organizationID, externalID, string(source), r.now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *RecipientRepository) SetSyncStatus(ctx context.Context, organizationID, id string, status model.RecipientSyncStatus, syncedAt *time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE recipients SET sync_status=$3, last_synced_at=COALESCE($4, last_synced_at), updated_at=$5,
			pending_since=CASE WHEN $3 = 'PENDING' THEN COALESCE(pending_since, $5) ELSE NULL END
		  WHERE organization_id=$1 AND id=$2`,
		organizationID, id, string(status), syncedAt, r.now())
	return err
}

// MarkPushed settles a successful push. It only applies while the recipient
// is still PENDING at the pushed version; a newer edit keeps it PENDING and a
// failed push keeps it ERROR.
func (r *RecipientRepository) MarkPushed(ctx context.Context, organizationID, id string, version int64, syncedAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE recipients SET sync_status='SYNCED', last_synced_at=$4, pending_since=NULL, updated_at=$5
		  WHERE organization_id=$1 AND id=$2 AND sync_version=$3 AND sync_status='PENDING'`,
		organizationID, id, version, syncedAt, r.now())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func scanRecipient(row rowScanner) (*model.Recipient, error) {
	rec := &model.Recipient{}
	var email, firstName, lastName, company, jobTitle, phone, leadStatus, notes sql.NullString
	var externalID, externalSource, externalURL, entityType, syncStatus sql.NullString
	var lastSynced, pendingSince sql.NullTime
	var tags pq.StringArray
	if err := row.Scan(&rec.ID, &rec.OrganizationID, &email, &firstName, &lastName, &company, &jobTitle, &phone, &leadStatus, &notes,
		&tags, &rec.DoNotSend, &externalID, &externalSource, &externalURL, &entityType, &syncStatus, &lastSynced,
		&rec.SyncVersion, &pendingSince, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Email = nullString(email)
	rec.FirstName = nullString(firstName)
	rec.LastName = nullString(lastName)
	rec.Company = nullString(company)
	rec.JobTitle = nullString(jobTitle)
	rec.Phone = nullString(phone)
	rec.LeadStatus = nullString(leadStatus)
	rec.Notes = nullString(notes)
	rec.Tags = []string(tags)
	rec.ExternalID = nullString(externalID)
	rec.ExternalSource = nullString(externalSource)
	rec.ExternalURL = nullString(externalURL)
	rec.ExternalEntityType = nullString(entityType)
	if syncStatus.Valid {
		s := model.RecipientSyncStatus(syncStatus.String)
		rec.SyncStatus = &s
	}
	rec.LastSyncedAt = nullTime(lastSynced)
	rec.PendingSince = nullTime(pendingSince)
	return rec, nil
}
