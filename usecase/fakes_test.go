package usecase

import (
	"context"
	"net/url"
	"sort"
	"sync"
	"time"

	"crm-sync/domain/model"
	"crm-sync/domain/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

var testNow = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

// MockProvider is a testify mock of a CRM adapter.
type MockProvider struct {
	mock.Mock
	provider model.Provider
	entities []model.EntityType
}

func newMockProvider(p model.Provider, entities ...model.EntityType) *MockProvider {
	return &MockProvider{provider: p, entities: entities}
}

func (m *MockProvider) Provider() model.Provider                 { return m.provider }
func (m *MockProvider) SupportedEntityTypes() []model.EntityType { return m.entities }
func (m *MockProvider) SignatureHeader() string                  { return "X-Test-Signature" }

func (m *MockProvider) GetAuthURL(state, redirectURI string) *url.URL {
	q := url.Values{"state": {state}, "redirect_uri": {redirectURI}}
	return &url.URL{Scheme: "https", Host: "auth.example", Path: "/authorize", RawQuery: q.Encode()}
}

func (m *MockProvider) ExchangeCode(ctx context.Context, code, redirectURI string) (*model.TokenSet, error) {
	args := m.Called(ctx, code, redirectURI)
	ts, _ := args.Get(0).(*model.TokenSet)
	return ts, args.Error(1)
}

func (m *MockProvider) RefreshToken(ctx context.Context, refreshToken string) (*model.TokenSet, error) {
	args := m.Called(ctx, refreshToken)
	ts, _ := args.Get(0).(*model.TokenSet)
	return ts, args.Error(1)
}

func (m *MockProvider) FetchRecord(ctx context.Context, entityType model.EntityType, accessToken, externalID, instanceURL string) (*model.ProviderRecord, error) {
	args := m.Called(ctx, entityType, accessToken, externalID, instanceURL)
	rec, _ := args.Get(0).(*model.ProviderRecord)
	return rec, args.Error(1)
}

func (m *MockProvider) ListRecords(ctx context.Context, entityType model.EntityType, accessToken, instanceURL string, opts model.ListOptions) (*model.RecordPage, error) {
	args := m.Called(ctx, entityType, accessToken, instanceURL, opts)
	page, _ := args.Get(0).(*model.RecordPage)
	return page, args.Error(1)
}

func (m *MockProvider) UpdateRecord(ctx context.Context, entityType model.EntityType, accessToken, externalID, instanceURL string, properties map[string]any) error {
	args := m.Called(ctx, entityType, accessToken, externalID, instanceURL, properties)
	return args.Error(0)
}

// VerifyWebhookSignature accepts "sig:<secret>".
func (m *MockProvider) VerifyWebhookSignature(_ []byte, signature, secret string) bool {
	return signature == "sig:"+secret
}

func (m *MockProvider) ParseWebhookPayload(rawBody []byte) ([]model.WebhookEvent, error) {
	args := m.Called(rawBody)
	events, _ := args.Get(0).([]model.WebhookEvent)
	return events, args.Error(1)
}

func (m *MockProvider) AccountHint(rawBody []byte) string {
	args := m.Called(rawBody)
	return args.String(0)
}

type fakeRegistry map[model.Provider]repository.ICRMProvider

func (r fakeRegistry) IsValidProvider(id string) bool {
	_, ok := r[model.Provider(id)]
	return ok
}

func (r fakeRegistry) Get(p model.Provider) (repository.ICRMProvider, bool) {
	a, ok := r[p]
	return a, ok
}

func (r fakeRegistry) Providers() []model.Provider {
	out := make([]model.Provider, 0, len(r))
	for p := range r {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type memIntegrations struct {
	mu   sync.Mutex
	rows map[string]*model.Integration
}

func newMemIntegrations(list ...*model.Integration) *memIntegrations {
	m := &memIntegrations{rows: map[string]*model.Integration{}}
	for _, in := range list {
		if in.ID == "" {
			in.ID = uuid.NewString()
		}
		m.rows[in.OrganizationID] = in
	}
	return m
}

func (m *memIntegrations) get(org string) *model.Integration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if in, ok := m.rows[org]; ok {
		cp := *in
		return &cp
	}
	return nil
}

func (m *memIntegrations) Upsert(_ context.Context, in *model.Integration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.rows[in.OrganizationID]; ok {
		in.ID = existing.ID
	} else if in.ID == "" {
		in.ID = uuid.NewString()
	}
	cp := *in
	cp.LastSyncError = nil
	m.rows[in.OrganizationID] = &cp
	return nil
}

func (m *memIntegrations) GetByOrganization(_ context.Context, org string) (*model.Integration, error) {
	return m.get(org), nil
}

func (m *memIntegrations) ListByProvider(_ context.Context, p model.Provider, statuses []model.IntegrationStatus) ([]*model.Integration, error) {
	return m.list(func(in *model.Integration) bool { return in.Provider == p && hasStatus(statuses, in.Status) }), nil
}

func (m *memIntegrations) ListByStatus(_ context.Context, statuses []model.IntegrationStatus) ([]*model.Integration, error) {
	return m.list(func(in *model.Integration) bool { return hasStatus(statuses, in.Status) }), nil
}

func (m *memIntegrations) list(keep func(*model.Integration) bool) []*model.Integration {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Integration
	for _, in := range m.rows {
		if keep(in) {
			cp := *in
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrganizationID < out[j].OrganizationID })
	return out
}

func hasStatus(list []model.IntegrationStatus, s model.IntegrationStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (m *memIntegrations) UpdateTokens(_ context.Context, org string, t model.TokenSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	in := m.rows[org]
	in.AccessToken = t.AccessToken
	if t.RefreshToken != "" {
		in.RefreshToken = t.RefreshToken
	}
	in.TokenExpiresAt = t.ExpiresAt
	if t.InstanceURL != nil {
		in.InstanceURL = t.InstanceURL
	}
	return nil
}

func (m *memIntegrations) TryBeginSync(_ context.Context, org string, staleBefore time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.rows[org]
	if !ok {
		return false, nil
	}
	stale := in.Status == model.IntegrationSyncing && in.UpdatedAt.Before(staleBefore)
	if in.Status != model.IntegrationConnected && in.Status != model.IntegrationError && !stale {
		return false, nil
	}
	in.Status = model.IntegrationSyncing
	in.UpdatedAt = testNow
	return true, nil
}

func (m *memIntegrations) FinishSync(_ context.Context, org string, status model.IntegrationStatus, syncStatus string, syncErr *string, syncedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.rows[org]
	if !ok || in.Status != model.IntegrationSyncing {
		return nil
	}
	in.Status = status
	in.LastSyncStatus = &syncStatus
	in.LastSyncError = syncErr
	if syncedAt != nil {
		in.LastSyncAt = syncedAt
	}
	return nil
}

func (m *memIntegrations) MarkError(_ context.Context, org, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if in, ok := m.rows[org]; ok && in.Status != model.IntegrationDisconnected {
		if in.Status != model.IntegrationSyncing {
			in.Status = model.IntegrationError
		}
		in.LastSyncError = &msg
	}
	return nil
}

func (m *memIntegrations) Disconnect(_ context.Context, org string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if in, ok := m.rows[org]; ok {
		in.Status = model.IntegrationDisconnected
		in.AccessToken, in.RefreshToken = "", ""
		in.TokenExpiresAt, in.WebhookSecret = nil, nil
	}
	return nil
}

// memRecipients follows the same upsert rules as the SQL repository.
type memRecipients struct {
	mu             sync.Mutex
	rows           map[string]*model.Recipient
	pendingTimeout time.Duration
}

func newMemRecipients(list ...*model.Recipient) *memRecipients {
	m := &memRecipients{rows: map[string]*model.Recipient{}, pendingTimeout: 15 * time.Minute}
	for _, r := range list {
		m.rows[r.ID] = r
	}
	return m
}

func (m *memRecipients) all() []*model.Recipient {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Recipient, 0, len(m.rows))
	for _, r := range m.rows {
		cp := *r
		out = append(out, &cp)
	}
	return out
}

func (m *memRecipients) find(org, extID, source string) *model.Recipient {
	for _, r := range m.rows {
		if r.OrganizationID == org && r.ExternalID != nil && *r.ExternalID == extID && r.ExternalSource != nil && *r.ExternalSource == source {
			return r
		}
	}
	return nil
}

func (m *memRecipients) UpsertExternal(_ context.Context, org string, mr *model.MappedRecipient, syncedAt time.Time) (model.UpsertOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	synced := model.RecipientSynced
	source := string(mr.ExternalSource)
	entity := string(mr.EntityType)
	existing := m.find(org, mr.ExternalID, source)
	if existing == nil {
		id := uuid.NewString()
		m.rows[id] = &model.Recipient{
			ID: id, OrganizationID: org, Email: mr.Email, FirstName: mr.FirstName, LastName: mr.LastName,
			Company: mr.Company, JobTitle: mr.JobTitle, Phone: mr.Phone, LeadStatus: mr.LeadStatus,
			ExternalID: ptr(mr.ExternalID), ExternalSource: &source, ExternalURL: ptr(mr.ExternalURL),
			ExternalEntityType: &entity, SyncStatus: &synced, LastSyncedAt: ptr(syncedAt),
		}
		return model.UpsertCreated, nil
	}
	if m.pendingBlocks(existing) {
		return model.UpsertSkippedPending, nil
	}
	changed := false
	merge := func(dst **string, v *string) {
		if v != nil && derefString(*dst) != *v {
			*dst = ptr(*v)
			changed = true
		}
	}
	merge(&existing.Email, mr.Email)
	merge(&existing.FirstName, mr.FirstName)
	merge(&existing.LastName, mr.LastName)
	merge(&existing.Company, mr.Company)
	merge(&existing.JobTitle, mr.JobTitle)
	merge(&existing.Phone, mr.Phone)
	merge(&existing.LeadStatus, mr.LeadStatus)
	merge(&existing.ExternalURL, &mr.ExternalURL)
	merge(&existing.ExternalEntityType, &entity)
	if existing.SyncStatus == nil || *existing.SyncStatus != model.RecipientSynced {
		changed = true
	}
	if !changed {
		return model.UpsertUnchanged, nil
	}
	existing.SyncStatus = &synced
	existing.LastSyncedAt = ptr(syncedAt)
	existing.PendingSince = nil
	return model.UpsertUpdated, nil
}

func (m *memRecipients) pendingBlocks(r *model.Recipient) bool {
	if r.SyncStatus == nil || *r.SyncStatus != model.RecipientPending || r.PendingSince == nil {
		return false
	}
	return !r.PendingSince.Before(testNow.Add(-m.pendingTimeout))
}

func (m *memRecipients) GetByID(_ context.Context, org, id string) (*model.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.OrganizationID != org {
		return nil, model.ErrRecipientNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRecipients) GetByExternal(_ context.Context, org, extID string, source model.Provider) (*model.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.find(org, extID, string(source))
	if r == nil {
		return nil, model.ErrRecipientNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRecipients) UpdateLocal(_ context.Context, rec *model.Recipient, queuePush bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.rows[rec.ID]
	if !ok || stored.OrganizationID != rec.OrganizationID {
		return model.ErrRecipientNotFound
	}
	rec.UpdatedAt = testNow
	rec.ExternalID, rec.ExternalSource = stored.ExternalID, stored.ExternalSource
	rec.ExternalURL, rec.ExternalEntityType = stored.ExternalURL, stored.ExternalEntityType
	rec.SyncStatus, rec.SyncVersion, rec.PendingSince = stored.SyncStatus, stored.SyncVersion, stored.PendingSince
	if queuePush {
		rec.SyncStatus = ptr(model.RecipientPending)
		rec.SyncVersion++
		rec.PendingSince = ptr(testNow)
	}
	cp := *rec
	m.rows[rec.ID] = &cp
	return nil
}

func (m *memRecipients) ClearExternalLink(_ context.Context, org, extID string, source model.Provider) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.find(org, extID, string(source))
	if r == nil {
		return 0, nil
	}
	r.ExternalID, r.ExternalSource, r.ExternalURL, r.ExternalEntityType, r.SyncStatus = nil, nil, nil, nil, nil
	return 1, nil
}

func (m *memRecipients) SetSyncStatus(_ context.Context, org, id string, status model.RecipientSyncStatus, syncedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[id]; ok && r.OrganizationID == org {
		r.SyncStatus = &status
		if syncedAt != nil {
			r.LastSyncedAt = syncedAt
		}
		switch {
		case status != model.RecipientPending:
			r.PendingSince = nil
		case r.PendingSince == nil:
			r.PendingSince = ptr(testNow)
		}
	}
	return nil
}

func (m *memRecipients) MarkPushed(_ context.Context, org, id string, version int64, syncedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.OrganizationID != org || r.SyncVersion != version || r.SyncStatus == nil || *r.SyncStatus != model.RecipientPending {
		return false, nil
	}
	r.SyncStatus = ptr(model.RecipientSynced)
	r.LastSyncedAt = ptr(syncedAt)
	r.PendingSince = nil
	return true, nil
}

type memSyncLogs struct {
	mu   sync.Mutex
	logs []*model.SyncLog
}

func (m *memSyncLogs) Start(_ context.Context, log *model.SyncLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	log.Status = model.SyncLogStarted
	cp := *log
	m.logs = append(m.logs, &cp)
	return nil
}

func (m *memSyncLogs) Complete(_ context.Context, id string, status model.SyncLogStatus, counts model.SyncCounts, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.logs {
		if l.ID == id {
			if l.Status != model.SyncLogStarted {
				return model.ErrSyncLogClosed
			}
			l.Status = status
			l.RecordsProcessed, l.RecordsUpdated, l.RecordsFailed = counts.Processed, counts.Updated, counts.Failed
			l.ErrorMessage = errMsg
			l.CompletedAt = ptr(testNow)
			return nil
		}
	}
	return model.ErrSyncLogClosed
}

func (m *memSyncLogs) ListRecent(_ context.Context, integrationID string, limit int) ([]model.SyncLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SyncLog
	for i := len(m.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if m.logs[i].IntegrationID == integrationID {
			out = append(out, *m.logs[i])
		}
	}
	return out, nil
}

func (m *memSyncLogs) all() []model.SyncLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.SyncLog, len(m.logs))
	for i, l := range m.logs {
		out[i] = *l
	}
	return out
}

type MockPushQueue struct {
	mock.Mock
}

func (m *MockPushQueue) Enqueue(ctx context.Context, job *model.PushJob) error {
	return m.Called(ctx, job).Error(0)
}

func (m *MockPushQueue) Run(ctx context.Context, handle model.PushHandler) error {
	return m.Called(ctx, handle).Error(0)
}

type keyLocker struct {
	mu   sync.Mutex
	keys map[string]*sync.Mutex
	seen []string
}

func (l *keyLocker) Lock(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	if l.keys == nil {
		l.keys = map[string]*sync.Mutex{}
	}
	km, ok := l.keys[key]
	if !ok {
		km = &sync.Mutex{}
		l.keys[key] = km
	}
	l.seen = append(l.seen, key)
	l.mu.Unlock()
	km.Lock()
	return km.Unlock, nil
}

type memNonces struct {
	mu   sync.Mutex
	used map[string]bool
}

func (n *memNonces) Consume(_ context.Context, nonce string, _ time.Duration) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.used == nil {
		n.used = map[string]bool{}
	}
	if n.used[nonce] {
		return false, nil
	}
	n.used[nonce] = true
	return true, nil
}
