package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"crm-sync/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type memArchive struct {
	mu      sync.Mutex
	entries []*model.WebhookArchiveEntry
}

func (a *memArchive) Save(_ context.Context, entry *model.WebhookArchiveEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

type webhookFixture struct {
	uc         *webhookUsecase
	provider   *MockProvider
	recipients *memRecipients
	syncLogs   *memSyncLogs
	locker     *keyLocker
	archive    *memArchive
}

func newWebhookFixture(t *testing.T, recipients *memRecipients, existing ...*model.Integration) *webhookFixture {
	t.Helper()
	provider := newMockProvider(model.ProviderHubSpot, model.EntityContact)
	registry := fakeRegistry{model.ProviderHubSpot: provider}
	integrations := newMemIntegrations(existing...)
	if recipients == nil {
		recipients = newMemRecipients()
	}
	syncLogs := &memSyncLogs{}
	locker := &keyLocker{}
	archive := &memArchive{}
	signer, _ := newTestSigner(t)
	oauth := NewOAuthUsecase(OAuthConfig{BaseURL: "https://app.example.com"}, registry, integrations, signer).(*oauthUsecase)
	oauth.now = func() time.Time { return testNow }

	uc := NewWebhookUsecase(WebhookConfig{}, registry, oauth, integrations, recipients, syncLogs,
		NewEntityHandlers(recipients), locker, archive).(*webhookUsecase)
	uc.now = func() time.Time { return testNow }
	return &webhookFixture{uc: uc, provider: provider, recipients: recipients, syncLogs: syncLogs, locker: locker, archive: archive}
}

func linkedRecipient(id, org, extID string) *model.Recipient {
	source := string(model.ProviderHubSpot)
	entity := string(model.EntityContact)
	synced := model.RecipientSynced
	return &model.Recipient{
		ID:                 id,
		OrganizationID:     org,
		Email:              ptr("linked@example.com"),
		FirstName:          ptr("Linked"),
		ExternalID:         ptr(extID),
		ExternalSource:     &source,
		ExternalURL:        ptr("https://app.hubspot.com/contacts/42/record/0-1/" + extID),
		ExternalEntityType: &entity,
		SyncStatus:         &synced,
	}
}

func TestWebhookUsecase_InvalidProvider(t *testing.T) {
	f := newWebhookFixture(t, nil, connectedHubSpot())
	_, err := f.uc.HandleWebhook(context.Background(), WebhookRequest{Provider: "zoho", Body: []byte(`{}`)})
	require.ErrorIs(t, err, model.ErrInvalidProvider)
	assert.Empty(t, f.uc.SignatureHeader("zoho"))
	assert.Equal(t, "X-Test-Signature", f.uc.SignatureHeader("hubspot"))
}

func TestWebhookUsecase_BadSignatureHasNoSideEffects(t *testing.T) {
	f := newWebhookFixture(t, nil, connectedHubSpot())
	body := []byte(`[{"objectId":101}]`)
	f.provider.On("AccountHint", body).Return("42")

	ack, err := f.uc.HandleWebhook(context.Background(), WebhookRequest{Provider: "hubspot", Signature: "sig:wrong", Body: body})
	require.ErrorIs(t, err, model.ErrInvalidSignature)
	assert.Nil(t, ack)
	assert.Empty(t, f.syncLogs.all())
	assert.Empty(t, f.archive.entries)
	assert.Empty(t, f.recipients.all())
	f.provider.AssertNotCalled(t, "ParseWebhookPayload", mock.Anything)
}

func TestWebhookUsecase_DeleteClearsExternalLink(t *testing.T) {
	rec := linkedRecipient("r-1", "org-1", "101")
	f := newWebhookFixture(t, newMemRecipients(rec), connectedHubSpot())
	body := []byte(`delete`)
	f.provider.On("AccountHint", body).Return("42")
	f.provider.On("ParseWebhookPayload", body).Return([]model.WebhookEvent{
		{EntityType: model.EntityContact, Action: model.WebhookDelete, ExternalID: "101"},
	}, nil)

	ack, err := f.uc.HandleWebhook(context.Background(), WebhookRequest{Provider: "hubspot", Signature: "sig:hook-secret", Body: body})
	require.NoError(t, err)
	assert.True(t, ack.Received)
	assert.Equal(t, 1, ack.Processed)

	after, err := f.recipients.GetByID(context.Background(), "org-1", "r-1")
	require.NoError(t, err)
	assert.Nil(t, after.ExternalID)
	assert.Nil(t, after.ExternalSource)
	assert.Nil(t, after.SyncStatus)
	assert.Equal(t, "linked@example.com", *after.Email)

	logs := f.syncLogs.all()
	require.Len(t, logs, 1)
	assert.Equal(t, model.OperationWebhook, logs[0].Operation)
	assert.Equal(t, model.SyncLogCompleted, logs[0].Status)
	assert.Equal(t, 1, logs[0].RecordsUpdated)
	assert.Equal(t, []string{"org-1:hubspot:contact:101"}, f.locker.seen)
	require.Len(t, f.archive.entries, 1)
	assert.Equal(t, 1, f.archive.entries[0].EventCount)
}

// resolvingProvider is a mock adapter whose webhooks name objects by id.
type resolvingProvider struct {
	*MockProvider
}

func (p resolvingProvider) ResolveEntityType(ctx context.Context, accessToken, objectRef string) (model.EntityType, error) {
	args := p.Called(ctx, accessToken, objectRef)
	return args.Get(0).(model.EntityType), args.Error(1)
}

func TestWebhookUsecase_ResolvesObjectReferences(t *testing.T) {
	rec := linkedRecipient("r-1", "org-1", "101")
	f := newWebhookFixture(t, newMemRecipients(rec), connectedHubSpot())
	f.uc.registry = fakeRegistry{model.ProviderHubSpot: resolvingProvider{f.provider}}
	body := []byte(`by-object-id`)
	f.provider.On("AccountHint", body).Return("42")
	f.provider.On("ParseWebhookPayload", body).Return([]model.WebhookEvent{
		{Action: model.WebhookDelete, ExternalID: "101", ObjectRef: "obj-gone"},
		{Action: model.WebhookUpdate, ExternalID: "102", ObjectRef: "obj-people"},
		{Action: model.WebhookUpdate, ExternalID: "103", ObjectRef: "obj-tasks"},
	}, nil)
	f.provider.On("ResolveEntityType", mock.Anything, "at", "obj-gone").Return(model.EntityType(""), errors.New("object lookup failed"))
	f.provider.On("ResolveEntityType", mock.Anything, "at", "obj-people").Return(model.EntityContact, nil)
	f.provider.On("ResolveEntityType", mock.Anything, "at", "obj-tasks").Return(model.EntityType(""), model.ErrUnsupportedEntity)
	f.provider.On("FetchRecord", mock.Anything, model.EntityContact, "at", "102", mock.Anything).
		Return(&model.ProviderRecord{ID: "102", Properties: map[string]any{"email": "resolved@example.com"}}, nil)

	ack, err := f.uc.HandleWebhook(context.Background(), WebhookRequest{Provider: "hubspot", Signature: "sig:hook-secret", Body: body})
	require.NoError(t, err)
	assert.Equal(t, 3, ack.Processed)
	assert.Zero(t, ack.Failed)

	deleted, err := f.recipients.GetByID(context.Background(), "org-1", "r-1")
	require.NoError(t, err)
	assert.Nil(t, deleted.ExternalID)
	assert.Equal(t, "linked@example.com", *deleted.Email)

	updated, err := f.recipients.GetByExternal(context.Background(), "org-1", "102", model.ProviderHubSpot)
	require.NoError(t, err)
	assert.Equal(t, "resolved@example.com", *updated.Email)

	assert.Len(t, f.syncLogs.all(), 2)
	assert.ElementsMatch(t, []string{"org-1:hubspot::101", "org-1:hubspot:contact:102"}, f.locker.seen)
	f.provider.AssertNotCalled(t, "FetchRecord", mock.Anything, mock.Anything, mock.Anything, "103", mock.Anything)
}

func TestWebhookUsecase_InlineAndFetchedRecords(t *testing.T) {
	f := newWebhookFixture(t, nil, connectedHubSpot())
	body := []byte(`mixed`)
	f.provider.On("AccountHint", body).Return("")
	f.provider.On("ParseWebhookPayload", body).Return([]model.WebhookEvent{
		{EntityType: model.EntityContact, Action: model.WebhookCreate, ExternalID: "201", Data: &model.ProviderRecord{
			Properties: map[string]any{"email": "Inline@Example.com", "firstname": "Ina"},
		}},
		{EntityType: model.EntityContact, Action: model.WebhookUpdate, ExternalID: "202"},
		{EntityType: model.EntityContact, Action: model.WebhookUpdate, ExternalID: "203"},
	}, nil)
	f.provider.On("FetchRecord", mock.Anything, model.EntityContact, "at", "202", "https://app.hubspot.com/contacts/42").
		Return(&model.ProviderRecord{ID: "202", Properties: map[string]any{"email": "fetched@example.com"}}, nil)
	f.provider.On("FetchRecord", mock.Anything, model.EntityContact, "at", "203", mock.Anything).
		Return(nil, nil)

	ack, err := f.uc.HandleWebhook(context.Background(), WebhookRequest{Provider: "hubspot", Signature: "sig:hook-secret", Body: body})
	require.NoError(t, err)
	assert.Equal(t, 3, ack.Processed)
	assert.Zero(t, ack.Failed)

	inline, err := f.recipients.GetByExternal(context.Background(), "org-1", "201", model.ProviderHubSpot)
	require.NoError(t, err)
	assert.Equal(t, "inline@example.com", *inline.Email)
	fetched, err := f.recipients.GetByExternal(context.Background(), "org-1", "202", model.ProviderHubSpot)
	require.NoError(t, err)
	assert.Equal(t, "fetched@example.com", *fetched.Email)
	_, err = f.recipients.GetByExternal(context.Background(), "org-1", "203", model.ProviderHubSpot)
	assert.ErrorIs(t, err, model.ErrRecipientNotFound)
	assert.Len(t, f.syncLogs.all(), 3)
}

func TestWebhookUsecase_FailedEventIsReported(t *testing.T) {
	f := newWebhookFixture(t, nil, connectedHubSpot())
	body := []byte(`fail`)
	f.provider.On("AccountHint", body).Return("")
	f.provider.On("ParseWebhookPayload", body).Return([]model.WebhookEvent{
		{EntityType: model.EntityContact, Action: model.WebhookUpdate, ExternalID: "301"},
	}, nil)
	f.provider.On("FetchRecord", mock.Anything, model.EntityContact, "at", "301", mock.Anything).
		Return(nil, errors.New("boom"))

	ack, err := f.uc.HandleWebhook(context.Background(), WebhookRequest{Provider: "hubspot", Signature: "sig:hook-secret", Body: body})
	require.NoError(t, err)
	assert.Equal(t, 1, ack.Failed)

	logs := f.syncLogs.all()
	require.Len(t, logs, 1)
	assert.Equal(t, model.SyncLogFailed, logs[0].Status)
	require.NotNil(t, logs[0].ErrorMessage)
	assert.Equal(t, "boom", *logs[0].ErrorMessage)
}

func TestWebhookUsecase_ParseFailure(t *testing.T) {
	f := newWebhookFixture(t, nil, connectedHubSpot())
	body := []byte(`not json`)
	f.provider.On("AccountHint", body).Return("")
	f.provider.On("ParseWebhookPayload", body).Return(nil, errors.New("unexpected token"))

	ack, err := f.uc.HandleWebhook(context.Background(), WebhookRequest{Provider: "hubspot", Signature: "sig:hook-secret", Body: body})
	require.NoError(t, err)
	assert.True(t, ack.Received)
	assert.Equal(t, "invalid payload", ack.Error)

	logs := f.syncLogs.all()
	require.Len(t, logs, 1)
	assert.Equal(t, model.SyncLogFailed, logs[0].Status)
	assert.Len(t, f.archive.entries, 1)
}

func TestWebhookUsecase_Matching(t *testing.T) {
	orgA := connectedHubSpot()
	orgB := connectedHubSpot()
	orgB.ID, orgB.OrganizationID = "int-2", "org-2"
	orgB.ProviderAccountID = ptr("77")
	orgB.WebhookSecret = ptr("hook-secret")

	t.Run("ambiguous when two secrets verify", func(t *testing.T) {
		a, b := *orgA, *orgB
		f := newWebhookFixture(t, nil, &a, &b)
		body := []byte(`amb`)
		f.provider.On("AccountHint", body).Return("")

		ack, err := f.uc.HandleWebhook(context.Background(), WebhookRequest{Provider: "hubspot", Signature: "sig:hook-secret", Body: body})
		require.NoError(t, err)
		assert.Equal(t, model.ErrAmbiguousIntegration.Error(), ack.Error)
		assert.Empty(t, f.syncLogs.all())
		f.provider.AssertNotCalled(t, "ParseWebhookPayload", mock.Anything)
	})

	t.Run("account hint narrows candidates", func(t *testing.T) {
		a, b := *orgA, *orgB
		f := newWebhookFixture(t, nil, &a, &b)
		body := []byte(`hint`)
		f.provider.On("AccountHint", body).Return("77")
		f.provider.On("ParseWebhookPayload", body).Return([]model.WebhookEvent{}, nil)

		ack, err := f.uc.HandleWebhook(context.Background(), WebhookRequest{Provider: "hubspot", Signature: "sig:hook-secret", Body: body})
		require.NoError(t, err)
		assert.Empty(t, ack.Error)
		require.Len(t, f.archive.entries, 1)
		assert.Equal(t, "int-2", f.archive.entries[0].IntegrationID)
	})

	t.Run("integration id narrows candidates", func(t *testing.T) {
		a, b := *orgA, *orgB
		f := newWebhookFixture(t, nil, &a, &b)
		body := []byte(`explicit`)
		f.provider.On("AccountHint", body).Return("")
		f.provider.On("ParseWebhookPayload", body).Return([]model.WebhookEvent{}, nil)

		_, err := f.uc.HandleWebhook(context.Background(), WebhookRequest{Provider: "hubspot", IntegrationID: "int-1", Signature: "sig:hook-secret", Body: body})
		require.NoError(t, err)
		require.Len(t, f.archive.entries, 1)
		assert.Equal(t, "int-1", f.archive.entries[0].IntegrationID)
	})

	t.Run("disconnected integrations never match", func(t *testing.T) {
		a := *orgA
		a.Status = model.IntegrationDisconnected
		f := newWebhookFixture(t, nil, &a)
		body := []byte(`gone`)
		f.provider.On("AccountHint", body).Return("")

		_, err := f.uc.HandleWebhook(context.Background(), WebhookRequest{Provider: "hubspot", Signature: "sig:hook-secret", Body: body})
		require.ErrorIs(t, err, model.ErrInvalidSignature)
	})
}

func TestWebhookUsecase_SameRecordEventsSerialized(t *testing.T) {
	f := newWebhookFixture(t, nil, connectedHubSpot())
	body := []byte(`dupes`)
	f.provider.On("AccountHint", body).Return("")
	var events []model.WebhookEvent
	for i := 0; i < 5; i++ {
		events = append(events, model.WebhookEvent{EntityType: model.EntityContact, Action: model.WebhookUpdate, ExternalID: "401",
			Data: &model.ProviderRecord{ID: "401", Properties: map[string]any{"email": "same@example.com"}}})
	}
	f.provider.On("ParseWebhookPayload", body).Return(events, nil)

	ack, err := f.uc.HandleWebhook(context.Background(), WebhookRequest{Provider: "hubspot", Signature: "sig:hook-secret", Body: body})
	require.NoError(t, err)
	assert.Equal(t, 5, ack.Processed)
	assert.Len(t, f.recipients.all(), 1)
	assert.Len(t, f.locker.seen, 5)
}
