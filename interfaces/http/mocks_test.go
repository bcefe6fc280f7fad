package http

import (
	"context"

	"crm-sync/domain/dto"
	"crm-sync/domain/model"
	"crm-sync/usecase"

	"github.com/stretchr/testify/mock"
)

type MockOAuthUsecase struct {
	mock.Mock
}

func (m *MockOAuthUsecase) GetRedirectURI(provider model.Provider) string {
	return "https://app.example.com/integrations/" + string(provider) + "/callback"
}

func (m *MockOAuthUsecase) AuthorizeURL(ctx context.Context, organizationID, provider string) (string, error) {
	args := m.Called(ctx, organizationID, provider)
	return args.String(0), args.Error(1)
}

func (m *MockOAuthUsecase) HandleCallback(ctx context.Context, provider, code, state string) (*model.Integration, error) {
	args := m.Called(ctx, provider, code, state)
	in, _ := args.Get(0).(*model.Integration)
	return in, args.Error(1)
}

func (m *MockOAuthUsecase) StoreIntegrationTokens(ctx context.Context, organizationID string, provider model.Provider, tokens *model.TokenSet) (*model.Integration, error) {
	args := m.Called(ctx, organizationID, provider, tokens)
	in, _ := args.Get(0).(*model.Integration)
	return in, args.Error(1)
}

func (m *MockOAuthUsecase) GetValidAccessToken(ctx context.Context, organizationID string) (*usecase.AccessToken, error) {
	args := m.Called(ctx, organizationID)
	tok, _ := args.Get(0).(*usecase.AccessToken)
	return tok, args.Error(1)
}

type MockSyncUsecase struct {
	mock.Mock
}

func (m *MockSyncUsecase) RunInitialSync(ctx context.Context, organizationID string) (*dto.SyncSummary, error) {
	args := m.Called(ctx, organizationID)
	s, _ := args.Get(0).(*dto.SyncSummary)
	return s, args.Error(1)
}

func (m *MockSyncUsecase) TriggerSync(ctx context.Context, organizationID string, full bool) (*dto.SyncSummary, error) {
	args := m.Called(ctx, organizationID, full)
	s, _ := args.Get(0).(*dto.SyncSummary)
	return s, args.Error(1)
}

func (m *MockSyncUsecase) StartBackgroundSync(ctx context.Context, organizationID string, full bool) error {
	return m.Called(ctx, organizationID, full).Error(0)
}

func (m *MockSyncUsecase) SyncAllConnected(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockSyncUsecase) ConnectDemo(ctx context.Context, organizationID, provider string) (*dto.SyncSummary, error) {
	args := m.Called(ctx, organizationID, provider)
	s, _ := args.Get(0).(*dto.SyncSummary)
	return s, args.Error(1)
}

func (m *MockSyncUsecase) Disconnect(ctx context.Context, organizationID string) error {
	return m.Called(ctx, organizationID).Error(0)
}

func (m *MockSyncUsecase) Status(ctx context.Context, organizationID string) (*dto.IntegrationStatus, error) {
	args := m.Called(ctx, organizationID)
	s, _ := args.Get(0).(*dto.IntegrationStatus)
	return s, args.Error(1)
}

func (m *MockSyncUsecase) Wait() {}

type MockWebhookUsecase struct {
	mock.Mock
}

func (m *MockWebhookUsecase) HandleWebhook(ctx context.Context, req usecase.WebhookRequest) (*dto.WebhookAck, error) {
	args := m.Called(ctx, req)
	ack, _ := args.Get(0).(*dto.WebhookAck)
	return ack, args.Error(1)
}

func (m *MockWebhookUsecase) SignatureHeader(provider string) string {
	return m.Called(provider).String(0)
}

type MockRecipientUsecase struct {
	mock.Mock
}

func (m *MockRecipientUsecase) UpdateRecipient(ctx context.Context, organizationID, recipientID string, req dto.RecipientUpdateRequest) (*dto.RecipientUpdateResponse, error) {
	args := m.Called(ctx, organizationID, recipientID, req)
	res, _ := args.Get(0).(*dto.RecipientUpdateResponse)
	return res, args.Error(1)
}
