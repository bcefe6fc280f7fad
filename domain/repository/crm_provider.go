package repository

import (
	"context"
	"net/url"

	"crm-sync/domain/model"
)

// ICRMProvider is implemented once per CRM provider.
type ICRMProvider interface {
	Provider() model.Provider
	SupportedEntityTypes() []model.EntityType

	GetAuthURL(state, redirectURI string) *url.URL
	ExchangeCode(ctx context.Context, code, redirectURI string) (*model.TokenSet, error)
	RefreshToken(ctx context.Context, refreshToken string) (*model.TokenSet, error)

	// FetchRecord returns nil, nil when the record does not exist.
	FetchRecord(ctx context.Context, entityType model.EntityType, accessToken, externalID, instanceURL string) (*model.ProviderRecord, error)
	ListRecords(ctx context.Context, entityType model.EntityType, accessToken, instanceURL string, opts model.ListOptions) (*model.RecordPage, error)
	UpdateRecord(ctx context.Context, entityType model.EntityType, accessToken, externalID, instanceURL string, properties map[string]any) error

	SignatureHeader() string
	// VerifyWebhookSignature never panics and returns false on malformed input.
	VerifyWebhookSignature(rawBody []byte, signature, secret string) bool
	// ParseWebhookPayload skips event shapes it does not understand.
	ParseWebhookPayload(rawBody []byte) ([]model.WebhookEvent, error)
	// AccountHint extracts the provider account (portal, org, workspace) a
	// webhook body belongs to, or "".
	AccountHint(rawBody []byte) string
}

// IEntityResolver is implemented by adapters whose webhooks reference the
// provider object by id only.
type IEntityResolver interface {
	ResolveEntityType(ctx context.Context, accessToken, objectRef string) (model.EntityType, error)
}

// ICRMRegistry resolves adapters by provider id.
type ICRMRegistry interface {
	IsValidProvider(id string) bool
	Get(provider model.Provider) (ICRMProvider, bool)
	Providers() []model.Provider
}
