package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"crm-sync/domain/model"
	"crm-sync/domain/repository"
	"crm-sync/infrastructure/logger"

	"golang.org/x/sync/singleflight"
)

type OAuthConfig struct {
	BaseURL string
	// WebhookSecrets is stored on each new integration of the provider.
	WebhookSecrets map[model.Provider]string
	// RefreshSkew refreshes tokens this long before they expire.
	RefreshSkew time.Duration
}

// AccessToken is a usable credential for one integration.
type AccessToken struct {
	Integration *model.Integration
	AccessToken string
	InstanceURL string
}

type IOAuthUsecase interface {
	GetRedirectURI(provider model.Provider) string
	AuthorizeURL(ctx context.Context, organizationID, provider string) (string, error)
	HandleCallback(ctx context.Context, provider, code, state string) (*model.Integration, error)
	StoreIntegrationTokens(ctx context.Context, organizationID string, provider model.Provider, tokens *model.TokenSet) (*model.Integration, error)
	GetValidAccessToken(ctx context.Context, organizationID string) (*AccessToken, error)
}

type oauthUsecase struct {
	cfg          OAuthConfig
	registry     repository.ICRMRegistry
	integrations repository.IIntegration
	state        *StateSigner
	refreshes    singleflight.Group
	now          func() time.Time
}

func NewOAuthUsecase(cfg OAuthConfig, registry repository.ICRMRegistry, integrations repository.IIntegration, state *StateSigner) IOAuthUsecase {
	if cfg.RefreshSkew <= 0 {
		cfg.RefreshSkew = time.Minute
	}
	return &oauthUsecase{cfg: cfg, registry: registry, integrations: integrations, state: state, now: time.Now}
}

// GetRedirectURI is the callback URL registered with every provider app.
func (u *oauthUsecase) GetRedirectURI(provider model.Provider) string {
	return strings.TrimRight(u.cfg.BaseURL, "/") + "/integrations/" + string(provider) + "/callback"
}

func (u *oauthUsecase) adapter(provider string) (repository.ICRMProvider, error) {
	if !u.registry.IsValidProvider(provider) {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidProvider, provider)
	}
	a, ok := u.registry.Get(model.Provider(provider))
	if !ok {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidProvider, provider)
	}
	return a, nil
}

func (u *oauthUsecase) AuthorizeURL(_ context.Context, organizationID, provider string) (string, error) {
	a, err := u.adapter(provider)
	if err != nil {
		return "", err
	}
	state, err := u.state.Generate(organizationID, a.Provider())
	if err != nil {
		return "", err
	}
	return a.GetAuthURL(state, u.GetRedirectURI(a.Provider())).String(), nil
}

// HandleCallback redeems the state token, exchanges the code and stores the
// integration. The organization comes from the state, never from the request.
func (u *oauthUsecase) HandleCallback(ctx context.Context, provider, code, state string) (*model.Integration, error) {
	a, err := u.adapter(provider)
	if err != nil {
		return nil, err
	}
	st, err := u.state.Verify(ctx, state)
	if err != nil {
		return nil, err
	}
	if st.Provider != a.Provider() {
		return nil, fmt.Errorf("%w: provider mismatch", model.ErrInvalidState)
	}
	if code == "" {
		return nil, &model.OAuthExchangeError{Provider: a.Provider(), Err: errors.New("missing authorization code")}
	}

	tokens, err := a.ExchangeCode(ctx, code, u.GetRedirectURI(a.Provider()))
	if err != nil {
		return nil, err
	}
	return u.StoreIntegrationTokens(ctx, st.OrganizationID, a.Provider(), tokens)
}

// StoreIntegrationTokens replaces the organization's integration with a
// freshly connected one.
func (u *oauthUsecase) StoreIntegrationTokens(ctx context.Context, organizationID string, provider model.Provider, tokens *model.TokenSet) (*model.Integration, error) {
	if tokens == nil || tokens.AccessToken == "" {
		return nil, &model.OAuthExchangeError{Provider: provider, Err: errors.New("empty access token")}
	}
	in := &model.Integration{
		OrganizationID:    organizationID,
		Provider:          provider,
		Status:            model.IntegrationConnected,
		AccessToken:       tokens.AccessToken,
		RefreshToken:      tokens.RefreshToken,
		TokenExpiresAt:    tokens.ExpiresAt,
		InstanceURL:       tokens.InstanceURL,
		ProviderAccountID: tokens.ProviderAccountID,
	}
	if secret := u.cfg.WebhookSecrets[provider]; secret != "" {
		in.WebhookSecret = &secret
	}
	if err := u.integrations.Upsert(ctx, in); err != nil {
		return nil, err
	}
	logger.GetLogger().
		WithField("organization_id", organizationID).
		WithField("provider", provider).
		WithField("integration_id", in.ID).
		Info("CRM integration connected")
	return in, nil
}

// GetValidAccessToken returns the stored token, refreshing it first when it
// is about to expire. A failed refresh moves the integration to ERROR.
func (u *oauthUsecase) GetValidAccessToken(ctx context.Context, organizationID string) (*AccessToken, error) {
	in, err := u.integrations.GetByOrganization(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	if !in.Active() {
		return nil, model.ErrIntegrationNotConnected
	}
	if in.IsDemo || !in.TokenExpired(u.now(), u.cfg.RefreshSkew) {
		return &AccessToken{Integration: in, AccessToken: in.AccessToken, InstanceURL: in.InstanceURLValue()}, nil
	}

	v, err, _ := u.refreshes.Do(organizationID, func() (interface{}, error) {
		return u.refresh(ctx, in)
	})
	if err != nil {
		return nil, err
	}
	return v.(*AccessToken), nil
}

func (u *oauthUsecase) refresh(ctx context.Context, in *model.Integration) (*AccessToken, error) {
	fail := func(cause error) (*AccessToken, error) {
		refreshErr := &model.TokenRefreshError{OrganizationID: in.OrganizationID, Err: cause}
		if err := u.integrations.MarkError(ctx, in.OrganizationID, refreshErr.Error()); err != nil {
			logger.GetLogger().WithField("organization_id", in.OrganizationID).WithField("error", err).Error("Error while marking integration failed")
		}
		logger.GetLogger().
			WithField("organization_id", in.OrganizationID).
			WithField("provider", in.Provider).
			WithField("error", cause).
			Warn("CRM token refresh failed")
		return nil, refreshErr
	}

	if in.RefreshToken == "" {
		return fail(errors.New("no refresh token stored"))
	}
	a, ok := u.registry.Get(in.Provider)
	if !ok {
		return fail(fmt.Errorf("%w: %q", model.ErrInvalidProvider, in.Provider))
	}
	tokens, err := a.RefreshToken(ctx, in.RefreshToken)
	if err != nil {
		return fail(err)
	}
	if err := u.integrations.UpdateTokens(ctx, in.OrganizationID, *tokens); err != nil {
		return nil, err
	}

	in.AccessToken = tokens.AccessToken
	if tokens.RefreshToken != "" {
		in.RefreshToken = tokens.RefreshToken
	}
	in.TokenExpiresAt = tokens.ExpiresAt
	if tokens.InstanceURL != nil {
		in.InstanceURL = tokens.InstanceURL
	}
	logger.GetLogger().WithField("organization_id", in.OrganizationID).WithField("provider", in.Provider).Info("CRM token refreshed")
	return &AccessToken{Integration: in, AccessToken: in.AccessToken, InstanceURL: in.InstanceURLValue()}, nil
}
