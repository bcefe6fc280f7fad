package model

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidProvider         = errors.New("invalid provider")
	ErrInvalidState            = errors.New("invalid or expired oauth state")
	ErrIntegrationNotConnected = errors.New("integration not connected")
	ErrSyncInProgress          = errors.New("sync already in progress")
	ErrDemoDisabled            = errors.New("demo mode disabled")
	ErrRecipientNotFound       = errors.New("recipient not found")
	ErrAmbiguousIntegration    = errors.New("ambiguous integration")
	ErrInvalidSignature        = errors.New("invalid webhook signature")
	ErrUnsupportedEntity       = errors.New("unsupported entity type")
	ErrSyncLogClosed           = errors.New("sync log already completed")
)

// OAuthExchangeError is returned when the provider rejects a code exchange or
// answers with a body that cannot be used.
type OAuthExchangeError struct {
	Provider Provider
	Err      error
}

func (e *OAuthExchangeError) Error() string {
	return fmt.Sprintf("%s oauth exchange failed: %v", e.Provider, e.Err)
}

func (e *OAuthExchangeError) Unwrap() error { return e.Err }

// ProviderAPIError is a non-2xx response from a provider API.
type ProviderAPIError struct {
	Provider   Provider
	StatusCode int
	Body       string
}

func (e *ProviderAPIError) Error() string {
	body := e.Body
	if len(body) > 300 {
		body = body[:300]
	}
	return fmt.Sprintf("%s api error: status %d: %s", e.Provider, e.StatusCode, body)
}

// IsAuthFailure reports whether the provider rejected our credentials.
func (e *ProviderAPIError) IsAuthFailure() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// TokenRefreshError wraps a failed access token refresh.
type TokenRefreshError struct {
	OrganizationID string
	Err            error
}

func (e *TokenRefreshError) Error() string {
	return fmt.Sprintf("token refresh failed for organization %s: %v", e.OrganizationID, e.Err)
}

func (e *TokenRefreshError) Unwrap() error { return e.Err }

// IsAuthFailure reports whether err means the integration can no longer talk
// to its provider.
func IsAuthFailure(err error) bool {
	var refreshErr *TokenRefreshError
	if errors.As(err, &refreshErr) {
		return true
	}
	var apiErr *ProviderAPIError
	if errors.As(err, &apiErr) {
		return apiErr.IsAuthFailure()
	}
	return errors.Is(err, ErrIntegrationNotConnected)
}
