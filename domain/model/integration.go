package model

import "time"

// Provider identifies an external CRM.
type Provider string

const (
	ProviderHubSpot    Provider = "hubspot"
	ProviderSalesforce Provider = "salesforce"
	ProviderAttio      Provider = "attio"
)

type IntegrationStatus string

const (
	IntegrationConnected    IntegrationStatus = "CONNECTED"
	IntegrationSyncing      IntegrationStatus = "SYNCING"
	IntegrationError        IntegrationStatus = "ERROR"
	IntegrationDisconnected IntegrationStatus = "DISCONNECTED"
)

// Integration is the organization's connection to one CRM provider.
// There is at most one row per organization.
type Integration struct {
	ID                string            `json:"id"`
	OrganizationID    string            `json:"organization_id"`
	Provider          Provider          `json:"provider"`
	Status            IntegrationStatus `json:"status"`
	AccessToken       string            `json:"-"`
	RefreshToken      string            `json:"-"`
	TokenExpiresAt    *time.Time        `json:"token_expires_at,omitempty"`
	InstanceURL       *string           `json:"instance_url,omitempty"`
	ProviderAccountID *string           `json:"provider_account_id,omitempty"`
	WebhookSecret     *string           `json:"-"`
	LastSyncAt        *time.Time        `json:"last_sync_at,omitempty"`
	LastSyncStatus    *string           `json:"last_sync_status,omitempty"`
	LastSyncError     *string           `json:"last_sync_error,omitempty"`
	IsDemo            bool              `json:"is_demo"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Active reports whether the integration holds usable credentials.
func (i *Integration) Active() bool {
	if i == nil {
		return false
	}
	return i.Status == IntegrationConnected || i.Status == IntegrationSyncing || i.Status == IntegrationError
}

// TokenExpired reports whether the access token expires within skew of now.
func (i *Integration) TokenExpired(now time.Time, skew time.Duration) bool {
	if i.TokenExpiresAt == nil {
		return false
	}
	return !now.Add(skew).Before(*i.TokenExpiresAt)
}

func (i *Integration) InstanceURLValue() string {
	if i == nil || i.InstanceURL == nil {
		return ""
	}
	return *i.InstanceURL
}

const (
	LastSyncSuccess = "success"
	LastSyncPartial = "partial"
	LastSyncFailed  = "failed"
)
