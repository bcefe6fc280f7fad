package configuration

import (
	"os"
	"strings"
	"time"

	"crm-sync/domain/model"
	"crm-sync/infrastructure/clients/crm"
)

const maxStateTTLSeconds = 600

type CRM struct {
	DemoMode            bool      `json:"demoMode"`
	StateSecret         string    `json:"stateSecret"`
	StateTTLSeconds     int       `json:"stateTTLSeconds"`
	SyncIntervalMinutes int       `json:"syncIntervalMinutes"`
	PageSize            int       `json:"pageSize"`
	MaxPages            int       `json:"maxPages"`
	HTTPTimeoutSeconds  int       `json:"httpTimeoutSeconds"`
	WebhookConcurrency  int       `json:"webhookConcurrency"`
	Push                Push      `json:"push"`
	Providers           Providers `json:"providers"`
}

type Push struct {
	Backend               string `json:"backend"`
	Workers               int    `json:"workers"`
	PendingTimeoutMinutes int    `json:"pendingTimeoutMinutes"`
}

type Providers struct {
	HubSpot    ProviderCredentials `json:"hubspot"`
	Salesforce ProviderCredentials `json:"salesforce"`
	Attio      ProviderCredentials `json:"attio"`
}

type ProviderCredentials struct {
	ClientID      string   `json:"clientId"`
	ClientSecret  string   `json:"clientSecret"`
	Scopes        []string `json:"scopes"`
	WebhookSecret string   `json:"webhookSecret"`
	AuthURL       string   `json:"authURL"`
	TokenURL      string   `json:"tokenURL"`
	APIBaseURL    string   `json:"apiBaseURL"`
}

func initCRM(C *Config) {
	c := &C.CRM
	if v, ok := envBool("DEMO_MODE"); ok {
		c.DemoMode = v
	}
	c.StateSecret = getConfigValue(c.StateSecret, "CRM_STATE_SECRET", "")
	if v, ok := envInt("CRM_STATE_TTL_SECONDS"); ok {
		c.StateTTLSeconds = v
	}
	if c.StateTTLSeconds <= 0 || c.StateTTLSeconds > maxStateTTLSeconds {
		c.StateTTLSeconds = maxStateTTLSeconds
	}
	if v, ok := envInt("CRM_SYNC_INTERVAL_MINUTES"); ok {
		c.SyncIntervalMinutes = v
	}
	if c.SyncIntervalMinutes < 0 {
		c.SyncIntervalMinutes = 0
	}
	if v, ok := envInt("CRM_PAGE_SIZE"); ok {
		c.PageSize = v
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 500
	}
	if v, ok := envInt("CRM_HTTP_TIMEOUT_SECONDS"); ok {
		c.HTTPTimeoutSeconds = v
	}
	if c.HTTPTimeoutSeconds <= 0 {
		c.HTTPTimeoutSeconds = 20
	}
	if v, ok := envInt("CRM_WEBHOOK_CONCURRENCY"); ok {
		c.WebhookConcurrency = v
	}
	if c.WebhookConcurrency <= 0 {
		c.WebhookConcurrency = 4
	}
	c.Push.Backend = strings.ToLower(getConfigValue(c.Push.Backend, "CRM_PUSH_BACKEND", "memory"))
	if v, ok := envInt("CRM_PUSH_WORKERS"); ok {
		c.Push.Workers = v
	}
	if c.Push.Workers <= 0 {
		c.Push.Workers = 2
	}
	if v, ok := envInt("CRM_PUSH_PENDING_TIMEOUT_MINUTES"); ok {
		c.Push.PendingTimeoutMinutes = v
	}
	if c.Push.PendingTimeoutMinutes <= 0 {
		c.Push.PendingTimeoutMinutes = 15
	}

	initProvider(&c.Providers.HubSpot, "HUBSPOT")
	initProvider(&c.Providers.Salesforce, "SALESFORCE")
	initProvider(&c.Providers.Attio, "ATTIO")
}

func initProvider(p *ProviderCredentials, prefix string) {
	p.ClientID = getConfigValue(p.ClientID, prefix+"_CLIENT_ID", "")
	p.ClientSecret = getConfigValue(p.ClientSecret, prefix+"_CLIENT_SECRET", "")
	p.WebhookSecret = getConfigValue(p.WebhookSecret, prefix+"_WEBHOOK_SECRET", "")
	p.AuthURL = getConfigValue(p.AuthURL, prefix+"_AUTH_URL", "")
	p.TokenURL = getConfigValue(p.TokenURL, prefix+"_TOKEN_URL", "")
	p.APIBaseURL = getConfigValue(p.APIBaseURL, prefix+"_API_BASE_URL", "")
	if v := os.Getenv(prefix + "_SCOPES"); v != "" {
		p.Scopes = strings.Fields(strings.ReplaceAll(v, ",", " "))
	}
}

// EffectiveStateSecret falls back to the app secret when no dedicated OAuth
// state secret is configured.
func (c CRM) EffectiveStateSecret(app App) string {
	if c.StateSecret != "" {
		return c.StateSecret
	}
	return app.SecretKey
}

func (c CRM) StateTTL() time.Duration {
	return time.Duration(c.StateTTLSeconds) * time.Second
}

func (c CRM) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// PendingTimeout is how long an unpushed local edit holds off inbound
// updates for its recipient.
func (p Push) PendingTimeout() time.Duration {
	return time.Duration(p.PendingTimeoutMinutes) * time.Minute
}

func (c CRM) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalMinutes) * time.Minute
}

// Credentials returns the configured client for a provider.
func (c CRM) Credentials(p model.Provider) ProviderCredentials {
	switch p {
	case model.ProviderHubSpot:
		return c.Providers.HubSpot
	case model.ProviderSalesforce:
		return c.Providers.Salesforce
	case model.ProviderAttio:
		return c.Providers.Attio
	}
	return ProviderCredentials{}
}

// RegistryConfig converts provider credentials into the adapter registry's
// explicit configuration.
func (c CRM) RegistryConfig() crm.RegistryConfig {
	out := crm.RegistryConfig{
		Providers:   make(map[model.Provider]crm.ProviderConfig, 3),
		HTTPTimeout: c.HTTPTimeout(),
	}
	for _, p := range []model.Provider{model.ProviderHubSpot, model.ProviderSalesforce, model.ProviderAttio} {
		pc := c.Credentials(p)
		out.Providers[p] = crm.ProviderConfig{
			ClientID:      pc.ClientID,
			ClientSecret:  pc.ClientSecret,
			Scopes:        pc.Scopes,
			WebhookSecret: pc.WebhookSecret,
			AuthURL:       pc.AuthURL,
			TokenURL:      pc.TokenURL,
			APIBaseURL:    pc.APIBaseURL,
		}
	}
	return out
}

// WebhookSecrets maps each provider to the secret stored on new
// integrations. HubSpot signs with the app's client secret.
func (c CRM) WebhookSecrets() map[model.Provider]string {
	out := make(map[model.Provider]string, 3)
	for _, p := range []model.Provider{model.ProviderHubSpot, model.ProviderSalesforce, model.ProviderAttio} {
		pc := c.Credentials(p)
		secret := pc.WebhookSecret
		if secret == "" && p == model.ProviderHubSpot {
			secret = pc.ClientSecret
		}
		out[p] = secret
	}
	return out
}
