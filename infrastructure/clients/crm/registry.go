package crm

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"crm-sync/domain/model"
	"crm-sync/domain/repository"
)

const defaultHTTPTimeout = 20 * time.Second

// ProviderConfig holds one CRM app's OAuth client and endpoint overrides.
// Empty URLs fall back to the provider's production endpoints.
type ProviderConfig struct {
	ClientID      string
	ClientSecret  string
	Scopes        []string
	WebhookSecret string
	AuthURL       string
	TokenURL      string
	APIBaseURL    string
}

// RegistryConfig is built from the application config and handed to
// NewRegistry. Providers missing from the map are still registered with
// empty credentials so their ids stay valid for routing.
type RegistryConfig struct {
	Providers   map[model.Provider]ProviderConfig
	HTTPTimeout time.Duration
	HTTPClient  *http.Client
}

type Registry struct {
	adapters map[model.Provider]repository.ICRMProvider
}

func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.HTTPTimeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	for p, pc := range cfg.Providers {
		for _, raw := range []string{pc.AuthURL, pc.TokenURL, pc.APIBaseURL} {
			if raw == "" {
				continue
			}
			if _, err := url.ParseRequestURI(raw); err != nil {
				return nil, fmt.Errorf("crm provider %s: invalid url %q: %w", p, raw, err)
			}
		}
	}

	return NewRegistryWith(
		NewHubSpot(cfg.Providers[model.ProviderHubSpot], httpClient),
		NewSalesforce(cfg.Providers[model.ProviderSalesforce], httpClient),
		NewAttio(cfg.Providers[model.ProviderAttio], httpClient),
	), nil
}

// NewRegistryWith builds a registry from explicit adapters.
func NewRegistryWith(adapters ...repository.ICRMProvider) *Registry {
	r := &Registry{adapters: make(map[model.Provider]repository.ICRMProvider, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Provider()] = a
	}
	return r
}

// IsValidProvider reports whether id names a registered adapter. It must be
// checked before any other use of an externally supplied provider id.
func (r *Registry) IsValidProvider(id string) bool {
	_, ok := r.adapters[model.Provider(id)]
	return ok
}

func (r *Registry) Get(provider model.Provider) (repository.ICRMProvider, bool) {
	a, ok := r.adapters[provider]
	return a, ok
}

func (r *Registry) Providers() []model.Provider {
	out := make([]model.Provider, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
