package crm

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"crm-sync/domain/model"

	"golang.org/x/oauth2"
)

var errNoRefreshToken = errors.New("no refresh token stored")

type oauthClient struct {
	provider   model.Provider
	conf       oauth2.Config
	httpClient *http.Client
}

func newOAuthClient(provider model.Provider, cfg ProviderConfig, authURL, tokenURL string, httpClient *http.Client) oauthClient {
	return oauthClient{
		provider: provider,
		conf: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   orDefault(cfg.AuthURL, authURL),
				TokenURL:  orDefault(cfg.TokenURL, tokenURL),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
	}
}

func (o *oauthClient) authURL(state, redirectURI string, opts ...oauth2.AuthCodeOption) *url.URL {
	conf := o.conf
	conf.RedirectURL = redirectURI
	u, err := url.Parse(conf.AuthCodeURL(state, opts...))
	if err != nil {
		// AuthURL is validated when the registry is built.
		return &url.URL{}
	}
	return u
}

func (o *oauthClient) exchange(ctx context.Context, code, redirectURI string) (*oauth2.Token, error) {
	if code == "" {
		return nil, &model.OAuthExchangeError{Provider: o.provider, Err: errors.New("empty authorization code")}
	}
	conf := o.conf
	conf.RedirectURL = redirectURI
	tok, err := conf.Exchange(context.WithValue(ctx, oauth2.HTTPClient, o.httpClient), code)
	if err != nil {
		return nil, &model.OAuthExchangeError{Provider: o.provider, Err: err}
	}
	return tok, nil
}

func (o *oauthClient) refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, errNoRefreshToken
	}
	src := o.conf.TokenSource(
		context.WithValue(ctx, oauth2.HTTPClient, o.httpClient),
		&oauth2.Token{RefreshToken: refreshToken, Expiry: time.Unix(1, 0)},
	)
	return src.Token()
}

func tokenSet(tok *oauth2.Token) *model.TokenSet {
	ts := &model.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		ts.ExpiresAt = &exp
	}
	return ts
}

func extraString(tok *oauth2.Token, key string) string {
	if v, ok := tok.Extra(key).(string); ok {
		return v
	}
	return ""
}
