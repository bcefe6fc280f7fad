package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"crm-sync/domain/model"

	"github.com/google/go-querystring/query"
)

const (
	salesforceAuthURL    = "https://login.salesforce.com/services/oauth2/authorize"
	salesforceTokenURL   = "https://login.salesforce.com/services/oauth2/token"
	salesforceAPIVersion = "v59.0"
)

var errMissingInstanceURL = errors.New("salesforce instance url is not set")

type salesforceObject struct {
	name   string
	fields []string
}

var salesforceObjects = map[model.EntityType]salesforceObject{
	model.EntityLead:    {name: "Lead", fields: []string{"Email", "FirstName", "LastName", "Company", "Title", "Phone", "Status"}},
	model.EntityContact: {name: "Contact", fields: []string{"Email", "FirstName", "LastName", "Title", "Phone", "Account.Name"}},
	model.EntityCompany: {name: "Account", fields: []string{"Name", "Phone", "Website"}},
	model.EntityDeal:    {name: "Opportunity", fields: []string{"Name", "StageName", "Amount"}},
}

var salesforceEntities = map[string]model.EntityType{
	"Lead":        model.EntityLead,
	"Contact":     model.EntityContact,
	"Account":     model.EntityCompany,
	"Opportunity": model.EntityDeal,
}

// Salesforce talks to the Salesforce REST API of the org behind the token.
// Every data call needs the org's instance URL.
type Salesforce struct {
	oauth      oauthClient
	api        apiClient
	apiBaseURL string
}

func NewSalesforce(cfg ProviderConfig, httpClient *http.Client) *Salesforce {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"api", "refresh_token"}
	}
	return &Salesforce{
		oauth:      newOAuthClient(model.ProviderSalesforce, cfg, salesforceAuthURL, salesforceTokenURL, httpClient),
		api:        apiClient{provider: model.ProviderSalesforce, httpClient: httpClient},
		apiBaseURL: strings.TrimSpace(cfg.APIBaseURL),
	}
}

func (s *Salesforce) Provider() model.Provider { return model.ProviderSalesforce }

func (s *Salesforce) SupportedEntityTypes() []model.EntityType {
	return []model.EntityType{model.EntityLead, model.EntityContact, model.EntityCompany, model.EntityDeal}
}

func (s *Salesforce) SignatureHeader() string { return "X-Salesforce-Signature" }

func (s *Salesforce) GetAuthURL(state, redirectURI string) *url.URL {
	return s.oauth.authURL(state, redirectURI)
}

func (s *Salesforce) ExchangeCode(ctx context.Context, code, redirectURI string) (*model.TokenSet, error) {
	tok, err := s.oauth.exchange(ctx, code, redirectURI)
	if err != nil {
		return nil, err
	}
	instance := extraString(tok, "instance_url")
	if instance == "" {
		return nil, &model.OAuthExchangeError{Provider: model.ProviderSalesforce, Err: errors.New("token response missing instance_url")}
	}
	ts := tokenSet(tok)
	ts.InstanceURL = &instance
	if orgID := salesforceOrgID(extraString(tok, "id")); orgID != "" {
		ts.ProviderAccountID = &orgID
	}
	return ts, nil
}

func (s *Salesforce) RefreshToken(ctx context.Context, refreshToken string) (*model.TokenSet, error) {
	tok, err := s.oauth.refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	ts := tokenSet(tok)
	if instance := extraString(tok, "instance_url"); instance != "" {
		ts.InstanceURL = &instance
	}
	return ts, nil
}

// salesforceOrgID pulls the org id out of an identity URL of the form
// https://login.salesforce.com/id/<orgId>/<userId>.
func salesforceOrgID(identityURL string) string {
	parts := strings.Split(strings.TrimRight(identityURL, "/"), "/")
	if len(parts) < 3 || parts[len(parts)-3] != "id" {
		return ""
	}
	return parts[len(parts)-2]
}

func (s *Salesforce) dataURL(instanceURL, path string) (string, error) {
	base := s.apiBaseURL
	if base == "" {
		base = instanceURL
	}
	if base == "" {
		return "", errMissingInstanceURL
	}
	return joinURL(base, "/services/data/"+salesforceAPIVersion+"/"+strings.TrimLeft(path, "/")), nil
}

func (s *Salesforce) object(entityType model.EntityType) (salesforceObject, error) {
	obj, ok := salesforceObjects[entityType]
	if !ok {
		return salesforceObject{}, fmt.Errorf("salesforce %s: %w", entityType, model.ErrUnsupportedEntity)
	}
	return obj, nil
}

type salesforceQueryResult struct {
	Done           bool             `json:"done"`
	NextRecordsURL string           `json:"nextRecordsUrl"`
	Records        []map[string]any `json:"records"`
}

func salesforceRecord(raw map[string]any) model.ProviderRecord {
	rec := model.ProviderRecord{Properties: make(map[string]any, len(raw))}
	for k, v := range raw {
		switch k {
		case "attributes":
		case "Id":
			rec.ID, _ = v.(string)
		case "LastModifiedDate":
			if str, ok := v.(string); ok {
				if t, err := time.Parse("2006-01-02T15:04:05.000-0700", str); err == nil {
					rec.UpdatedAt = &t
				}
			}
		default:
			rec.Properties[k] = v
		}
	}
	return rec
}

// ListRecords runs a SOQL query. The cursor is the nextRecordsUrl path
// returned by the previous page.
func (s *Salesforce) ListRecords(ctx context.Context, entityType model.EntityType, accessToken, instanceURL string, opts model.ListOptions) (*model.RecordPage, error) {
	obj, err := s.object(entityType)
	if err != nil {
		return nil, err
	}

	var target string
	if opts.Cursor != "" {
		base := s.apiBaseURL
		if base == "" {
			base = instanceURL
		}
		if base == "" {
			return nil, errMissingInstanceURL
		}
		target = joinURL(base, opts.Cursor)
	} else {
		soql := fmt.Sprintf("SELECT Id, LastModifiedDate, %s FROM %s", strings.Join(obj.fields, ", "), obj.name)
		if opts.ModifiedSince != nil {
			soql += " WHERE LastModifiedDate > " + opts.ModifiedSince.UTC().Format("2006-01-02T15:04:05Z")
		}
		soql += " ORDER BY LastModifiedDate ASC"
		q, qErr := query.Values(struct {
			Q string `url:"q"`
		}{soql})
		if qErr != nil {
			return nil, fmt.Errorf("salesforce: encode query: %w", qErr)
		}
		base, urlErr := s.dataURL(instanceURL, "/query")
		if urlErr != nil {
			return nil, urlErr
		}
		target = base + "?" + q.Encode()
	}

	var res salesforceQueryResult
	if err := s.api.do(ctx, http.MethodGet, target, accessToken, nil, &res); err != nil {
		return nil, err
	}
	page := &model.RecordPage{Records: make([]model.ProviderRecord, 0, len(res.Records))}
	for _, r := range res.Records {
		page.Records = append(page.Records, salesforceRecord(r))
	}
	if !res.Done {
		page.NextCursor = res.NextRecordsURL
	}
	return page, nil
}

func (s *Salesforce) FetchRecord(ctx context.Context, entityType model.EntityType, accessToken, externalID, instanceURL string) (*model.ProviderRecord, error) {
	obj, err := s.object(entityType)
	if err != nil {
		return nil, err
	}
	target, err := s.dataURL(instanceURL, "/sobjects/"+obj.name+"/"+url.PathEscape(externalID))
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	err = s.api.do(ctx, http.MethodGet, target, accessToken, nil, &raw)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec := salesforceRecord(raw)
	if rec.ID == "" {
		rec.ID = externalID
	}
	return &rec, nil
}

func (s *Salesforce) UpdateRecord(ctx context.Context, entityType model.EntityType, accessToken, externalID, instanceURL string, properties map[string]any) error {
	obj, err := s.object(entityType)
	if err != nil {
		return err
	}
	target, err := s.dataURL(instanceURL, "/sobjects/"+obj.name+"/"+url.PathEscape(externalID))
	if err != nil {
		return err
	}
	return s.api.do(ctx, http.MethodPatch, target, accessToken, properties, nil)
}

func (s *Salesforce) VerifyWebhookSignature(rawBody []byte, signature, secret string) bool {
	if secret == "" {
		return false
	}
	return signatureMatches(signature, hmacSHA256Hex(secret, rawBody))
}

type salesforceChangeEvent struct {
	Header struct {
		EntityName string   `json:"entityName"`
		ChangeType string   `json:"changeType"`
		RecordIDs  []string `json:"recordIds"`
	} `json:"ChangeEventHeader"`
}

type salesforceWebhook struct {
	OrganizationID string            `json:"organizationId"`
	Events         []json.RawMessage `json:"events"`
}

// ParseWebhookPayload reads change data capture events relayed as JSON. Only
// CREATE events carry the full record inline; updates carry changed fields
// only and are hydrated with a fetch.
func (s *Salesforce) ParseWebhookPayload(rawBody []byte) ([]model.WebhookEvent, error) {
	var body salesforceWebhook
	if err := json.Unmarshal(rawBody, &body); err != nil {
		return nil, fmt.Errorf("salesforce: decode webhook: %w", err)
	}
	events := make([]model.WebhookEvent, 0, len(body.Events))
	for _, raw := range body.Events {
		var ev salesforceChangeEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			continue
		}
		entity, ok := salesforceEntities[ev.Header.EntityName]
		if !ok {
			continue
		}
		var action model.WebhookAction
		switch ev.Header.ChangeType {
		case "CREATE":
			action = model.WebhookCreate
		case "UPDATE", "UNDELETE":
			action = model.WebhookUpdate
		case "DELETE":
			action = model.WebhookDelete
		default:
			continue
		}

		var inline map[string]any
		if action == model.WebhookCreate && len(ev.Header.RecordIDs) == 1 {
			if err := json.Unmarshal(raw, &inline); err == nil {
				delete(inline, "ChangeEventHeader")
			}
		}
		for _, id := range ev.Header.RecordIDs {
			if id == "" {
				continue
			}
			event := model.WebhookEvent{EntityType: entity, Action: action, ExternalID: id}
			if len(inline) > 0 {
				rec := salesforceRecord(inline)
				rec.ID = id
				event.Data = &rec
			}
			events = append(events, event)
		}
	}
	return events, nil
}

func (s *Salesforce) AccountHint(rawBody []byte) string {
	var body salesforceWebhook
	if err := json.Unmarshal(rawBody, &body); err != nil {
		return ""
	}
	return body.OrganizationID
}
