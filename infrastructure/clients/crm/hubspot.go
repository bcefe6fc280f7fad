package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"crm-sync/domain/model"

	"github.com/google/go-querystring/query"
)

const (
	hubSpotAuthURL  = "https://app.hubspot.com/oauth/authorize"
	hubSpotTokenURL = "https://api.hubapi.com/oauth/v1/token"
	hubSpotAPIURL   = "https://api.hubapi.com"
	hubSpotAppURL   = "https://app.hubspot.com"
)

type hubSpotObject struct {
	path           string
	modifiedColumn string
	properties     []string
}

var hubSpotObjects = map[model.EntityType]hubSpotObject{
	model.EntityContact: {
		path:           "contacts",
		modifiedColumn: "lastmodifieddate",
		properties:     []string{"email", "firstname", "lastname", "company", "jobtitle", "phone", "hs_lead_status"},
	},
	model.EntityLead: {
		path:           "leads",
		modifiedColumn: "hs_lastmodifieddate",
		properties:     []string{"email", "firstname", "lastname", "company", "jobtitle", "phone", "hs_pipeline_stage"},
	},
	model.EntityCompany: {
		path:           "companies",
		modifiedColumn: "hs_lastmodifieddate",
		properties:     []string{"name", "domain", "phone"},
	},
	model.EntityDeal: {
		path:           "deals",
		modifiedColumn: "hs_lastmodifieddate",
		properties:     []string{"dealname", "dealstage", "amount"},
	},
}

// HubSpot talks to the HubSpot CRM v3 objects API.
type HubSpot struct {
	oauth   oauthClient
	api     apiClient
	baseURL string
}

func NewHubSpot(cfg ProviderConfig, httpClient *http.Client) *HubSpot {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"oauth", "crm.objects.contacts.read", "crm.objects.contacts.write", "crm.objects.companies.read", "crm.objects.deals.read"}
	}
	return &HubSpot{
		oauth:   newOAuthClient(model.ProviderHubSpot, cfg, hubSpotAuthURL, hubSpotTokenURL, httpClient),
		api:     apiClient{provider: model.ProviderHubSpot, httpClient: httpClient},
		baseURL: orDefault(cfg.APIBaseURL, hubSpotAPIURL),
	}
}

func (h *HubSpot) Provider() model.Provider { return model.ProviderHubSpot }

func (h *HubSpot) SupportedEntityTypes() []model.EntityType {
	return []model.EntityType{model.EntityLead, model.EntityContact, model.EntityCompany, model.EntityDeal}
}

func (h *HubSpot) SignatureHeader() string { return "X-HubSpot-Signature" }

func (h *HubSpot) GetAuthURL(state, redirectURI string) *url.URL {
	return h.oauth.authURL(state, redirectURI)
}

func (h *HubSpot) ExchangeCode(ctx context.Context, code, redirectURI string) (*model.TokenSet, error) {
	tok, err := h.oauth.exchange(ctx, code, redirectURI)
	if err != nil {
		return nil, err
	}
	ts := tokenSet(tok)
	h.attachPortal(ctx, ts)
	return ts, nil
}

func (h *HubSpot) RefreshToken(ctx context.Context, refreshToken string) (*model.TokenSet, error) {
	tok, err := h.oauth.refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	return tokenSet(tok), nil
}

// attachPortal looks up the hub id behind a fresh token. A failed lookup
// leaves the account unset; webhooks then fall back to signature matching.
func (h *HubSpot) attachPortal(ctx context.Context, ts *model.TokenSet) {
	var info struct {
		HubID int64 `json:"hub_id"`
	}
	if err := h.api.do(ctx, http.MethodGet, joinURL(h.baseURL, "/oauth/v1/access-tokens/"+url.PathEscape(ts.AccessToken)), "", nil, &info); err != nil || info.HubID == 0 {
		return
	}
	hubID := strconv.FormatInt(info.HubID, 10)
	instance := fmt.Sprintf("%s/contacts/%s", hubSpotAppURL, hubID)
	ts.ProviderAccountID = &hubID
	ts.InstanceURL = &instance
}

type hubSpotRecord struct {
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
	UpdatedAt  *time.Time     `json:"updatedAt"`
}

func (r hubSpotRecord) toProviderRecord() model.ProviderRecord {
	return model.ProviderRecord{ID: r.ID, Properties: r.Properties, UpdatedAt: r.UpdatedAt}
}

type hubSpotPage struct {
	Results []hubSpotRecord `json:"results"`
	Paging  *struct {
		Next *struct {
			After string `json:"after"`
		} `json:"next"`
	} `json:"paging"`
}

func (p hubSpotPage) toRecordPage() *model.RecordPage {
	page := &model.RecordPage{Records: make([]model.ProviderRecord, 0, len(p.Results))}
	for _, r := range p.Results {
		page.Records = append(page.Records, r.toProviderRecord())
	}
	if p.Paging != nil && p.Paging.Next != nil {
		page.NextCursor = p.Paging.Next.After
	}
	return page
}

type hubSpotListQuery struct {
	Limit      int      `url:"limit,omitempty"`
	After      string   `url:"after,omitempty"`
	Properties []string `url:"properties,comma,omitempty"`
	Archived   bool     `url:"archived"`
}

type hubSpotSearchFilter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

type hubSpotFilterGroup struct {
	Filters []hubSpotSearchFilter `json:"filters"`
}

type hubSpotSearchRequest struct {
	FilterGroups []hubSpotFilterGroup `json:"filterGroups"`
	Sorts        []map[string]string  `json:"sorts,omitempty"`
	Properties   []string             `json:"properties"`
	Limit        int                  `json:"limit"`
	After        string               `json:"after,omitempty"`
}

func (h *HubSpot) object(entityType model.EntityType) (hubSpotObject, error) {
	obj, ok := hubSpotObjects[entityType]
	if !ok {
		return hubSpotObject{}, fmt.Errorf("hubspot %s: %w", entityType, model.ErrUnsupportedEntity)
	}
	return obj, nil
}

func (h *HubSpot) ListRecords(ctx context.Context, entityType model.EntityType, accessToken, _ string, opts model.ListOptions) (*model.RecordPage, error) {
	obj, err := h.object(entityType)
	if err != nil {
		return nil, err
	}
	limit := opts.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	var page hubSpotPage
	if opts.ModifiedSince != nil {
		req := hubSpotSearchRequest{
			FilterGroups: []hubSpotFilterGroup{{Filters: []hubSpotSearchFilter{{
				PropertyName: obj.modifiedColumn,
				Operator:     "GTE",
				Value:        strconv.FormatInt(opts.ModifiedSince.UnixMilli(), 10),
			}}}},
			Sorts:      []map[string]string{{"propertyName": obj.modifiedColumn, "direction": "ASCENDING"}},
			Properties: obj.properties,
			Limit:      limit,
			After:      opts.Cursor,
		}
		err = h.api.do(ctx, http.MethodPost, joinURL(h.baseURL, "/crm/v3/objects/"+obj.path+"/search"), accessToken, req, &page)
	} else {
		q, qErr := query.Values(hubSpotListQuery{Limit: limit, After: opts.Cursor, Properties: obj.properties})
		if qErr != nil {
			return nil, fmt.Errorf("hubspot: encode query: %w", qErr)
		}
		err = h.api.do(ctx, http.MethodGet, joinURL(h.baseURL, "/crm/v3/objects/"+obj.path)+"?"+q.Encode(), accessToken, nil, &page)
	}
	if err != nil {
		return nil, err
	}
	return page.toRecordPage(), nil
}

func (h *HubSpot) FetchRecord(ctx context.Context, entityType model.EntityType, accessToken, externalID, _ string) (*model.ProviderRecord, error) {
	obj, err := h.object(entityType)
	if err != nil {
		return nil, err
	}
	q, err := query.Values(struct {
		Properties []string `url:"properties,comma"`
	}{obj.properties})
	if err != nil {
		return nil, fmt.Errorf("hubspot: encode query: %w", err)
	}
	var rec hubSpotRecord
	err = h.api.do(ctx, http.MethodGet, joinURL(h.baseURL, "/crm/v3/objects/"+obj.path+"/"+url.PathEscape(externalID))+"?"+q.Encode(), accessToken, nil, &rec)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := rec.toProviderRecord()
	return &out, nil
}

func (h *HubSpot) UpdateRecord(ctx context.Context, entityType model.EntityType, accessToken, externalID, _ string, properties map[string]any) error {
	obj, err := h.object(entityType)
	if err != nil {
		return err
	}
	body := map[string]any{"properties": properties}
	return h.api.do(ctx, http.MethodPatch, joinURL(h.baseURL, "/crm/v3/objects/"+obj.path+"/"+url.PathEscape(externalID)), accessToken, body, nil)
}

// VerifyWebhookSignature checks the v1 scheme: hex(sha256(secret + body)).
func (h *HubSpot) VerifyWebhookSignature(rawBody []byte, signature, secret string) bool {
	if secret == "" {
		return false
	}
	return signatureMatches(signature, sha256Hex([]byte(secret), rawBody))
}

type hubSpotWebhookEvent struct {
	ObjectID         json.Number `json:"objectId"`
	PortalID         json.Number `json:"portalId"`
	SubscriptionType string      `json:"subscriptionType"`
}

var hubSpotWebhookEntities = map[string]model.EntityType{
	"contact": model.EntityContact,
	"company": model.EntityCompany,
	"deal":    model.EntityDeal,
	"lead":    model.EntityLead,
}

var hubSpotWebhookActions = map[string]model.WebhookAction{
	"creation":        model.WebhookCreate,
	"propertyChange":  model.WebhookUpdate,
	"restore":         model.WebhookUpdate,
	"merge":           model.WebhookUpdate,
	"deletion":        model.WebhookDelete,
	"privacyDeletion": model.WebhookDelete,
}

// ParseWebhookPayload normalizes a batch of HubSpot notifications. Repeated
// notifications for the same record and action collapse into one event.
func (h *HubSpot) ParseWebhookPayload(rawBody []byte) ([]model.WebhookEvent, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(rawBody, &raw); err != nil {
		return nil, fmt.Errorf("hubspot: decode webhook: %w", err)
	}
	seen := make(map[string]struct{}, len(raw))
	events := make([]model.WebhookEvent, 0, len(raw))
	for _, item := range raw {
		var ev hubSpotWebhookEvent
		if err := json.Unmarshal(item, &ev); err != nil {
			continue
		}
		objectPart, actionPart, ok := strings.Cut(ev.SubscriptionType, ".")
		if !ok {
			continue
		}
		entity, ok := hubSpotWebhookEntities[objectPart]
		if !ok {
			continue
		}
		action, ok := hubSpotWebhookActions[actionPart]
		if !ok || ev.ObjectID.String() == "" {
			continue
		}
		key := string(entity) + "|" + ev.ObjectID.String() + "|" + string(action)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		events = append(events, model.WebhookEvent{EntityType: entity, Action: action, ExternalID: ev.ObjectID.String()})
	}
	return events, nil
}

func (h *HubSpot) AccountHint(rawBody []byte) string {
	var raw []hubSpotWebhookEvent
	if err := json.Unmarshal(rawBody, &raw); err != nil {
		return ""
	}
	for _, ev := range raw {
		if ev.PortalID.String() != "" {
			return ev.PortalID.String()
		}
	}
	return ""
}
