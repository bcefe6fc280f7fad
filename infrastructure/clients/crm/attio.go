package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"crm-sync/domain/model"
)

const (
	attioAuthURL  = "https://app.attio.com/authorize"
	attioTokenURL = "https://app.attio.com/oauth/token"
	attioAPIURL   = "https://api.attio.com"
	attioAppURL   = "https://app.attio.com"
)

var attioObjects = map[model.EntityType]string{
	model.EntityContact: "people",
	model.EntityCompany: "companies",
	model.EntityDeal:    "deals",
}

// Attio talks to the Attio v2 records API. Attio tokens do not expire.
type Attio struct {
	oauth   oauthClient
	api     apiClient
	baseURL string

	// object ids are workspace scoped uuids and webhooks carry only the id.
	// Ids seen on listed records or resolved through the API are cached.
	mu         sync.RWMutex
	objectSlug map[string]string
}

func NewAttio(cfg ProviderConfig, httpClient *http.Client) *Attio {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"record_permission:read-write", "object_configuration:read", "user_management:read"}
	}
	return &Attio{
		oauth:      newOAuthClient(model.ProviderAttio, cfg, attioAuthURL, attioTokenURL, httpClient),
		api:        apiClient{provider: model.ProviderAttio, httpClient: httpClient},
		baseURL:    orDefault(cfg.APIBaseURL, attioAPIURL),
		objectSlug: make(map[string]string),
	}
}

func (a *Attio) Provider() model.Provider { return model.ProviderAttio }

func (a *Attio) SupportedEntityTypes() []model.EntityType {
	return []model.EntityType{model.EntityContact, model.EntityCompany, model.EntityDeal}
}

func (a *Attio) SignatureHeader() string { return "Attio-Signature" }

func (a *Attio) GetAuthURL(state, redirectURI string) *url.URL {
	return a.oauth.authURL(state, redirectURI)
}

func (a *Attio) ExchangeCode(ctx context.Context, code, redirectURI string) (*model.TokenSet, error) {
	tok, err := a.oauth.exchange(ctx, code, redirectURI)
	if err != nil {
		return nil, err
	}
	ts := tokenSet(tok)

	var self struct {
		WorkspaceID   string `json:"workspace_id"`
		WorkspaceSlug string `json:"workspace_slug"`
	}
	if err := a.api.do(ctx, http.MethodGet, joinURL(a.baseURL, "/v2/self"), ts.AccessToken, nil, &self); err == nil {
		if self.WorkspaceID != "" {
			ts.ProviderAccountID = &self.WorkspaceID
		}
		if self.WorkspaceSlug != "" {
			instance := attioAppURL + "/" + self.WorkspaceSlug
			ts.InstanceURL = &instance
		}
	}
	return ts, nil
}

func (a *Attio) RefreshToken(context.Context, string) (*model.TokenSet, error) {
	return nil, fmt.Errorf("attio: %w", errNoRefreshToken)
}

func (a *Attio) slug(entityType model.EntityType) (string, error) {
	slug, ok := attioObjects[entityType]
	if !ok {
		return "", fmt.Errorf("attio %s: %w", entityType, model.ErrUnsupportedEntity)
	}
	return slug, nil
}

type attioRecordID struct {
	WorkspaceID string `json:"workspace_id"`
	ObjectID    string `json:"object_id"`
	RecordID    string `json:"record_id"`
}

type attioRecord struct {
	ID        attioRecordID               `json:"id"`
	CreatedAt string                      `json:"created_at"`
	Values    map[string][]map[string]any `json:"values"`
}

// flatten reduces Attio's attribute value lists to one scalar per attribute,
// taking the first active value.
func (r attioRecord) flatten() model.ProviderRecord {
	props := make(map[string]any, len(r.Values))
	for attr, values := range r.Values {
		if len(values) == 0 {
			continue
		}
		v := values[0]
		switch {
		case v["email_address"] != nil:
			props[attr] = v["email_address"]
		case v["original_phone_number"] != nil:
			props[attr] = v["original_phone_number"]
		case v["first_name"] != nil || v["last_name"] != nil:
			props["first_name"] = v["first_name"]
			props["last_name"] = v["last_name"]
			props[attr] = v["full_name"]
		case v["domain"] != nil:
			props[attr] = v["domain"]
		case v["status"] != nil:
			props[attr] = titleOf(v["status"])
		case v["option"] != nil:
			props[attr] = titleOf(v["option"])
		case v["currency_value"] != nil:
			props[attr] = v["currency_value"]
		default:
			props[attr] = v["value"]
		}
	}
	rec := model.ProviderRecord{ID: r.ID.RecordID, Properties: props}
	if t, err := time.Parse(time.RFC3339Nano, r.CreatedAt); err == nil {
		rec.UpdatedAt = &t
	}
	return rec
}

func titleOf(v any) any {
	if m, ok := v.(map[string]any); ok {
		return m["title"]
	}
	return v
}

func (a *Attio) remember(slug string, records []attioRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range records {
		if r.ID.ObjectID != "" {
			a.objectSlug[r.ID.ObjectID] = slug
		}
	}
}

func (a *Attio) slugForObjectID(objectID string) string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.objectSlug[objectID]
}

// ResolveEntityType looks up the object an id belongs to. Attio accepts the
// object id wherever a slug is expected.
func (a *Attio) ResolveEntityType(ctx context.Context, accessToken, objectID string) (model.EntityType, error) {
	if objectID == "" {
		return "", fmt.Errorf("attio: empty object id: %w", model.ErrUnsupportedEntity)
	}
	slug := a.slugForObjectID(objectID)
	if slug == "" {
		var res struct {
			Data struct {
				APISlug string `json:"api_slug"`
			} `json:"data"`
		}
		if err := a.api.do(ctx, http.MethodGet, joinURL(a.baseURL, "/v2/objects/"+url.PathEscape(objectID)), accessToken, nil, &res); err != nil {
			return "", err
		}
		slug = res.Data.APISlug
		if slug != "" {
			a.mu.Lock()
			a.objectSlug[objectID] = slug
			a.mu.Unlock()
		}
	}
	entity, ok := attioEntityForSlug(slug)
	if !ok {
		return "", fmt.Errorf("attio object %q (%s): %w", objectID, slug, model.ErrUnsupportedEntity)
	}
	return entity, nil
}

// ListRecords pages with limit/offset; the cursor is the next offset.
func (a *Attio) ListRecords(ctx context.Context, entityType model.EntityType, accessToken, _ string, opts model.ListOptions) (*model.RecordPage, error) {
	slug, err := a.slug(entityType)
	if err != nil {
		return nil, err
	}
	limit := opts.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := 0
	if opts.Cursor != "" {
		if offset, err = strconv.Atoi(opts.Cursor); err != nil || offset < 0 {
			return nil, fmt.Errorf("attio: invalid cursor %q", opts.Cursor)
		}
	}

	body := map[string]any{
		"limit":  limit,
		"offset": offset,
		"sorts":  []map[string]string{{"attribute": "created_at", "direction": "asc"}},
	}
	if opts.ModifiedSince != nil {
		body["filter"] = map[string]any{
			"updated_at": map[string]string{"$gte": opts.ModifiedSince.UTC().Format(time.RFC3339)},
		}
	}

	var res struct {
		Data []attioRecord `json:"data"`
	}
	if err := a.api.do(ctx, http.MethodPost, joinURL(a.baseURL, "/v2/objects/"+slug+"/records/query"), accessToken, body, &res); err != nil {
		return nil, err
	}
	a.remember(slug, res.Data)

	page := &model.RecordPage{Records: make([]model.ProviderRecord, 0, len(res.Data))}
	for _, r := range res.Data {
		page.Records = append(page.Records, r.flatten())
	}
	if len(res.Data) == limit {
		page.NextCursor = strconv.Itoa(offset + limit)
	}
	return page, nil
}

func (a *Attio) FetchRecord(ctx context.Context, entityType model.EntityType, accessToken, externalID, _ string) (*model.ProviderRecord, error) {
	slug, err := a.slug(entityType)
	if err != nil {
		return nil, err
	}
	var res struct {
		Data attioRecord `json:"data"`
	}
	err = a.api.do(ctx, http.MethodGet, joinURL(a.baseURL, "/v2/objects/"+slug+"/records/"+url.PathEscape(externalID)), accessToken, nil, &res)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec := res.Data.flatten()
	if rec.ID == "" {
		rec.ID = externalID
	}
	return &rec, nil
}

// UpdateRecord takes flat attribute names and shapes them into Attio
// values. first_name and last_name fold into the personal name attribute.
func (a *Attio) UpdateRecord(ctx context.Context, entityType model.EntityType, accessToken, externalID, _ string, properties map[string]any) error {
	slug, err := a.slug(entityType)
	if err != nil {
		return err
	}
	values := make(map[string]any, len(properties))
	name := map[string]any{}
	for k, v := range properties {
		switch k {
		case "first_name", "last_name":
			name[k] = v
		case "email_addresses":
			values[k] = []any{v}
		case "phone_numbers":
			values[k] = []map[string]any{{"original_phone_number": v}}
		default:
			values[k] = v
		}
	}
	if len(name) > 0 {
		first, _ := name["first_name"].(string)
		last, _ := name["last_name"].(string)
		name["full_name"] = strings.TrimSpace(first + " " + last)
		values["name"] = []map[string]any{name}
	}
	body := map[string]any{"data": map[string]any{"values": values}}
	return a.api.do(ctx, http.MethodPatch, joinURL(a.baseURL, "/v2/objects/"+slug+"/records/"+url.PathEscape(externalID)), accessToken, body, nil)
}

func (a *Attio) VerifyWebhookSignature(rawBody []byte, signature, secret string) bool {
	if secret == "" {
		return false
	}
	return signatureMatches(signature, hmacSHA256Hex(secret, rawBody))
}

type attioWebhookEvent struct {
	EventType string          `json:"event_type"`
	ID        attioRecordID   `json:"id"`
	Object    json.RawMessage `json:"object"`
}

type attioWebhook struct {
	Events []json.RawMessage `json:"events"`
}

// objectSlugOf reads an optional object hint, either a bare slug or
// {"api_slug": "..."}, falling back to slugs learned from listed records.
func (a *Attio) objectSlugOf(ev attioWebhookEvent) string {
	if len(ev.Object) > 0 {
		var s string
		if err := json.Unmarshal(ev.Object, &s); err == nil && s != "" {
			return s
		}
		var obj struct {
			APISlug string `json:"api_slug"`
		}
		if err := json.Unmarshal(ev.Object, &obj); err == nil && obj.APISlug != "" {
			return obj.APISlug
		}
	}
	return a.slugForObjectID(ev.ID.ObjectID)
}

func (a *Attio) ParseWebhookPayload(rawBody []byte) ([]model.WebhookEvent, error) {
	var body attioWebhook
	if err := json.Unmarshal(rawBody, &body); err != nil {
		return nil, fmt.Errorf("attio: decode webhook: %w", err)
	}
	events := make([]model.WebhookEvent, 0, len(body.Events))
	for _, raw := range body.Events {
		var ev attioWebhookEvent
		if err := json.Unmarshal(raw, &ev); err != nil || ev.ID.RecordID == "" {
			continue
		}
		var action model.WebhookAction
		switch ev.EventType {
		case "record.created":
			action = model.WebhookCreate
		case "record.updated":
			action = model.WebhookUpdate
		case "record.deleted":
			action = model.WebhookDelete
		default:
			continue
		}
		out := model.WebhookEvent{Action: action, ExternalID: ev.ID.RecordID}
		if slug := a.objectSlugOf(ev); slug != "" {
			entity, ok := attioEntityForSlug(slug)
			if !ok {
				continue
			}
			out.EntityType = entity
		} else if ev.ID.ObjectID != "" || action == model.WebhookDelete {
			out.ObjectRef = ev.ID.ObjectID
		} else {
			continue
		}
		events = append(events, out)
	}
	return events, nil
}

func attioEntityForSlug(slug string) (model.EntityType, bool) {
	for entity, s := range attioObjects {
		if s == slug {
			return entity, true
		}
	}
	return "", false
}

func (a *Attio) AccountHint(rawBody []byte) string {
	var body attioWebhook
	if err := json.Unmarshal(rawBody, &body); err != nil {
		return ""
	}
	for _, raw := range body.Events {
		var ev attioWebhookEvent
		if err := json.Unmarshal(raw, &ev); err == nil && ev.ID.WorkspaceID != "" {
			return ev.ID.WorkspaceID
		}
	}
	return ""
}
