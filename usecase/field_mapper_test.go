package usecase

import (
	"encoding/json"
	"testing"

	"crm-sync/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapExternalToLocal_HubSpotContact(t *testing.T) {
	rec := model.ProviderRecord{
		ID: "501",
		Properties: map[string]any{
			"email":          "Ada@Example.com",
			"firstname":      "Ada",
			"lastname":       "Lovelace",
			"company":        "Analytical",
			"jobtitle":       "Engineer",
			"phone":          "",
			"hs_lead_status": "OPEN",
			"hs_object_id":   "501",
			"favorite_color": "teal",
		},
	}
	got, err := MapExternalToLocal(model.ProviderHubSpot, model.EntityContact, rec, "https://app.hubspot.com/contacts/42")
	require.NoError(t, err)

	assert.Equal(t, "501", got.ExternalID)
	assert.Equal(t, model.ProviderHubSpot, got.ExternalSource)
	assert.Equal(t, model.EntityContact, got.EntityType)
	assert.Equal(t, "https://app.hubspot.com/contacts/42/record/0-1/501", got.ExternalURL)
	assert.Equal(t, "ada@example.com", *got.Email)
	assert.Equal(t, "Ada", *got.FirstName)
	assert.Equal(t, "OPEN", *got.LeadStatus)
	assert.Nil(t, got.Phone, "empty values must not erase local data")
}

func TestMapExternalToLocal_SalesforceNestedAccount(t *testing.T) {
	rec := model.ProviderRecord{
		ID: "003XX",
		Properties: map[string]any{
			"Email":   "grace@example.com",
			"Title":   "Admiral",
			"Account": map[string]any{"Name": "Navy", "attributes": map[string]any{"type": "Account"}},
		},
	}
	got, err := MapExternalToLocal(model.ProviderSalesforce, model.EntityContact, rec, "https://acme.my.salesforce.com")
	require.NoError(t, err)
	assert.Equal(t, "Navy", *got.Company)
	assert.Equal(t, "Admiral", *got.JobTitle)
	assert.Equal(t, "https://acme.my.salesforce.com/lightning/r/Contact/003XX/view", got.ExternalURL)
}

func TestMapExternalToLocal_DealFillsCompanyAndStatus(t *testing.T) {
	rec := model.ProviderRecord{ID: "d1", Properties: map[string]any{"name": "Renewal", "stage": "Won", "value": json.Number("1200")}}
	got, err := MapExternalToLocal(model.ProviderAttio, model.EntityDeal, rec, "https://app.attio.com/acme")
	require.NoError(t, err)
	assert.Equal(t, "Renewal", *got.Company)
	assert.Equal(t, "Won", *got.LeadStatus)
	assert.Equal(t, "https://app.attio.com/acme/deal/d1", got.ExternalURL)
}

func TestMapExternalToLocal_Errors(t *testing.T) {
	tests := []struct {
		name     string
		provider model.Provider
		entity   model.EntityType
		rec      model.ProviderRecord
	}{
		{name: "missing id", provider: model.ProviderHubSpot, entity: model.EntityContact, rec: model.ProviderRecord{Properties: map[string]any{"email": "a@b.c"}}},
		{name: "object value", provider: model.ProviderHubSpot, entity: model.EntityContact, rec: model.ProviderRecord{ID: "1", Properties: map[string]any{"email": map[string]any{"x": 1}}}},
		{name: "list value", provider: model.ProviderSalesforce, entity: model.EntityLead, rec: model.ProviderRecord{ID: "1", Properties: map[string]any{"Email": []any{"a"}}}},
		{name: "attio has no leads", provider: model.ProviderAttio, entity: model.EntityLead, rec: model.ProviderRecord{ID: "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MapExternalToLocal(tt.provider, tt.entity, tt.rec, "")
			require.Error(t, err)
		})
	}
}

func TestMapExternalToLocal_NumbersAndBools(t *testing.T) {
	rec := model.ProviderRecord{ID: "7", Properties: map[string]any{"phone": float64(5551234), "company": true}}
	got, err := MapExternalToLocal(model.ProviderHubSpot, model.EntityContact, rec, "")
	require.NoError(t, err)
	assert.Equal(t, "5551234", *got.Phone)
	assert.Equal(t, "true", *got.Company)
	assert.Empty(t, got.ExternalURL)
}

func TestMapLocalToExternal(t *testing.T) {
	fields := map[string]string{
		FieldEmail:   "new@example.com",
		FieldCompany: "Acme",
		"notes":      "internal only",
		"tags":       "vip",
	}

	hub, err := MapLocalToExternal(model.ProviderHubSpot, model.EntityContact, fields)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"email": "new@example.com", "company": "Acme"}, hub)

	// Account.Name is read-only on a Salesforce contact.
	sf, err := MapLocalToExternal(model.ProviderSalesforce, model.EntityContact, fields)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"Email": "new@example.com"}, sf)

	_, err = MapLocalToExternal(model.ProviderAttio, model.EntityLead, fields)
	require.ErrorIs(t, err, model.ErrUnsupportedEntity)
}

func TestExternalURL(t *testing.T) {
	assert.Equal(t, "https://app.hubspot.com/contacts/9/record/0-3/77", ExternalURL(model.ProviderHubSpot, model.EntityDeal, "77", "https://app.hubspot.com/contacts/9/"))
	assert.Equal(t, "https://x.my.salesforce.com/lightning/r/Opportunity/006/view", ExternalURL(model.ProviderSalesforce, model.EntityDeal, "006", "https://x.my.salesforce.com"))
	assert.Equal(t, "https://app.attio.com/w/person/p1", ExternalURL(model.ProviderAttio, model.EntityContact, "p1", "https://app.attio.com/w"))
	assert.Empty(t, ExternalURL(model.ProviderAttio, model.EntityContact, "p1", ""))
}

func TestDemoRecordsMapCleanly(t *testing.T) {
	for provider, tables := range fieldTables {
		for entity := range tables {
			for _, rec := range demoRecords(provider, entity) {
				got, err := MapExternalToLocal(provider, entity, rec, demoInstanceURLs[provider])
				require.NoError(t, err)
				assert.NotEmpty(t, got.ExternalURL)
			}
		}
	}
}
