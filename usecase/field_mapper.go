package usecase

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"crm-sync/domain/model"
)

// Local recipient field names shared by the mapper, push jobs and the
// local-edit diff.
const (
	FieldEmail     = "email"
	FieldFirstName = "firstName"
	FieldLastName  = "lastName"
	FieldCompany   = "company"
	FieldJobTitle  = "jobTitle"
	FieldPhone     = "phone"
	FieldStatus    = "status"
)

// SyncableFields is the allow-list of local fields that may ever be written
// to a CRM. Notes, tags and other local-only fields are not in it.
var SyncableFields = []string{FieldEmail, FieldFirstName, FieldLastName, FieldPhone, FieldCompany, FieldJobTitle, FieldStatus}

func IsSyncableField(name string) bool {
	for _, f := range SyncableFields {
		if f == name {
			return true
		}
	}
	return false
}

// fieldSpec binds a local field to a provider property. A dotted remote path
// reads a nested object; those are never writable.
type fieldSpec struct {
	local    string
	remote   string
	writable bool
}

var contactLikeHubSpot = []fieldSpec{
	{FieldEmail, "email", true},
	{FieldFirstName, "firstname", true},
	{FieldLastName, "lastname", true},
	{FieldCompany, "company", true},
	{FieldJobTitle, "jobtitle", true},
	{FieldPhone, "phone", true},
}

// All CRM entity kinds land on the single recipient model; companies and
// deals fill the company and status columns.
var fieldTables = map[model.Provider]map[model.EntityType][]fieldSpec{
	model.ProviderHubSpot: {
		model.EntityContact: append(append([]fieldSpec{}, contactLikeHubSpot...), fieldSpec{FieldStatus, "hs_lead_status", true}),
		model.EntityLead:    append(append([]fieldSpec{}, contactLikeHubSpot...), fieldSpec{FieldStatus, "hs_pipeline_stage", true}),
		model.EntityCompany: {
			{FieldCompany, "name", true},
			{FieldPhone, "phone", true},
		},
		model.EntityDeal: {
			{FieldCompany, "dealname", true},
			{FieldStatus, "dealstage", true},
		},
	},
	model.ProviderSalesforce: {
		model.EntityLead: {
			{FieldEmail, "Email", true},
			{FieldFirstName, "FirstName", true},
			{FieldLastName, "LastName", true},
			{FieldCompany, "Company", true},
			{FieldJobTitle, "Title", true},
			{FieldPhone, "Phone", true},
			{FieldStatus, "Status", true},
		},
		model.EntityContact: {
			{FieldEmail, "Email", true},
			{FieldFirstName, "FirstName", true},
			{FieldLastName, "LastName", true},
			{FieldJobTitle, "Title", true},
			{FieldPhone, "Phone", true},
			{FieldCompany, "Account.Name", false},
		},
		model.EntityCompany: {
			{FieldCompany, "Name", true},
			{FieldPhone, "Phone", true},
		},
		model.EntityDeal: {
			{FieldCompany, "Name", true},
			{FieldStatus, "StageName", true},
		},
	},
	model.ProviderAttio: {
		model.EntityContact: {
			{FieldEmail, "email_addresses", true},
			{FieldFirstName, "first_name", true},
			{FieldLastName, "last_name", true},
			{FieldJobTitle, "job_title", true},
			{FieldPhone, "phone_numbers", true},
		},
		model.EntityCompany: {
			{FieldCompany, "name", true},
		},
		model.EntityDeal: {
			{FieldCompany, "name", true},
			{FieldStatus, "stage", true},
		},
	},
}

var hubSpotObjectTypeIDs = map[model.EntityType]string{
	model.EntityContact: "0-1",
	model.EntityCompany: "0-2",
	model.EntityDeal:    "0-3",
	model.EntityLead:    "0-136",
}

var salesforceObjectNames = map[model.EntityType]string{
	model.EntityLead:    "Lead",
	model.EntityContact: "Contact",
	model.EntityCompany: "Account",
	model.EntityDeal:    "Opportunity",
}

var attioRecordPaths = map[model.EntityType]string{
	model.EntityContact: "person",
	model.EntityCompany: "company",
	model.EntityDeal:    "deal",
}

// MapExternalToLocal converts one provider record into the local recipient
// shape. Unmapped provider properties are dropped. Absent or empty values
// stay nil so they never erase local data.
func MapExternalToLocal(provider model.Provider, entityType model.EntityType, rec model.ProviderRecord, instanceURL string) (*model.MappedRecipient, error) {
	specs, ok := fieldTables[provider][entityType]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", model.ErrUnsupportedEntity, provider, entityType)
	}
	if strings.TrimSpace(rec.ID) == "" {
		return nil, fmt.Errorf("%s %s record has no id", provider, entityType)
	}

	out := &model.MappedRecipient{
		ExternalID:     rec.ID,
		ExternalSource: provider,
		EntityType:     entityType,
		ExternalURL:    ExternalURL(provider, entityType, rec.ID, instanceURL),
	}
	for _, fm := range specs {
		raw, found := lookupPath(rec.Properties, fm.remote)
		if !found {
			continue
		}
		value, err := stringValue(raw)
		if err != nil {
			return nil, fmt.Errorf("%s field %q: %w", provider, fm.remote, err)
		}
		if value == nil {
			continue
		}
		*localField(out, fm.local) = value
	}
	if out.Email != nil {
		email := strings.ToLower(*out.Email)
		out.Email = &email
	}
	return out, nil
}

// MapLocalToExternal returns the provider payload for a set of changed local
// fields. Fields outside the allow-list, or read-only for the entity, are
// dropped.
func MapLocalToExternal(provider model.Provider, entityType model.EntityType, fields map[string]string) (map[string]any, error) {
	specs, ok := fieldTables[provider][entityType]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", model.ErrUnsupportedEntity, provider, entityType)
	}
	out := make(map[string]any, len(fields))
	for _, fm := range specs {
		if !fm.writable || !IsSyncableField(fm.local) {
			continue
		}
		if v, ok := fields[fm.local]; ok {
			out[fm.remote] = v
		}
	}
	return out, nil
}

// ExternalURL deep-links a record into the provider UI, or returns "" when
// the instance is unknown.
func ExternalURL(provider model.Provider, entityType model.EntityType, externalID, instanceURL string) string {
	instanceURL = strings.TrimRight(instanceURL, "/")
	if instanceURL == "" || externalID == "" {
		return ""
	}
	switch provider {
	case model.ProviderHubSpot:
		if id, ok := hubSpotObjectTypeIDs[entityType]; ok {
			return fmt.Sprintf("%s/record/%s/%s", instanceURL, id, externalID)
		}
	case model.ProviderSalesforce:
		if obj, ok := salesforceObjectNames[entityType]; ok {
			return fmt.Sprintf("%s/lightning/r/%s/%s/view", instanceURL, obj, externalID)
		}
	case model.ProviderAttio:
		if p, ok := attioRecordPaths[entityType]; ok {
			return fmt.Sprintf("%s/%s/%s", instanceURL, p, externalID)
		}
	}
	return ""
}

func localField(m *model.MappedRecipient, name string) **string {
	switch name {
	case FieldEmail:
		return &m.Email
	case FieldFirstName:
		return &m.FirstName
	case FieldLastName:
		return &m.LastName
	case FieldCompany:
		return &m.Company
	case FieldJobTitle:
		return &m.JobTitle
	case FieldPhone:
		return &m.Phone
	case FieldStatus:
		return &m.LeadStatus
	}
	panic("unknown local field " + name)
}

func lookupPath(props map[string]any, path string) (any, bool) {
	var cur any = props
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func stringValue(v any) (*string, error) {
	var s string
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		s = strings.TrimSpace(t)
	case json.Number:
		s = t.String()
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		s = strconv.Itoa(t)
	case int64:
		s = strconv.FormatInt(t, 10)
	case bool:
		s = strconv.FormatBool(t)
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
	if s == "" {
		return nil, nil
	}
	return &s, nil
}
