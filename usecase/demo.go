package usecase

import (
	"context"
	"fmt"
	"strings"

	"crm-sync/domain/model"
)

type demoPerson struct {
	first, last, email, company, title, phone, status string
}

var demoPeople = []demoPerson{
	{"Ada", "Lovelace", "ada@analytical.example", "Analytical Engines", "Head of Research", "+44 20 7946 0001", "Qualified"},
	{"Grace", "Hopper", "grace@cobol.example", "Compiler Works", "Rear Admiral", "+1 202 555 0143", "Working"},
	{"Alan", "Turing", "alan@bletchley.example", "Bletchley Labs", "Cryptanalyst", "+44 1908 640404", "New"},
	{"Katherine", "Johnson", "katherine@orbit.example", "Orbital Mechanics", "Mathematician", "+1 757 555 0199", "Nurturing"},
}

var demoInstanceURLs = map[model.Provider]string{
	model.ProviderHubSpot:    "https://app.hubspot.com/contacts/demo",
	model.ProviderSalesforce: "https://demo.my.salesforce.com",
	model.ProviderAttio:      "https://app.attio.com/demo",
}

func (p demoPerson) value(field string) string {
	switch field {
	case FieldEmail:
		return p.email
	case FieldFirstName:
		return p.first
	case FieldLastName:
		return p.last
	case FieldCompany:
		return p.company
	case FieldJobTitle:
		return p.title
	case FieldPhone:
		return p.phone
	case FieldStatus:
		return p.status
	}
	return ""
}

// demoRecords builds canned provider-native records from the same field
// tables the mapper reads, so demo data takes the real mapping path.
func demoRecords(provider model.Provider, entityType model.EntityType) []model.ProviderRecord {
	specs, ok := fieldTables[provider][entityType]
	if !ok {
		return nil
	}
	out := make([]model.ProviderRecord, 0, len(demoPeople))
	for i, person := range demoPeople {
		props := map[string]any{}
		for _, fm := range specs {
			setPath(props, fm.remote, person.value(fm.local))
		}
		out = append(out, model.ProviderRecord{
			ID:         fmt.Sprintf("demo-%s-%d", entityType, i+1),
			Properties: props,
		})
	}
	return out
}

func setPath(props map[string]any, path string, v any) {
	parts := strings.Split(path, ".")
	cur := props
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}

// demoSource serves canned records in place of a provider API.
type demoSource struct {
	provider model.Provider
	entities []model.EntityType
}

func (d demoSource) SupportedEntityTypes() []model.EntityType {
	return d.entities
}

func (d demoSource) ListRecords(_ context.Context, entityType model.EntityType, _, _ string, opts model.ListOptions) (*model.RecordPage, error) {
	if opts.Cursor != "" {
		return &model.RecordPage{}, nil
	}
	return &model.RecordPage{Records: demoRecords(d.provider, entityType)}, nil
}

func (d demoSource) FetchRecord(_ context.Context, entityType model.EntityType, _, externalID, _ string) (*model.ProviderRecord, error) {
	for _, rec := range demoRecords(d.provider, entityType) {
		if rec.ID == externalID {
			return &rec, nil
		}
	}
	return nil, nil
}
