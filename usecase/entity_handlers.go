package usecase

import (
	"context"
	"time"

	"crm-sync/domain/model"
	"crm-sync/domain/repository"
)

// EntityHandler maps and stores one CRM entity kind.
type EntityHandler interface {
	Map(provider model.Provider, rec model.ProviderRecord, instanceURL string) (*model.MappedRecipient, error)
	Upsert(ctx context.Context, organizationID string, mapped *model.MappedRecipient, syncedAt time.Time) (model.UpsertOutcome, error)
}

// recipientHandler stores any entity kind as a recipient keyed by
// (organization, external id, external source).
type recipientHandler struct {
	entityType model.EntityType
	recipients repository.IRecipient
}

func (h recipientHandler) Map(provider model.Provider, rec model.ProviderRecord, instanceURL string) (*model.MappedRecipient, error) {
	return MapExternalToLocal(provider, h.entityType, rec, instanceURL)
}

func (h recipientHandler) Upsert(ctx context.Context, organizationID string, mapped *model.MappedRecipient, syncedAt time.Time) (model.UpsertOutcome, error) {
	return h.recipients.UpsertExternal(ctx, organizationID, mapped, syncedAt)
}

// EntityHandlers resolves a handler by entity type.
type EntityHandlers map[model.EntityType]EntityHandler

func NewEntityHandlers(recipients repository.IRecipient) EntityHandlers {
	return EntityHandlers{
		model.EntityLead:    recipientHandler{entityType: model.EntityLead, recipients: recipients},
		model.EntityContact: recipientHandler{entityType: model.EntityContact, recipients: recipients},
		model.EntityCompany: recipientHandler{entityType: model.EntityCompany, recipients: recipients},
		model.EntityDeal:    recipientHandler{entityType: model.EntityDeal, recipients: recipients},
	}
}

func (h EntityHandlers) For(entityType model.EntityType) (EntityHandler, error) {
	handler, ok := h[entityType]
	if !ok {
		return nil, model.ErrUnsupportedEntity
	}
	return handler, nil
}

// Apply maps one provider record and upserts it.
func (h EntityHandlers) Apply(ctx context.Context, in *model.Integration, entityType model.EntityType, rec model.ProviderRecord, syncedAt time.Time) (model.UpsertOutcome, error) {
	handler, err := h.For(entityType)
	if err != nil {
		return model.UpsertUnchanged, err
	}
	mapped, err := handler.Map(in.Provider, rec, in.InstanceURLValue())
	if err != nil {
		return model.UpsertUnchanged, err
	}
	return handler.Upsert(ctx, in.OrganizationID, mapped, syncedAt)
}
