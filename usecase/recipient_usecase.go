package usecase

import (
	"context"
	"sort"
	"strings"
	"time"

	"crm-sync/domain/dto"
	"crm-sync/domain/model"
	"crm-sync/domain/repository"
	"crm-sync/infrastructure/logger"

	"github.com/google/uuid"
)

type IRecipientUsecase interface {
	// UpdateRecipient saves a local edit. For CRM-managed recipients the
	// changed syncable fields are queued for push and the recipient is
	// marked PENDING until the push resolves.
	UpdateRecipient(ctx context.Context, organizationID, recipientID string, req dto.RecipientUpdateRequest) (*dto.RecipientUpdateResponse, error)
}

type recipientUsecase struct {
	recipients repository.IRecipient
	queue      repository.IPushQueue
	now        func() time.Time
}

func NewRecipientUsecase(recipients repository.IRecipient, queue repository.IPushQueue) IRecipientUsecase {
	return &recipientUsecase{recipients: recipients, queue: queue, now: func() time.Time { return time.Now().UTC() }}
}

func (u *recipientUsecase) UpdateRecipient(ctx context.Context, organizationID, recipientID string, req dto.RecipientUpdateRequest) (*dto.RecipientUpdateResponse, error) {
	rec, err := u.recipients.GetByID(ctx, organizationID, recipientID)
	if err != nil {
		return nil, err
	}

	changed := applyRecipientEdit(rec, req)
	pushFields := syncableChanges(rec, changed)

	var job *model.PushJob
	if rec.CRMManaged() && len(pushFields) > 0 {
		entityType, ok := model.ParseEntityType(derefString(rec.ExternalEntityType))
		if ok && rec.ExternalSource != nil {
			job = &model.PushJob{
				ID:             uuid.NewString(),
				OrganizationID: organizationID,
				RecipientID:    rec.ID,
				Provider:       model.Provider(*rec.ExternalSource),
				EntityType:     entityType,
				ExternalID:     *rec.ExternalID,
				Fields:         pushFields,
				EnqueuedAt:     u.now(),
			}
		}
	}

	if err := u.recipients.UpdateLocal(ctx, rec, job != nil); err != nil {
		return nil, err
	}

	res := &dto.RecipientUpdateResponse{Recipient: rec, PushedFields: []string{}}
	if job == nil {
		return res, nil
	}
	for f := range job.Fields {
		res.PushedFields = append(res.PushedFields, f)
	}
	sort.Strings(res.PushedFields)
	job.SyncVersion = rec.SyncVersion

	if err := u.queue.Enqueue(ctx, job); err != nil {
		logger.GetLogger().
			WithField("organization_id", organizationID).
			WithField("recipient_id", rec.ID).
			WithField("error", err).
			Error("Error while queueing CRM push")
		failed := model.RecipientError
		rec.SyncStatus = &failed
		if err := u.recipients.SetSyncStatus(ctx, organizationID, rec.ID, model.RecipientError, nil); err != nil {
			logger.GetLogger().WithField("recipient_id", rec.ID).WithField("error", err).Error("Error while marking recipient push failed")
		}
		return res, nil
	}
	res.PushQueued = true
	return res, nil
}

// applyRecipientEdit writes the request onto rec and returns the local field
// names whose value actually changed. An empty string clears a field.
func applyRecipientEdit(rec *model.Recipient, req dto.RecipientUpdateRequest) map[string]bool {
	changed := map[string]bool{}
	set := func(name string, dst **string, v *string) {
		if v == nil {
			return
		}
		next := strings.TrimSpace(*v)
		if name == FieldEmail {
			next = strings.ToLower(next)
		}
		if derefString(*dst) == next {
			return
		}
		if next == "" {
			*dst = nil
		} else {
			*dst = &next
		}
		changed[name] = true
	}
	set(FieldEmail, &rec.Email, req.Email)
	set(FieldFirstName, &rec.FirstName, req.FirstName)
	set(FieldLastName, &rec.LastName, req.LastName)
	set(FieldPhone, &rec.Phone, req.Phone)
	set(FieldCompany, &rec.Company, req.Company)
	set(FieldJobTitle, &rec.JobTitle, req.JobTitle)
	set(FieldStatus, &rec.LeadStatus, req.LeadStatus)
	set("notes", &rec.Notes, req.Notes)
	if req.Tags != nil {
		rec.Tags = append([]string{}, (*req.Tags)...)
		changed["tags"] = true
	}
	if req.DoNotSend != nil && *req.DoNotSend != rec.DoNotSend {
		rec.DoNotSend = *req.DoNotSend
		changed["doNotSend"] = true
	}
	return changed
}

// syncableChanges keeps only allow-listed fields. First and last name are
// sent together so the CRM never holds half of an edited name.
func syncableChanges(rec *model.Recipient, changed map[string]bool) map[string]string {
	out := map[string]string{}
	for name := range changed {
		if !IsSyncableField(name) {
			continue
		}
		out[name] = localValue(rec, name)
	}
	if changed[FieldFirstName] || changed[FieldLastName] {
		out[FieldFirstName] = localValue(rec, FieldFirstName)
		out[FieldLastName] = localValue(rec, FieldLastName)
	}
	return out
}

func localValue(rec *model.Recipient, name string) string {
	switch name {
	case FieldEmail:
		return derefString(rec.Email)
	case FieldFirstName:
		return derefString(rec.FirstName)
	case FieldLastName:
		return derefString(rec.LastName)
	case FieldPhone:
		return derefString(rec.Phone)
	case FieldCompany:
		return derefString(rec.Company)
	case FieldJobTitle:
		return derefString(rec.JobTitle)
	case FieldStatus:
		return derefString(rec.LeadStatus)
	}
	return ""
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
