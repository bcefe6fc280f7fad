package persistence

import (
	"context"

	"crm-sync/domain/model"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

const webhookArchiveCollection = "crm_webhooks"

// WebhookArchive keeps verified webhook bodies in Mongo. A nil client turns
// it into a no-op.
type WebhookArchive struct {
	collection *mongo.Collection
}

func NewWebhookArchive(client *mongo.Client, database string) *WebhookArchive {
	if client == nil {
		return &WebhookArchive{}
	}
	return &WebhookArchive{collection: client.Database(database).Collection(webhookArchiveCollection)}
}

func (a *WebhookArchive) Save(ctx context.Context, entry *model.WebhookArchiveEntry) error {
	if a == nil || a.collection == nil || entry == nil {
		return nil
	}
	_, err := a.collection.InsertOne(ctx, entry)
	return err
}
