package pubsub

import (
	"context"
	"encoding/json"
	"errors"

	"crm-sync/domain/model"
	"crm-sync/infrastructure/logger"

	"cloud.google.com/go/pubsub"
)

// PushQueue publishes push jobs to a Pub/Sub topic and consumes them from a
// subscription. Every delivered message is acked; failed jobs are not
// retried.
type PushQueue struct {
	client         *pubsub.Client
	topicName      string
	subscriptionID string
}

func NewPushQueue(client *pubsub.Client, topicName, subscriptionID string) *PushQueue {
	return &PushQueue{client: client, topicName: topicName, subscriptionID: subscriptionID}
}

func (q *PushQueue) Enqueue(ctx context.Context, job *model.PushJob) error {
	if q.client == nil {
		return errors.New("pubsub client not configured")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}

	topic := q.client.Topic(q.topicName)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		logger.GetLogger().WithField("topic", q.topicName).Info("Topic doesn't exist - creating it")
		if topic, err = q.client.CreateTopic(ctx, q.topicName); err != nil {
			return err
		}
	}

	serverID, err := topic.Publish(ctx, &pubsub.Message{Data: payload}).Get(ctx)
	if err != nil {
		return err
	}
	logger.GetLogger().WithField("server ID", serverID).WithField("job", job.ID).Debug("Push job published")
	return nil
}

func (q *PushQueue) Run(ctx context.Context, handle model.PushHandler) error {
	if q.client == nil {
		return errors.New("pubsub client not configured")
	}
	logger.GetLogger().WithField("subID", q.subscriptionID).Info("PubSub push worker starting...")

	sub := q.client.Subscription(q.subscriptionID)
	return sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		defer msg.Ack()
		var job model.PushJob
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			logger.GetLogger().WithField("messageID", msg.ID).WithField("error", err).Error("Error while decoding push job")
			return
		}
		if err := handle(ctx, &job); err != nil {
			logger.GetLogger().WithField("job", job.ID).WithField("error", err).Warn("Push job failed")
		}
	})
}
