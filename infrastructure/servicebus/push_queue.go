package servicebus

import (
	"context"
	"encoding/json"
	"errors"

	"crm-sync/domain/model"
	"crm-sync/infrastructure/logger"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
)

const receiveBatch = 10

// PushQueue carries push jobs over an Azure Service Bus queue. Messages are
// completed whether or not the job succeeded.
type PushQueue struct {
	client *azservicebus.Client
	queue  string
}

func NewPushQueue(client *azservicebus.Client, queue string) *PushQueue {
	return &PushQueue{client: client, queue: queue}
}

func (q *PushQueue) Enqueue(ctx context.Context, job *model.PushJob) error {
	if q.client == nil {
		return errors.New("service bus client not configured")
	}
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	sender, err := q.client.NewSender(q.queue, nil)
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while making new sender service bus.")
		return err
	}
	defer func() {
		if err := sender.Close(context.Background()); err != nil {
			logger.GetLogger().WithField("error", err).Error("Error while closing sender.")
		}
	}()

	jobID := job.ID
	return sender.SendMessage(ctx, &azservicebus.Message{Body: body, MessageID: &jobID}, nil)
}

func (q *PushQueue) Run(ctx context.Context, handle model.PushHandler) error {
	if q.client == nil {
		return errors.New("service bus client not configured")
	}
	receiver, err := q.client.NewReceiverForQueue(q.queue, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := receiver.Close(context.Background()); err != nil {
			logger.GetLogger().WithField("error", err).Error("Error while closing receiver.")
		}
	}()

	for {
		messages, err := receiver.ReceiveMessages(ctx, receiveBatch, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		for _, message := range messages {
			var job model.PushJob
			if err := json.Unmarshal(message.Body, &job); err != nil {
				logger.GetLogger().WithField("messageID", message.MessageID).WithField("error", err).Error("Error while decoding push job")
			} else if err := handle(ctx, &job); err != nil {
				logger.GetLogger().WithField("job", job.ID).WithField("error", err).Warn("Push job failed")
			}
			if err := receiver.CompleteMessage(context.Background(), message, nil); err != nil {
				logger.GetLogger().WithField("error", err).Error("Error while completing message.")
			}
		}
	}
}
