package repository

import (
	"context"
	"time"

	"crm-sync/domain/model"
)

// IRecordLocker serializes work on a single CRM record across goroutines and
// server instances.
type IRecordLocker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// IStateNonceStore remembers consumed OAuth state nonces.
type IStateNonceStore interface {
	// Consume returns false when the nonce was already used.
	Consume(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

// IPushQueue carries outbound push jobs to a worker.
type IPushQueue interface {
	Enqueue(ctx context.Context, job *model.PushJob) error
	// Run consumes jobs until ctx is done. A failed job is logged and
	// dropped.
	Run(ctx context.Context, handle model.PushHandler) error
}

// IWebhookArchive keeps verified raw webhook bodies.
type IWebhookArchive interface {
	Save(ctx context.Context, entry *model.WebhookArchiveEntry) error
}
