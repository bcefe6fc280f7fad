package model

import (
	"time"

	"gorm.io/datatypes"
)

type SyncOperation string

const (
	OperationFullSync        SyncOperation = "full_sync"
	OperationIncrementalSync SyncOperation = "incremental_sync"
	OperationWebhook         SyncOperation = "webhook"
	OperationPush            SyncOperation = "push"
)

type SyncDirection string

const (
	DirectionInbound  SyncDirection = "inbound"
	DirectionOutbound SyncDirection = "outbound"
)

type SyncLogStatus string

const (
	SyncLogStarted   SyncLogStatus = "started"
	SyncLogCompleted SyncLogStatus = "completed"
	SyncLogFailed    SyncLogStatus = "failed"
)

// SyncLog is an append-only audit row for one unit of sync work. It is
// created as started and moved to a terminal status exactly once.
type SyncLog struct {
	ID               string         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	IntegrationID    string         `json:"integration_id" gorm:"index;not null"`
	EntityType       string         `json:"entity_type"`
	Operation        SyncOperation  `json:"operation" gorm:"not null"`
	Direction        SyncDirection  `json:"direction" gorm:"not null"`
	Status           SyncLogStatus  `json:"status" gorm:"index;not null"`
	RecordsProcessed int            `json:"records_processed"`
	RecordsUpdated   int            `json:"records_updated"`
	RecordsFailed    int            `json:"records_failed"`
	ErrorMessage     *string        `json:"error_message,omitempty"`
	Metadata         datatypes.JSON `json:"metadata,omitempty"`
	StartedAt        time.Time      `json:"started_at" gorm:"index"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
}

func (SyncLog) TableName() string { return "sync_logs" }

// SyncCounts accumulates per-record outcomes for a SyncLog.
type SyncCounts struct {
	Processed int
	Updated   int
	Failed    int
}

func (c *SyncCounts) Add(o SyncCounts) {
	c.Processed += o.Processed
	c.Updated += o.Updated
	c.Failed += o.Failed
}
