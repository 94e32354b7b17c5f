package model

import (
	"time"

	"gorm.io/datatypes"
)

const (
	AggregateTypeJournalEntry = "JOURNAL_ENTRY"
)

// OutboxEvent 发件箱事件，与凭证在同一事务内写入
// ID 为雪花ID，按写入顺序递增
type OutboxEvent struct {
	ID            int64          `gorm:"primaryKey;autoIncrement:false" json:"id"`
	TenantID      string         `gorm:"type:varchar(36);index;not null" json:"tenant_id"`
	EventType     string         `gorm:"type:varchar(64);not null" json:"event_type"`
	AggregateType string         `gorm:"type:varchar(32);not null" json:"aggregate_type"`
	AggregateID   string         `gorm:"type:varchar(36);not null" json:"aggregate_id"`
	Payload       datatypes.JSON `gorm:"not null" json:"payload"`
	Traceparent   string         `gorm:"type:varchar(64)" json:"traceparent,omitempty"`
	Published     bool           `gorm:"index:idx_outbox_published_created;not null" json:"published"`
	PublishedAt   *time.Time     `json:"published_at,omitempty"`
	CreatedAt     time.Time      `gorm:"autoCreateTime;index:idx_outbox_published_created" json:"created_at"`
}

func (OutboxEvent) TableName() string {
	return "outbox_events"
}

// JournalPostedPayload 凭证记账事件的消息体
type JournalPostedPayload struct {
	JournalEntryID string `json:"journalEntryId"`
	TenantID       string `json:"tenantId"`
	SourceEventID  string `json:"sourceEventId"`
	Status         string `json:"status"`
	PostedDate     string `json:"postedDate"`
	CreatedAt      string `json:"createdAt"`
}
