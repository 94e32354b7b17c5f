package model

import (
	"time"
)

// IdempotencyStatus 幂等记录状态
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "PROCESSING"
	IdempotencyStatusCompleted  IdempotencyStatus = "COMPLETED"
	IdempotencyStatusFailed     IdempotencyStatus = "FAILED"
)

// IdempotencyLog 幂等记录的持久化副本，Redis 不可用时以此为准
type IdempotencyLog struct {
	TenantID     string            `gorm:"type:varchar(36);primaryKey" json:"tenant_id"`
	EventID      string            `gorm:"type:varchar(128);primaryKey" json:"event_id"`
	PayloadHash  string            `gorm:"type:varchar(64);not null" json:"payload_hash"`
	Status       IdempotencyStatus `gorm:"type:varchar(16);not null" json:"status"`
	ResponseBody string            `gorm:"type:text" json:"response_body"`
	CreatedAt    time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (IdempotencyLog) TableName() string {
	return "idempotency_logs"
}
