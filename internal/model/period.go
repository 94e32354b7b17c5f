package model

import (
	"time"
)

// PeriodStatus 会计期间状态
type PeriodStatus string

const (
	PeriodStatusOpen       PeriodStatus = "OPEN"
	PeriodStatusSoftClosed PeriodStatus = "SOFT_CLOSED"
	PeriodStatusHardClosed PeriodStatus = "HARD_CLOSED"
)

func (s PeriodStatus) Valid() bool {
	return s == PeriodStatusOpen || s == PeriodStatusSoftClosed || s == PeriodStatusHardClosed
}

// ValidPeriodTransitions 允许的期间状态流转
//
//	OPEN -> SOFT_CLOSED
//	SOFT_CLOSED -> OPEN | HARD_CLOSED
//	HARD_CLOSED -> OPEN（要求之后的期间全部 OPEN）
var ValidPeriodTransitions = map[PeriodStatus][]PeriodStatus{
	PeriodStatusOpen:       {PeriodStatusSoftClosed},
	PeriodStatusSoftClosed: {PeriodStatusOpen, PeriodStatusHardClosed},
	PeriodStatusHardClosed: {PeriodStatusOpen},
}

func CanTransitionPeriod(current, target PeriodStatus) bool {
	allowed, exists := ValidPeriodTransitions[current]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

// AccountingPeriod 会计期间，同一租户内日期区间互不重叠
type AccountingPeriod struct {
	ID        string       `gorm:"type:varchar(36);primaryKey" json:"id"`
	TenantID  string       `gorm:"type:varchar(36);index:idx_period_tenant_start;not null" json:"tenant_id"`
	Name      string       `gorm:"type:varchar(64);not null" json:"name"`
	StartDate time.Time    `gorm:"type:date;index:idx_period_tenant_start;not null" json:"start_date"`
	EndDate   time.Time    `gorm:"type:date;not null" json:"end_date"`
	Status    PeriodStatus `gorm:"type:varchar(16);not null" json:"status"`
	ClosedBy  *string      `gorm:"type:varchar(128)" json:"closed_by,omitempty"`
	ClosedAt  *time.Time   `json:"closed_at,omitempty"`
	CreatedAt time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func (AccountingPeriod) TableName() string {
	return "accounting_periods"
}

// Contains 日期是否落在期间内（含首尾）
func (p *AccountingPeriod) Contains(date time.Time) bool {
	d := DateOf(date)
	return !d.Before(DateOf(p.StartDate)) && !d.After(DateOf(p.EndDate))
}

// RevaluationRun 期末重估执行记录，每个期间只允许一次
type RevaluationRun struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	TenantID  string    `gorm:"type:varchar(36);uniqueIndex:uk_reval_tenant_period;not null" json:"tenant_id"`
	PeriodID  string    `gorm:"type:varchar(36);uniqueIndex:uk_reval_tenant_period;not null" json:"period_id"`
	EventID   string    `gorm:"type:varchar(128);not null" json:"event_id"`
	CreatedBy string    `gorm:"type:varchar(128);not null" json:"created_by"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (RevaluationRun) TableName() string {
	return "period_revaluation_runs"
}
