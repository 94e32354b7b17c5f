package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// JournalStatus 凭证状态
type JournalStatus string

const (
	JournalStatusPosted   JournalStatus = "POSTED"
	JournalStatusReversal JournalStatus = "REVERSAL"
)

// GenesisHash 租户哈希链的起点
const GenesisHash = "0"

// JournalEntry 记账凭证
//
// 【只追加】凭证写入后不允许更新或删除，冲销是新增一张引用原凭证的凭证。
// 数据库层通过触发器拒绝 UPDATE / DELETE。
type JournalEntry struct {
	ID                  string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	TenantID            string          `gorm:"type:varchar(36);not null;uniqueIndex:uk_je_tenant_event;uniqueIndex:uk_je_tenant_chain;uniqueIndex:uk_je_tenant_year_seq;index:idx_je_tenant_posted" json:"tenant_id"`
	EventID             string          `gorm:"type:varchar(128);not null;uniqueIndex:uk_je_tenant_event" json:"event_id"`
	PostedDate          time.Time       `gorm:"type:date;not null;index:idx_je_tenant_posted" json:"posted_date"`
	EffectiveDate       time.Time       `gorm:"type:date;not null" json:"effective_date"`
	TransactionDate     time.Time       `gorm:"type:date;not null" json:"transaction_date"`
	Description         string          `gorm:"type:varchar(512)" json:"description"`
	ReferenceID         string          `gorm:"type:varchar(128);index" json:"reference_id"`
	Status              JournalStatus   `gorm:"type:varchar(16);not null" json:"status"`
	ReversalOfID        *string         `gorm:"type:varchar(36);index" json:"reversal_of_id,omitempty"`
	AutoReverse         bool            `gorm:"not null" json:"auto_reverse"`
	TransactionCurrency string          `gorm:"type:varchar(3);not null" json:"transaction_currency"`
	BaseCurrency        string          `gorm:"type:varchar(3);not null" json:"base_currency"`
	ExchangeRate        decimal.Decimal `gorm:"type:decimal(20,10);not null" json:"exchange_rate"`
	CreatedBy           string          `gorm:"type:varchar(128);not null" json:"created_by"`
	CreatedAt           time.Time       `gorm:"not null" json:"created_at"`
	PreviousHash        string          `gorm:"type:varchar(64);not null" json:"previous_hash"`
	Hash                string          `gorm:"type:varchar(64);not null" json:"hash"`
	ChainIndex          int64           `gorm:"not null;uniqueIndex:uk_je_tenant_chain" json:"chain_index"`
	FiscalYear          int             `gorm:"not null;uniqueIndex:uk_je_tenant_year_seq" json:"fiscal_year"`
	SequenceNumber      int64           `gorm:"not null;uniqueIndex:uk_je_tenant_year_seq" json:"sequence_number"`

	// 分录行显式读写，不依赖级联保存
	Lines []JournalLine `gorm:"-" json:"lines,omitempty"`
}

func (JournalEntry) TableName() string {
	return "journal_entries"
}

// JournalLine 分录行，随凭证一起写入，同样只追加
type JournalLine struct {
	ID             string            `gorm:"type:varchar(36);primaryKey" json:"id"`
	JournalEntryID string            `gorm:"type:varchar(36);index;not null" json:"journal_entry_id"`
	LineNo         int               `gorm:"not null" json:"line_no"`
	AccountID      string            `gorm:"type:varchar(36);index;not null" json:"account_id"`
	AccountCode    string            `gorm:"type:varchar(64);not null" json:"account_code"`
	Amount         int64             `gorm:"not null" json:"amount"`
	BaseAmount     int64             `gorm:"not null" json:"base_amount"`
	IsCredit       bool              `gorm:"not null" json:"is_credit"`
	Dimensions     datatypes.JSONMap `json:"dimensions,omitempty"`
	CreatedAt      time.Time         `gorm:"not null" json:"created_at"`
}

func (JournalLine) TableName() string {
	return "journal_lines"
}

// ChainHead 每个租户哈希链的链头，加行锁后推进
type ChainHead struct {
	TenantID  string    `gorm:"type:varchar(36);primaryKey" json:"tenant_id"`
	LastHash  string    `gorm:"type:varchar(64);not null" json:"last_hash"`
	LastIndex int64     `gorm:"not null" json:"last_index"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ChainHead) TableName() string {
	return "ledger_chain_heads"
}

// JournalSequence 租户 + 会计年度内的凭证序号
type JournalSequence struct {
	TenantID   string `gorm:"type:varchar(36);primaryKey" json:"tenant_id"`
	FiscalYear int    `gorm:"primaryKey;autoIncrement:false" json:"fiscal_year"`
	NextValue  int64  `gorm:"not null" json:"next_value"`
}

func (JournalSequence) TableName() string {
	return "journal_sequences"
}
