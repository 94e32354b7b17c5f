package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ledgersystem/internal/metrics"
	"ledgersystem/internal/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PostingEngine 记账主流程：期间准入 -> 币种换算 -> 校验 -> 写入 -> 发件箱
type PostingEngine struct {
	db          *gorm.DB
	gate        *PeriodGate
	converter   CurrencyConverter
	validator   *Validator
	persistence *LedgerPersistence
	outbox      *OutboxService
	log         *zap.Logger
}

// NewPostingEngine converter 为 nil 时使用 RateConverter
func NewPostingEngine(db *gorm.DB, converter CurrencyConverter, outbox *OutboxService, log *zap.Logger) *PostingEngine {
	if converter == nil {
		converter = RateConverter{}
	}
	return &PostingEngine{
		db:          db,
		gate:        NewPeriodGate(db),
		converter:   converter,
		validator:   NewValidator(db),
		persistence: NewLedgerPersistence(db, log),
		outbox:      outbox,
		log:         log,
	}
}

// Post 单独开启事务记账，全部步骤成功才提交
func (e *PostingEngine) Post(ctx context.Context, tenantID string, draft *model.DraftJournalEntry, role ActorRole) (*model.JournalEntry, error) {
	var entry *model.JournalEntry
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		entry, err = e.PostInTx(ctx, tx, tenantID, draft, role)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// PostInTx 在调用方事务内记账
func (e *PostingEngine) PostInTx(ctx context.Context, tx *gorm.DB, tenantID string, draft *model.DraftJournalEntry, role ActorRole) (*model.JournalEntry, error) {
	return e.post(ctx, tx, tenantID, draft, role, true)
}

func (e *PostingEngine) post(ctx context.Context, tx *gorm.DB, tenantID string, draft *model.DraftJournalEntry, role ActorRole, gated bool) (entry *model.JournalEntry, err error) {
	start := time.Now()
	defer func() {
		metrics.PostingDuration.Observe(time.Since(start).Seconds())
		result := "success"
		if err != nil {
			result = strings.ToLower(ErrorCode(err))
		}
		metrics.PostingTotal.WithLabelValues(result).Inc()
	}()

	normalized, err := normalizeDraft(tenantID, draft)
	if err != nil {
		return nil, err
	}

	if gated {
		if err := e.gate.ValidatePostingAllowed(ctx, tx, tenantID, normalized.GateDate(), role); err != nil {
			return nil, err
		}
	}

	converted, err := e.converter.Apply(ctx, normalized)
	if err != nil {
		return nil, err
	}

	// 年结凭证按本位币结转各币种科目，不校验科目币种
	validate := e.validator.Validate
	if !gated {
		validate = e.validator.ValidateClosing
	}
	if _, err := validate(ctx, tx, converted); err != nil {
		return nil, err
	}

	entry, err = e.persistence.Persist(ctx, tx, converted)
	if err != nil {
		return nil, err
	}

	if _, err := e.outbox.RecordJournalPosted(ctx, tx, converted.EventID, entry); err != nil {
		return nil, err
	}

	e.log.Info("凭证记账成功",
		zap.String("tenant_id", tenantID),
		zap.String("event_id", entry.EventID),
		zap.String("entry_id", entry.ID),
		zap.Int64("sequence", entry.SequenceNumber))
	return entry, nil
}

// normalizeDraft 补齐默认值：生效日、交易日取记账日，本位币缺省取交易币
func normalizeDraft(tenantID string, draft *model.DraftJournalEntry) (*model.DraftJournalEntry, error) {
	if draft == nil {
		return nil, fmt.Errorf("%w: 凭证为空", ErrInvalidArgument)
	}
	if tenantID == "" || draft.EventID == "" {
		return nil, fmt.Errorf("%w: 租户与事件ID必填", ErrInvalidArgument)
	}
	if draft.PostedDate.IsZero() {
		return nil, fmt.Errorf("%w: 记账日期必填", ErrInvalidArgument)
	}

	d := *draft
	d.TenantID = tenantID
	d.PostedDate = model.DateOf(d.PostedDate)
	if d.EffectiveDate.IsZero() {
		d.EffectiveDate = d.PostedDate
	}
	if d.TransactionDate.IsZero() {
		d.TransactionDate = d.PostedDate
	}
	d.TransactionCurrency = strings.ToUpper(strings.TrimSpace(d.TransactionCurrency))
	d.BaseCurrency = strings.ToUpper(strings.TrimSpace(d.BaseCurrency))
	if d.TransactionCurrency == "" {
		return nil, fmt.Errorf("%w: 交易币种必填", ErrInvalidArgument)
	}
	if d.BaseCurrency == "" {
		d.BaseCurrency = d.TransactionCurrency
	}
	if d.CreatedBy == "" {
		d.CreatedBy = "system"
	}
	return &d, nil
}
