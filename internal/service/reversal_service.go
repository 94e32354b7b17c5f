package service

import (
	"context"
	"fmt"

	"ledgersystem/internal/model"
	"ledgersystem/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ReverseJournalEntryRequest struct {
	EventID   string `json:"event_id" binding:"required"`
	Reason    string `json:"reason,omitempty"`
	CreatedBy string `json:"created_by,omitempty"`
}

// CorrectJournalEntryRequest 冲销原凭证并以新内容重新记账
type CorrectJournalEntryRequest struct {
	ReversalEventID string                    `json:"reversal_event_id" binding:"required"`
	Reason          string                    `json:"reason,omitempty"`
	Replacement     CreateJournalEntryRequest `json:"replacement" binding:"required"`
}

type ReversalResponse struct {
	OriginalJournalEntryID    string `json:"original_journal_entry_id"`
	ReversalJournalEntryID    string `json:"reversal_journal_entry_id"`
	ReplacementJournalEntryID string `json:"replacement_journal_entry_id,omitempty"`
	Status                    string `json:"status"`
	Message                   string `json:"message"`
}

// ReversalService 冲销与更正
type ReversalService struct {
	db          *gorm.DB
	engine      *PostingEngine
	writer      *IdempotentWriter
	journalRepo *repository.JournalRepository
	chainRepo   *repository.ChainRepository
	log         *zap.Logger
}

func NewReversalService(db *gorm.DB, engine *PostingEngine, writer *IdempotentWriter, log *zap.Logger) *ReversalService {
	return &ReversalService{
		db:          db,
		engine:      engine,
		writer:      writer,
		journalRepo: repository.NewJournalRepository(db),
		chainRepo:   repository.NewChainRepository(db),
		log:         log,
	}
}

// Reverse 生成借贷互换的冲销凭证，日期取原凭证记账日
func (s *ReversalService) Reverse(ctx context.Context, tenantID, entryID string, req *ReverseJournalEntryRequest, role ActorRole) (*ReversalResponse, error) {
	payload := map[string]interface{}{
		"operation":        "reverse",
		"journal_entry_id": entryID,
		"request":          req,
	}
	return ExecuteIdempotent(ctx, s.writer, tenantID, req.EventID, payload, func(ctx context.Context) (*ReversalResponse, error) {
		var reversal *model.JournalEntry
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			reversal, err = s.reverseInTx(ctx, tx, tenantID, entryID, req.EventID, req.Reason, req.CreatedBy, role)
			return err
		})
		if err != nil {
			return nil, err
		}
		return &ReversalResponse{
			OriginalJournalEntryID: entryID,
			ReversalJournalEntryID: reversal.ID,
			Status:                 string(reversal.Status),
			Message:                "冲销成功",
		}, nil
	})
}

// Correct 冲销与重新记账在同一事务内完成
func (s *ReversalService) Correct(ctx context.Context, tenantID, entryID string, req *CorrectJournalEntryRequest, role ActorRole) (*ReversalResponse, error) {
	payload := map[string]interface{}{
		"operation":        "correct",
		"journal_entry_id": entryID,
		"request":          req,
	}
	return ExecuteIdempotent(ctx, s.writer, tenantID, req.ReversalEventID, payload, func(ctx context.Context) (*ReversalResponse, error) {
		if req.Replacement.EventID == req.ReversalEventID {
			return nil, fmt.Errorf("%w: 冲销与重新记账的 event_id 不能相同", ErrInvalidArgument)
		}
		draft, err := req.Replacement.ToDraft(tenantID)
		if err != nil {
			return nil, err
		}

		var reversal, replacement *model.JournalEntry
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			reversal, err = s.reverseInTx(ctx, tx, tenantID, entryID, req.ReversalEventID, req.Reason, req.Replacement.CreatedBy, role)
			if err != nil {
				return err
			}
			replacement, err = s.engine.PostInTx(ctx, tx, tenantID, draft, role)
			return err
		})
		if err != nil {
			return nil, err
		}
		return &ReversalResponse{
			OriginalJournalEntryID:    entryID,
			ReversalJournalEntryID:    reversal.ID,
			ReplacementJournalEntryID: replacement.ID,
			Status:                    string(replacement.Status),
			Message:                   "更正成功",
		}, nil
	})
}

func (s *ReversalService) reverseInTx(ctx context.Context, tx *gorm.DB, tenantID, entryID, eventID, reason, createdBy string, role ActorRole) (*model.JournalEntry, error) {
	// 先锁链头，同一租户的冲销检查与写入串行
	if _, err := s.chainRepo.LockHead(ctx, tx, tenantID); err != nil {
		return nil, fmt.Errorf("锁定哈希链失败: %w", err)
	}

	original, err := s.journalRepo.GetByID(ctx, tx, tenantID, entryID)
	if err != nil {
		return nil, err
	}
	if original.Status == model.JournalStatusReversal {
		return nil, fmt.Errorf("%w: 冲销凭证不能再次冲销", ErrInvalidReversal)
	}
	reversed, err := s.journalRepo.ExistsReversalOf(ctx, tx, entryID)
	if err != nil {
		return nil, fmt.Errorf("查询冲销记录失败: %w", err)
	}
	if reversed {
		return nil, fmt.Errorf("%w: 凭证 %s 已被冲销", ErrInvalidReversal, entryID)
	}

	description := "冲销凭证 " + original.ID
	if reason != "" {
		description += ": " + reason
	}
	draft := &model.DraftJournalEntry{
		TenantID:            tenantID,
		EventID:             eventID,
		PostedDate:          original.PostedDate,
		EffectiveDate:       original.PostedDate,
		TransactionDate:     original.PostedDate,
		Description:         description,
		ReferenceID:         original.ReferenceID,
		TransactionCurrency: original.TransactionCurrency,
		BaseCurrency:        original.BaseCurrency,
		ExchangeRate:        original.ExchangeRate,
		CreatedBy:           createdBy,
		ReversalOfID:        &original.ID,
		Lines:               model.MirrorLines(original.Lines),
	}

	reversal, err := s.engine.PostInTx(ctx, tx, tenantID, draft, role)
	if err != nil {
		return nil, err
	}
	s.log.Info("凭证已冲销",
		zap.String("tenant_id", tenantID),
		zap.String("original_id", original.ID),
		zap.String("reversal_id", reversal.ID))
	return reversal, nil
}
