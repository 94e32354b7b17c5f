package service

import (
	"context"
	"fmt"

	"ledgersystem/internal/model"
	"ledgersystem/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AutoReversalEventPrefix 自动冲销凭证的 event_id 前缀
const AutoReversalEventPrefix = "AUTO-REVERSE:"

// AutoReversalService 期间重新打开时，为上一期间标记自动冲销的凭证生成冲销，日期为本期间首日
type AutoReversalService struct {
	engine      *PostingEngine
	journalRepo *repository.JournalRepository
	periodRepo  *repository.PeriodRepository
	log         *zap.Logger
}

func NewAutoReversalService(db *gorm.DB, engine *PostingEngine, log *zap.Logger) *AutoReversalService {
	return &AutoReversalService{
		engine:      engine,
		journalRepo: repository.NewJournalRepository(db),
		periodRepo:  repository.NewPeriodRepository(db),
		log:         log,
	}
}

func (s *AutoReversalService) GenerateReversals(ctx context.Context, tx *gorm.DB, tenantID string, period *model.AccountingPeriod, actor string) (int, error) {
	periods, err := s.periodRepo.ListOrdered(ctx, tx, tenantID, "")
	if err != nil {
		return 0, fmt.Errorf("查询会计期间失败: %w", err)
	}

	var prior *model.AccountingPeriod
	for i, p := range periods {
		if p.ID == period.ID && i > 0 {
			prior = periods[i-1]
			break
		}
	}
	if prior == nil {
		s.log.Debug("没有上一期间，跳过自动冲销", zap.String("period_id", period.ID))
		return 0, nil
	}

	candidates, err := s.journalRepo.FindAutoReverseCandidates(ctx, tx, tenantID, prior.StartDate, prior.EndDate)
	if err != nil {
		return 0, fmt.Errorf("查询自动冲销凭证失败: %w", err)
	}

	count := 0
	for _, original := range candidates {
		eventID := AutoReversalEventPrefix + original.ID
		exists, err := s.journalRepo.ExistsByEventID(ctx, tx, tenantID, eventID)
		if err != nil {
			return count, fmt.Errorf("查询自动冲销记录失败: %w", err)
		}
		if exists {
			continue
		}

		lines, err := s.journalRepo.LinesOf(ctx, tx, original.ID)
		if err != nil {
			return count, fmt.Errorf("读取分录行失败: %w", err)
		}

		draft := &model.DraftJournalEntry{
			TenantID:            tenantID,
			EventID:             eventID,
			PostedDate:          period.StartDate,
			EffectiveDate:       period.StartDate,
			TransactionDate:     period.StartDate,
			Description:         "自动冲销凭证 " + original.ID,
			ReferenceID:         original.ReferenceID,
			TransactionCurrency: original.TransactionCurrency,
			BaseCurrency:        original.BaseCurrency,
			ExchangeRate:        original.ExchangeRate,
			CreatedBy:           actor,
			ReversalOfID:        &original.ID,
			Lines:               model.MirrorLines(lines),
		}
		reversal, err := s.engine.PostInTx(ctx, tx, tenantID, draft, RoleAdmin)
		if err != nil {
			return count, fmt.Errorf("自动冲销凭证 %s 失败: %w", original.ID, err)
		}
		count++

		s.log.Info("已生成自动冲销",
			zap.String("tenant_id", tenantID),
			zap.String("original_id", original.ID),
			zap.String("reversal_id", reversal.ID),
			zap.String("posted_date", period.StartDate.Format(model.DateLayout)))
	}
	return count, nil
}
