package service

import (
	"context"
	"errors"
	"fmt"

	"ledgersystem/internal/model"
	"ledgersystem/internal/repository"
	"ledgersystem/pkg/idgen"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RevaluationCalculator 计算期末外币重估调整凭证，汇率来源由实现方决定
type RevaluationCalculator interface {
	Adjustments(ctx context.Context, tx *gorm.DB, tenantID string, period *model.AccountingPeriod) ([]*model.DraftJournalEntry, error)
}

type RevaluationResponse struct {
	PeriodID                string   `json:"period_id"`
	RunID                   string   `json:"run_id"`
	GeneratedJournalEntries []string `json:"generated_journal_entry_ids"`
}

// RevaluationService 每个期间最多执行一次期末重估
type RevaluationService struct {
	db         *gorm.DB
	engine     *PostingEngine
	calculator RevaluationCalculator
	runRepo    *repository.RevaluationRepository
	periodRepo *repository.PeriodRepository
	log        *zap.Logger
}

// NewRevaluationService calculator 为 nil 时只登记执行记录
func NewRevaluationService(db *gorm.DB, engine *PostingEngine, calculator RevaluationCalculator, log *zap.Logger) *RevaluationService {
	return &RevaluationService{
		db:         db,
		engine:     engine,
		calculator: calculator,
		runRepo:    repository.NewRevaluationRepository(db),
		periodRepo: repository.NewPeriodRepository(db),
		log:        log,
	}
}

// Run 硬关账时调用；该期间已执行过则跳过
func (s *RevaluationService) Run(ctx context.Context, tx *gorm.DB, tenantID string, period *model.AccountingPeriod, actor string) error {
	_, err := s.execute(ctx, tx, tenantID, period, actor)
	if errors.Is(err, ErrRevaluationAlreadyRun) {
		s.log.Info("期末重估已执行过，跳过",
			zap.String("tenant_id", tenantID),
			zap.String("period_id", period.ID))
		return nil
	}
	return err
}

// RunForPeriod 手工触发期末重估，期间必须已关账，重复执行返回 ErrRevaluationAlreadyRun
func (s *RevaluationService) RunForPeriod(ctx context.Context, tenantID, periodID, actor string) (*RevaluationResponse, error) {
	var resp *RevaluationResponse
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		period, err := s.periodRepo.GetForUpdate(ctx, tx, tenantID, periodID)
		if err != nil {
			return err
		}
		if period.Status == model.PeriodStatusOpen {
			return fmt.Errorf("%w: 期间 %s 需先关账才能重估", ErrInvalidPeriodTransition, period.Name)
		}
		resp, err = s.execute(ctx, tx, tenantID, period, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *RevaluationService) execute(ctx context.Context, tx *gorm.DB, tenantID string, period *model.AccountingPeriod, actor string) (*RevaluationResponse, error) {
	run := &model.RevaluationRun{
		ID:        idgen.NewUUID(),
		TenantID:  tenantID,
		PeriodID:  period.ID,
		EventID:   "REVALUATION:" + period.ID,
		CreatedBy: actor,
	}
	if err := s.runRepo.Record(ctx, tx, run); err != nil {
		return nil, err
	}

	resp := &RevaluationResponse{PeriodID: period.ID, RunID: run.ID, GeneratedJournalEntries: []string{}}
	if s.calculator == nil {
		return resp, nil
	}

	drafts, err := s.calculator.Adjustments(ctx, tx, tenantID, period)
	if err != nil {
		return nil, fmt.Errorf("计算重估调整失败: %w", err)
	}
	for _, draft := range drafts {
		if draft.CreatedBy == "" {
			draft.CreatedBy = actor
		}
		// 重估凭证记在软关账期间内，以管理员身份通过准入校验
		entry, err := s.engine.PostInTx(ctx, tx, tenantID, draft, RoleAdmin)
		if err != nil {
			return nil, fmt.Errorf("重估凭证记账失败: %w", err)
		}
		resp.GeneratedJournalEntries = append(resp.GeneratedJournalEntries, entry.ID)
	}

	s.log.Info("期末重估完成",
		zap.String("tenant_id", tenantID),
		zap.String("period_id", period.ID),
		zap.Int("generated", len(resp.GeneratedJournalEntries)))
	return resp, nil
}
