package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledgersystem/internal/model"
	"ledgersystem/internal/repository"
	"ledgersystem/pkg/idgen"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AutoReverser 期间从软关账重新打开时生成自动冲销
type AutoReverser interface {
	GenerateReversals(ctx context.Context, tx *gorm.DB, tenantID string, period *model.AccountingPeriod, actor string) (int, error)
}

// Revaluer 期间硬关账前执行期末重估
type Revaluer interface {
	Run(ctx context.Context, tx *gorm.DB, tenantID string, period *model.AccountingPeriod, actor string) error
}

// PeriodGate 记账日期所在期间的准入校验
type PeriodGate struct {
	periodRepo *repository.PeriodRepository
}

func NewPeriodGate(db *gorm.DB) *PeriodGate {
	return &PeriodGate{periodRepo: repository.NewPeriodRepository(db)}
}

// ValidatePostingAllowed 硬关账一律拒绝；软关账只允许 FIS_ADMIN
func (g *PeriodGate) ValidatePostingAllowed(ctx context.Context, tx *gorm.DB, tenantID string, date time.Time, role ActorRole) error {
	period, err := g.periodRepo.FindContaining(ctx, tx, tenantID, date)
	if err != nil {
		if errors.Is(err, repository.ErrPeriodNotFound) {
			return fmt.Errorf("%w: %s", ErrAccountingPeriodNotFound, date.Format(model.DateLayout))
		}
		return fmt.Errorf("查询会计期间失败: %w", err)
	}

	switch period.Status {
	case model.PeriodStatusHardClosed:
		return fmt.Errorf("%w: %s 已硬关账", ErrPeriodClosed, period.Name)
	case model.PeriodStatusSoftClosed:
		if role != RoleAdmin {
			return fmt.Errorf("%w: %s 已软关账，仅管理员可记账", ErrPeriodClosed, period.Name)
		}
	}
	return nil
}

// CreatePeriodRequest 新建会计期间
type CreatePeriodRequest struct {
	Name      string    `json:"name"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// PeriodService 会计期间创建与状态流转
type PeriodService struct {
	db           *gorm.DB
	periodRepo   *repository.PeriodRepository
	autoReverser AutoReverser
	revaluer     Revaluer
	log          *zap.Logger
}

func NewPeriodService(db *gorm.DB, autoReverser AutoReverser, revaluer Revaluer, log *zap.Logger) *PeriodService {
	return &PeriodService{
		db:           db,
		periodRepo:   repository.NewPeriodRepository(db),
		autoReverser: autoReverser,
		revaluer:     revaluer,
		log:          log,
	}
}

// CreatePeriod 新期间为 OPEN，日期区间不能与已有期间重叠
func (s *PeriodService) CreatePeriod(ctx context.Context, tenantID string, req CreatePeriodRequest) (*model.AccountingPeriod, error) {
	start, end := model.DateOf(req.StartDate), model.DateOf(req.EndDate)
	if req.Name == "" || req.StartDate.IsZero() || req.EndDate.IsZero() {
		return nil, fmt.Errorf("%w: 期间名称与起止日期必填", ErrInvalidArgument)
	}
	if start.After(end) {
		return nil, fmt.Errorf("%w: 开始日期晚于结束日期", ErrInvalidArgument)
	}

	period := &model.AccountingPeriod{
		ID:        idgen.NewUUID(),
		TenantID:  tenantID,
		Name:      req.Name,
		StartDate: start,
		EndDate:   end,
		Status:    model.PeriodStatusOpen,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		overlapping, err := s.periodRepo.FindOverlapping(ctx, tx, tenantID, start, end)
		if err != nil {
			return fmt.Errorf("查询会计期间失败: %w", err)
		}
		if len(overlapping) > 0 {
			return fmt.Errorf("%w: 与期间 %s 重叠", ErrOverlappingAccountingPeriod, overlapping[0].Name)
		}
		if err := s.periodRepo.Create(ctx, tx, period); err != nil {
			return fmt.Errorf("创建会计期间失败: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("会计期间已创建",
		zap.String("tenant_id", tenantID),
		zap.String("period_id", period.ID),
		zap.String("name", period.Name))
	return period, nil
}

func (s *PeriodService) ListPeriods(ctx context.Context, tenantID string, status model.PeriodStatus) ([]*model.AccountingPeriod, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: 期间状态 %s", ErrInvalidArgument, status)
	}
	return s.periodRepo.ListOrdered(ctx, nil, tenantID, status)
}

func (s *PeriodService) GetPeriod(ctx context.Context, tenantID, periodID string) (*model.AccountingPeriod, error) {
	return s.periodRepo.GetByID(ctx, nil, tenantID, periodID)
}

// ChangeStatus 状态流转与副作用在同一事务内完成，任一步失败整体回滚
//
//	OPEN        -> SOFT_CLOSED  记录关账人
//	SOFT_CLOSED -> OPEN         清空关账信息，生成自动冲销
//	SOFT_CLOSED -> HARD_CLOSED  之前的期间必须都已硬关账，执行期末重估
//	HARD_CLOSED -> OPEN         之后的期间必须都是 OPEN
func (s *PeriodService) ChangeStatus(ctx context.Context, tenantID, periodID string, target model.PeriodStatus, actor string) (*model.AccountingPeriod, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: 期间状态 %s", ErrInvalidArgument, target)
	}

	var period *model.AccountingPeriod
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		period, err = s.periodRepo.GetForUpdate(ctx, tx, tenantID, periodID)
		if err != nil {
			return err
		}

		current := period.Status
		if current == target {
			return nil
		}
		if !model.CanTransitionPeriod(current, target) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidPeriodTransition, current, target)
		}

		switch {
		case current == model.PeriodStatusOpen && target == model.PeriodStatusSoftClosed:
			s.markClosed(period, target, actor)
			return s.periodRepo.SaveStatus(ctx, tx, period)

		case current == model.PeriodStatusSoftClosed && target == model.PeriodStatusOpen:
			s.reopen(period)
			// 先落状态，自动冲销的准入校验要看到 OPEN
			if err := s.periodRepo.SaveStatus(ctx, tx, period); err != nil {
				return err
			}
			if s.autoReverser == nil {
				return nil
			}
			n, err := s.autoReverser.GenerateReversals(ctx, tx, tenantID, period, actor)
			if err != nil {
				return fmt.Errorf("生成自动冲销失败: %w", err)
			}
			if n > 0 {
				s.log.Info("期间重新打开，已生成自动冲销",
					zap.String("tenant_id", tenantID),
					zap.String("period_id", period.ID),
					zap.Int("count", n))
			}
			return nil

		case current == model.PeriodStatusSoftClosed && target == model.PeriodStatusHardClosed:
			if err := s.enforceSequentialHardClose(ctx, tx, period); err != nil {
				return err
			}
			// 重估凭证在软关账状态下以管理员身份记账，必须先于状态变更
			if s.revaluer != nil {
				if err := s.revaluer.Run(ctx, tx, tenantID, period, actor); err != nil {
					return fmt.Errorf("期末重估失败: %w", err)
				}
			}
			s.markClosed(period, target, actor)
			return s.periodRepo.SaveStatus(ctx, tx, period)

		case current == model.PeriodStatusHardClosed && target == model.PeriodStatusOpen:
			if err := s.enforceCascadingReopen(ctx, tx, period); err != nil {
				return err
			}
			s.reopen(period)
			return s.periodRepo.SaveStatus(ctx, tx, period)
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidPeriodTransition, current, target)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("会计期间状态已更新",
		zap.String("tenant_id", tenantID),
		zap.String("period_id", period.ID),
		zap.String("status", string(period.Status)),
		zap.String("actor", actor))
	return period, nil
}

func (s *PeriodService) markClosed(period *model.AccountingPeriod, status model.PeriodStatus, actor string) {
	now := time.Now().UTC()
	period.Status = status
	period.ClosedBy = &actor
	period.ClosedAt = &now
}

func (s *PeriodService) reopen(period *model.AccountingPeriod) {
	period.Status = model.PeriodStatusOpen
	period.ClosedBy = nil
	period.ClosedAt = nil
}

func (s *PeriodService) enforceSequentialHardClose(ctx context.Context, tx *gorm.DB, period *model.AccountingPeriod) error {
	periods, err := s.periodRepo.ListOrdered(ctx, tx, period.TenantID, "")
	if err != nil {
		return fmt.Errorf("查询会计期间失败: %w", err)
	}
	for _, p := range periods {
		if p.StartDate.Before(period.StartDate) && p.Status != model.PeriodStatusHardClosed {
			return fmt.Errorf("%w: 之前的期间 %s 尚未硬关账", ErrInvalidPeriodTransition, p.Name)
		}
	}
	return nil
}

func (s *PeriodService) enforceCascadingReopen(ctx context.Context, tx *gorm.DB, period *model.AccountingPeriod) error {
	periods, err := s.periodRepo.ListOrdered(ctx, tx, period.TenantID, "")
	if err != nil {
		return fmt.Errorf("查询会计期间失败: %w", err)
	}
	for _, p := range periods {
		if p.StartDate.After(period.StartDate) && p.Status != model.PeriodStatusOpen {
			return fmt.Errorf("%w: 之后的期间 %s 需要先重新打开", ErrInvalidPeriodTransition, p.Name)
		}
	}
	return nil
}
