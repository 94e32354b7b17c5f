package repository

import (
	"context"
	"errors"

	"ledgersystem/internal/model"

	"gorm.io/gorm"
)

var ErrRevaluationAlreadyRun = errors.New("该期间已执行期末重估")

type RevaluationRepository struct {
	db *gorm.DB
}

func NewRevaluationRepository(db *gorm.DB) *RevaluationRepository {
	return &RevaluationRepository{db: db}
}

// Record 登记一次重估，同一期间重复登记返回 ErrRevaluationAlreadyRun
func (r *RevaluationRepository) Record(ctx context.Context, tx *gorm.DB, run *model.RevaluationRun) error {
	if tx == nil {
		tx = r.db
	}

	var count int64
	err := tx.WithContext(ctx).
		Model(&model.RevaluationRun{}).
		Where("tenant_id = ? AND period_id = ?", run.TenantID, run.PeriodID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrRevaluationAlreadyRun
	}

	err = tx.WithContext(ctx).Create(run).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrRevaluationAlreadyRun
	}
	return err
}
