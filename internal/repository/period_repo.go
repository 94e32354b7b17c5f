package repository

import (
	"context"
	"errors"
	"time"

	"ledgersystem/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrPeriodNotFound = errors.New("会计期间不存在")

type PeriodRepository struct {
	db *gorm.DB
}

func NewPeriodRepository(db *gorm.DB) *PeriodRepository {
	return &PeriodRepository{db: db}
}

func (r *PeriodRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *PeriodRepository) Create(ctx context.Context, tx *gorm.DB, period *model.AccountingPeriod) error {
	return r.conn(tx).WithContext(ctx).Create(period).Error
}

// GetForUpdate 锁定期间行，状态流转时使用
func (r *PeriodRepository) GetForUpdate(ctx context.Context, tx *gorm.DB, tenantID, id string) (*model.AccountingPeriod, error) {
	var period model.AccountingPeriod
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&period).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPeriodNotFound
		}
		return nil, err
	}
	return &period, nil
}

func (r *PeriodRepository) GetByID(ctx context.Context, tx *gorm.DB, tenantID, id string) (*model.AccountingPeriod, error) {
	var period model.AccountingPeriod
	err := r.conn(tx).WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&period).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPeriodNotFound
		}
		return nil, err
	}
	return &period, nil
}

// FindContaining 包含指定日期的期间
func (r *PeriodRepository) FindContaining(ctx context.Context, tx *gorm.DB, tenantID string, date time.Time) (*model.AccountingPeriod, error) {
	d := model.DateOf(date)
	var period model.AccountingPeriod
	err := r.conn(tx).WithContext(ctx).
		Where("tenant_id = ? AND start_date <= ? AND end_date >= ?", tenantID, d, d).
		First(&period).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPeriodNotFound
		}
		return nil, err
	}
	return &period, nil
}

// FindOverlapping 与 [start, end] 有交集的期间
func (r *PeriodRepository) FindOverlapping(ctx context.Context, tx *gorm.DB, tenantID string, start, end time.Time) ([]*model.AccountingPeriod, error) {
	var periods []*model.AccountingPeriod
	err := r.conn(tx).WithContext(ctx).
		Where("tenant_id = ? AND start_date <= ? AND end_date >= ?", tenantID, model.DateOf(end), model.DateOf(start)).
		Order("start_date ASC").
		Find(&periods).Error
	return periods, err
}

// ListOrdered 按开始日期升序，status 为空时不过滤
func (r *PeriodRepository) ListOrdered(ctx context.Context, tx *gorm.DB, tenantID string, status model.PeriodStatus) ([]*model.AccountingPeriod, error) {
	q := r.conn(tx).WithContext(ctx).Where("tenant_id = ?", tenantID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var periods []*model.AccountingPeriod
	err := q.Order("start_date ASC").Find(&periods).Error
	return periods, err
}

// SaveStatus 写回状态与关账信息，nil 会清空字段
func (r *PeriodRepository) SaveStatus(ctx context.Context, tx *gorm.DB, period *model.AccountingPeriod) error {
	return tx.WithContext(ctx).
		Model(&model.AccountingPeriod{}).
		Where("id = ?", period.ID).
		Updates(map[string]interface{}{
			"status":     period.Status,
			"closed_by":  period.ClosedBy,
			"closed_at":  period.ClosedAt,
			"updated_at": time.Now().UTC(),
		}).Error
}
