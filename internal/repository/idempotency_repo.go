package repository

import (
	"context"
	"errors"

	"ledgersystem/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrIdempotencyLogNotFound = errors.New("幂等记录不存在")

type IdempotencyRepository struct {
	db *gorm.DB
}

func NewIdempotencyRepository(db *gorm.DB) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

func (r *IdempotencyRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *IdempotencyRepository) Get(ctx context.Context, tx *gorm.DB, tenantID, eventID string) (*model.IdempotencyLog, error) {
	return r.get(r.conn(tx).WithContext(ctx), tenantID, eventID)
}

func (r *IdempotencyRepository) GetForUpdate(ctx context.Context, tx *gorm.DB, tenantID, eventID string) (*model.IdempotencyLog, error) {
	return r.get(tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), tenantID, eventID)
}

func (r *IdempotencyRepository) get(q *gorm.DB, tenantID, eventID string) (*model.IdempotencyLog, error) {
	var log model.IdempotencyLog
	err := q.Where("tenant_id = ? AND event_id = ?", tenantID, eventID).First(&log).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIdempotencyLogNotFound
		}
		return nil, err
	}
	return &log, nil
}

// InsertIfAbsent 主键冲突时不写入，返回是否插入成功
func (r *IdempotencyRepository) InsertIfAbsent(ctx context.Context, tx *gorm.DB, log *model.IdempotencyLog) (bool, error) {
	result := r.conn(tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "event_id"}},
			DoNothing: true,
		}).
		Create(log)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Upsert 写入或覆盖状态、哈希与响应
func (r *IdempotencyRepository) Upsert(ctx context.Context, tx *gorm.DB, log *model.IdempotencyLog) error {
	return r.conn(tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "event_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload_hash", "status", "response_body", "updated_at"}),
		}).
		Create(log).Error
}
