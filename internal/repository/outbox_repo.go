package repository

import (
	"context"
	"time"

	"ledgersystem/internal/model"

	"gorm.io/gorm"
)

type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) Create(ctx context.Context, tx *gorm.DB, event *model.OutboxEvent) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(event).Error
}

// GetUnpublished 最早写入的未投递事件
func (r *OutboxRepository) GetUnpublished(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	var events []*model.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("published = ?", false).
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, id int64, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.OutboxEvent{}).
		Where("id = ? AND published = ?", id, false).
		Updates(map[string]interface{}{
			"published":    true,
			"published_at": at,
		}).Error
}

func (r *OutboxRepository) CountUnpublished(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.OutboxEvent{}).
		Where("published = ?", false).
		Count(&count).Error
	return count, err
}

// OldestUnpublished 最早未投递事件，没有时返回 nil
func (r *OutboxRepository) OldestUnpublished(ctx context.Context) (*model.OutboxEvent, error) {
	var events []*model.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("published = ?", false).
		Order("id ASC").
		Limit(1).
		Find(&events).Error
	if err != nil || len(events) == 0 {
		return nil, err
	}
	return events[0], nil
}

// DeletePublishedBefore 清理保留期之前已投递的事件
func (r *OutboxRepository) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("published = ? AND published_at < ?", true, cutoff).
		Delete(&model.OutboxEvent{})
	return result.RowsAffected, result.Error
}
