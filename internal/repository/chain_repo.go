package repository

import (
	"context"

	"ledgersystem/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChainRepository 哈希链链头与凭证序号
type ChainRepository struct {
	db *gorm.DB
}

func NewChainRepository(db *gorm.DB) *ChainRepository {
	return &ChainRepository{db: db}
}

// LockHead 锁定租户链头，不存在时以创世值初始化
//
// 链头行锁让同一租户的凭证按提交顺序依次接到链尾，不会出现两张凭证指向同一个 previous_hash。
func (r *ChainRepository) LockHead(ctx context.Context, tx *gorm.DB, tenantID string) (*model.ChainHead, error) {
	err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}},
			DoNothing: true,
		}).
		Create(&model.ChainHead{TenantID: tenantID, LastHash: model.GenesisHash}).Error
	if err != nil {
		return nil, err
	}

	var head model.ChainHead
	err = tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ?", tenantID).
		First(&head).Error
	if err != nil {
		return nil, err
	}
	return &head, nil
}

func (r *ChainRepository) Advance(ctx context.Context, tx *gorm.DB, tenantID, hash string, index int64) error {
	return tx.WithContext(ctx).
		Model(&model.ChainHead{}).
		Where("tenant_id = ?", tenantID).
		Updates(map[string]interface{}{
			"last_hash":  hash,
			"last_index": index,
		}).Error
}

// Head 只读链头，用于校验
func (r *ChainRepository) Head(ctx context.Context, tenantID string) (*model.ChainHead, error) {
	var head model.ChainHead
	err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Limit(1).Find(&head).Error
	if err != nil {
		return nil, err
	}
	if head.TenantID == "" {
		return &model.ChainHead{TenantID: tenantID, LastHash: model.GenesisHash}, nil
	}
	return &head, nil
}

// NextSequence 分配租户 + 会计年度内的下一个凭证序号
func (r *ChainRepository) NextSequence(ctx context.Context, tx *gorm.DB, tenantID string, fiscalYear int) (int64, error) {
	err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "fiscal_year"}},
			DoNothing: true,
		}).
		Create(&model.JournalSequence{TenantID: tenantID, FiscalYear: fiscalYear, NextValue: 1}).Error
	if err != nil {
		return 0, err
	}

	var seq model.JournalSequence
	err = tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND fiscal_year = ?", tenantID, fiscalYear).
		First(&seq).Error
	if err != nil {
		return 0, err
	}

	err = tx.WithContext(ctx).
		Model(&model.JournalSequence{}).
		Where("tenant_id = ? AND fiscal_year = ?", tenantID, fiscalYear).
		UpdateColumn("next_value", gorm.Expr("next_value + 1")).Error
	if err != nil {
		return 0, err
	}
	return seq.NextValue, nil
}
