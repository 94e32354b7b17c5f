package repository

import (
	"context"
	"errors"
	"sort"

	"ledgersystem/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound  = errors.New("科目不存在")
	ErrDuplicateAccount = errors.New("科目编码已存在")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *AccountRepository) Create(ctx context.Context, tx *gorm.DB, account *model.Account) error {
	err := r.conn(tx).WithContext(ctx).Create(account).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateAccount
	}
	return err
}

func (r *AccountRepository) GetByCode(ctx context.Context, tx *gorm.DB, tenantID, code string) (*model.Account, error) {
	var account model.Account
	err := r.conn(tx).WithContext(ctx).
		Where("tenant_id = ? AND code = ?", tenantID, code).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetByCodeForUpdate SELECT ... FOR UPDATE 锁定科目行，必须在事务中调用
func (r *AccountRepository) GetByCodeForUpdate(ctx context.Context, tx *gorm.DB, tenantID, code string) (*model.Account, error) {
	var account model.Account
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND code = ?", tenantID, code).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetByCodes 批量读取，返回 code -> 科目，不存在的 code 不在结果中
func (r *AccountRepository) GetByCodes(ctx context.Context, tx *gorm.DB, tenantID string, codes []string) (map[string]*model.Account, error) {
	var accounts []*model.Account
	err := r.conn(tx).WithContext(ctx).
		Where("tenant_id = ? AND code IN ?", tenantID, codes).
		Find(&accounts).Error
	if err != nil {
		return nil, err
	}

	result := make(map[string]*model.Account, len(accounts))
	for _, a := range accounts {
		result[a.Code] = a
	}
	return result, nil
}

// ApplyDelta 在已持有行锁的前提下调整余额
func (r *AccountRepository) ApplyDelta(ctx context.Context, tx *gorm.DB, accountID string, delta int64) error {
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", accountID).
		UpdateColumn("current_balance", gorm.Expr("current_balance + ?", delta))

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ListNonZeroByTypes 指定类型中余额非零的科目，按编码排序
func (r *AccountRepository) ListNonZeroByTypes(ctx context.Context, tx *gorm.DB, tenantID string, types []model.AccountType) ([]*model.Account, error) {
	var accounts []*model.Account
	err := r.conn(tx).WithContext(ctx).
		Where("tenant_id = ? AND account_type IN ? AND current_balance <> 0", tenantID, types).
		Order("code ASC").
		Find(&accounts).Error
	return accounts, err
}

// BalanceSum 按类型与是否备抵汇总的余额
type BalanceSum struct {
	AccountType model.AccountType
	IsContra    bool
	Total       int64
}

func (r *AccountRepository) SumBalancesByType(ctx context.Context, tenantID string) ([]BalanceSum, error) {
	var sums []BalanceSum
	err := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Select("account_type, is_contra, COALESCE(SUM(current_balance), 0) AS total").
		Where("tenant_id = ?", tenantID).
		Group("account_type, is_contra").
		Scan(&sums).Error
	return sums, err
}

// ListTenantIDs 有科目的全部租户
func (r *AccountRepository) ListTenantIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Distinct().
		Pluck("tenant_id", &ids).Error
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// SetActive 启用或停用科目
func (r *AccountRepository) SetActive(ctx context.Context, tenantID, code string, active bool) error {
	result := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("tenant_id = ? AND code = ?", tenantID, code).
		Update("is_active", active)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}
