package model

import (
	"time"
)

// AccountType 科目类型
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

var AccountTypes = []AccountType{
	AccountTypeAsset,
	AccountTypeLiability,
	AccountTypeEquity,
	AccountTypeRevenue,
	AccountTypeExpense,
}

func (t AccountType) Valid() bool {
	for _, v := range AccountTypes {
		if v == t {
			return true
		}
	}
	return false
}

// DebitNormal 资产、费用类为借方余额
func (t AccountType) DebitNormal() bool {
	return t == AccountTypeAsset || t == AccountTypeExpense
}

// Account 会计科目
// current_balance 为本位币最小单位的带符号余额，只能在记账事务中加行锁后修改
type Account struct {
	ID             string      `gorm:"type:varchar(36);primaryKey" json:"id"`
	TenantID       string      `gorm:"type:varchar(36);uniqueIndex:uk_account_tenant_code;not null" json:"tenant_id"`
	Code           string      `gorm:"type:varchar(64);uniqueIndex:uk_account_tenant_code;not null" json:"code"`
	Name           string      `gorm:"type:varchar(128);not null" json:"name"`
	AccountType    AccountType `gorm:"type:varchar(16);index;not null" json:"account_type"`
	IsContra       bool        `gorm:"not null" json:"is_contra"`
	CurrencyCode   string      `gorm:"type:varchar(3);not null" json:"currency_code"`
	CurrentBalance int64       `gorm:"not null;default:0" json:"current_balance"`
	IsActive       bool        `gorm:"not null" json:"is_active"`
	CreatedAt      time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}

// DebitNormal 考虑备抵科目后的余额方向
func (a *Account) DebitNormal() bool {
	return a.AccountType.DebitNormal() != a.IsContra
}

// BalanceDelta 计算一条分录行对余额的影响
//
// 借方余额科目：借增贷减；贷方余额科目：贷增借减；备抵科目方向相反
func (a *Account) BalanceDelta(amount int64, isCredit bool) int64 {
	if a.DebitNormal() {
		if isCredit {
			return -amount
		}
		return amount
	}
	if isCredit {
		return amount
	}
	return -amount
}
