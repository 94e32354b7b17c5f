package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"ledgersystem/internal/model"
	"ledgersystem/internal/repository"

	"gorm.io/gorm"
)

// CheckBalance 交易币与本位币两套金额都要借贷平衡，每行金额必须大于零，至少各有一行
func CheckBalance(lines []model.DraftJournalLine) error {
	var debits, credits, baseDebits, baseCredits int64
	var debitLines, creditLines int
	for _, line := range lines {
		amount, base := line.AmountCents, line.BaseAmount()
		if amount <= 0 || base <= 0 {
			return &UnbalancedEntryError{TotalDebits: debits, TotalCredits: credits, Reason: "分录金额必须大于零"}
		}

		var ok bool
		if line.IsCredit {
			if credits, ok = addAmount(credits, amount); ok {
				baseCredits, ok = addAmount(baseCredits, base)
			}
			creditLines++
		} else {
			if debits, ok = addAmount(debits, amount); ok {
				baseDebits, ok = addAmount(baseDebits, base)
			}
			debitLines++
		}
		if !ok {
			return &UnbalancedEntryError{TotalDebits: debits, TotalCredits: credits, Reason: "分录金额合计溢出"}
		}
	}

	if debitLines == 0 || creditLines == 0 {
		return &UnbalancedEntryError{TotalDebits: debits, TotalCredits: credits, Reason: "至少需要一条借方和一条贷方分录"}
	}
	if debits != credits {
		return &UnbalancedEntryError{TotalDebits: debits, TotalCredits: credits}
	}
	if baseDebits != baseCredits {
		return &UnbalancedEntryError{TotalDebits: baseDebits, TotalCredits: baseCredits, Reason: "本位币借贷不平衡"}
	}
	return nil
}

// addAmount 溢出时返回 false，sum 保持不变
func addAmount(sum, amount int64) (int64, bool) {
	if amount > math.MaxInt64-sum {
		return sum, false
	}
	return sum + amount, true
}

// Validator 记账前校验，只读
type Validator struct {
	accountRepo *repository.AccountRepository
}

func NewValidator(db *gorm.DB) *Validator {
	return &Validator{accountRepo: repository.NewAccountRepository(db)}
}

// Validate 校验借贷平衡、科目状态与科目币种，返回按科目编码索引的科目
func (v *Validator) Validate(ctx context.Context, tx *gorm.DB, draft *model.DraftJournalEntry) (map[string]*model.Account, error) {
	return v.validate(ctx, tx, draft, true)
}

// ValidateClosing 年结凭证使用，科目可以是任意币种
func (v *Validator) ValidateClosing(ctx context.Context, tx *gorm.DB, draft *model.DraftJournalEntry) (map[string]*model.Account, error) {
	return v.validate(ctx, tx, draft, false)
}

func (v *Validator) validate(ctx context.Context, tx *gorm.DB, draft *model.DraftJournalEntry, checkCurrency bool) (map[string]*model.Account, error) {
	if err := CheckBalance(draft.Lines); err != nil {
		return nil, err
	}

	codes := make([]string, 0, len(draft.Lines))
	for _, line := range draft.Lines {
		codes = append(codes, line.AccountCode)
	}

	accounts, err := v.accountRepo.GetByCodes(ctx, tx, draft.TenantID, codes)
	if err != nil {
		return nil, fmt.Errorf("查询科目失败: %w", err)
	}

	for _, code := range codes {
		account, ok := accounts[code]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, code)
		}
		if !account.IsActive {
			return nil, fmt.Errorf("%w: %s", ErrInactiveAccount, code)
		}
		if checkCurrency && !strings.EqualFold(account.CurrencyCode, draft.TransactionCurrency) {
			return nil, fmt.Errorf("%w: %s 为 %s，交易币种为 %s", ErrAccountCurrencyMismatch, code, account.CurrencyCode, draft.TransactionCurrency)
		}
	}
	return accounts, nil
}

// IsValidationError 校验类错误，不应重试
func IsValidationError(err error) bool {
	return errors.Is(err, ErrUnbalancedEntry) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrInactiveAccount) ||
		errors.Is(err, ErrAccountCurrencyMismatch)
}
