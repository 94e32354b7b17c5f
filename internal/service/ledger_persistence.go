package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"ledgersystem/internal/model"
	"ledgersystem/internal/repository"
	"ledgersystem/pkg/idgen"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// BalanceUpdater 按科目编码排序加行锁后调整余额
//
// 所有记账事务都以相同顺序加锁，借贷方向相反的并发凭证不会互相等待成环。
type BalanceUpdater struct {
	accountRepo *repository.AccountRepository
}

func NewBalanceUpdater(db *gorm.DB) *BalanceUpdater {
	return &BalanceUpdater{accountRepo: repository.NewAccountRepository(db)}
}

// Apply 同一科目的多条分录行先合并，再逐个科目加锁更新
func (u *BalanceUpdater) Apply(ctx context.Context, tx *gorm.DB, tenantID string, lines []model.JournalLine) error {
	byCode := make(map[string][]model.JournalLine)
	for _, line := range lines {
		byCode[line.AccountCode] = append(byCode[line.AccountCode], line)
	}

	codes := make([]string, 0, len(byCode))
	for code := range byCode {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, code := range codes {
		account, err := u.accountRepo.GetByCodeForUpdate(ctx, tx, tenantID, code)
		if err != nil {
			if errors.Is(err, repository.ErrAccountNotFound) {
				return fmt.Errorf("%w: %s", ErrAccountNotFound, code)
			}
			return fmt.Errorf("锁定科目失败: %w", err)
		}

		var delta int64
		for _, line := range byCode[code] {
			delta += account.BalanceDelta(line.BaseAmount, line.IsCredit)
		}
		if delta == 0 {
			continue
		}
		if err := u.accountRepo.ApplyDelta(ctx, tx, account.ID, delta); err != nil {
			return fmt.Errorf("更新科目余额失败: %w", err)
		}
	}
	return nil
}

// LedgerPersistence 在调用方事务内写入凭证、推进哈希链并更新余额
type LedgerPersistence struct {
	accountRepo *repository.AccountRepository
	journalRepo *repository.JournalRepository
	chainRepo   *repository.ChainRepository
	balances    *BalanceUpdater
	log         *zap.Logger
}

func NewLedgerPersistence(db *gorm.DB, log *zap.Logger) *LedgerPersistence {
	return &LedgerPersistence{
		accountRepo: repository.NewAccountRepository(db),
		journalRepo: repository.NewJournalRepository(db),
		chainRepo:   repository.NewChainRepository(db),
		balances:    NewBalanceUpdater(db),
		log:         log,
	}
}

// Persist 加锁顺序固定为：链头 -> 凭证序号 -> 科目（按编码排序）
func (p *LedgerPersistence) Persist(ctx context.Context, tx *gorm.DB, draft *model.DraftJournalEntry) (*model.JournalEntry, error) {
	head, err := p.chainRepo.LockHead(ctx, tx, draft.TenantID)
	if err != nil {
		return nil, fmt.Errorf("锁定哈希链失败: %w", err)
	}

	seq, err := p.chainRepo.NextSequence(ctx, tx, draft.TenantID, draft.FiscalYear())
	if err != nil {
		return nil, fmt.Errorf("分配凭证序号失败: %w", err)
	}

	codes := make([]string, 0, len(draft.Lines))
	for _, line := range draft.Lines {
		codes = append(codes, line.AccountCode)
	}
	accounts, err := p.accountRepo.GetByCodes(ctx, tx, draft.TenantID, codes)
	if err != nil {
		return nil, fmt.Errorf("查询科目失败: %w", err)
	}

	id := idgen.NewUUID()
	createdAt := time.Now().UTC().Truncate(time.Millisecond)
	status := model.JournalStatusPosted
	if draft.ReversalOfID != nil {
		status = model.JournalStatusReversal
	}

	entry := &model.JournalEntry{
		ID:                  id,
		TenantID:            draft.TenantID,
		EventID:             draft.EventID,
		PostedDate:          model.DateOf(draft.PostedDate),
		EffectiveDate:       model.DateOf(draft.EffectiveDate),
		TransactionDate:     model.DateOf(draft.TransactionDate),
		Description:         draft.Description,
		ReferenceID:         draft.ReferenceID,
		Status:              status,
		ReversalOfID:        draft.ReversalOfID,
		AutoReverse:         draft.AutoReverse,
		TransactionCurrency: draft.TransactionCurrency,
		BaseCurrency:        draft.BaseCurrency,
		ExchangeRate:        draft.ExchangeRate,
		CreatedBy:           draft.CreatedBy,
		CreatedAt:           createdAt,
		PreviousHash:        head.LastHash,
		Hash:                ComputeHash(id, head.LastHash, createdAt),
		ChainIndex:          head.LastIndex + 1,
		FiscalYear:          draft.FiscalYear(),
		SequenceNumber:      seq,
	}

	entry.Lines = make([]model.JournalLine, 0, len(draft.Lines))
	for i, line := range draft.Lines {
		account, ok := accounts[line.AccountCode]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, line.AccountCode)
		}
		var dims datatypes.JSONMap
		if len(line.Dimensions) > 0 {
			dims = make(datatypes.JSONMap, len(line.Dimensions))
			for k, v := range line.Dimensions {
				dims[k] = v
			}
		}
		entry.Lines = append(entry.Lines, model.JournalLine{
			ID:             idgen.NewUUID(),
			JournalEntryID: id,
			LineNo:         i + 1,
			AccountID:      account.ID,
			AccountCode:    account.Code,
			Amount:         line.AmountCents,
			BaseAmount:     line.BaseAmount(),
			IsCredit:       line.IsCredit,
			Dimensions:     dims,
			CreatedAt:      createdAt,
		})
	}

	if err := p.journalRepo.Insert(ctx, tx, entry); err != nil {
		if errors.Is(err, repository.ErrDuplicateEventID) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateIdempotencyKey, draft.EventID)
		}
		return nil, fmt.Errorf("写入凭证失败: %w", err)
	}

	if err := p.balances.Apply(ctx, tx, draft.TenantID, entry.Lines); err != nil {
		return nil, err
	}

	if err := p.chainRepo.Advance(ctx, tx, draft.TenantID, entry.Hash, entry.ChainIndex); err != nil {
		return nil, fmt.Errorf("推进哈希链失败: %w", err)
	}

	p.log.Debug("凭证已写入",
		zap.String("tenant_id", entry.TenantID),
		zap.String("entry_id", entry.ID),
		zap.Int64("chain_index", entry.ChainIndex),
		zap.Int64("sequence", entry.SequenceNumber))
	return entry, nil
}
