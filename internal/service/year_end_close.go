package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ledgersystem/internal/model"
	"ledgersystem/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type YearEndCloseRequest struct {
	FiscalYear                  int    `json:"fiscal_year" binding:"required"`
	RetainedEarningsAccountCode string `json:"retained_earnings_account_code" binding:"required"`
	BaseCurrency                string `json:"base_currency" binding:"required"`
	CreatedBy                   string `json:"created_by,omitempty"`
}

type YearEndCloseResponse struct {
	FiscalYear                  int    `json:"fiscal_year"`
	ClosingJournalEntryID       string `json:"closing_journal_entry_id,omitempty"`
	TotalRevenue                int64  `json:"total_revenue"`
	TotalExpenses               int64  `json:"total_expenses"`
	NetIncome                   int64  `json:"net_income"`
	AccountsClosed              int    `json:"accounts_closed"`
	RetainedEarningsAccountCode string `json:"retained_earnings_account_code"`
	Message                     string `json:"message"`
}

// YearEndCloseService 年结：损益类科目余额结转留存收益
type YearEndCloseService struct {
	db          *gorm.DB
	engine      *PostingEngine
	accountRepo *repository.AccountRepository
	periodRepo  *repository.PeriodRepository
	journalRepo *repository.JournalRepository
	chainRepo   *repository.ChainRepository
	log         *zap.Logger
}

func NewYearEndCloseService(db *gorm.DB, engine *PostingEngine, log *zap.Logger) *YearEndCloseService {
	return &YearEndCloseService{
		db:          db,
		engine:      engine,
		accountRepo: repository.NewAccountRepository(db),
		periodRepo:  repository.NewPeriodRepository(db),
		journalRepo: repository.NewJournalRepository(db),
		chainRepo:   repository.NewChainRepository(db),
		log:         log,
	}
}

// YearEndEventID 年结凭证的 event_id，每个租户每年一张
func YearEndEventID(fiscalYear int) string {
	return "YEAR-END-CLOSE:" + strconv.Itoa(fiscalYear)
}

// Close 年内所有期间必须已硬关账；结转凭证日期为 12 月 31 日，不经过期间准入校验
func (s *YearEndCloseService) Close(ctx context.Context, tenantID string, req *YearEndCloseRequest) (*YearEndCloseResponse, error) {
	if req.FiscalYear <= 0 || req.RetainedEarningsAccountCode == "" || req.BaseCurrency == "" {
		return nil, fmt.Errorf("%w: 年度、留存收益科目与本位币必填", ErrInvalidArgument)
	}

	resp := &YearEndCloseResponse{
		FiscalYear:                  req.FiscalYear,
		RetainedEarningsAccountCode: req.RetainedEarningsAccountCode,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 锁链头后余额不会被并发记账改变
		if _, err := s.chainRepo.LockHead(ctx, tx, tenantID); err != nil {
			return fmt.Errorf("锁定哈希链失败: %w", err)
		}

		retained, err := s.accountRepo.GetByCode(ctx, tx, tenantID, req.RetainedEarningsAccountCode)
		if err != nil {
			return fmt.Errorf("留存收益科目 %s: %w", req.RetainedEarningsAccountCode, err)
		}
		if retained.AccountType != model.AccountTypeEquity {
			return fmt.Errorf("%w: 留存收益科目必须是 EQUITY，当前为 %s", ErrYearEndClose, retained.AccountType)
		}

		if err := s.validatePeriodsHardClosed(ctx, tx, tenantID, req.FiscalYear); err != nil {
			return err
		}

		eventID := YearEndEventID(req.FiscalYear)
		done, err := s.journalRepo.ExistsByEventID(ctx, tx, tenantID, eventID)
		if err != nil {
			return fmt.Errorf("查询年结凭证失败: %w", err)
		}
		if done {
			return fmt.Errorf("%w: %d 年已完成年结", ErrYearEndClose, req.FiscalYear)
		}

		accounts, err := s.accountRepo.ListNonZeroByTypes(ctx, tx, tenantID, []model.AccountType{model.AccountTypeRevenue, model.AccountTypeExpense})
		if err != nil {
			return fmt.Errorf("查询损益类科目失败: %w", err)
		}
		if len(accounts) == 0 {
			resp.Message = "没有需要结转的损益类科目"
			return nil
		}

		lines, totals := ClosingLines(accounts, retained.Code)
		resp.TotalRevenue = totals.Revenue
		resp.TotalExpenses = totals.Expenses
		resp.NetIncome = totals.NetIncome
		resp.AccountsClosed = len(accounts)

		closing := time.Date(req.FiscalYear, time.December, 31, 0, 0, 0, 0, time.UTC)
		createdBy := req.CreatedBy
		if createdBy == "" {
			createdBy = "system"
		}
		draft := &model.DraftJournalEntry{
			TenantID:            tenantID,
			EventID:             eventID,
			PostedDate:          closing,
			EffectiveDate:       closing,
			TransactionDate:     closing,
			Description:         fmt.Sprintf("%d 年度结转", req.FiscalYear),
			ReferenceID:         "YEC-" + strconv.Itoa(req.FiscalYear),
			TransactionCurrency: strings.ToUpper(req.BaseCurrency),
			BaseCurrency:        strings.ToUpper(req.BaseCurrency),
			CreatedBy:           createdBy,
			Lines:               lines,
		}

		entry, err := s.engine.post(ctx, tx, tenantID, draft, RoleAdmin, false)
		if err != nil {
			return err
		}
		resp.ClosingJournalEntryID = entry.ID
		resp.Message = "年结完成"
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("年结完成",
		zap.String("tenant_id", tenantID),
		zap.Int("fiscal_year", req.FiscalYear),
		zap.Int64("net_income", resp.NetIncome),
		zap.String("closing_entry_id", resp.ClosingJournalEntryID))
	return resp, nil
}

func (s *YearEndCloseService) validatePeriodsHardClosed(ctx context.Context, tx *gorm.DB, tenantID string, year int) error {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)

	periods, err := s.periodRepo.FindOverlapping(ctx, tx, tenantID, start, end)
	if err != nil {
		return fmt.Errorf("查询会计期间失败: %w", err)
	}
	if len(periods) == 0 {
		return fmt.Errorf("%w: %d 年没有会计期间", ErrYearEndClose, year)
	}

	var notClosed []string
	for _, p := range periods {
		if p.Status != model.PeriodStatusHardClosed {
			notClosed = append(notClosed, fmt.Sprintf("%s(%s)", p.Name, p.Status))
		}
	}
	if len(notClosed) > 0 {
		return fmt.Errorf("%w: 以下期间未硬关账 %s", ErrYearEndClose, strings.Join(notClosed, ", "))
	}
	return nil
}

// ClosingTotals 结转汇总，收入与费用均按正常余额方向计，备抵科目冲减
type ClosingTotals struct {
	Revenue   int64
	Expenses  int64
	NetIncome int64
}

// ClosingLines 生成把科目余额归零的分录行，差额记入留存收益
//
// 方向由科目正常余额方向（含备抵）与余额符号共同决定：
// 借方余额科目余额为正时贷记、为负时借记；贷方余额科目相反。
func ClosingLines(accounts []*model.Account, retainedCode string) ([]model.DraftJournalLine, ClosingTotals) {
	var totals ClosingTotals
	lines := make([]model.DraftJournalLine, 0, len(accounts)+1)

	for _, a := range accounts {
		b := a.CurrentBalance
		if b == 0 {
			continue
		}
		amount := b
		if amount < 0 {
			amount = -amount
		}
		lines = append(lines, model.DraftJournalLine{
			AccountCode: a.Code,
			AmountCents: amount,
			IsCredit:    (b > 0) == a.DebitNormal(),
		})

		contribution := b
		if a.IsContra {
			contribution = -b
		}
		if a.AccountType == model.AccountTypeRevenue {
			totals.Revenue += contribution
		} else {
			totals.Expenses += contribution
		}
	}
	totals.NetIncome = totals.Revenue - totals.Expenses

	debits, credits := sumSide(lines, false), sumSide(lines, true)
	switch {
	case debits > credits:
		lines = append(lines, model.DraftJournalLine{AccountCode: retainedCode, AmountCents: debits - credits, IsCredit: true})
	case credits > debits:
		lines = append(lines, model.DraftJournalLine{AccountCode: retainedCode, AmountCents: credits - debits, IsCredit: false})
	}
	return lines, totals
}

func sumSide(lines []model.DraftJournalLine, credit bool) int64 {
	var total int64
	for _, l := range lines {
		if l.IsCredit == credit {
			total += l.AmountCents
		}
	}
	return total
}
