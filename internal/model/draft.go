package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DraftJournalEntry 待记账的凭证草稿，由上游映射或审批流程生成
type DraftJournalEntry struct {
	TenantID            string
	EventID             string
	PostedDate          time.Time
	EffectiveDate       time.Time
	TransactionDate     time.Time
	Description         string
	ReferenceID         string
	TransactionCurrency string
	BaseCurrency        string
	ExchangeRate        decimal.Decimal
	CreatedBy           string
	ReversalOfID        *string
	AutoReverse         bool
	Lines               []DraftJournalLine
}

// DraftJournalLine 草稿分录行，金额为最小货币单位
type DraftJournalLine struct {
	AccountCode     string
	AmountCents     int64
	BaseAmountCents *int64
	IsCredit        bool
	Dimensions      map[string]string
}

// BaseAmount 未换算时本位币金额等于交易币金额
func (l DraftJournalLine) BaseAmount() int64 {
	if l.BaseAmountCents != nil {
		return *l.BaseAmountCents
	}
	return l.AmountCents
}

// FiscalYear 会计年度取记账日期所在年
func (d *DraftJournalEntry) FiscalYear() int {
	return d.PostedDate.Year()
}

// GateDate 期间校验使用的日期，未指定生效日时取记账日
func (d *DraftJournalEntry) GateDate() time.Time {
	if d.EffectiveDate.IsZero() {
		return d.PostedDate
	}
	return d.EffectiveDate
}

// MirrorLines 借贷方向互换，用于冲销
func MirrorLines(lines []JournalLine) []DraftJournalLine {
	mirrored := make([]DraftJournalLine, 0, len(lines))
	for _, line := range lines {
		base := line.BaseAmount
		var dims map[string]string
		if len(line.Dimensions) > 0 {
			dims = make(map[string]string, len(line.Dimensions))
			for k, v := range line.Dimensions {
				if s, ok := v.(string); ok {
					dims[k] = s
				}
			}
		}
		mirrored = append(mirrored, DraftJournalLine{
			AccountCode:     line.AccountCode,
			AmountCents:     line.Amount,
			BaseAmountCents: &base,
			IsCredit:        !line.IsCredit,
			Dimensions:      dims,
		})
	}
	return mirrored
}
