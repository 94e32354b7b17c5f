package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"ledgersystem/internal/model"

	"github.com/shopspring/decimal"
)

// CurrencyConverter 把交易币金额换算为本位币金额
type CurrencyConverter interface {
	Apply(ctx context.Context, draft *model.DraftJournalEntry) (*model.DraftJournalEntry, error)
}

// RateConverter 使用凭证自带汇率换算
//
// 同币种时本位币金额等于交易币金额、汇率为 1。
// 不同币种时借贷两侧分别按最大余数法分配尾差，使每侧本位币合计等于该侧原始合计四舍五入后的值。
type RateConverter struct{}

func (RateConverter) Apply(_ context.Context, draft *model.DraftJournalEntry) (*model.DraftJournalEntry, error) {
	out := *draft
	out.Lines = make([]model.DraftJournalLine, len(draft.Lines))
	copy(out.Lines, draft.Lines)

	if strings.EqualFold(strings.TrimSpace(draft.TransactionCurrency), strings.TrimSpace(draft.BaseCurrency)) {
		out.ExchangeRate = decimal.NewFromInt(1)
		for i := range out.Lines {
			amount := out.Lines[i].AmountCents
			out.Lines[i].BaseAmountCents = &amount
		}
		return &out, nil
	}

	if allHaveBaseAmount(draft.Lines) {
		return &out, nil
	}
	if !draft.ExchangeRate.IsPositive() {
		return nil, fmt.Errorf("%w: %s -> %s 缺少有效汇率", ErrInvalidArgument, draft.TransactionCurrency, draft.BaseCurrency)
	}

	allocateSide(out.Lines, draft.ExchangeRate, false)
	allocateSide(out.Lines, draft.ExchangeRate, true)
	return &out, nil
}

func allHaveBaseAmount(lines []model.DraftJournalLine) bool {
	for _, l := range lines {
		if l.BaseAmountCents == nil {
			return false
		}
	}
	return len(lines) > 0
}

type lineRounding struct {
	index      int
	floor      int64
	fractional decimal.Decimal
}

func allocateSide(lines []model.DraftJournalLine, rate decimal.Decimal, credit bool) {
	var items []lineRounding
	rawTotal := decimal.Zero
	var floorSum int64

	for i, line := range lines {
		if line.IsCredit != credit {
			continue
		}
		raw := decimal.NewFromInt(line.AmountCents).Mul(rate)
		floor := raw.Truncate(0)
		items = append(items, lineRounding{index: i, floor: floor.IntPart(), fractional: raw.Sub(floor)})
		rawTotal = rawTotal.Add(raw)
		floorSum += floor.IntPart()
	}
	if len(items) == 0 {
		return
	}

	residual := rawTotal.Round(0).IntPart() - floorSum
	sort.SliceStable(items, func(a, b int) bool {
		return items[a].fractional.GreaterThan(items[b].fractional)
	})
	for i, item := range items {
		amount := item.floor
		if int64(i) < residual {
			amount++
		}
		lines[item.index].BaseAmountCents = &amount
	}
}
