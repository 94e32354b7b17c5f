package service

import (
	"context"
	"testing"

	"ledgersystem/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateConverterSameCurrency(t *testing.T) {
	d := &model.DraftJournalEntry{
		TransactionCurrency: "usd",
		BaseCurrency:        "USD",
		Lines:               []model.DraftJournalLine{debit("1000", 250), credit("4000", 250)},
	}
	out, err := RateConverter{}.Apply(context.Background(), d)
	require.NoError(t, err)
	assert.True(t, out.ExchangeRate.Equal(decimal.NewFromInt(1)))
	for _, l := range out.Lines {
		require.NotNil(t, l.BaseAmountCents)
		assert.Equal(t, l.AmountCents, *l.BaseAmountCents)
	}
	// 输入不被修改
	assert.Nil(t, d.Lines[0].BaseAmountCents)
}

func TestRateConverterAllocatesRoundingPerSide(t *testing.T) {
	d := &model.DraftJournalEntry{
		TransactionCurrency: "EUR",
		BaseCurrency:        "USD",
		ExchangeRate:        decimal.RequireFromString("1.005"),
		Lines: []model.DraftJournalLine{
			debit("5000", 333),
			debit("5000", 333),
			debit("5000", 334),
			credit("2000", 1000),
		},
	}
	out, err := RateConverter{}.Apply(context.Background(), d)
	require.NoError(t, err)

	var debits, credits int64
	for _, l := range out.Lines {
		if l.IsCredit {
			credits += *l.BaseAmountCents
		} else {
			debits += *l.BaseAmountCents
		}
	}
	// 1000 * 1.005 = 1005，两侧都必须是 1005
	assert.Equal(t, int64(1005), debits)
	assert.Equal(t, int64(1005), credits)
	require.NoError(t, CheckBalance(out.Lines))
}

func TestRateConverterKeepsExplicitBaseAmounts(t *testing.T) {
	a, b := int64(120), int64(120)
	d := &model.DraftJournalEntry{
		TransactionCurrency: "EUR",
		BaseCurrency:        "USD",
		Lines: []model.DraftJournalLine{
			{AccountCode: "1000", AmountCents: 100, BaseAmountCents: &a},
			{AccountCode: "4000", AmountCents: 100, BaseAmountCents: &b, IsCredit: true},
		},
	}
	out, err := RateConverter{}.Apply(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, int64(120), *out.Lines[0].BaseAmountCents)
}

func TestRateConverterRequiresRateForForeignCurrency(t *testing.T) {
	d := &model.DraftJournalEntry{
		TransactionCurrency: "EUR",
		BaseCurrency:        "USD",
		Lines:               []model.DraftJournalLine{debit("1000", 100), credit("4000", 100)},
	}
	_, err := RateConverter{}.Apply(context.Background(), d)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
