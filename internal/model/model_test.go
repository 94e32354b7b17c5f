package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestBalanceDelta(t *testing.T) {
	tests := []struct {
		name     string
		account  Account
		isCredit bool
		want     int64
	}{
		{"资产借方", Account{AccountType: AccountTypeAsset}, false, 100},
		{"资产贷方", Account{AccountType: AccountTypeAsset}, true, -100},
		{"费用借方", Account{AccountType: AccountTypeExpense}, false, 100},
		{"负债贷方", Account{AccountType: AccountTypeLiability}, true, 100},
		{"收入借方", Account{AccountType: AccountTypeRevenue}, false, -100},
		{"权益贷方", Account{AccountType: AccountTypeEquity}, true, 100},
		{"备抵资产贷方", Account{AccountType: AccountTypeAsset, IsContra: true}, true, 100},
		{"备抵收入借方", Account{AccountType: AccountTypeRevenue, IsContra: true}, false, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.account.BalanceDelta(100, tt.isCredit))
		})
	}
}

func TestCanTransitionPeriod(t *testing.T) {
	assert.True(t, CanTransitionPeriod(PeriodStatusOpen, PeriodStatusSoftClosed))
	assert.True(t, CanTransitionPeriod(PeriodStatusSoftClosed, PeriodStatusHardClosed))
	assert.True(t, CanTransitionPeriod(PeriodStatusSoftClosed, PeriodStatusOpen))
	assert.True(t, CanTransitionPeriod(PeriodStatusHardClosed, PeriodStatusOpen))

	assert.False(t, CanTransitionPeriod(PeriodStatusOpen, PeriodStatusHardClosed))
	assert.False(t, CanTransitionPeriod(PeriodStatusHardClosed, PeriodStatusSoftClosed))
	assert.False(t, CanTransitionPeriod("ARCHIVED", PeriodStatusOpen))
}

func TestPeriodContains(t *testing.T) {
	start, err := ParseDate("2024-01-01")
	require.NoError(t, err)
	end, err := ParseDate("2024-01-31")
	require.NoError(t, err)
	p := &AccountingPeriod{StartDate: start, EndDate: end}

	assert.True(t, p.Contains(start))
	assert.True(t, p.Contains(time.Date(2024, 1, 31, 23, 59, 0, 0, time.UTC)))
	assert.False(t, p.Contains(time.Date(2023, 12, 31, 23, 59, 0, 0, time.UTC)))
	assert.False(t, p.Contains(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)))
}

func TestDraftDefaults(t *testing.T) {
	posted := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	d := &DraftJournalEntry{PostedDate: posted}
	assert.Equal(t, posted, d.GateDate())
	assert.Equal(t, 2024, d.FiscalYear())

	d.EffectiveDate = posted.AddDate(0, 0, 1)
	assert.Equal(t, d.EffectiveDate, d.GateDate())

	base := int64(1100)
	assert.Equal(t, int64(1000), DraftJournalLine{AmountCents: 1000}.BaseAmount())
	assert.Equal(t, base, DraftJournalLine{AmountCents: 1000, BaseAmountCents: &base}.BaseAmount())
}

func TestMirrorLines(t *testing.T) {
	lines := []JournalLine{
		{AccountCode: "1000", Amount: 1000, BaseAmount: 1100, IsCredit: false, Dimensions: datatypes.JSONMap{"store": "sh-01", "n": 1}},
		{AccountCode: "4000", Amount: 1000, BaseAmount: 1100, IsCredit: true},
	}
	mirrored := MirrorLines(lines)
	require.Len(t, mirrored, 2)

	assert.True(t, mirrored[0].IsCredit)
	assert.False(t, mirrored[1].IsCredit)
	assert.Equal(t, int64(1000), mirrored[0].AmountCents)
	assert.Equal(t, int64(1100), mirrored[0].BaseAmount())
	assert.Equal(t, map[string]string{"store": "sh-01"}, mirrored[0].Dimensions)
	assert.Nil(t, mirrored[1].Dimensions)
}
