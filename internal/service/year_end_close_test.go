package service

import (
	"context"
	"testing"

	"ledgersystem/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClosingLinesZeroOutIncomeAccounts(t *testing.T) {
	accounts := []*model.Account{
		{Code: "4000", AccountType: model.AccountTypeRevenue, CurrentBalance: 1000},
		{Code: "4900", AccountType: model.AccountTypeRevenue, IsContra: true, CurrentBalance: 50},
		{Code: "5000", AccountType: model.AccountTypeExpense, CurrentBalance: 600},
	}

	lines, totals := ClosingLines(accounts, "3000")
	require.Len(t, lines, 4)

	assert.Equal(t, model.DraftJournalLine{AccountCode: "4000", AmountCents: 1000, IsCredit: false}, lines[0])
	assert.Equal(t, model.DraftJournalLine{AccountCode: "4900", AmountCents: 50, IsCredit: true}, lines[1])
	assert.Equal(t, model.DraftJournalLine{AccountCode: "5000", AmountCents: 600, IsCredit: true}, lines[2])
	assert.Equal(t, model.DraftJournalLine{AccountCode: "3000", AmountCents: 350, IsCredit: true}, lines[3])

	assert.Equal(t, int64(950), totals.Revenue)
	assert.Equal(t, int64(600), totals.Expenses)
	assert.Equal(t, int64(350), totals.NetIncome)
	require.NoError(t, CheckBalance(lines))
}

func TestClosingLinesNetLoss(t *testing.T) {
	accounts := []*model.Account{
		{Code: "4000", AccountType: model.AccountTypeRevenue, CurrentBalance: 100},
		{Code: "5000", AccountType: model.AccountTypeExpense, CurrentBalance: 300},
	}
	lines, totals := ClosingLines(accounts, "3000")
	assert.Equal(t, int64(-200), totals.NetIncome)
	assert.Equal(t, model.DraftJournalLine{AccountCode: "3000", AmountCents: 200}, lines[len(lines)-1])
	require.NoError(t, CheckBalance(lines))
}

func TestYearEndClose(t *testing.T) {
	f := newFixture(t)
	f.seedChart(t, testTenant)
	ctx := context.Background()
	h1 := f.openPeriod(t, testTenant, "2024-H1", "2024-01-01", "2024-06-30")
	h2 := f.openPeriod(t, testTenant, "2024-H2", "2024-07-01", "2024-12-31")

	f.post(t, draftOn(t, "sale", "2024-03-01", debit("1000", 1000), credit("4000", 1000)), RoleAccountant)
	f.post(t, draftOn(t, "allowance", "2024-03-02", debit("4900", 50), credit("1000", 50)), RoleAccountant)
	f.post(t, draftOn(t, "rent", "2024-08-01", debit("5000", 600), credit("1000", 600)), RoleAccountant)

	req := &YearEndCloseRequest{FiscalYear: 2024, RetainedEarningsAccountCode: "3000", BaseCurrency: "usd", CreatedBy: "controller"}

	_, err := f.yearEnd.Close(ctx, testTenant, req)
	assert.ErrorIs(t, err, ErrYearEndClose)

	for _, p := range []*model.AccountingPeriod{h1, h2} {
		_, err := f.periods.ChangeStatus(ctx, testTenant, p.ID, model.PeriodStatusSoftClosed, "controller")
		require.NoError(t, err)
		_, err = f.periods.ChangeStatus(ctx, testTenant, p.ID, model.PeriodStatusHardClosed, "controller")
		require.NoError(t, err)
	}

	_, err = f.yearEnd.Close(ctx, testTenant, &YearEndCloseRequest{FiscalYear: 2024, RetainedEarningsAccountCode: "1000", BaseCurrency: "USD"})
	assert.ErrorIs(t, err, ErrYearEndClose)

	resp, err := f.yearEnd.Close(ctx, testTenant, req)
	require.NoError(t, err)
	assert.Equal(t, int64(950), resp.TotalRevenue)
	assert.Equal(t, int64(600), resp.TotalExpenses)
	assert.Equal(t, int64(350), resp.NetIncome)
	assert.Equal(t, 3, resp.AccountsClosed)

	assert.Zero(t, f.balance(t, testTenant, "4000"))
	assert.Zero(t, f.balance(t, testTenant, "4900"))
	assert.Zero(t, f.balance(t, testTenant, "5000"))
	assert.Equal(t, int64(350), f.balance(t, testTenant, "3000"))

	closing, err := f.journals.GetJournalEntry(ctx, testTenant, resp.ClosingJournalEntryID)
	require.NoError(t, err)
	assert.Equal(t, YearEndEventID(2024), closing.EventID)
	assert.Equal(t, "2024-12-31", closing.PostedDate)
	assert.Equal(t, "controller", closing.CreatedBy)

	report, err := f.integrity.CheckTenant(ctx, testTenant)
	require.NoError(t, err)
	assert.True(t, report.Healthy)

	_, err = f.yearEnd.Close(ctx, testTenant, req)
	assert.ErrorIs(t, err, ErrYearEndClose)
}

func TestYearEndCloseRequiresPeriods(t *testing.T) {
	f := newFixture(t)
	f.seedChart(t, testTenant)

	_, err := f.yearEnd.Close(context.Background(), testTenant, &YearEndCloseRequest{FiscalYear: 2030, RetainedEarningsAccountCode: "3000", BaseCurrency: "USD"})
	assert.ErrorIs(t, err, ErrYearEndClose)

	_, err = f.yearEnd.Close(context.Background(), testTenant, &YearEndCloseRequest{FiscalYear: 2030, RetainedEarningsAccountCode: "9999", BaseCurrency: "USD"})
	assert.ErrorIs(t, err, ErrAccountNotFound)

	_, err = f.yearEnd.Close(context.Background(), testTenant, &YearEndCloseRequest{FiscalYear: 2030})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
