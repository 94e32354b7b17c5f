package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"ledgersystem/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestPostUpdatesBalancesChainAndOutbox(t *testing.T) {
	f := newFixture(t)
	f.seedChart(t, testTenant)
	f.openPeriod(t, testTenant, "2024-01", "2024-01-01", "2024-01-31")

	first := f.post(t, draftOn(t, "evt-1", "2024-01-05", debit("1000", 10000), credit("4000", 10000)), RoleAccountant)
	second := f.post(t, draftOn(t, "evt-2", "2024-01-06", debit("5000", 2500), credit("1000", 2500)), RoleAccountant)

	assert.Equal(t, int64(7500), f.balance(t, testTenant, "1000"))
	assert.Equal(t, int64(10000), f.balance(t, testTenant, "4000"))
	assert.Equal(t, int64(2500), f.balance(t, testTenant, "5000"))

	assert.Equal(t, model.GenesisHash, first.PreviousHash)
	assert.Equal(t, first.Hash, second.PreviousHash)
	assert.Equal(t, int64(1), first.ChainIndex)
	assert.Equal(t, int64(2), second.ChainIndex)
	assert.Equal(t, int64(1), first.SequenceNumber)
	assert.Equal(t, int64(2), second.SequenceNumber)
	assert.Equal(t, 2024, second.FiscalYear)
	assert.Equal(t, ComputeHash(first.ID, model.GenesisHash, first.CreatedAt), first.Hash)
	assert.Equal(t, model.JournalStatusPosted, first.Status)
	assert.Equal(t, "system", first.CreatedBy)
	assert.True(t, first.ExchangeRate.Equal(decimal.NewFromInt(1)))

	var events []model.OutboxEvent
	require.NoError(t, f.db.Order("id ASC").Find(&events).Error)
	require.Len(t, events, 2)
	assert.Less(t, events[0].ID, events[1].ID)
	assert.Equal(t, first.ID, events[0].AggregateID)
	assert.Equal(t, "ledger.journal.posted", events[0].EventType)
	assert.False(t, events[0].Published)

	var payload model.JournalPostedPayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, first.ID, payload.JournalEntryID)
	assert.Equal(t, "evt-1", payload.SourceEventID)
	assert.Equal(t, "2024-01-05", payload.PostedDate)
	assert.Equal(t, "POSTED", payload.Status)
}

func TestPostFailureLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	f.seedChart(t, testTenant)
	f.openPeriod(t, testTenant, "2024-01", "2024-01-01", "2024-01-31")

	_, err := f.engine.Post(context.Background(), testTenant,
		draftOn(t, "evt-bad", "2024-01-05", debit("1000", 100), credit("4000", 90)), RoleAccountant)
	require.ErrorIs(t, err, ErrUnbalancedEntry)

	_, err = f.engine.Post(context.Background(), testTenant,
		draftOn(t, "evt-missing", "2024-01-05", debit("1000", 100), credit("9999", 100)), RoleAccountant)
	require.ErrorIs(t, err, ErrAccountNotFound)

	assert.Zero(t, countRows(t, f.db, &model.JournalEntry{}))
	assert.Zero(t, countRows(t, f.db, &model.JournalLine{}))
	assert.Zero(t, countRows(t, f.db, &model.OutboxEvent{}))
	assert.Zero(t, f.balance(t, testTenant, "1000"))
}

func TestPostRespectsPeriodGate(t *testing.T) {
	f := newFixture(t)
	f.seedChart(t, testTenant)
	ctx := context.Background()
	jan := f.openPeriod(t, testTenant, "2024-01", "2024-01-01", "2024-01-31")
	f.openPeriod(t, testTenant, "2024-02", "2024-02-01", "2024-02-29")

	_, err := f.engine.Post(ctx, testTenant, draftOn(t, "no-period", "2024-05-01", debit("1000", 1), credit("4000", 1)), RoleAdmin)
	assert.ErrorIs(t, err, ErrAccountingPeriodNotFound)

	_, err = f.periods.ChangeStatus(ctx, testTenant, jan.ID, model.PeriodStatusSoftClosed, "controller")
	require.NoError(t, err)

	_, err = f.engine.Post(ctx, testTenant, draftOn(t, "soft-acct", "2024-01-20", debit("1000", 1), credit("4000", 1)), RoleAccountant)
	assert.ErrorIs(t, err, ErrPeriodClosed)
	_, err = f.engine.Post(ctx, testTenant, draftOn(t, "soft-reader", "2024-01-20", debit("1000", 1), credit("4000", 1)), RoleReader)
	assert.ErrorIs(t, err, ErrPeriodClosed)
	f.post(t, draftOn(t, "soft-admin", "2024-01-20", debit("1000", 1), credit("4000", 1)), RoleAdmin)

	_, err = f.periods.ChangeStatus(ctx, testTenant, jan.ID, model.PeriodStatusHardClosed, "controller")
	require.NoError(t, err)
	_, err = f.engine.Post(ctx, testTenant, draftOn(t, "hard-admin", "2024-01-21", debit("1000", 1), credit("4000", 1)), RoleAdmin)
	assert.ErrorIs(t, err, ErrPeriodClosed)

	// 生效日决定期间
	d := draftOn(t, "effective-feb", "2024-01-21", debit("1000", 1), credit("4000", 1))
	d.EffectiveDate = mustDate(t, "2024-02-02")
	f.post(t, d, RoleAccountant)
}

func TestPostContraAccountPolarity(t *testing.T) {
	f := newFixture(t)
	f.seedChart(t, testTenant)
	f.openPeriod(t, testTenant, "2024-01", "2024-01-01", "2024-01-31")

	// 计提折旧：借费用、贷累计折旧，备抵资产贷方增加
	f.post(t, draftOn(t, "dep", "2024-01-31", debit("5000", 300), credit("1500", 300)), RoleAccountant)
	assert.Equal(t, int64(300), f.balance(t, testTenant, "1500"))
	assert.Equal(t, int64(300), f.balance(t, testTenant, "5000"))

	report, err := f.integrity.CheckTenant(context.Background(), testTenant)
	require.NoError(t, err)
	assert.True(t, report.EquationHolds)
}

func TestPostForeignCurrencyUsesBaseAmounts(t *testing.T) {
	f := newFixture(t)
	f.seedChart(t, testTenant)
	f.openPeriod(t, testTenant, "2024-01", "2024-01-01", "2024-01-31")

	for _, req := range []CreateAccountRequest{
		{Code: "1100", Name: "欧元存款", AccountType: "ASSET", CurrencyCode: "EUR"},
		{Code: "4100", Name: "欧元收入", AccountType: "REVENUE", CurrencyCode: "EUR"},
	} {
		_, err := f.accounts.CreateAccount(context.Background(), testTenant, &req)
		require.NoError(t, err)
	}

	d := draftOn(t, "fx", "2024-01-10", debit("1100", 1000), credit("4100", 1000))
	d.TransactionCurrency = "eur"
	d.BaseCurrency = "usd"
	d.ExchangeRate = decimal.RequireFromString("1.1")
	entry := f.post(t, d, RoleAccountant)

	assert.Equal(t, "EUR", entry.TransactionCurrency)
	assert.Equal(t, "USD", entry.BaseCurrency)
	assert.Equal(t, int64(1000), entry.Lines[0].Amount)
	assert.Equal(t, int64(1100), entry.Lines[0].BaseAmount)
	assert.Equal(t, int64(1100), f.balance(t, testTenant, "1100"))

	// 美元科目不能记欧元凭证
	mismatch := draftOn(t, "fx-usd", "2024-01-10", debit("1000", 1000), credit("4100", 1000))
	mismatch.TransactionCurrency = "EUR"
	mismatch.BaseCurrency = "USD"
	mismatch.ExchangeRate = decimal.RequireFromString("1.1")
	_, err := f.engine.Post(context.Background(), testTenant, mismatch, RoleAccountant)
	assert.ErrorIs(t, err, ErrAccountCurrencyMismatch)
	assert.Equal(t, "ACCOUNT_CURRENCY_MISMATCH", ErrorCode(err))
	assert.Zero(t, f.balance(t, testTenant, "1000"))
	assert.Equal(t, int64(1), countRows(t, f.db, &model.JournalEntry{}))
}

func TestPostRejectsUnbalancedBaseAmounts(t *testing.T) {
	f := newFixture(t)
	f.seedChart(t, testTenant)
	f.openPeriod(t, testTenant, "2024-01", "2024-01-01", "2024-01-31")

	debitBase, creditBase := int64(90), int64(95)
	d := draftOn(t, "fx-base", "2024-01-10",
		model.DraftJournalLine{AccountCode: "1000", AmountCents: 100, BaseAmountCents: &debitBase},
		model.DraftJournalLine{AccountCode: "4000", AmountCents: 100, BaseAmountCents: &creditBase, IsCredit: true},
	)
	d.BaseCurrency = "EUR"

	_, err := f.engine.Post(context.Background(), testTenant, d, RoleAccountant)
	require.ErrorIs(t, err, ErrUnbalancedEntry)
	var ue *UnbalancedEntryError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, int64(90), ue.TotalDebits)
	assert.Equal(t, int64(95), ue.TotalCredits)

	assert.Zero(t, f.balance(t, testTenant, "1000"))
	assert.Zero(t, f.balance(t, testTenant, "4000"))
	assert.Zero(t, countRows(t, f.db, &model.JournalEntry{}))
}

func TestPostRejectsOverflowAndZeroLines(t *testing.T) {
	f := newFixture(t)
	f.seedChart(t, testTenant)
	f.openPeriod(t, testTenant, "2024-01", "2024-01-01", "2024-01-31")
	ctx := context.Background()

	wrapped := draftOn(t, "overflow", "2024-01-10",
		debit("1000", math.MaxInt64), debit("5000", math.MaxInt64), debit("1500", 102),
		credit("4000", 100))
	_, err := f.engine.Post(ctx, testTenant, wrapped, RoleAccountant)
	assert.ErrorIs(t, err, ErrUnbalancedEntry)

	zero := draftOn(t, "zero-line", "2024-01-10", debit("1000", 100), debit("5000", 0), credit("4000", 100))
	_, err = f.engine.Post(ctx, testTenant, zero, RoleAccountant)
	assert.ErrorIs(t, err, ErrUnbalancedEntry)

	for _, code := range []string{"1000", "1500", "4000", "5000"} {
		assert.Zero(t, f.balance(t, testTenant, code), code)
	}
	assert.Zero(t, countRows(t, f.db, &model.JournalEntry{}))
}

func TestPostCapturesTraceparent(t *testing.T) {
	f := newFixture(t)
	f.seedChart(t, testTenant)
	f.openPeriod(t, testTenant, "2024-01", "2024-01-01", "2024-01-31")

	traceID, _ := trace.TraceIDFromHex("0af7651916cd43dd8448eb211c80319c")
	spanID, _ := trace.SpanIDFromHex("b7ad6b7169203331")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled, Remote: true})
	ctx := trace.ContextWithRemoteSpanContext(context.Background(), sc)

	_, err := f.engine.Post(ctx, testTenant, draftOn(t, "traced", "2024-01-10", debit("1000", 1), credit("4000", 1)), RoleAccountant)
	require.NoError(t, err)

	var event model.OutboxEvent
	require.NoError(t, f.db.First(&event).Error)
	assert.Equal(t, "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01", event.Traceparent)
}

func TestConcurrentOppositePostingsKeepLedgerConsistent(t *testing.T) {
	f := newFixture(t)
	f.seedChart(t, testTenant)
	f.openPeriod(t, testTenant, "2024-01", "2024-01-01", "2024-01-31")

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, 2*n)
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := f.engine.Post(context.Background(), testTenant,
				draftOn(t, fmt.Sprintf("ab-%d", i), "2024-01-10", debit("1000", 100), credit("2000", 100)), RoleAccountant)
			errs <- err
		}(i)
		go func(i int) {
			defer wg.Done()
			_, err := f.engine.Post(context.Background(), testTenant,
				draftOn(t, fmt.Sprintf("ba-%d", i), "2024-01-10", debit("2000", 40), credit("1000", 40)), RoleAccountant)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, int64(n*60), f.balance(t, testTenant, "1000"))
	assert.Equal(t, int64(n*60), f.balance(t, testTenant, "2000"))

	v, err := f.chain.Verify(context.Background(), testTenant)
	require.NoError(t, err)
	assert.True(t, v.Valid, v.Reason)
	assert.Equal(t, int64(2*n), v.EntriesChecked)
}

func TestChainsAreIndependentPerTenant(t *testing.T) {
	f := newFixture(t)
	f.seedChart(t, testTenant)
	f.seedChart(t, "tenant-b")
	f.openPeriod(t, testTenant, "2024-01", "2024-01-01", "2024-01-31")
	f.openPeriod(t, "tenant-b", "2024-01", "2024-01-01", "2024-01-31")

	f.post(t, draftOn(t, "same-event", "2024-01-10", debit("1000", 5), credit("4000", 5)), RoleAccountant)
	other := draftOn(t, "same-event", "2024-01-10", debit("1000", 7), credit("4000", 7))
	other.TenantID = "tenant-b"
	entry := f.post(t, other, RoleAccountant)

	assert.Equal(t, model.GenesisHash, entry.PreviousHash)
	assert.Equal(t, int64(1), entry.SequenceNumber)
	assert.Equal(t, int64(5), f.balance(t, testTenant, "1000"))
	assert.Equal(t, int64(7), f.balance(t, "tenant-b", "1000"))
}

func TestDuplicateEventIDRejectedByStore(t *testing.T) {
	f := newFixture(t)
	f.seedChart(t, testTenant)
	f.openPeriod(t, testTenant, "2024-01", "2024-01-01", "2024-01-31")

	f.post(t, draftOn(t, "dup", "2024-01-10", debit("1000", 5), credit("4000", 5)), RoleAccountant)
	_, err := f.engine.Post(context.Background(), testTenant, draftOn(t, "dup", "2024-01-11", debit("1000", 5), credit("4000", 5)), RoleAccountant)
	assert.ErrorIs(t, err, ErrDuplicateIdempotencyKey)
	assert.Equal(t, int64(5), f.balance(t, testTenant, "1000"))
}
