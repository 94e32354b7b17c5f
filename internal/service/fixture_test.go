package service

import (
	"context"
	"testing"
	"time"

	"ledgersystem/internal/config"
	"ledgersystem/internal/model"
	"ledgersystem/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testTenant = "tenant-a"

type fixture struct {
	db  *gorm.DB
	mr  *miniredis.Miniredis
	rdb *redis.Client

	guard        *IdempotencyGuard
	writer       *IdempotentWriter
	outbox       *OutboxService
	engine       *PostingEngine
	accounts     *AccountService
	journals     *JournalService
	reversals    *ReversalService
	autoReversal *AutoReversalService
	revaluation  *RevaluationService
	periods      *PeriodService
	yearEnd      *YearEndCloseService
	chain        *HashChainService
	integrity    *IntegrityService
}

func testIdempotencyConfig() config.IdempotencyConfig {
	return config.IdempotencyConfig{
		TTL:               time.Hour,
		RetryAttempts:     3,
		RetryInitial:      time.Millisecond,
		RetryMax:          5 * time.Millisecond,
		InFlightWait:      2 * time.Second,
		BreakerFailures:   50,
		BreakerOpenWindow: time.Second,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewDB(t)
	mr, rdb := testutil.NewRedis(t)
	log := zap.NewNop()

	f := &fixture{db: db, mr: mr, rdb: rdb}
	f.guard = NewIdempotencyGuard(db, rdb, testIdempotencyConfig(), log)
	f.writer = NewIdempotentWriter(f.guard, testIdempotencyConfig(), log)
	f.outbox = NewOutboxService(db, "ledger.journal.posted")
	f.engine = NewPostingEngine(db, nil, f.outbox, log)
	f.accounts = NewAccountService(db, log)
	f.journals = NewJournalService(db, f.engine, f.writer, log)
	f.reversals = NewReversalService(db, f.engine, f.writer, log)
	f.autoReversal = NewAutoReversalService(db, f.engine, log)
	f.revaluation = NewRevaluationService(db, f.engine, nil, log)
	f.periods = NewPeriodService(db, f.autoReversal, f.revaluation, log)
	f.yearEnd = NewYearEndCloseService(db, f.engine, log)
	f.chain = NewHashChainService(db, log)
	f.integrity = NewIntegrityService(db, f.chain, log)
	return f
}

// seedChart 常用科目：现金、累计折旧（备抵）、应付、留存收益、收入、费用
func (f *fixture) seedChart(t *testing.T, tenantID string) {
	t.Helper()
	chart := []CreateAccountRequest{
		{Code: "1000", Name: "现金", AccountType: "ASSET", CurrencyCode: "USD"},
		{Code: "1500", Name: "累计折旧", AccountType: "ASSET", IsContra: true, CurrencyCode: "USD"},
		{Code: "2000", Name: "应付账款", AccountType: "LIABILITY", CurrencyCode: "USD"},
		{Code: "3000", Name: "留存收益", AccountType: "EQUITY", CurrencyCode: "USD"},
		{Code: "4000", Name: "销售收入", AccountType: "REVENUE", CurrencyCode: "USD"},
		{Code: "4900", Name: "销售折让", AccountType: "REVENUE", IsContra: true, CurrencyCode: "USD"},
		{Code: "5000", Name: "办公费用", AccountType: "EXPENSE", CurrencyCode: "USD"},
	}
	for i := range chart {
		_, err := f.accounts.CreateAccount(context.Background(), tenantID, &chart[i])
		require.NoError(t, err)
	}
}

func (f *fixture) openPeriod(t *testing.T, tenantID, name, start, end string) *model.AccountingPeriod {
	t.Helper()
	p, err := f.periods.CreatePeriod(context.Background(), tenantID, CreatePeriodRequest{
		Name:      name,
		StartDate: mustDate(t, start),
		EndDate:   mustDate(t, end),
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) balance(t *testing.T, tenantID, code string) int64 {
	t.Helper()
	a, err := f.accounts.GetAccount(context.Background(), tenantID, code)
	require.NoError(t, err)
	return a.CurrentBalance
}

func (f *fixture) post(t *testing.T, d *model.DraftJournalEntry, role ActorRole) *model.JournalEntry {
	t.Helper()
	entry, err := f.engine.Post(context.Background(), d.TenantID, d, role)
	require.NoError(t, err)
	return entry
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := model.ParseDate(s)
	require.NoError(t, err)
	return d
}

func debit(code string, amount int64) model.DraftJournalLine {
	return model.DraftJournalLine{AccountCode: code, AmountCents: amount}
}

func credit(code string, amount int64) model.DraftJournalLine {
	return model.DraftJournalLine{AccountCode: code, AmountCents: amount, IsCredit: true}
}

func draftOn(t *testing.T, eventID, date string, lines ...model.DraftJournalLine) *model.DraftJournalEntry {
	t.Helper()
	return &model.DraftJournalEntry{
		TenantID:            testTenant,
		EventID:             eventID,
		PostedDate:          mustDate(t, date),
		TransactionCurrency: "USD",
		Lines:               lines,
	}
}

func entryRequest(eventID, date string, lines ...JournalLineRequest) *CreateJournalEntryRequest {
	return &CreateJournalEntryRequest{
		EventID:             eventID,
		PostedDate:          date,
		TransactionCurrency: "USD",
		Lines:               lines,
	}
}

func lineReq(code string, amount int64, isCredit bool) JournalLineRequest {
	return JournalLineRequest{AccountCode: code, AmountCents: amount, IsCredit: isCredit}
}

func countRows(t *testing.T, db *gorm.DB, m interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(m).Count(&n).Error)
	return n
}
