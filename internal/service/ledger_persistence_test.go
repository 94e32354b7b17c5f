package service

import (
	"context"
	"sync"
	"testing"

	"ledgersystem/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// lockRecorder 记录带 FOR UPDATE 的查询，按执行顺序保存 表名 或 表名:科目编码
type lockRecorder struct {
	mu    sync.Mutex
	codes map[string]bool
	locks []string
}

func recordLocks(t *testing.T, db *gorm.DB, codes ...string) *lockRecorder {
	t.Helper()
	r := &lockRecorder{codes: make(map[string]bool, len(codes))}
	for _, c := range codes {
		r.codes[c] = true
	}
	err := db.Callback().Query().After("gorm:query").Register("test:record_locks", func(d *gorm.DB) {
		if _, ok := d.Statement.Clauses["FOR"]; !ok {
			return
		}
		name := d.Statement.Table
		if name == "accounts" {
			for _, v := range d.Statement.Vars {
				if s, ok := v.(string); ok && r.codes[s] {
					name += ":" + s
				}
			}
		}
		r.mu.Lock()
		r.locks = append(r.locks, name)
		r.mu.Unlock()
	})
	require.NoError(t, err)
	return r
}

func (r *lockRecorder) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.locks
	r.locks = nil
	return out
}

func TestBalanceUpdaterLocksAccountsInCodeOrder(t *testing.T) {
	f := newFixture(t)
	f.seedChart(t, testTenant)
	rec := recordLocks(t, f.db, "1000", "4000", "5000")

	lines := []model.JournalLine{
		{AccountCode: "5000", Amount: 40, BaseAmount: 40},
		{AccountCode: "4000", Amount: 100, BaseAmount: 100, IsCredit: true},
		{AccountCode: "1000", Amount: 60, BaseAmount: 60},
	}
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		return NewBalanceUpdater(f.db).Apply(context.Background(), tx, testTenant, lines)
	}))

	assert.Equal(t, []string{"accounts:1000", "accounts:4000", "accounts:5000"}, rec.take())
	assert.Equal(t, int64(60), f.balance(t, testTenant, "1000"))
	assert.Equal(t, int64(100), f.balance(t, testTenant, "4000"))
	assert.Equal(t, int64(40), f.balance(t, testTenant, "5000"))
}

func TestPostLocksChainHeadThenSequenceThenAccounts(t *testing.T) {
	f := newFixture(t)
	f.seedChart(t, testTenant)
	f.openPeriod(t, testTenant, "2024-01", "2024-01-01", "2024-01-31")
	rec := recordLocks(t, f.db, "1000", "4000", "5000")

	// 行顺序与编码顺序相反
	f.post(t, draftOn(t, "evt-1", "2024-01-05", credit("5000", 30), credit("4000", 70), debit("1000", 100)), RoleAccountant)

	var ordered []string
	for _, l := range rec.take() {
		switch l {
		case "ledger_chain_heads", "journal_sequences",
			"accounts:1000", "accounts:4000", "accounts:5000":
			ordered = append(ordered, l)
		}
	}
	assert.Equal(t, []string{
		"ledger_chain_heads",
		"journal_sequences",
		"accounts:1000",
		"accounts:4000",
		"accounts:5000",
	}, ordered)
}
