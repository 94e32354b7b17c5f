package service

import (
	"context"
	"testing"
	"time"

	"ledgersystem/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeHashIsDeterministic(t *testing.T) {
	at := time.Date(2024, 1, 10, 8, 30, 0, 123456789, time.UTC)
	h1 := ComputeHash("entry-1", model.GenesisHash, at)
	h2 := ComputeHash("entry-1", model.GenesisHash, at.Truncate(time.Millisecond))
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
	assert.NotEqual(t, h1, ComputeHash("entry-1", "other", at))
	assert.Equal(t, "2024-01-10T08:30:00.123Z", ChainTimestamp(at))
}

func TestVerifyEmptyChain(t *testing.T) {
	f := newFixture(t)
	v, err := f.chain.Verify(context.Background(), testTenant)
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Zero(t, v.EntriesChecked)
	assert.Equal(t, model.GenesisHash, v.HeadHash)
}

func TestVerifyValidChain(t *testing.T) {
	f := newFixture(t)
	f.seedChart(t, testTenant)
	f.openPeriod(t, testTenant, "2024-01", "2024-01-01", "2024-01-31")

	var last *model.JournalEntry
	for _, id := range []string{"e1", "e2", "e3"} {
		last = f.post(t, draftOn(t, id, "2024-01-10", debit("1000", 10), credit("4000", 10)), RoleAccountant)
	}

	v, err := f.chain.Verify(context.Background(), testTenant)
	require.NoError(t, err)
	assert.True(t, v.Valid, v.Reason)
	assert.Equal(t, int64(3), v.EntriesChecked)
	assert.Equal(t, last.Hash, v.HeadHash)
}

func TestVerifyDetectsTamperedEntry(t *testing.T) {
	f := newFixture(t)
	f.seedChart(t, testTenant)
	f.openPeriod(t, testTenant, "2024-01", "2024-01-01", "2024-01-31")

	f.post(t, draftOn(t, "e1", "2024-01-10", debit("1000", 10), credit("4000", 10)), RoleAccountant)
	second := f.post(t, draftOn(t, "e2", "2024-01-11", debit("1000", 20), credit("4000", 20)), RoleAccountant)
	f.post(t, draftOn(t, "e3", "2024-01-12", debit("1000", 30), credit("4000", 30)), RoleAccountant)

	// 绕过只追加约束直接改库
	require.NoError(t, f.db.Exec("DROP TRIGGER trg_journal_entries_block_update").Error)
	require.NoError(t, f.db.Exec("UPDATE journal_entries SET hash = ? WHERE id = ?", "f00d", second.ID).Error)

	v, err := f.chain.Verify(context.Background(), testTenant)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, second.ID, v.BrokenAtEntryID)
	assert.Equal(t, int64(2), v.BrokenAtIndex)

	report, err := f.integrity.CheckTenant(context.Background(), testTenant)
	require.NoError(t, err)
	assert.True(t, report.EquationHolds)
	assert.False(t, report.Healthy)
}

func TestVerifyDetectsStaleChainHead(t *testing.T) {
	f := newFixture(t)
	f.seedChart(t, testTenant)
	f.openPeriod(t, testTenant, "2024-01", "2024-01-01", "2024-01-31")
	f.post(t, draftOn(t, "e1", "2024-01-10", debit("1000", 10), credit("4000", 10)), RoleAccountant)

	require.NoError(t, f.db.Model(&model.ChainHead{}).
		Where("tenant_id = ?", testTenant).
		Update("last_hash", "deadbeef").Error)

	v, err := f.chain.Verify(context.Background(), testTenant)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, "deadbeef", v.HeadHash)
}

func TestJournalTablesAreAppendOnly(t *testing.T) {
	f := newFixture(t)
	f.seedChart(t, testTenant)
	f.openPeriod(t, testTenant, "2024-01", "2024-01-01", "2024-01-31")
	entry := f.post(t, draftOn(t, "e1", "2024-01-10", debit("1000", 10), credit("4000", 10)), RoleAccountant)

	err := f.db.Exec("UPDATE journal_entries SET description = 'x' WHERE id = ?", entry.ID).Error
	assert.ErrorContains(t, err, "append-only")
	err = f.db.Exec("DELETE FROM journal_entries WHERE id = ?", entry.ID).Error
	assert.ErrorContains(t, err, "append-only")
	err = f.db.Exec("UPDATE journal_lines SET amount = 1 WHERE journal_entry_id = ?", entry.ID).Error
	assert.ErrorContains(t, err, "append-only")
	err = f.db.Exec("DELETE FROM journal_lines WHERE journal_entry_id = ?", entry.ID).Error
	assert.ErrorContains(t, err, "append-only")

	got, err := f.journals.GetJournalEntry(context.Background(), testTenant, entry.ID)
	require.NoError(t, err)
	assert.Len(t, got.Lines, 2)
}
