package service

import (
	"context"
	"testing"

	"ledgersystem/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReverseMirrorsOriginal(t *testing.T) {
	f := newFixture(t)
	f.seedChart(t, testTenant)
	f.openPeriod(t, testTenant, "2024-01", "2024-01-01", "2024-01-31")
	ctx := context.Background()

	original := f.post(t, draftOn(t, "sale", "2024-01-10", debit("1000", 900), credit("4000", 900)), RoleAccountant)

	req := &ReverseJournalEntryRequest{EventID: "reverse-sale", Reason: "重复录入", CreatedBy: "alice"}
	resp, err := f.reversals.Reverse(ctx, testTenant, original.ID, req, RoleAccountant)
	require.NoError(t, err)
	assert.Equal(t, original.ID, resp.OriginalJournalEntryID)
	assert.Equal(t, "REVERSAL", resp.Status)

	assert.Zero(t, f.balance(t, testTenant, "1000"))
	assert.Zero(t, f.balance(t, testTenant, "4000"))

	reversal, err := f.journals.GetJournalEntry(ctx, testTenant, resp.ReversalJournalEntryID)
	require.NoError(t, err)
	assert.Equal(t, original.ID, reversal.ReversalOfID)
	assert.Equal(t, "2024-01-10", reversal.PostedDate)
	assert.Contains(t, reversal.Description, "重复录入")
	assert.Equal(t, "alice", reversal.CreatedBy)
	require.Len(t, reversal.Lines, 2)
	assert.True(t, reversal.Lines[0].IsCredit)
	assert.False(t, reversal.Lines[1].IsCredit)

	// 相同请求回放首次结果
	again, err := f.reversals.Reverse(ctx, testTenant, original.ID, req, RoleAccountant)
	require.NoError(t, err)
	assert.Equal(t, resp.ReversalJournalEntryID, again.ReversalJournalEntryID)

	_, err = f.reversals.Reverse(ctx, testTenant, original.ID, &ReverseJournalEntryRequest{EventID: "reverse-again"}, RoleAccountant)
	assert.ErrorIs(t, err, ErrInvalidReversal)

	_, err = f.reversals.Reverse(ctx, testTenant, resp.ReversalJournalEntryID, &ReverseJournalEntryRequest{EventID: "reverse-reversal"}, RoleAccountant)
	assert.ErrorIs(t, err, ErrInvalidReversal)

	_, err = f.reversals.Reverse(ctx, testTenant, "missing", &ReverseJournalEntryRequest{EventID: "reverse-missing"}, RoleAccountant)
	assert.ErrorIs(t, err, ErrJournalEntryNotFound)
}

func TestReverseHonorsPeriodGate(t *testing.T) {
	f := newFixture(t)
	f.seedChart(t, testTenant)
	jan := f.openPeriod(t, testTenant, "2024-01", "2024-01-01", "2024-01-31")
	ctx := context.Background()

	original := f.post(t, draftOn(t, "sale", "2024-01-10", debit("1000", 900), credit("4000", 900)), RoleAccountant)
	_, err := f.periods.ChangeStatus(ctx, testTenant, jan.ID, model.PeriodStatusSoftClosed, "controller")
	require.NoError(t, err)

	_, err = f.reversals.Reverse(ctx, testTenant, original.ID, &ReverseJournalEntryRequest{EventID: "r1"}, RoleAccountant)
	assert.ErrorIs(t, err, ErrPeriodClosed)

	// 失败后以管理员身份换一个 event_id 重试
	_, err = f.reversals.Reverse(ctx, testTenant, original.ID, &ReverseJournalEntryRequest{EventID: "r2"}, RoleAdmin)
	require.NoError(t, err)
	assert.Zero(t, f.balance(t, testTenant, "1000"))
}

func TestCorrectReversesAndReposts(t *testing.T) {
	f := newFixture(t)
	f.seedChart(t, testTenant)
	f.openPeriod(t, testTenant, "2024-01", "2024-01-01", "2024-01-31")
	ctx := context.Background()

	original := f.post(t, draftOn(t, "sale", "2024-01-10", debit("1000", 900), credit("4000", 900)), RoleAccountant)

	req := &CorrectJournalEntryRequest{
		ReversalEventID: "correct-sale",
		Reason:          "金额错误",
		Replacement:     *entryRequest("sale-v2", "2024-01-10", lineReq("1000", 950, false), lineReq("4000", 950, true)),
	}
	resp, err := f.reversals.Correct(ctx, testTenant, original.ID, req, RoleAccountant)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ReversalJournalEntryID)
	assert.NotEmpty(t, resp.ReplacementJournalEntryID)
	assert.Equal(t, "POSTED", resp.Status)
	assert.Equal(t, int64(950), f.balance(t, testTenant, "1000"))
	assert.Equal(t, int64(950), f.balance(t, testTenant, "4000"))

	// 新凭证不平衡时冲销一并回滚
	bad := &CorrectJournalEntryRequest{
		ReversalEventID: "correct-again",
		Replacement:     *entryRequest("sale-v3", "2024-01-10", lineReq("1000", 10, false), lineReq("4000", 11, true)),
	}
	_, err = f.reversals.Correct(ctx, testTenant, resp.ReplacementJournalEntryID, bad, RoleAccountant)
	assert.ErrorIs(t, err, ErrUnbalancedEntry)
	assert.Equal(t, int64(950), f.balance(t, testTenant, "1000"))
	assert.Equal(t, int64(3), countRows(t, f.db, &model.JournalEntry{}))

	same := &CorrectJournalEntryRequest{
		ReversalEventID: "same-id",
		Replacement:     *entryRequest("same-id", "2024-01-10", lineReq("1000", 10, false), lineReq("4000", 10, true)),
	}
	_, err = f.reversals.Correct(ctx, testTenant, resp.ReplacementJournalEntryID, same, RoleAccountant)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
