package service

import (
	"errors"
	"fmt"

	"ledgersystem/internal/repository"
)

var (
	ErrUnbalancedEntry               = errors.New("借贷不平衡")
	ErrAccountNotFound               = repository.ErrAccountNotFound
	ErrDuplicateAccount              = repository.ErrDuplicateAccount
	ErrInactiveAccount               = errors.New("科目已停用")
	ErrAccountCurrencyMismatch       = errors.New("科目币种与交易币种不一致")
	ErrAccountingPeriodNotFound      = errors.New("记账日期不在任何会计期间内")
	ErrPeriodClosed                  = errors.New("会计期间已关闭")
	ErrInvalidPeriodTransition       = errors.New("会计期间状态流转不合法")
	ErrOverlappingAccountingPeriod   = errors.New("会计期间日期区间重叠")
	ErrDuplicateIdempotencyKey       = errors.New("幂等键重复且请求内容不一致")
	ErrRequestInProgress             = errors.New("相同请求正在处理中")
	ErrInvalidReversal               = errors.New("冲销不合法")
	ErrRevaluationAlreadyRun         = repository.ErrRevaluationAlreadyRun
	ErrOutboxPublishTransientFailure = errors.New("发件箱投递暂时失败")
	ErrJournalEntryNotFound          = repository.ErrJournalEntryNotFound
	ErrPeriodNotFound                = repository.ErrPeriodNotFound
	ErrYearEndClose                  = errors.New("年结条件不满足")
	ErrInvalidArgument               = errors.New("参数错误")
)

// UnbalancedEntryError 携带借贷合计，errors.Is(err, ErrUnbalancedEntry) 为真
type UnbalancedEntryError struct {
	TotalDebits  int64
	TotalCredits int64
	Reason       string
}

func (e *UnbalancedEntryError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s (借方=%d, 贷方=%d)", ErrUnbalancedEntry.Error(), e.Reason, e.TotalDebits, e.TotalCredits)
	}
	return fmt.Sprintf("%s: 借方=%d, 贷方=%d", ErrUnbalancedEntry.Error(), e.TotalDebits, e.TotalCredits)
}

func (e *UnbalancedEntryError) Is(target error) bool {
	return target == ErrUnbalancedEntry
}

// ErrorCode 错误对应的业务码，写入幂等失败记录并返回给调用方
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnbalancedEntry):
		return "UNBALANCED_ENTRY"
	case errors.Is(err, ErrAccountNotFound):
		return "ACCOUNT_NOT_FOUND"
	case errors.Is(err, ErrDuplicateAccount):
		return "DUPLICATE_ACCOUNT"
	case errors.Is(err, ErrInactiveAccount):
		return "INACTIVE_ACCOUNT"
	case errors.Is(err, ErrAccountCurrencyMismatch):
		return "ACCOUNT_CURRENCY_MISMATCH"
	case errors.Is(err, ErrAccountingPeriodNotFound):
		return "ACCOUNTING_PERIOD_NOT_FOUND"
	case errors.Is(err, ErrPeriodNotFound):
		return "PERIOD_NOT_FOUND"
	case errors.Is(err, ErrPeriodClosed):
		return "PERIOD_CLOSED"
	case errors.Is(err, ErrInvalidPeriodTransition):
		return "INVALID_PERIOD_TRANSITION"
	case errors.Is(err, ErrOverlappingAccountingPeriod):
		return "OVERLAPPING_ACCOUNTING_PERIOD"
	case errors.Is(err, ErrDuplicateIdempotencyKey):
		return "DUPLICATE_IDEMPOTENCY_KEY"
	case errors.Is(err, ErrRequestInProgress):
		return "REQUEST_IN_PROGRESS"
	case errors.Is(err, ErrInvalidReversal):
		return "INVALID_REVERSAL"
	case errors.Is(err, ErrRevaluationAlreadyRun):
		return "REVALUATION_ALREADY_RUN"
	case errors.Is(err, ErrJournalEntryNotFound):
		return "JOURNAL_ENTRY_NOT_FOUND"
	case errors.Is(err, ErrYearEndClose):
		return "YEAR_END_CLOSE_REJECTED"
	case errors.Is(err, ErrInvalidArgument):
		return "INVALID_ARGUMENT"
	default:
		return "INTERNAL_ERROR"
	}
}
