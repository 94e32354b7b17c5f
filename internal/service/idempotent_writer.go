package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ledgersystem/internal/config"
	"ledgersystem/internal/model"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// IdempotentWriter 把任意写操作包在幂等守卫里：首次执行、重复回放、冲突拒绝
type IdempotentWriter struct {
	guard        *IdempotencyGuard
	inFlightWait time.Duration
	log          *zap.Logger
}

func NewIdempotentWriter(guard *IdempotencyGuard, cfg config.IdempotencyConfig, log *zap.Logger) *IdempotentWriter {
	wait := cfg.InFlightWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &IdempotentWriter{guard: guard, inFlightWait: wait, log: log}
}

// ExecuteIdempotent 以 (tenantID, eventID) 为幂等键执行 write
//
// 相同请求体的重复提交返回首次成功的响应；请求体不同返回 ErrDuplicateIdempotencyKey；
// 首次请求仍在处理时等待其完成，超时返回 ErrRequestInProgress。
func ExecuteIdempotent[T any](ctx context.Context, w *IdempotentWriter, tenantID, eventID string, payload interface{}, write func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if tenantID == "" || eventID == "" {
		return zero, fmt.Errorf("%w: 租户与事件ID不能为空", ErrInvalidArgument)
	}

	hash, err := PayloadHash(payload)
	if err != nil {
		return zero, err
	}

	res, err := w.guard.CheckAndMarkProcessing(ctx, tenantID, eventID, hash)
	if err != nil {
		return zero, err
	}

	switch res.State {
	case CheckDuplicateDifferentPayload:
		return zero, fmt.Errorf("%w: %s", ErrDuplicateIdempotencyKey, eventID)
	case CheckDuplicateSamePayload:
		return replay(ctx, w, tenantID, eventID, hash, res, write)
	default:
		return runAndRecord(ctx, w, tenantID, eventID, hash, write)
	}
}

func runAndRecord[T any](ctx context.Context, w *IdempotentWriter, tenantID, eventID, hash string, write func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	// 请求被取消时也要落下终态，否则后续重试会一直等待
	markCtx := context.WithoutCancel(ctx)

	result, err := write(ctx)
	if err != nil {
		detail, _ := json.Marshal(map[string]string{
			"error":   ErrorCode(err),
			"message": err.Error(),
		})
		if markErr := w.guard.MarkFailed(markCtx, tenantID, eventID, hash, string(detail)); markErr != nil {
			w.log.Error("记录幂等失败状态失败",
				zap.String("tenant_id", tenantID),
				zap.String("event_id", eventID),
				zap.Error(markErr))
		}
		return zero, err
	}

	body, err := json.Marshal(result)
	if err != nil {
		w.log.Error("响应序列化失败", zap.String("event_id", eventID), zap.Error(err))
		return result, nil
	}
	if err := w.guard.MarkCompleted(markCtx, tenantID, eventID, hash, string(body)); err != nil {
		w.log.Error("记录幂等完成状态失败",
			zap.String("tenant_id", tenantID),
			zap.String("event_id", eventID),
			zap.Error(err))
	}
	return result, nil
}

func replay[T any](ctx context.Context, w *IdempotentWriter, tenantID, eventID, hash string, res *CheckResult, write func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	status, body := res.Status, res.CachedResponse

	if status == model.IdempotencyStatusProcessing {
		var err error
		status, body, err = w.awaitCompletion(ctx, tenantID, eventID)
		if err != nil {
			return zero, err
		}
	}

	if status == model.IdempotencyStatusFailed {
		// 首次请求失败，由当前请求重新接手
		res, err := w.guard.CheckAndMarkProcessing(ctx, tenantID, eventID, hash)
		if err != nil {
			return zero, err
		}
		switch {
		case res.State == CheckNew:
			return runAndRecord(ctx, w, tenantID, eventID, hash, write)
		case res.State == CheckDuplicateDifferentPayload:
			return zero, fmt.Errorf("%w: %s", ErrDuplicateIdempotencyKey, eventID)
		case res.Status != model.IdempotencyStatusCompleted:
			return zero, fmt.Errorf("%w: %s", ErrRequestInProgress, eventID)
		}
		body = res.CachedResponse
	}

	var out T
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return zero, fmt.Errorf("幂等响应无法解析: %w", err)
	}
	w.log.Info("重复请求，返回首次处理结果",
		zap.String("tenant_id", tenantID),
		zap.String("event_id", eventID))
	return out, nil
}

// awaitCompletion 轮询等待处理中的首次请求落下终态
func (w *IdempotentWriter) awaitCompletion(ctx context.Context, tenantID, eventID string) (model.IdempotencyStatus, string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.Multiplier = 2
	b.Reset()

	deadline := time.Now().Add(w.inFlightWait)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", "", fmt.Errorf("%w: %s", ErrRequestInProgress, eventID)
		}
		wait := b.NextBackOff()
		if wait > remaining {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", "", ctx.Err()
		case <-timer.C:
		}

		rec, err := w.guard.Lookup(ctx, tenantID, eventID)
		if err != nil {
			return "", "", err
		}
		if rec != nil && rec.Status != model.IdempotencyStatusProcessing {
			return rec.Status, rec.ResponseBody, nil
		}
	}
}
