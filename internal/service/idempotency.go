package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ledgersystem/internal/config"
	"ledgersystem/internal/infrastructure/breaker"
	"ledgersystem/internal/metrics"
	"ledgersystem/internal/model"
	"ledgersystem/internal/repository"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ============================================================================
// 幂等守卫
// ============================================================================
//
// Redis 为快速层：SETNX ledger:ik:<tenant>:<event> 抢占处理权，TTL 72h。
// 数据库 idempotency_logs 为持久层，任何时候都以它为准：
//   - Redis 抢占成功后仍要写持久记录，主键冲突说明缓存过期但曾经处理过
//   - Redis 不可用（重试耗尽或熔断打开）时直接在数据库行锁下判定
//   - FAILED 记录遇到相同请求体时重新进入 PROCESSING，由持久层行锁保证只有一个请求接手
//
// ============================================================================

// CheckState 幂等判定结果
type CheckState string

const (
	CheckNew                       CheckState = "NEW"
	CheckDuplicateSamePayload      CheckState = "DUPLICATE_SAME_PAYLOAD"
	CheckDuplicateDifferentPayload CheckState = "DUPLICATE_DIFFERENT_PAYLOAD"
)

type CheckResult struct {
	State          CheckState
	Status         model.IdempotencyStatus
	CachedResponse string
}

type cacheRecord struct {
	Status       model.IdempotencyStatus `json:"status"`
	PayloadHash  string                  `json:"payloadHash"`
	ResponseBody string                  `json:"responseBody"`
}

// CacheKey Redis 幂等键
func CacheKey(tenantID, eventID string) string {
	return fmt.Sprintf("ledger:ik:%s:%s", tenantID, eventID)
}

type IdempotencyGuard struct {
	db      *gorm.DB
	rdb     *redis.Client
	repo    *repository.IdempotencyRepository
	breaker *breaker.Breaker
	cfg     config.IdempotencyConfig
	log     *zap.Logger
}

// NewIdempotencyGuard rdb 为 nil 时只使用持久层
func NewIdempotencyGuard(db *gorm.DB, rdb *redis.Client, cfg config.IdempotencyConfig, log *zap.Logger) *IdempotencyGuard {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	return &IdempotencyGuard{
		db:   db,
		rdb:  rdb,
		repo: repository.NewIdempotencyRepository(db),
		breaker: breaker.New(breaker.Settings{
			Name:                "idempotency-redis",
			ConsecutiveFailures: cfg.BreakerFailures,
			OpenTimeout:         cfg.BreakerOpenWindow,
			OnStateChange:       metrics.ObserveBreaker,
		}, log),
		cfg: cfg,
		log: log,
	}
}

// CheckAndMarkProcessing 判定请求是否首次出现，首次出现时标记为 PROCESSING
func (g *IdempotencyGuard) CheckAndMarkProcessing(ctx context.Context, tenantID, eventID, payloadHash string) (*CheckResult, error) {
	res, err := g.check(ctx, tenantID, eventID, payloadHash)
	if err != nil {
		return nil, err
	}
	metrics.IdempotencyOutcomes.WithLabelValues(string(res.State)).Inc()
	return res, nil
}

func (g *IdempotencyGuard) check(ctx context.Context, tenantID, eventID, payloadHash string) (*CheckResult, error) {
	if g.rdb == nil {
		return g.checkDurable(ctx, tenantID, eventID, payloadHash)
	}

	key := CacheKey(tenantID, eventID)
	raw, _ := json.Marshal(cacheRecord{Status: model.IdempotencyStatusProcessing, PayloadHash: payloadHash})

	var acquired bool
	err := g.cacheCall(ctx, "setnx", func() error {
		ok, err := g.rdb.SetNX(ctx, key, raw, g.cfg.TTL).Result()
		acquired = ok
		return err
	})
	if err != nil {
		return g.fallback(ctx, tenantID, eventID, payloadHash, err)
	}

	if acquired {
		inserted, err := g.repo.InsertIfAbsent(ctx, nil, &model.IdempotencyLog{
			TenantID:    tenantID,
			EventID:     eventID,
			PayloadHash: payloadHash,
			Status:      model.IdempotencyStatusProcessing,
		})
		if err != nil {
			g.deleteCache(ctx, key)
			return nil, fmt.Errorf("写入幂等记录失败: %w", err)
		}
		if inserted {
			return &CheckResult{State: CheckNew, Status: model.IdempotencyStatusProcessing}, nil
		}

		// 缓存已过期但持久记录仍在
		res, err := g.checkDurable(ctx, tenantID, eventID, payloadHash)
		if err != nil {
			return nil, err
		}
		g.syncCache(ctx, tenantID, eventID)
		return res, nil
	}

	rec, found, err := g.readCache(ctx, key)
	if err != nil {
		return g.fallback(ctx, tenantID, eventID, payloadHash, err)
	}
	if !found {
		return g.checkDurable(ctx, tenantID, eventID, payloadHash)
	}

	if rec.PayloadHash != payloadHash {
		return &CheckResult{State: CheckDuplicateDifferentPayload, Status: rec.Status}, nil
	}
	if rec.Status == model.IdempotencyStatusFailed {
		res, err := g.checkDurable(ctx, tenantID, eventID, payloadHash)
		if err != nil {
			return nil, err
		}
		if res.State == CheckNew {
			g.writeCache(ctx, tenantID, eventID, cacheRecord{Status: model.IdempotencyStatusProcessing, PayloadHash: payloadHash})
		}
		return res, nil
	}
	return &CheckResult{State: CheckDuplicateSamePayload, Status: rec.Status, CachedResponse: rec.ResponseBody}, nil
}

func (g *IdempotencyGuard) fallback(ctx context.Context, tenantID, eventID, payloadHash string, cause error) (*CheckResult, error) {
	metrics.IdempotencyCacheFallbacks.Inc()
	g.log.Warn("Redis 不可用，幂等判定回退到数据库",
		zap.String("tenant_id", tenantID),
		zap.String("event_id", eventID),
		zap.Error(cause))
	return g.checkDurable(ctx, tenantID, eventID, payloadHash)
}

// checkDurable 在持久记录行锁下完成判定
func (g *IdempotencyGuard) checkDurable(ctx context.Context, tenantID, eventID, payloadHash string) (*CheckResult, error) {
	var res *CheckResult
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := g.repo.GetForUpdate(ctx, tx, tenantID, eventID)
		if errors.Is(err, repository.ErrIdempotencyLogNotFound) {
			inserted, err := g.repo.InsertIfAbsent(ctx, tx, &model.IdempotencyLog{
				TenantID:    tenantID,
				EventID:     eventID,
				PayloadHash: payloadHash,
				Status:      model.IdempotencyStatusProcessing,
			})
			if err != nil {
				return err
			}
			if inserted {
				res = &CheckResult{State: CheckNew, Status: model.IdempotencyStatusProcessing}
				return nil
			}
			existing, err = g.repo.GetForUpdate(ctx, tx, tenantID, eventID)
			if err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		switch {
		case existing.PayloadHash != payloadHash:
			res = &CheckResult{State: CheckDuplicateDifferentPayload, Status: existing.Status}
		case existing.Status == model.IdempotencyStatusFailed:
			existing.Status = model.IdempotencyStatusProcessing
			existing.ResponseBody = ""
			if err := g.repo.Upsert(ctx, tx, existing); err != nil {
				return err
			}
			res = &CheckResult{State: CheckNew, Status: model.IdempotencyStatusProcessing}
		default:
			res = &CheckResult{State: CheckDuplicateSamePayload, Status: existing.Status, CachedResponse: existing.ResponseBody}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("幂等记录判定失败: %w", err)
	}
	return res, nil
}

// MarkCompleted 记录成功响应，先写持久层再刷新缓存
func (g *IdempotencyGuard) MarkCompleted(ctx context.Context, tenantID, eventID, payloadHash, responseBody string) error {
	return g.mark(ctx, tenantID, eventID, payloadHash, model.IdempotencyStatusCompleted, responseBody)
}

// MarkFailed 记录失败详情，之后相同请求体可以重试
func (g *IdempotencyGuard) MarkFailed(ctx context.Context, tenantID, eventID, payloadHash, failureDetail string) error {
	return g.mark(ctx, tenantID, eventID, payloadHash, model.IdempotencyStatusFailed, failureDetail)
}

func (g *IdempotencyGuard) mark(ctx context.Context, tenantID, eventID, payloadHash string, status model.IdempotencyStatus, body string) error {
	err := g.repo.Upsert(ctx, nil, &model.IdempotencyLog{
		TenantID:     tenantID,
		EventID:      eventID,
		PayloadHash:  payloadHash,
		Status:       status,
		ResponseBody: body,
	})
	if err != nil {
		return fmt.Errorf("更新幂等记录失败: %w", err)
	}
	g.writeCache(ctx, tenantID, eventID, cacheRecord{Status: status, PayloadHash: payloadHash, ResponseBody: body})
	return nil
}

// Lookup 读取当前幂等记录，缓存不可用或未命中时读数据库；不存在返回 nil
func (g *IdempotencyGuard) Lookup(ctx context.Context, tenantID, eventID string) (*model.IdempotencyLog, error) {
	if g.rdb != nil {
		rec, found, err := g.readCache(ctx, CacheKey(tenantID, eventID))
		if err == nil && found {
			return &model.IdempotencyLog{
				TenantID:     tenantID,
				EventID:      eventID,
				PayloadHash:  rec.PayloadHash,
				Status:       rec.Status,
				ResponseBody: rec.ResponseBody,
			}, nil
		}
	}

	log, err := g.repo.Get(ctx, nil, tenantID, eventID)
	if errors.Is(err, repository.ErrIdempotencyLogNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询幂等记录失败: %w", err)
	}
	return log, nil
}

// cacheCall 在熔断器保护下执行 Redis 操作，指数退避重试；熔断打开时不再重试
func (g *IdempotencyGuard) cacheCall(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.cfg.RetryInitial
	b.MaxInterval = g.cfg.RetryMax
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := g.breaker.Execute(fn)
		if errors.Is(err, breaker.ErrOpen) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(g.cfg.RetryAttempts)))
	if err != nil {
		g.log.Debug("Redis 幂等操作失败", zap.String("op", op), zap.Error(err))
	}
	return err
}

func (g *IdempotencyGuard) readCache(ctx context.Context, key string) (cacheRecord, bool, error) {
	var raw string
	var found bool
	err := g.cacheCall(ctx, "get", func() error {
		v, err := g.rdb.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		raw, found = v, true
		return nil
	})
	if err != nil || !found {
		return cacheRecord{}, false, err
	}

	var rec cacheRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return cacheRecord{}, false, fmt.Errorf("幂等缓存内容无法解析: %w", err)
	}
	return rec, true, nil
}

// writeCache 缓存写失败只记录日志，持久层已是最新
func (g *IdempotencyGuard) writeCache(ctx context.Context, tenantID, eventID string, rec cacheRecord) {
	if g.rdb == nil {
		return
	}
	raw, _ := json.Marshal(rec)
	err := g.cacheCall(ctx, "set", func() error {
		return g.rdb.Set(ctx, CacheKey(tenantID, eventID), raw, g.cfg.TTL).Err()
	})
	if err != nil {
		g.log.Warn("刷新幂等缓存失败",
			zap.String("tenant_id", tenantID),
			zap.String("event_id", eventID),
			zap.Error(err))
	}
}

func (g *IdempotencyGuard) deleteCache(ctx context.Context, key string) {
	err := g.cacheCall(ctx, "del", func() error {
		return g.rdb.Del(ctx, key).Err()
	})
	if err != nil {
		g.log.Warn("清理幂等缓存失败", zap.String("key", key), zap.Error(err))
	}
}

// syncCache 用持久记录覆盖缓存
func (g *IdempotencyGuard) syncCache(ctx context.Context, tenantID, eventID string) {
	log, err := g.repo.Get(ctx, nil, tenantID, eventID)
	if err != nil {
		g.log.Warn("读取幂等记录失败，跳过缓存同步", zap.String("event_id", eventID), zap.Error(err))
		return
	}
	g.writeCache(ctx, tenantID, eventID, cacheRecord{
		Status:       log.Status,
		PayloadHash:  log.PayloadHash,
		ResponseBody: log.ResponseBody,
	})
}
