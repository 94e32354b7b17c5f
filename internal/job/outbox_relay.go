package job

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"ledgersystem/internal/config"
	"ledgersystem/internal/infrastructure/breaker"
	"ledgersystem/internal/infrastructure/lock"
	"ledgersystem/internal/infrastructure/mq"
	"ledgersystem/internal/metrics"
	"ledgersystem/internal/model"
	"ledgersystem/internal/repository"
	"ledgersystem/internal/service"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Publisher 消息投递，KafkaPublisher 实现
type Publisher interface {
	Publish(ctx context.Context, msg mq.Message) error
}

// OutboxRelay 按写入顺序把未投递事件发到消息队列
//
// 每轮最多取 batch_size 条，遇到第一次失败即停止本轮，后面的事件留到下一轮，
// 不会越过失败事件先发后面的。投递至少一次，消费方按 event_id 去重。
type OutboxRelay struct {
	outboxRepo *repository.OutboxRepository
	publisher  Publisher
	breaker    *breaker.Breaker
	lock       *lock.DistributedLock
	cfg        config.OutboxConfig
	log        *zap.Logger

	stopCh   chan struct{}
	stopOnce sync.Once

	mu          sync.Mutex
	lockHeld    bool
	retryStreak int
}

// NewOutboxRelay relayLock 为 nil 时不做跨实例互斥
func NewOutboxRelay(db *gorm.DB, publisher Publisher, relayLock *lock.DistributedLock, cfg config.OutboxConfig, log *zap.Logger) *OutboxRelay {
	if cfg.RelayInterval <= 0 {
		cfg.RelayInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.RetryStreakThreshold <= 0 {
		cfg.RetryStreakThreshold = 5
	}
	return &OutboxRelay{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		breaker: breaker.New(breaker.Settings{
			Name:                "outbox-publisher",
			ConsecutiveFailures: cfg.BreakerFailures,
			OpenTimeout:         cfg.BreakerOpenWindow,
			HalfOpenRequests:    cfg.BreakerHalfOpenRequests,
			OnStateChange:       metrics.ObserveBreaker,
		}, log),
		lock:   relayLock,
		cfg:    cfg,
		log:    log,
		stopCh: make(chan struct{}),
	}
}

func (r *OutboxRelay) Start(ctx context.Context) {
	r.log.Info("[OutboxRelay] 发件箱转发任务启动", zap.Duration("interval", r.cfg.RelayInterval))

	ticker := time.NewTicker(r.cfg.RelayInterval)
	defer ticker.Stop()
	defer r.releaseLock()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("[OutboxRelay] 收到停止信号，任务退出")
			return
		case <-r.stopCh:
			r.log.Info("[OutboxRelay] 任务停止")
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.log.Warn("[OutboxRelay] 本轮转发未完成", zap.Error(err))
			}
		}
	}
}

func (r *OutboxRelay) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// RetryStreak 连续投递失败次数
func (r *OutboxRelay) RetryStreak() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retryStreak
}

// RunOnce 执行一轮转发，返回本轮成功投递的数量
func (r *OutboxRelay) RunOnce(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.acquireLock(ctx) {
		return 0, nil
	}

	r.refreshBacklogMetrics(ctx)

	events, err := r.outboxRepo.GetUnpublished(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("查询未投递事件失败: %w", err)
	}

	published := 0
	for _, event := range events {
		if err := r.publish(ctx, event); err != nil {
			r.recordFailure(event, err)
			r.refreshBacklogMetrics(ctx)
			return published, err
		}

		if err := r.outboxRepo.MarkPublished(ctx, event.ID, time.Now().UTC()); err != nil {
			// 已发出但未标记，下一轮会重复投递
			r.log.Error("[OutboxRelay] 标记已投递失败", zap.Int64("event_id", event.ID), zap.Error(err))
			return published, fmt.Errorf("标记已投递失败: %w", err)
		}
		published++
		r.retryStreak = 0
		metrics.OutboxPublishSuccess.Inc()
		metrics.OutboxRetryStreak.Set(0)
	}

	if published > 0 {
		r.log.Debug("[OutboxRelay] 本轮投递完成", zap.Int("count", published))
		r.refreshBacklogMetrics(ctx)
	}
	return published, nil
}

func (r *OutboxRelay) publish(ctx context.Context, event *model.OutboxEvent) error {
	headers := map[string]string{
		"event_id":       strconv.FormatInt(event.ID, 10),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID,
		"tenant_id":      event.TenantID,
	}
	if event.Traceparent != "" {
		headers["traceparent"] = event.Traceparent
	}

	msg := mq.Message{
		Topic:   event.EventType,
		Key:     event.AggregateID,
		Value:   event.Payload,
		Headers: headers,
	}
	err := r.breaker.Execute(func() error {
		return r.publisher.Publish(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("%w: event_id=%d: %v", service.ErrOutboxPublishTransientFailure, event.ID, err)
	}
	return nil
}

func (r *OutboxRelay) recordFailure(event *model.OutboxEvent, err error) {
	r.retryStreak++
	metrics.OutboxPublishFailure.Inc()
	metrics.OutboxRetryStreak.Set(float64(r.retryStreak))

	fields := []zap.Field{
		zap.Int64("event_id", event.ID),
		zap.String("tenant_id", event.TenantID),
		zap.Int("retry_streak", r.retryStreak),
		zap.String("breaker_state", string(r.breaker.State())),
		zap.Error(err),
	}
	if r.retryStreak >= r.cfg.RetryStreakThreshold {
		r.log.Error("[OutboxRelay] 连续投递失败次数超过阈值", fields...)
		return
	}
	r.log.Warn("[OutboxRelay] 投递失败，下一轮重试", fields...)
}

func (r *OutboxRelay) refreshBacklogMetrics(ctx context.Context) {
	backlog, err := r.outboxRepo.CountUnpublished(ctx)
	if err != nil {
		r.log.Warn("[OutboxRelay] 统计积压失败", zap.Error(err))
		return
	}
	metrics.OutboxBacklog.Set(float64(backlog))

	oldest, err := r.outboxRepo.OldestUnpublished(ctx)
	if err != nil {
		r.log.Warn("[OutboxRelay] 查询最早未投递事件失败", zap.Error(err))
		return
	}
	if oldest == nil {
		metrics.OutboxOldestAge.Set(0)
		return
	}

	age := time.Since(oldest.CreatedAt)
	metrics.OutboxOldestAge.Set(age.Seconds())
	if r.cfg.OldestUnpublishedAlert > 0 && age >= r.cfg.OldestUnpublishedAlert {
		r.log.Warn("[OutboxRelay] 存在长时间未投递的事件",
			zap.Int64("event_id", oldest.ID),
			zap.Duration("age", age),
			zap.Int64("backlog", backlog))
	}
}

// acquireLock 持有锁时续期，否则尝试抢占；Redis 不可用时跳过本轮
func (r *OutboxRelay) acquireLock(ctx context.Context) bool {
	if r.lock == nil {
		return true
	}

	if r.lockHeld {
		err := r.lock.Refresh(ctx)
		if err == nil {
			return true
		}
		r.lockHeld = false
		if !errors.Is(err, lock.ErrLockExpired) {
			r.log.Warn("[OutboxRelay] 续期转发锁失败，跳过本轮", zap.Error(err))
			return false
		}
	}

	ok, err := r.lock.TryLock(ctx)
	if err != nil {
		r.log.Warn("[OutboxRelay] 获取转发锁失败，跳过本轮", zap.String("key", r.lock.Key()), zap.Error(err))
		return false
	}
	if ok {
		r.lockHeld = true
		r.log.Info("[OutboxRelay] 获得转发锁", zap.String("key", r.lock.Key()))
	}
	return ok
}

func (r *OutboxRelay) releaseLock() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lock == nil || !r.lockHeld {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.lock.Unlock(ctx); err != nil {
		r.log.Warn("[OutboxRelay] 释放转发锁失败", zap.Error(err))
	}
	r.lockHeld = false
}
