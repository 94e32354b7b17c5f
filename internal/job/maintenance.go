package job

import (
	"context"
	"sync"
	"time"

	"ledgersystem/internal/repository"
	"ledgersystem/internal/service"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// IntegrityCheckJob 定时校验所有租户的会计恒等式与哈希链
type IntegrityCheckJob struct {
	integrity *service.IntegrityService
	interval  time.Duration
	log       *zap.Logger
	stopCh    chan struct{}
	stopOnce  sync.Once
}

func NewIntegrityCheckJob(integrity *service.IntegrityService, interval time.Duration, log *zap.Logger) *IntegrityCheckJob {
	if interval <= 0 {
		interval = time.Hour
	}
	return &IntegrityCheckJob{
		integrity: integrity,
		interval:  interval,
		log:       log,
		stopCh:    make(chan struct{}),
	}
}

func (j *IntegrityCheckJob) Start(ctx context.Context) {
	j.log.Info("[IntegrityCheckJob] 完整性校验任务启动", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("[IntegrityCheckJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.log.Info("[IntegrityCheckJob] 任务停止")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

func (j *IntegrityCheckJob) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
}

// RunOnce 返回不健康的租户数
func (j *IntegrityCheckJob) RunOnce(ctx context.Context) int {
	reports, err := j.integrity.CheckAll(ctx)
	if err != nil {
		j.log.Error("[IntegrityCheckJob] 校验失败", zap.Error(err))
		return 0
	}

	unhealthy := 0
	for _, r := range reports {
		if r.Healthy {
			continue
		}
		unhealthy++
		fields := []zap.Field{
			zap.String("tenant_id", r.TenantID),
			zap.Bool("equation_holds", r.EquationHolds),
			zap.Int64("delta", r.Delta),
		}
		if r.Chain != nil && !r.Chain.Valid {
			fields = append(fields,
				zap.String("broken_at_entry_id", r.Chain.BrokenAtEntryID),
				zap.Int64("broken_at_index", r.Chain.BrokenAtIndex),
				zap.String("reason", r.Chain.Reason))
		}
		j.log.Error("[IntegrityCheckJob] 租户账本不一致", fields...)
	}

	j.log.Info("[IntegrityCheckJob] 本次校验完成",
		zap.Int("tenants", len(reports)),
		zap.Int("unhealthy", unhealthy))
	return unhealthy
}

// OutboxCleanupJob 清理保留期之前已投递的发件箱事件
type OutboxCleanupJob struct {
	outboxRepo *repository.OutboxRepository
	interval   time.Duration
	retention  time.Duration
	log        *zap.Logger
	stopCh     chan struct{}
	stopOnce   sync.Once
}

func NewOutboxCleanupJob(db *gorm.DB, interval, retention time.Duration, log *zap.Logger) *OutboxCleanupJob {
	if interval <= 0 {
		interval = time.Hour
	}
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &OutboxCleanupJob{
		outboxRepo: repository.NewOutboxRepository(db),
		interval:   interval,
		retention:  retention,
		log:        log,
		stopCh:     make(chan struct{}),
	}
}

func (j *OutboxCleanupJob) Start(ctx context.Context) {
	j.log.Info("[OutboxCleanupJob] 发件箱清理任务启动", zap.Duration("retention", j.retention))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("[OutboxCleanupJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.log.Info("[OutboxCleanupJob] 任务停止")
			return
		case <-ticker.C:
			j.RunOnce(ctx, time.Now().UTC())
		}
	}
}

func (j *OutboxCleanupJob) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
}

// RunOnce 未投递的事件不会被清理
func (j *OutboxCleanupJob) RunOnce(ctx context.Context, now time.Time) int64 {
	deleted, err := j.outboxRepo.DeletePublishedBefore(ctx, now.Add(-j.retention))
	if err != nil {
		j.log.Error("[OutboxCleanupJob] 清理失败", zap.Error(err))
		return 0
	}
	if deleted > 0 {
		j.log.Info("[OutboxCleanupJob] 已清理过期事件", zap.Int64("count", deleted))
	}
	return deleted
}
