package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ledgersystem/internal/config"
	"ledgersystem/internal/handler"
	"ledgersystem/internal/infrastructure/cache"
	"ledgersystem/internal/infrastructure/database"
	"ledgersystem/internal/infrastructure/lock"
	"ledgersystem/internal/infrastructure/mq"
	"ledgersystem/internal/job"
	"ledgersystem/internal/logger"
	"ledgersystem/internal/service"
	"ledgersystem/pkg/idgen"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	zl, err := logger.New(&cfg.Log)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	// 初始化 ID 生成器
	if err := idgen.Init(int64(cfg.Server.NodeID)); err != nil {
		zl.Fatal("初始化 ID 生成器失败", zap.Error(err))
	}

	db, err := database.Open(&cfg.Database, zl)
	if err != nil {
		zl.Fatal("初始化数据库失败", zap.Error(err))
	}

	redisClient := cache.NewRedis(&cfg.Redis, zl)
	defer func() { _ = redisClient.Close() }()

	producer, err := mq.NewSyncProducer(&cfg.Kafka)
	if err != nil {
		zl.Fatal("初始化 Kafka 失败", zap.Error(err))
	}
	publisher := mq.NewKafkaPublisher(producer)
	defer func() { _ = publisher.Close() }()

	// 服务装配
	guard := service.NewIdempotencyGuard(db, redisClient, cfg.Idempotency, logger.Component(zl, "idempotency"))
	writer := service.NewIdempotentWriter(guard, cfg.Idempotency, logger.Component(zl, "idempotency"))
	outbox := service.NewOutboxService(db, cfg.Posting.EventType())
	engine := service.NewPostingEngine(db, nil, outbox, logger.Component(zl, "posting"))

	autoReversal := service.NewAutoReversalService(db, engine, logger.Component(zl, "auto-reversal"))
	revaluation := service.NewRevaluationService(db, engine, nil, logger.Component(zl, "revaluation"))
	chain := service.NewHashChainService(db, logger.Component(zl, "hash-chain"))
	integrity := service.NewIntegrityService(db, chain, logger.Component(zl, "integrity"))

	h := handler.NewHandler(handler.Services{
		Accounts:    service.NewAccountService(db, logger.Component(zl, "account")),
		Journals:    service.NewJournalService(db, engine, writer, logger.Component(zl, "journal")),
		Reversals:   service.NewReversalService(db, engine, writer, logger.Component(zl, "reversal")),
		Periods:     service.NewPeriodService(db, autoReversal, revaluation, logger.Component(zl, "period")),
		Revaluation: revaluation,
		YearEnd:     service.NewYearEndCloseService(db, engine, logger.Component(zl, "year-end-close")),
		Integrity:   integrity,
		Chain:       chain,
	}, zl)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	hostname, _ := os.Hostname()
	relayLock := lock.NewRelayLock(redisClient, fmt.Sprintf("%s-%d", hostname, cfg.Server.NodeID), cfg.Outbox.LockTTL)
	relay := job.NewOutboxRelay(db, publisher, relayLock, cfg.Outbox, logger.Component(zl, "outbox-relay"))
	cleanup := job.NewOutboxCleanupJob(db, cfg.Outbox.CleanupInterval, cfg.Outbox.Retention, logger.Component(zl, "outbox-cleanup"))
	integrityJob := job.NewIntegrityCheckJob(integrity, cfg.Integrity.CheckInterval, logger.Component(zl, "integrity-check"))

	var jobs sync.WaitGroup
	for _, start := range []func(context.Context){relay.Start, cleanup.Start, integrityJob.Start} {
		jobs.Add(1)
		go func(start func(context.Context)) {
			defer jobs.Done()
			start(ctx)
		}(start)
	}

	router := handler.SetupRouter(h, db, zl)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		zl.Info("服务启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("服务启动失败", zap.Error(err))
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zl.Info("正在关闭服务...")

	// 先停止接收请求，再停后台任务，保证已提交的凭证事件还有机会投递
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zl.Error("服务关闭异常", zap.Error(err))
	}

	relay.Stop()
	cleanup.Stop()
	integrityJob.Stop()
	cancel()
	jobs.Wait()

	zl.Info("服务已关闭")
}
