package cache

import (
	"context"
	"fmt"
	"time"

	"ledgersystem/internal/config"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// NewRedis 创建 Redis 客户端并检查连通性
//
// Redis 只承担幂等快速路径与 relay 单实例锁，不可用时服务仍可启动，
// 幂等检查会回退到数据库。
func NewRedis(cfg *config.RedisConfig, log *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("连接 Redis 失败，幂等检查将回退到数据库", zap.Error(err))
	} else {
		log.Info("Redis 连接成功")
	}
	return client
}
