package lock

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁
// ============================================================================
//
// 加锁：SET key value NX PX ttl
//   - NX:    key 不存在时才设置，保证互斥
//   - PX:    过期时间，持有者崩溃后锁自动释放
//   - value: 持有者标识，释放和续期时校验
//
// 释放、续期：Lua 脚本先比对 value 再 DEL / PEXPIRE，保证原子性
//
// 当前用于发件箱转发：多个实例同时运行时，同一时刻只有一个实例在投递，
// 事件按写入顺序发出。
//
// ============================================================================

var ErrLockExpired = errors.New("锁已过期或被其他持有者占用")

const (
	unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`

	refreshScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end`
)

// DistributedLock 基于 Redis 的互斥锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// NewRelayLock 发件箱转发锁，所有实例共用一个 key，value 区分实例
func NewRelayLock(client *redis.Client, holder string, expiration time.Duration) *DistributedLock {
	return NewDistributedLock(client, "ledger:outbox:relay:lock", holder, expiration)
}

func (l *DistributedLock) Key() string {
	return l.key
}

// TryLock 非阻塞获取
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Refresh 续期，锁已不属于自己时返回 ErrLockExpired
func (l *DistributedLock) Refresh(ctx context.Context) error {
	n, err := l.client.Eval(ctx, refreshScript, []string{l.key}, l.value, l.expiration.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockExpired
	}
	return nil
}

// Unlock 只删除自己持有的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	return l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Err()
}
