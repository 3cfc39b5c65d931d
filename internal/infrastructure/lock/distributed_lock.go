package lock

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ============================================================================
// 分布式锁
// ============================================================================
//
// 同一会员的并发授权必须串行，否则会出现两笔同时通过额度检查、合计超限的场景。
// 请款/撤销同理：同一笔交易只能有一个操作者胜出。
//
// 加锁：SET key value NX EX timeout
//   - NX 保证互斥，EX 防止持有者崩溃后死锁
//   - value 为持有者令牌，释放时校验，防止误删他人的锁
// 释放：Lua 脚本保证"校验+删除"原子执行
//
// ============================================================================

var (
	ErrLockFailed = errors.New("获取分布式锁失败")
)

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string        // 持有者令牌
	expiration time.Duration // 锁过期时间
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
			// 继续重试
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁
// 令牌不匹配时不删除，避免释放已过期后被他人持有的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// ============================================================================
// RedisLocker 服务层使用的锁入口
// ============================================================================

// RedisLocker 按 key 粒度加锁，授权按会员号、请款/撤销按交易号
type RedisLocker struct {
	client        *redis.Client
	expiration    time.Duration
	retryInterval time.Duration
	maxRetries    int
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{
		client:        client,
		expiration:    30 * time.Second,
		retryInterval: 100 * time.Millisecond,
		maxRetries:    30,
	}
}

// Acquire 获取锁，返回释放函数
// 释放使用独立的超时上下文：调用方上下文超时后，补偿路径仍必须能释放锁
func (r *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	dl := NewDistributedLock(r.client, key, uuid.NewString(), r.expiration)
	if err := dl.Lock(ctx, r.retryInterval, r.maxRetries); err != nil {
		return nil, err
	}
	return func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = dl.Unlock(unlockCtx)
	}, nil
}
