package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"ledger/internal/config"
	"ledger/internal/ledger"
)

// 加锁: SET key value NX PX ttl
// 释放: Lua 脚本比较 value 后再 DEL，只删自己持有的锁
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

var ErrLockFailed = errors.New("acquire distributed lock failed")

// DistributedLock 单个 key 的 Redis 锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string // 持有者标识
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

// TryLock 非阻塞
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock 阻塞式获取锁，最多重试 maxRetries 次
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
		}
	}
	return ErrLockFailed
}

func (l *DistributedLock) Unlock(ctx context.Context) error {
	return unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Err()
}

// AccountLockKey 每个账户一把锁
func AccountLockKey(accountID int64) string {
	return fmt.Sprintf("ledger:lock:account:%d", accountID)
}

// AccountLocker 实现 ledger.Locker：按传入顺序（引擎保证 id 升序）逐个加锁
type AccountLocker struct {
	client *redis.Client
	cfg    config.LockConfig
	logger *zap.Logger
}

func NewAccountLocker(client *redis.Client, cfg config.LockConfig, logger *zap.Logger) *AccountLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountLocker{client: client, cfg: cfg, logger: logger}
}

func (a *AccountLocker) Lock(ctx context.Context, accountIDs []int64) (func(), error) {
	owner := uuid.NewString()
	held := make([]*DistributedLock, 0, len(accountIDs))

	release := func() {
		// 释放不受调用方 ctx 取消影响
		releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i].Unlock(releaseCtx); err != nil {
				a.logger.Warn("release account lock failed", zap.String("key", held[i].key), zap.Error(err))
			}
		}
	}

	for _, id := range accountIDs {
		l := NewDistributedLock(a.client, AccountLockKey(id), owner, a.cfg.TTL)
		if err := l.Lock(ctx, a.cfg.RetryInterval, a.cfg.MaxRetries); err != nil {
			release()
			if errors.Is(err, ErrLockFailed) {
				return nil, fmt.Errorf("%w: account %d", ledger.ErrLockNotAcquired, id)
			}
			return nil, fmt.Errorf("lock account %d: %w", id, err)
		}
		held = append(held, l)
	}

	return release, nil
}

var _ ledger.Locker = (*AccountLocker)(nil)
