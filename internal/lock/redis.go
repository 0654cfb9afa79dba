package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/paiban/fenban/internal/config"
	"github.com/paiban/fenban/pkg/errors"
	"github.com/paiban/fenban/pkg/logger"
)

// KeyPrefix Redis 锁键前缀
const KeyPrefix = "lock:"

// releaseScript 令牌一致时才删除
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript 令牌一致时才续期，ARGV[2] 为毫秒
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker 基于 Redis SET NX 的分布式锁
type RedisLocker struct {
	client redis.UniversalClient
}

// NewRedisClient 按配置创建客户端并检查连通性
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// NewRedisLocker 创建分布式锁
func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

// Acquire 获取锁；键被占用时在 timeout 内轮询，持有期间后台续期
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl, timeout time.Duration) (func(context.Context) error, error) {
	redisKey := KeyPrefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(timeout)

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, ttl).Result()
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeLockFailed, "获取流程锁失败").
				WithField("key", redisKey)
		}
		if ok {
			stop := keepAlive(ttl, func(ctx context.Context) bool {
				return l.renew(ctx, redisKey, token, ttl)
			})
			return l.releaser(redisKey, token, stop), nil
		}
		if !time.Now().Before(deadline) {
			return nil, errors.AlreadyRunning(key)
		}

		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), errors.CodeLockFailed, "等待流程锁时被取消")
		case <-time.After(pollInterval):
		}
	}
}

// renew 续期租约；网络错误时保留续约循环，令牌不符时停止
func (l *RedisLocker) renew(ctx context.Context, redisKey, token string, ttl time.Duration) bool {
	n, err := renewScript.Run(ctx, l.client, []string{redisKey}, token, ttl.Milliseconds()).Int()
	if err != nil {
		logger.Warn().Err(err).Str("key", redisKey).Msg("流程锁续期失败")
		return true
	}
	if n == 0 {
		logger.Warn().Str("key", redisKey).Msg("流程锁已被其他持有者占用")
		return false
	}
	return true
}

func (l *RedisLocker) releaser(redisKey, token string, stop func()) func(context.Context) error {
	return func(ctx context.Context) error {
		stop()
		if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil && err != redis.Nil {
			return fmt.Errorf("释放锁 %s 失败: %w", redisKey, err)
		}
		return nil
	}
}
