// Package lock 提供分班流程的互斥锁实现
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paiban/fenban/pkg/errors"
)

// pollInterval 等待锁释放时的轮询间隔
const pollInterval = 50 * time.Millisecond

// MemoryLocker 进程内互斥锁，适用于单实例部署
type MemoryLocker struct {
	mu      sync.Mutex
	holders map[string]holder
	now     func() time.Time
}

type holder struct {
	token   string
	expires time.Time
}

// NewMemoryLocker 创建进程内锁
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		holders: make(map[string]holder),
		now:     time.Now,
	}
}

// Acquire 获取锁，在 timeout 内轮询等待；超时返回 ALREADY_RUNNING
// 持有期间租约自动续期，直到调用返回的 release
func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl, timeout time.Duration) (func(context.Context) error, error) {
	token := uuid.NewString()
	deadline := l.now().Add(timeout)

	for {
		if l.tryAcquire(key, token, ttl) {
			stop := keepAlive(ttl, func(context.Context) bool {
				return l.renew(key, token, ttl)
			})
			return func(context.Context) error {
				stop()
				l.release(key, token)
				return nil
			}, nil
		}
		if !l.now().Before(deadline) {
			return nil, errors.AlreadyRunning(key)
		}

		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), errors.CodeLockFailed, "等待流程锁时被取消")
		case <-time.After(pollInterval):
		}
	}
}

func (l *MemoryLocker) tryAcquire(key, token string, ttl time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if h, ok := l.holders[key]; ok && now.Before(h.expires) {
		return false
	}
	l.holders[key] = holder{token: token, expires: now.Add(ttl)}
	return true
}

// renew 令牌一致且未过期时延长租约
func (l *MemoryLocker) renew(key, token string, ttl time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	h, ok := l.holders[key]
	if !ok || h.token != token || !now.Before(h.expires) {
		return false
	}
	l.holders[key] = holder{token: token, expires: now.Add(ttl)}
	return true
}

// release 只释放自己持有的锁
func (l *MemoryLocker) release(key, token string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.holders[key]; ok && h.token == token {
		delete(l.holders, key)
	}
}

// Held 返回锁是否被占用
func (l *MemoryLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.holders[key]
	return ok && l.now().Before(h.expires)
}
