package lock

import (
	"context"
	"sync"
	"time"
)

// renewDivisor 续约间隔为 TTL 的几分之一
const renewDivisor = 3

// keepAlive 持有期间周期续约，直到 stop 被调用或 renew 返回 false（租约已丢失）
func keepAlive(ttl time.Duration, renew func(ctx context.Context) bool) (stop func()) {
	interval := ttl / renewDivisor
	if interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				ok := renew(ctx)
				cancel()
				if !ok {
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
