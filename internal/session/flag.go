package session

import (
	"context"
	"sync"
	"time"
)

// Flag 是服务端保存的连接标记。
type Flag interface {
	SetConnected(ctx context.Context, connected bool) error
	Connected(ctx context.Context) (bool, error)
}

// MemoryFlag 在进程内保存标记，过期后自动失效。
type MemoryFlag struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	expires time.Time
}

// NewMemoryFlag 创建内存标记；ttl <= 0 时使用默认有效期。
func NewMemoryFlag(ttl time.Duration) *MemoryFlag {
	if ttl <= 0 {
		ttl = TTL
	}
	return &MemoryFlag{ttl: ttl, now: time.Now}
}

// SetConnected 写入或清除标记。
func (f *MemoryFlag) SetConnected(_ context.Context, connected bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if connected {
		f.expires = f.now().Add(f.ttl)
	} else {
		f.expires = time.Time{}
	}
	return nil
}

// Connected 返回标记是否仍然有效。
func (f *MemoryFlag) Connected(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.expires.IsZero() {
		return false, nil
	}
	return f.now().Before(f.expires), nil
}

var _ Flag = (*MemoryFlag)(nil)
