// Package lock 提供按签名者串行化写操作的锁：同一签名者同一时刻只允许一个工作流在执行。
package lock

import (
	"context"
	"sync"

	xerrors "ExchangeMCP-Chain/internal/errors"
)

// Release 释放已持有的锁，多次调用是安全的。
type Release func()

// SignerLock 按 key（通常为签名者地址）互斥。Acquire 阻塞直到获得锁或 ctx 结束。
type SignerLock interface {
	Acquire(ctx context.Context, key string) (Release, error)
	Close() error
}

// MemoryLock 是进程内实现，适用于单实例部署。
type MemoryLock struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewMemoryLock 创建进程内锁。
func NewMemoryLock() *MemoryLock {
	return &MemoryLock{slots: make(map[string]chan struct{})}
}

func (l *MemoryLock) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// Acquire 实现 SignerLock。
func (l *MemoryLock) Acquire(ctx context.Context, key string) (Release, error) {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, wrapWaitError(ctx.Err(), key)
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}, nil
}

// Close 实现 SignerLock。
func (l *MemoryLock) Close() error { return nil }

func wrapWaitError(err error, key string) error {
	return xerrors.Wrap(xerrors.CodeTimeout, err, "等待签名者锁超时", xerrors.WithMetadata("signer", key))
}
