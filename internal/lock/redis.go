package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	xerrors "ExchangeMCP-Chain/internal/errors"
	"ExchangeMCP-Chain/pkg/logger"
)

// releaseScript 仅当锁仍由当前持有者持有时才删除。
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript 仅为当前持有者续期。
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisConfig 描述 Redis 锁的连接参数。
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	Prefix    string
	TTL       time.Duration
	RetryWait time.Duration
}

// RedisLock 使用 SET NX PX 租约在多个进程之间串行化同一签名者的工作流。
// 持有期间按 TTL/3 的间隔续期，进程崩溃时租约在 TTL 后自动失效。
type RedisLock struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	wait   time.Duration
	logger *slog.Logger
}

// NewRedisLock 创建 Redis 锁实例并检查连通性。
func NewRedisLock(ctx context.Context, cfg RedisConfig) (*RedisLock, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeConnectivity, err, "连接 Redis 失败")
	}
	return newRedisLock(client, cfg), nil
}

func newRedisLock(client *redis.Client, cfg RedisConfig) *RedisLock {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "exchange-mcp:signer:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	wait := cfg.RetryWait
	if wait <= 0 {
		wait = 100 * time.Millisecond
	}
	return &RedisLock{client: client, prefix: prefix, ttl: ttl, wait: wait, logger: logger.Named("lock")}
}

// Acquire 实现 SignerLock。
func (l *RedisLock) Acquire(ctx context.Context, key string) (Release, error) {
	name := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.wait)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, name, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, wrapWaitError(ctx.Err(), key)
			}
			return nil, xerrors.Wrap(xerrors.CodeConnectivity, err, "获取签名者锁失败")
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, wrapWaitError(ctx.Err(), key)
		case <-ticker.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.refresh(name, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{name}, token).Err(); err != nil {
				l.logger.Warn("释放签名者锁失败", slog.String("key", name), slog.Any("error", err))
			}
		})
	}, nil
}

func (l *RedisLock) refresh(name, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.wait*10)
			res, err := refreshScript.Run(ctx, l.client, []string{name}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err != nil || res == 0 {
				l.logger.Warn("签名者锁续期失败", slog.String("key", name), slog.Any("error", fmt.Errorf("result=%d: %v", res, err)))
			}
		}
	}
}

// Close 关闭 Redis 连接。
func (l *RedisLock) Close() error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Close()
}
