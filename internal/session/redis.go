package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "auditfi:wallet-connected"

// RedisConfig 描述 Redis 标记存储的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Key      string
	TTL      time.Duration
}

// redisCmdable 是 RedisFlag 使用到的命令子集。
type redisCmdable interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisFlag 把标记保存为带过期时间的 Redis key，多个进程可以共享。
type RedisFlag struct {
	client redisCmdable
	closer func() error
	key    string
	ttl    time.Duration
}

// NewRedisFlag 连接 Redis 并创建标记存储。
func NewRedisFlag(ctx context.Context, cfg RedisConfig) (*RedisFlag, error) {
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
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	f := newRedisFlag(client, cfg.Key, cfg.TTL)
	f.closer = client.Close
	return f, nil
}

func newRedisFlag(client redisCmdable, key string, ttl time.Duration) *RedisFlag {
	if key == "" {
		key = defaultRedisKey
	}
	if ttl <= 0 {
		ttl = TTL
	}
	return &RedisFlag{client: client, key: key, ttl: ttl}
}

// SetConnected 写入或删除标记。
func (f *RedisFlag) SetConnected(ctx context.Context, connected bool) error {
	if connected {
		if err := f.client.Set(ctx, f.key, "true", f.ttl).Err(); err != nil {
			return fmt.Errorf("写入连接标记失败: %w", err)
		}
		return nil
	}
	if err := f.client.Del(ctx, f.key).Err(); err != nil {
		return fmt.Errorf("清除连接标记失败: %w", err)
	}
	return nil
}

// Connected 判断标记是否存在。
func (f *RedisFlag) Connected(ctx context.Context) (bool, error) {
	n, err := f.client.Exists(ctx, f.key).Result()
	if err != nil {
		return false, fmt.Errorf("读取连接标记失败: %w", err)
	}
	return n > 0, nil
}

// Close 关闭 Redis 连接。
func (f *RedisFlag) Close() error {
	if f == nil || f.closer == nil {
		return nil
	}
	return f.closer()
}

var _ Flag = (*RedisFlag)(nil)
