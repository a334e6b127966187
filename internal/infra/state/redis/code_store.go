package redisstate

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"exam-coordinator/internal/repository"
)

// releaseScript 只在 key 仍指向同一个会话时删除，避免释放已被回收给其他会话的访问码
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisCodeStore 是 CodeStore 接口的 Redis 实现
type RedisCodeStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisCodeStore 创建 RedisCodeStore 实例
func NewRedisCodeStore(client *redis.Client, keyPrefix string) *RedisCodeStore {
	if client == nil {
		panic("redis client cannot be nil for RedisCodeStore")
	}
	if keyPrefix == "" {
		keyPrefix = "exam:"
	}
	return &RedisCodeStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (r *RedisCodeStore) codeKey(code string) string {
	return fmt.Sprintf("%scode:%s", r.keyPrefix, code)
}

// Reserve 使用 SETNX 原子地预留访问码，不设置过期时间，关闭会话时显式释放
func (r *RedisCodeStore) Reserve(ctx context.Context, code, sessionID string) (bool, error) {
	key := r.codeKey(code)
	ok, err := r.client.SetNX(ctx, key, sessionID, 0).Result()
	if err != nil {
		return false, fmt.Errorf("redis: failed to reserve code on key %s: %w", key, err)
	}
	return ok, nil
}

// Lookup 返回持有访问码的会话 ID
func (r *RedisCodeStore) Lookup(ctx context.Context, code string) (string, error) {
	key := r.codeKey(code)
	sessionID, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", repository.ErrCodeNotFound
		}
		return "", fmt.Errorf("redis: failed to look up code on key %s: %w", key, err)
	}
	return sessionID, nil
}

// Release 比较后删除
func (r *RedisCodeStore) Release(ctx context.Context, code, sessionID string) error {
	key := r.codeKey(code)
	if err := releaseScript.Run(ctx, r.client, []string{key}, sessionID).Err(); err != nil {
		return fmt.Errorf("redis: failed to release code on key %s: %w", key, err)
	}
	return nil
}
