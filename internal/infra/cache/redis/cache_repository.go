// Package rediscache 是 repository.CacheRepository 接口的 Redis 实现。
// 缓存内容都是可丢弃的投影：任何键丢失都可以从 Durable Store 重建。
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"my-room-spaces/internal/domain"
	"my-room-spaces/internal/repository"
)

// RedisCacheRepository 依赖一个进程级共享、并发安全的 Redis 客户端。
type RedisCacheRepository struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisCacheRepository 创建实例。keyPrefix 为空时使用默认前缀 "mrs:"。
func NewRedisCacheRepository(client *redis.Client, keyPrefix string) *RedisCacheRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisCacheRepository")
	}
	if keyPrefix == "" {
		keyPrefix = "mrs:" // my-room-spaces
	}
	return &RedisCacheRepository{client: client, keyPrefix: keyPrefix}
}

// --- Key Generation Helpers ---

func (r *RedisCacheRepository) kvKey(category, key string) string {
	return fmt.Sprintf("%s%s:%s", r.keyPrefix, category, key)
}

func (r *RedisCacheRepository) worldStateKey(spaceID string) string {
	return fmt.Sprintf("%sworld:%s:snapshot", r.keyPrefix, spaceID)
}

func (r *RedisCacheRepository) sessionKey(connID string) string {
	return fmt.Sprintf("%ssession:%s", r.keyPrefix, connID)
}

func (r *RedisCacheRepository) rateLimitKey(subject, action string) string {
	return fmt.Sprintf("%sratelimit:%s:%s", r.keyPrefix, action, subject)
}

// --- 通用 KV ---

func (r *RedisCacheRepository) Get(ctx context.Context, category, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.kvKey(category, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrCacheMiss
		}
		return nil, fmt.Errorf("redis: get %s/%s: %w", category, key, err)
	}
	return val, nil
}

func (r *RedisCacheRepository) Set(ctx context.Context, category, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.kvKey(category, key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %s/%s: %w", category, key, err)
	}
	return nil
}

func (r *RedisCacheRepository) Delete(ctx context.Context, category, key string) error {
	if err := r.client.Del(ctx, r.kvKey(category, key)).Err(); err != nil {
		return fmt.Errorf("redis: delete %s/%s: %w", category, key, err)
	}
	return nil
}

// --- Hash ---

func (r *RedisCacheRepository) HSet(ctx context.Context, category, id string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	if err := r.client.HSet(ctx, r.kvKey(category, id), fields).Err(); err != nil {
		return fmt.Errorf("redis: hset %s/%s: %w", category, id, err)
	}
	return nil
}

func (r *RedisCacheRepository) HGet(ctx context.Context, category, id, field string) (string, error) {
	val, err := r.client.HGet(ctx, r.kvKey(category, id), field).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", repository.ErrCacheMiss
		}
		return "", fmt.Errorf("redis: hget %s/%s.%s: %w", category, id, field, err)
	}
	return val, nil
}

func (r *RedisCacheRepository) HGetAll(ctx context.Context, category, id string) (map[string]string, error) {
	val, err := r.client.HGetAll(ctx, r.kvKey(category, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: hgetall %s/%s: %w", category, id, err)
	}
	return val, nil
}

// Invalidate 用 SCAN 游标遍历匹配键并批量删除（不用 KEYS，避免阻塞服务）。
func (r *RedisCacheRepository) Invalidate(ctx context.Context, pattern string) (int64, error) {
	fullPattern := r.keyPrefix + pattern
	var deleted int64
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, fullPattern, 128).Result()
		if err != nil {
			return deleted, fmt.Errorf("redis: scan %s: %w", fullPattern, err)
		}
		if len(keys) > 0 {
			n, err := r.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("redis: del during invalidate %s: %w", fullPattern, err)
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	logrus.WithFields(logrus.Fields{"pattern": fullPattern, "deleted": deleted}).Debug("Cache invalidated by pattern")
	return deleted, nil
}

// --- 世界状态快照 ---

func (r *RedisCacheRepository) CacheWorldState(ctx context.Context, spaceID string, snapshot *domain.WorldSnapshot, ttl time.Duration) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("redis: marshal world snapshot for space %s: %w", spaceID, err)
	}
	if err := r.client.Set(ctx, r.worldStateKey(spaceID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: cache world state for space %s: %w", spaceID, err)
	}
	return nil
}

func (r *RedisCacheRepository) GetCachedWorldState(ctx context.Context, spaceID string) (*domain.WorldSnapshot, error) {
	data, err := r.client.Get(ctx, r.worldStateKey(spaceID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrCacheMiss
		}
		return nil, fmt.Errorf("redis: get cached world state for space %s: %w", spaceID, err)
	}
	var snapshot domain.WorldSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("redis: unmarshal cached world state for space %s: %w", spaceID, err)
	}
	return &snapshot, nil
}

// --- 会话记录（跨实例查询） ---

func (r *RedisCacheRepository) PutSessionRecord(ctx context.Context, connID string, record repository.SessionCacheRecord, ttl time.Duration) error {
	key := r.sessionKey(connID)
	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"user_id":      record.UserID,
		"space_id":     record.SpaceID,
		"connected_at": record.ConnectedAt.UTC().Format(time.RFC3339Nano),
	})
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: put session record for conn %s: %w", connID, err)
	}
	return nil
}

func (r *RedisCacheRepository) GetSessionRecord(ctx context.Context, connID string) (*repository.SessionCacheRecord, error) {
	fields, err := r.client.HGetAll(ctx, r.sessionKey(connID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get session record for conn %s: %w", connID, err)
	}
	if len(fields) == 0 {
		return nil, repository.ErrCacheMiss
	}
	record := &repository.SessionCacheRecord{
		UserID:  fields["user_id"],
		SpaceID: fields["space_id"],
	}
	if ts, ok := fields["connected_at"]; ok {
		if t, parseErr := time.Parse(time.RFC3339Nano, ts); parseErr == nil {
			record.ConnectedAt = t
		}
	}
	return record, nil
}

func (r *RedisCacheRepository) DeleteSessionRecord(ctx context.Context, connID string) error {
	if err := r.client.Del(ctx, r.sessionKey(connID)).Err(); err != nil {
		return fmt.Errorf("redis: delete session record for conn %s: %w", connID, err)
	}
	return nil
}

// --- 限流 ---

// rateLimitScript 在 Redis 侧原子执行 INCR 与首个窗口的 PEXPIRE。
// 两步分开发送时，INCR 之后 EXPIRE 之前的中断会留下一个永不过期的
// 计数键，使该主体在达到上限后被永久限流。
var rateLimitScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n`)

// CheckRateLimit 固定窗口计数限流。过期时间只在窗口首次创建时设置，
// 计数只随窗口过期重置，不会因为后续调用被刷新。
func (r *RedisCacheRepository) CheckRateLimit(ctx context.Context, subject, action string, limit int, window time.Duration) (repository.RateLimitResult, error) {
	key := r.rateLimitKey(subject, action)

	count, err := rateLimitScript.Run(ctx, r.client, []string{key}, window.Milliseconds()).Int64()
	if err != nil {
		return repository.RateLimitResult{}, fmt.Errorf("redis: rate limit window for key %s: %w", key, err)
	}

	remaining := int64(limit) - count
	if remaining < 0 {
		remaining = 0
	}
	return repository.RateLimitResult{
		Allowed:   count <= int64(limit),
		Remaining: int(remaining),
	}, nil
}

// 编译期检查接口实现完整。
var _ repository.CacheRepository = (*RedisCacheRepository)(nil)
