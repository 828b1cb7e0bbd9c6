package repository

import (
	"context"
	"time"

	"my-room-spaces/internal/domain"
)

// RateLimitResult 是一次限流检查的结果。
type RateLimitResult struct {
	Allowed   bool
	Remaining int
}

// SessionCacheRecord 是缓存中按连接标识存放的会话字段（跨实例查询用）。
type SessionCacheRecord struct {
	UserID      string
	SpaceID     string
	ConnectedAt time.Time
}

// CacheRepository 定义缓存层操作，通常由 Redis 实现。
// 缓存内容永远可以从 Durable Store 重建，不持有任何独立事实。
type CacheRepository interface {
	// === 通用 KV ===

	// Get 按 (category, key) 读取序列化值。未命中返回 ErrCacheMiss。
	Get(ctx context.Context, category, key string) ([]byte, error)
	// Set 按 (category, key) 写入序列化值，ttl 为 0 表示不过期。
	Set(ctx context.Context, category, key string, value []byte, ttl time.Duration) error
	// Delete 删除单个键。键不存在不算错误。
	Delete(ctx context.Context, category, key string) error

	// === Hash ===

	HSet(ctx context.Context, category, id string, fields map[string]interface{}) error
	HGet(ctx context.Context, category, id, field string) (string, error)
	HGetAll(ctx context.Context, category, id string) (map[string]string, error)

	// Invalidate 按模式批量删除（例如 "world:*"）。返回删除的键数量。
	Invalidate(ctx context.Context, pattern string) (int64, error)

	// === 世界状态快照 ===

	// CacheWorldState 缓存空间快照，供新连接加入时快速读取。
	CacheWorldState(ctx context.Context, spaceID string, snapshot *domain.WorldSnapshot, ttl time.Duration) error
	// GetCachedWorldState 读取缓存的空间快照。未命中返回 ErrCacheMiss。
	GetCachedWorldState(ctx context.Context, spaceID string) (*domain.WorldSnapshot, error)

	// === 会话记录（跨实例查询） ===

	PutSessionRecord(ctx context.Context, connID string, record SessionCacheRecord, ttl time.Duration) error
	GetSessionRecord(ctx context.Context, connID string) (*SessionCacheRecord, error)
	DeleteSessionRecord(ctx context.Context, connID string) error

	// === 限流 ===

	// CheckRateLimit 固定窗口计数限流。窗口内第 limit+1 次调用起返回
	// Allowed=false、Remaining=0；计数仅在窗口过期时重置。
	CheckRateLimit(ctx context.Context, subject, action string, limit int, window time.Duration) (RateLimitResult, error)
}
