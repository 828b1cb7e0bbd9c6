package repository

import (
	"context"
	"time"

	"my-room-spaces/internal/domain"
)

// SessionRepository 定义了会话记录的存储操作。
type SessionRepository interface {
	// ApplyRecords 按顺序应用一批会话变更记录 (begin/end)。
	// end 记录是幂等的：对已结束或不存在的会话不产生额外行。
	ApplyRecords(ctx context.Context, records []domain.SessionRecord) error

	// FindActiveBySocket 根据连接标识查找活跃会话。
	FindActiveBySocket(ctx context.Context, socketID string) (*domain.Session, error)

	// CloseStale 关闭 olderThan 之前开始且仍标记为活跃的会话。
	// 用于进程崩溃后的清理，返回被关闭的数量。
	CloseStale(ctx context.Context, olderThan time.Time) (int64, error)
}
