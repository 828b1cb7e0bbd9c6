package repository

import (
	"context"

	"my-room-spaces/internal/domain"
)

// ChatRepository 定义了聊天记录的存储操作。
type ChatRepository interface {
	// SaveBatch 批量保存聊天消息。
	SaveBatch(ctx context.Context, messages []domain.ChatMessage) error

	// ListRecent 返回指定空间最近的 n 条消息，按 Seq 升序。
	ListRecent(ctx context.Context, spaceID string, n int) ([]domain.ChatMessage, error)

	// Prune 删除指定空间中除最近 keep 条之外的消息，返回删除数量。
	Prune(ctx context.Context, spaceID string, keep int) (int64, error)

	// SpaceIDs 返回存在聊天记录的空间列表（供清理任务遍历）。
	SpaceIDs(ctx context.Context) ([]string, error)
}
