package repository

import (
	"context"

	"my-room-spaces/internal/domain"
)

// ObjectRepository 定义了世界对象在持久化存储中的操作。
type ObjectRepository interface {
	// ApplyMutations 按接收顺序应用一批对象变更记录。
	// 同一对象的记录合并为最终状态（last-write-wins）：
	// 末条为 upsert 则落库该状态，末条为 delete 则删除行且不会复活。
	ApplyMutations(ctx context.Context, mutations []domain.ObjectMutation) error

	// ListBySpace 返回指定空间的全部对象（重启后重建世界状态用）。
	ListBySpace(ctx context.Context, spaceID string) ([]domain.WorldObject, error)
}
