// Package repository 定义持久化与缓存的接口边界，供 service 层依赖注入。
package repository

import (
	"context"

	"my-room-spaces/internal/domain"
)

// UserRepository 定义了用户数据的存储和检索操作。
type UserRepository interface {
	// FindByID 根据用户标识查找用户。
	// 如果用户不存在，返回 repository.ErrUserNotFound。
	FindByID(ctx context.Context, id string) (*domain.User, error)

	// UpsertBatch 批量写入用户（存在则更新显示名/头像/最后活跃时间，否则创建）。
	// 用户从不被删除，只做软历史。
	UpsertBatch(ctx context.Context, users []domain.User) error
}
