package repository

import (
	"context"

	"my-room-spaces/internal/domain"
)

// ModelRepository 定义了上传模型元数据的存储操作。
type ModelRepository interface {
	// FindByID 根据模型标识查找。不存在时返回 repository.ErrModelNotFound。
	FindByID(ctx context.Context, modelID string) (*domain.UploadedModel, error)

	// Save 创建或更新模型元数据。
	Save(ctx context.Context, model *domain.UploadedModel) error

	// List 返回全部模型元数据。
	List(ctx context.Context) ([]domain.UploadedModel, error)

	// IncrementUsage 原子递增模型的引用计数。
	IncrementUsage(ctx context.Context, modelID string) error

	// DeleteCascade 在一个事务中删除模型及引用它的全部对象行，
	// 返回被删除对象的 (spaceID, objectID) 列表供在线通知。
	// 模型不存在时返回 repository.ErrModelNotFound。
	DeleteCascade(ctx context.Context, modelID string) ([]DeletedObjectRef, error)
}

// DeletedObjectRef 标识级联删除中被移除的一个对象。
type DeletedObjectRef struct {
	SpaceID  string
	ObjectID string
}
