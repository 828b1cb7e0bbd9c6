package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"my-room-spaces/internal/domain"
	"my-room-spaces/internal/repository"
)

// GormModelRepository 是 ModelRepository 接口的 GORM 实现。
type GormModelRepository struct {
	db *gorm.DB
}

func NewGormModelRepository(db *gorm.DB) *GormModelRepository {
	if db == nil {
		panic("database connection cannot be nil for GormModelRepository")
	}
	return &GormModelRepository{db: db}
}

func (r *GormModelRepository) FindByID(ctx context.Context, modelID string) (*domain.UploadedModel, error) {
	var model domain.UploadedModel
	err := r.db.WithContext(ctx).Where("model_id = ?", modelID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrModelNotFound
		}
		return nil, fmt.Errorf("gorm: find model by id %s: %w", modelID, err)
	}
	return &model, nil
}

func (r *GormModelRepository) Save(ctx context.Context, model *domain.UploadedModel) error {
	err := r.db.WithContext(ctx).Save(model).Error
	if err != nil {
		if isDuplicateEntryError(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: save model %s: %w", model.ModelID, err)
	}
	return nil
}

func (r *GormModelRepository) List(ctx context.Context) ([]domain.UploadedModel, error) {
	var models []domain.UploadedModel
	if err := r.db.WithContext(ctx).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("gorm: list models: %w", err)
	}
	return models, nil
}

// IncrementUsage 原子递增模型引用计数。
func (r *GormModelRepository) IncrementUsage(ctx context.Context, modelID string) error {
	err := r.db.WithContext(ctx).Model(&domain.UploadedModel{}).
		Where("model_id = ?", modelID).
		UpdateColumn("usage_count", gorm.Expr("usage_count + ?", 1)).Error
	if err != nil {
		return fmt.Errorf("gorm: increment usage for model %s: %w", modelID, err)
	}
	return nil
}

// DeleteCascade 在一个事务中删除模型行及引用它的全部对象行。
// 显式事务避免与并发的 object-add 产生半删除状态：
// 要么模型和依赖对象都消失，要么都保留。
func (r *GormModelRepository) DeleteCascade(ctx context.Context, modelID string) ([]repository.DeletedObjectRef, error) {
	var deleted []repository.DeletedObjectRef
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model domain.UploadedModel
		if err := tx.Where("model_id = ?", modelID).First(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return repository.ErrModelNotFound
			}
			return fmt.Errorf("gorm: find model %s for cascade delete: %w", modelID, err)
		}

		var dependents []domain.WorldObject
		if err := tx.Where("model_id = ?", modelID).Find(&dependents).Error; err != nil {
			return fmt.Errorf("gorm: list dependents of model %s: %w", modelID, err)
		}
		for _, obj := range dependents {
			deleted = append(deleted, repository.DeletedObjectRef{SpaceID: obj.SpaceID, ObjectID: obj.ObjectID})
		}

		if err := tx.Where("model_id = ?", modelID).Delete(&domain.WorldObject{}).Error; err != nil {
			return fmt.Errorf("gorm: delete dependents of model %s: %w", modelID, err)
		}
		if err := tx.Where("model_id = ?", modelID).Delete(&domain.UploadedModel{}).Error; err != nil {
			return fmt.Errorf("gorm: delete model %s: %w", modelID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}
