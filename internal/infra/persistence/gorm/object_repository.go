package gormpersistence

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"my-room-spaces/internal/domain"
)

// GormObjectRepository 是 ObjectRepository 接口的 GORM 实现。
type GormObjectRepository struct {
	db *gorm.DB
}

func NewGormObjectRepository(db *gorm.DB) *GormObjectRepository {
	if db == nil {
		panic("database connection cannot be nil for GormObjectRepository")
	}
	return &GormObjectRepository{db: db}
}

// ApplyMutations 按接收顺序应用一批对象变更。
// 先按 (spaceID, objectID) 合并，后一条记录完全覆盖前一条 (last-write-wins)，
// 再把最终态分为 upsert 和 delete 两组落库。删除在 upsert 之后执行，
// 保证同批中 add→move→delete 的对象最终不存在（不会复活）。
func (r *GormObjectRepository) ApplyMutations(ctx context.Context, mutations []domain.ObjectMutation) error {
	if len(mutations) == 0 {
		return nil
	}

	type objKey struct{ spaceID, objectID string }
	final := make(map[objKey]domain.ObjectMutation, len(mutations))
	order := make([]objKey, 0, len(mutations))
	for _, m := range mutations {
		k := objKey{m.SpaceID, m.State.ObjectID}
		if _, seen := final[k]; !seen {
			order = append(order, k)
		}
		final[k] = m
	}

	var upserts []domain.WorldObject
	var deletes []objKey
	for _, k := range order {
		m := final[k]
		switch m.Op {
		case domain.ObjectOpUpsert:
			obj := domain.WorldObject{
				ObjectID:         m.State.ObjectID,
				SpaceID:          m.SpaceID,
				Kind:             m.State.Kind,
				ModelID:          m.State.ModelID,
				CreatedBy:        m.State.CreatedBy,
				UpdatedBy:        m.State.UpdatedBy,
				InteractionCount: m.State.InteractionCount,
			}
			obj.SetPosition(m.State.Position)
			obj.SetRotation(m.State.Rotation)
			obj.SetScale(m.State.Scale)
			upserts = append(upserts, obj)
		case domain.ObjectOpDelete:
			deletes = append(deletes, k)
		}
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(upserts) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "space_id"}, {Name: "object_id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"kind", "pos_x", "pos_y", "pos_z", "rot_x", "rot_y", "rot_z",
					"scale_x", "scale_y", "scale_z", "model_id", "updated_by", "interaction_count",
				}),
			}).Create(&upserts).Error
			if err != nil {
				return fmt.Errorf("gorm: upsert object batch (size %d): %w", len(upserts), err)
			}
		}
		for _, k := range deletes {
			err := tx.Where("space_id = ? AND object_id = ?", k.spaceID, k.objectID).
				Delete(&domain.WorldObject{}).Error
			if err != nil {
				return fmt.Errorf("gorm: delete object %s/%s: %w", k.spaceID, k.objectID, err)
			}
		}
		return nil
	})
}

// ListBySpace 返回指定空间的全部对象（进程重启后重建世界状态）。
func (r *GormObjectRepository) ListBySpace(ctx context.Context, spaceID string) ([]domain.WorldObject, error) {
	var objects []domain.WorldObject
	err := r.db.WithContext(ctx).Where("space_id = ?", spaceID).Find(&objects).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list objects for space %s: %w", spaceID, err)
	}
	return objects, nil
}
