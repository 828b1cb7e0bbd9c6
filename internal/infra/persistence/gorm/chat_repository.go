package gormpersistence

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"my-room-spaces/internal/domain"
)

// GormChatRepository 是 ChatRepository 接口的 GORM 实现。
type GormChatRepository struct {
	db *gorm.DB
}

func NewGormChatRepository(db *gorm.DB) *GormChatRepository {
	if db == nil {
		panic("database connection cannot be nil for GormChatRepository")
	}
	return &GormChatRepository{db: db}
}

// SaveBatch 批量保存聊天消息。
func (r *GormChatRepository) SaveBatch(ctx context.Context, messages []domain.ChatMessage) error {
	if len(messages) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&messages).Error; err != nil {
		return fmt.Errorf("gorm: save chat batch (size %d): %w", len(messages), err)
	}
	return nil
}

// ListRecent 返回指定空间最近的 n 条消息，按 Seq 升序。
func (r *GormChatRepository) ListRecent(ctx context.Context, spaceID string, n int) ([]domain.ChatMessage, error) {
	if n <= 0 {
		n = 100
	}
	var messages []domain.ChatMessage
	err := r.db.WithContext(ctx).
		Where("space_id = ?", spaceID).
		Order("seq DESC").
		Limit(n).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list recent chat for space %s: %w", spaceID, err)
	}
	// 倒序查询拿到最近 n 条，反转为升序返回。
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Prune 删除指定空间中除最近 keep 条之外的消息。
func (r *GormChatRepository) Prune(ctx context.Context, spaceID string, keep int) (int64, error) {
	if keep <= 0 {
		keep = 100
	}
	// 找到第 keep 新的 Seq 作为界限，再删除界限之前的所有行。
	var cutoff struct{ Seq uint64 }
	err := r.db.WithContext(ctx).Model(&domain.ChatMessage{}).
		Select("seq").
		Where("space_id = ?", spaceID).
		Order("seq DESC").
		Offset(keep - 1).
		Limit(1).
		Scan(&cutoff).Error
	if err != nil {
		return 0, fmt.Errorf("gorm: find chat prune cutoff for space %s: %w", spaceID, err)
	}
	if cutoff.Seq == 0 {
		return 0, nil // 不足 keep 条，无需清理
	}
	result := r.db.WithContext(ctx).
		Where("space_id = ? AND seq < ?", spaceID, cutoff.Seq).
		Delete(&domain.ChatMessage{})
	if result.Error != nil {
		return 0, fmt.Errorf("gorm: prune chat for space %s: %w", spaceID, result.Error)
	}
	return result.RowsAffected, nil
}

// SpaceIDs 返回存在聊天记录的空间列表。
func (r *GormChatRepository) SpaceIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&domain.ChatMessage{}).
		Distinct("space_id").
		Pluck("space_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list chat space ids: %w", err)
	}
	return ids, nil
}
