package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"my-room-spaces/internal/domain"
	"my-room-spaces/internal/repository"
)

// GormSessionRepository 是 SessionRepository 接口的 GORM 实现。
type GormSessionRepository struct {
	db *gorm.DB
}

func NewGormSessionRepository(db *gorm.DB) *GormSessionRepository {
	if db == nil {
		panic("database connection cannot be nil for GormSessionRepository")
	}
	return &GormSessionRepository{db: db}
}

// ApplyRecords 按入队顺序应用会话变更记录。
// begin 记录对同一 SocketID 做 upsert（传输层重复事件下保持"至多一条活跃会话"）；
// end 记录只更新仍活跃的行，对已结束的会话是 0 行受影响的 no-op，因此幂等。
func (r *GormSessionRepository) ApplyRecords(ctx context.Context, records []domain.SessionRecord) error {
	if len(records) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, rec := range records {
			switch rec.Kind {
			case domain.SessionRecordBegin:
				session := domain.Session{
					UserID:      rec.UserID,
					SocketID:    rec.SocketID,
					SpaceID:     rec.SpaceID,
					ConnectedAt: rec.ConnectedAt,
					IsActive:    true,
				}
				err := tx.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "socket_id"}},
					DoUpdates: clause.AssignmentColumns([]string{"user_id", "space_id", "connected_at", "is_active"}),
				}).Create(&session).Error
				if err != nil {
					return fmt.Errorf("gorm: begin session for socket %s: %w", rec.SocketID, err)
				}
			case domain.SessionRecordEnd:
				disconnectedAt := rec.DisconnectedAt
				if disconnectedAt.IsZero() {
					disconnectedAt = time.Now().UTC()
				}
				result := tx.Model(&domain.Session{}).
					Where("socket_id = ? AND is_active = ?", rec.SocketID, true).
					Updates(map[string]interface{}{
						"is_active":        false,
						"disconnected_at":  disconnectedAt,
						"duration_seconds": int64(disconnectedAt.Sub(rec.ConnectedAt).Seconds()),
					})
				if result.Error != nil {
					return fmt.Errorf("gorm: end session for socket %s: %w", rec.SocketID, result.Error)
				}
				// 0 行受影响：会话已结束或从未落库（begin 可能还在同批前面失败），幂等放行。
			default:
				logrus.WithField("kind", rec.Kind).Warn("gorm: skipping session record with unknown kind")
			}
		}
		return nil
	})
}

// FindActiveBySocket 根据连接标识查找活跃会话。
func (r *GormSessionRepository) FindActiveBySocket(ctx context.Context, socketID string) (*domain.Session, error) {
	var session domain.Session
	err := r.db.WithContext(ctx).
		Where("socket_id = ? AND is_active = ?", socketID, true).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("gorm: find active session for socket %s: %w", socketID, err)
	}
	return &session, nil
}

// CloseStale 关闭 olderThan 之前开始且仍标记活跃的会话（崩溃遗留）。
func (r *GormSessionRepository) CloseStale(ctx context.Context, olderThan time.Time) (int64, error) {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("is_active = ? AND connected_at < ?", true, olderThan).
		Updates(map[string]interface{}{
			"is_active":       false,
			"disconnected_at": now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("gorm: close stale sessions: %w", result.Error)
	}
	return result.RowsAffected, nil
}
