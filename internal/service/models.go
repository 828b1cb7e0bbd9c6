package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"my-room-spaces/internal/domain"
	"my-room-spaces/internal/dto"
	"my-room-spaces/internal/repository"
)

// 上传模型元数据的管理。文件本体的校验/存储不在本服务范围内。

// RegisterModel 登记一个上传模型的元数据。
func (s *SpaceService) RegisterModel(ctx context.Context, model *domain.UploadedModel) error {
	if model.ModelID == "" {
		model.ModelID = newID()
	}
	if err := s.models.Save(ctx, model); err != nil {
		s.log.WithError(err).WithField("model_id", model.ModelID).Error("Failed to save model metadata")
		return ErrInternalServer
	}
	s.log.WithField("model_id", model.ModelID).Info("Model registered")
	return nil
}

// ListModels 返回全部模型元数据。
func (s *SpaceService) ListModels(ctx context.Context) ([]domain.UploadedModel, error) {
	models, err := s.models.List(ctx)
	if err != nil {
		s.log.WithError(err).Error("Failed to list models")
		return nil, ErrInternalServer
	}
	return models, nil
}

// DeleteModel 级联删除模型：数据库事务删除模型行与依赖对象行，
// 随后同步内存世界状态并通知所有在线连接，保证客户端状态一致。
func (s *SpaceService) DeleteModel(ctx context.Context, modelID string) error {
	logCtx := s.log.WithField("model_id", modelID)

	refs, err := s.models.DeleteCascade(ctx, modelID)
	if err != nil {
		if errors.Is(err, repository.ErrModelNotFound) {
			return ErrModelNotFound
		}
		logCtx.WithError(err).Error("Model cascade delete failed")
		return ErrInternalServer
	}
	logCtx.WithField("dependents", len(refs)).Info("Model deleted with dependents")

	// 从内存移除依赖对象并通知各空间。
	// 对象的写后队列里可能还有未冲刷的 upsert：补一条 delete 记录，
	// 保证 last-write-wins 合并后数据库不会复活已删对象。
	affected := make(map[string]struct{})
	for _, ref := range refs {
		affected[ref.SpaceID] = struct{}{}
		s.store.DeleteObject(ref.SpaceID, ref.ObjectID)
		s.enqueue(QueueObjects, domain.ObjectMutation{
			Op:      domain.ObjectOpDelete,
			SpaceID: ref.SpaceID,
			State:   domain.ObjectState{ObjectID: ref.ObjectID},
		})
		if s.notifier != nil {
			s.notifier.Publish(ref.SpaceID, domain.Event{
				Name:     domain.EvtObjectDeleted,
				Payload:  dto.ObjectDeletedPayload{ObjectID: ref.ObjectID},
				Audience: domain.AudienceAll,
			})
		}
	}
	for spaceID := range affected {
		if s.notifier != nil {
			s.notifier.Publish(spaceID, domain.Event{
				Name:     domain.EvtModelDeleted,
				Payload:  dto.ModelDeletedPayload{ModelID: modelID},
				Audience: domain.AudienceAll,
			})
		}
		s.scheduleCacheRefresh(spaceID)
	}
	return nil
}

// SweepStaleSessions 关闭 maxAge 之前开始且仍标记活跃的会话（崩溃遗留）。
// 由后台任务周期调用。
func (s *SpaceService) SweepStaleSessions(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	n, err := s.sessions.CloseStale(ctx, cutoff)
	if err != nil {
		s.log.WithError(err).Error("Stale session sweep failed")
		return 0, err
	}
	if n > 0 {
		s.log.WithFields(logrus.Fields{"closed": n, "cutoff": cutoff}).Info("Stale sessions closed")
	}
	return n, nil
}
