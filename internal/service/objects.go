package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"my-room-spaces/internal/domain"
	"my-room-spaces/internal/dto"
)

// 世界对象与聊天、共享屏幕的变更操作。
// 所有操作要求发送者已 spawn（有活跃会话）；否则记日志并返回
// ErrNoActiveSession，不向传输层抛错（防御重复/迟到事件）。

// AddObject 放置一个新对象。
func (s *SpaceService) AddObject(ctx context.Context, spaceID, connID string, p dto.ObjectAddPayload) ([]domain.Event, error) {
	logCtx := s.log.WithFields(logrus.Fields{"space_id": spaceID, "conn_id": connID, "object_id": p.ObjectID})

	avatar, ok := s.store.GetUser(spaceID, connID)
	if !ok {
		logCtx.Warn("object-add rejected: no active session")
		return nil, ErrNoActiveSession
	}
	if err := p.Validate(); err != nil {
		logCtx.WithError(err).Warn("object-add payload rejected")
		return s.errorTo(connID, err.Error()), ErrValidation
	}

	state := domain.ObjectState{
		ObjectID:  p.ObjectID,
		Kind:      p.Kind,
		Position:  p.Position,
		Rotation:  p.Rotation,
		Scale:     p.Scale,
		ModelID:   p.ModelID,
		CreatedBy: avatar.UserID,
		UpdatedBy: avatar.UserID,
	}
	added, ok := s.store.AddObject(spaceID, state)
	if !ok {
		logCtx.Warn("object-add rejected: duplicate object id")
		return s.errorTo(connID, "object id already exists"), ErrDuplicateObject
	}

	s.enqueue(QueueObjects, domain.ObjectMutation{Op: domain.ObjectOpUpsert, SpaceID: spaceID, State: added})
	if p.ModelID != "" && s.models != nil {
		go func() {
			cctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := s.models.IncrementUsage(cctx, p.ModelID); err != nil {
				logCtx.WithError(err).Warn("Failed to increment model usage count")
			}
		}()
	}
	s.scheduleCacheRefresh(spaceID)

	return []domain.Event{{
		Name:     domain.EvtObjectAdded,
		Payload:  dto.ObjectAddedPayload{Object: added},
		Audience: domain.AudienceOthers,
	}}, nil
}

// MoveObject 合并式更新对象位姿：未提供的字段保留原值 (last-write-wins)。
func (s *SpaceService) MoveObject(spaceID, connID string, p dto.ObjectMovePayload) ([]domain.Event, error) {
	logCtx := s.log.WithFields(logrus.Fields{"space_id": spaceID, "conn_id": connID, "object_id": p.ObjectID})

	avatar, ok := s.store.GetUser(spaceID, connID)
	if !ok {
		logCtx.Warn("object-move rejected: no active session")
		return nil, ErrNoActiveSession
	}
	if err := p.Validate(); err != nil {
		logCtx.WithError(err).Warn("object-move payload rejected")
		return s.errorTo(connID, err.Error()), ErrValidation
	}

	patch := domain.ObjectPatch{Position: p.Position, Rotation: p.Rotation, Scale: p.Scale}
	moved, ok := s.store.MoveObject(spaceID, p.ObjectID, patch, avatar.UserID)
	if !ok {
		// 对象不存在（可能刚被删除）：迟到事件，静默丢弃。
		logCtx.Debug("object-move for unknown object, dropped")
		return nil, nil
	}

	s.enqueue(QueueObjects, domain.ObjectMutation{Op: domain.ObjectOpUpsert, SpaceID: spaceID, State: moved})
	s.scheduleCacheRefresh(spaceID)

	return []domain.Event{{
		Name: domain.EvtObjectMoved,
		Payload: dto.ObjectMovedPayload{
			ObjectID: moved.ObjectID,
			Position: moved.Position,
			Rotation: moved.Rotation,
			Scale:    moved.Scale,
			MovedBy:  avatar.UserID,
		},
		Audience: domain.AudienceOthers,
	}}, nil
}

// DeleteObject 删除对象：内存移除 + 写后删除记录，二者共同保证
// 内存与数据库的原子一致（最终）。
func (s *SpaceService) DeleteObject(spaceID, connID string, p dto.ObjectDeletePayload) ([]domain.Event, error) {
	logCtx := s.log.WithFields(logrus.Fields{"space_id": spaceID, "conn_id": connID, "object_id": p.ObjectID})

	if _, ok := s.store.GetUser(spaceID, connID); !ok {
		logCtx.Warn("object-delete rejected: no active session")
		return nil, ErrNoActiveSession
	}
	deleted, ok := s.store.DeleteObject(spaceID, p.ObjectID)
	if !ok {
		logCtx.Debug("object-delete for unknown object, dropped")
		return nil, nil
	}

	s.enqueue(QueueObjects, domain.ObjectMutation{
		Op:      domain.ObjectOpDelete,
		SpaceID: spaceID,
		State:   domain.ObjectState{ObjectID: deleted.ObjectID},
	})
	s.scheduleCacheRefresh(spaceID)

	return []domain.Event{{
		Name:     domain.EvtObjectDeleted,
		Payload:  dto.ObjectDeletedPayload{ObjectID: deleted.ObjectID},
		Audience: domain.AudienceOthers,
	}}, nil
}

// Chat 追加聊天消息：长度校验 + 每用户固定窗口限流。
// 超限的消息不广播、不持久化，仅向发送者回错误事件。
func (s *SpaceService) Chat(ctx context.Context, spaceID, connID string, p dto.ChatPayload) ([]domain.Event, error) {
	logCtx := s.log.WithFields(logrus.Fields{"space_id": spaceID, "conn_id": connID})

	avatar, ok := s.store.GetUser(spaceID, connID)
	if !ok {
		logCtx.Warn("chat-message rejected: no active session")
		return nil, ErrNoActiveSession
	}
	if err := p.Validate(); err != nil {
		logCtx.WithError(err).Warn("chat-message payload rejected")
		return s.errorTo(connID, err.Error()), ErrValidation
	}

	result, err := s.cache.CheckRateLimit(ctx, avatar.UserID, "chat", s.cfg.ChatRateLimit, s.cfg.ChatRateWindow)
	if err != nil {
		// 限流器故障时放行：限流是保护措施，不是功能前提。
		logCtx.WithError(err).Warn("Rate limit check failed, allowing message")
	} else if !result.Allowed {
		logCtx.WithField("user_id", avatar.UserID).Info("chat-message rate limited")
		return s.errorTo(connID, "too many messages, slow down"), ErrRateLimited
	}

	msg, ok := s.store.AppendChat(spaceID, domain.ChatMessage{
		UserID:   avatar.UserID,
		Username: avatar.DisplayName,
		Message:  p.Text,
	})
	if !ok {
		return nil, ErrNoActiveSession
	}

	s.enqueue(QueueChats, msg)
	s.scheduleCacheRefresh(spaceID)

	return []domain.Event{{
		Name:     domain.EvtChatMessage,
		Payload:  msg,
		Audience: domain.AudienceAll,
	}}, nil
}

// StartScreenShare 开始共享屏幕。空间内已有活跃共享时拒绝（单例不变量）。
func (s *SpaceService) StartScreenShare(spaceID, connID string, p dto.ScreenShareStartPayload) ([]domain.Event, error) {
	logCtx := s.log.WithFields(logrus.Fields{"space_id": spaceID, "conn_id": connID, "stream_id": p.StreamID})

	avatar, ok := s.store.GetUser(spaceID, connID)
	if !ok {
		logCtx.Warn("screen-share-start rejected: no active session")
		return nil, ErrNoActiveSession
	}
	if err := p.Validate(); err != nil {
		return s.errorTo(connID, err.Error()), ErrValidation
	}

	state := domain.SharedScreenState{
		HolderUserID: avatar.UserID,
		HolderConnID: connID,
		StreamID:     p.StreamID,
		StartedAt:    time.Now().UTC(),
		HasAudio:     p.HasAudio,
		IsVideoFile:  p.IsVideoFile,
		FileName:     p.FileName,
	}
	if !s.store.SetSharedScreen(spaceID, state) {
		logCtx.Info("screen-share-start rejected: another share is active")
		return s.errorTo(connID, "another screen share is already active"), ErrScreenBusy
	}
	logCtx.Info("Screen share started")
	s.scheduleCacheRefresh(spaceID)

	return []domain.Event{{
		Name:     domain.EvtScreenShareStarted,
		Payload:  state,
		Audience: domain.AudienceOthers,
	}}, nil
}

// StopScreenShare 停止共享屏幕。只有持有者的连接可以清除。
func (s *SpaceService) StopScreenShare(spaceID, connID string) ([]domain.Event, error) {
	screen, ok := s.store.ClearSharedScreen(spaceID, connID)
	if !ok {
		// 非持有者或没有活跃共享：no-op。
		return nil, nil
	}
	s.scheduleCacheRefresh(spaceID)
	return []domain.Event{{
		Name:     domain.EvtScreenShareStopped,
		Payload:  screen,
		Audience: domain.AudienceOthers,
	}}, nil
}

// Relay 透传 WebRTC 信令给目标连接，载荷不做解析。
func (s *SpaceService) Relay(spaceID, connID, eventName string, p dto.SignalPayload) ([]domain.Event, error) {
	if err := p.Validate(); err != nil {
		return s.errorTo(connID, err.Error()), ErrValidation
	}
	return []domain.Event{{
		Name:       eventName,
		Payload:    dto.SignalRelayPayload{From: connID, Payload: p.Payload},
		Audience:   domain.AudienceTarget,
		TargetConn: p.To,
	}}, nil
}
