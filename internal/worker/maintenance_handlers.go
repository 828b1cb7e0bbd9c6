package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"my-room-spaces/internal/repository"
	"my-room-spaces/internal/service"
	"my-room-spaces/internal/tasks"
)

// ChatPruneHandler 处理周期性的聊天历史裁剪任务：
// 每个空间只保留最近 Keep 条，其余从 Durable Store 删除。
type ChatPruneHandler struct {
	chats repository.ChatRepository
}

// NewChatPruneHandler 创建实例。
func NewChatPruneHandler(chats repository.ChatRepository) *ChatPruneHandler {
	if chats == nil {
		panic("ChatRepository cannot be nil for ChatPruneHandler")
	}
	return &ChatPruneHandler{chats: chats}
}

// ProcessTask 实现 asynq.Handler 接口。
func (h *ChatPruneHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := logrus.WithField("task_type", t.Type())

	var payload tasks.ChatPrunePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("chat prune: unmarshal payload: %w", err)
	}
	if payload.Keep <= 0 {
		payload.Keep = 100
	}

	spaceIDs, err := h.chats.SpaceIDs(ctx)
	if err != nil {
		return fmt.Errorf("chat prune: list spaces: %w", err)
	}
	if len(spaceIDs) == 0 {
		logCtx.Debug("No spaces with chat history, nothing to prune")
		return nil
	}

	var total int64
	for _, spaceID := range spaceIDs {
		pruneCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		n, err := h.chats.Prune(pruneCtx, spaceID, payload.Keep)
		cancel()
		if err != nil {
			// 单个空间失败不中断整轮裁剪。
			logCtx.WithError(err).WithField("space_id", spaceID).Error("Chat prune failed for space")
			continue
		}
		total += n
	}
	if total > 0 {
		logCtx.WithFields(logrus.Fields{"spaces": len(spaceIDs), "pruned": total}).Info("Chat history pruned")
	}
	return nil
}

// SessionSweepHandler 处理周期性的会话清理任务：
// 关闭开始于 MaxAgeMinutes 之前且仍标记活跃的会话（进程崩溃遗留）。
type SessionSweepHandler struct {
	svc *service.SpaceService
}

// NewSessionSweepHandler 创建实例。
func NewSessionSweepHandler(svc *service.SpaceService) *SessionSweepHandler {
	if svc == nil {
		panic("SpaceService cannot be nil for SessionSweepHandler")
	}
	return &SessionSweepHandler{svc: svc}
}

// ProcessTask 实现 asynq.Handler 接口。
func (h *SessionSweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload tasks.SessionSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("session sweep: unmarshal payload: %w", err)
	}
	if payload.MaxAgeMinutes <= 0 {
		payload.MaxAgeMinutes = 24 * 60
	}

	maxAge := time.Duration(payload.MaxAgeMinutes) * time.Minute
	if _, err := h.svc.SweepStaleSessions(ctx, maxAge); err != nil {
		return fmt.Errorf("session sweep: %w", err)
	}
	return nil
}
