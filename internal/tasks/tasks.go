// Package tasks 定义后台维护任务的类型与载荷。
package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// 任务类型常量。
const (
	TypeChatPrune    = "chat:prune"    // 聊天历史裁剪
	TypeSessionSweep = "session:sweep" // 崩溃遗留会话清理
)

// ChatPrunePayload 是聊天裁剪任务的数据：每个空间保留的条数。
type ChatPrunePayload struct {
	Keep int `json:"keep"`
}

// NewChatPruneTask 创建聊天裁剪任务。
func NewChatPruneTask(keep int) (*asynq.Task, error) {
	payload, err := json.Marshal(ChatPrunePayload{Keep: keep})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeChatPrune, payload), nil
}

// SessionSweepPayload 是会话清理任务的数据：活跃会话的最大年龄（分钟）。
type SessionSweepPayload struct {
	MaxAgeMinutes int `json:"maxAgeMinutes"`
}

// NewSessionSweepTask 创建会话清理任务。
func NewSessionSweepTask(maxAgeMinutes int) (*asynq.Task, error) {
	payload, err := json.Marshal(SessionSweepPayload{MaxAgeMinutes: maxAgeMinutes})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeSessionSweep, payload), nil
}
