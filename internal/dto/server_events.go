package dto

import (
	"encoding/json"

	"my-room-spaces/internal/domain"
)

// 服务端到客户端事件的载荷结构。

// UserJoinedPayload 携带新 spawn 的形象。
type UserJoinedPayload struct {
	User domain.AvatarState `json:"user"`
}

type UserMovedPayload struct {
	ConnID   string      `json:"connId"`
	UserID   string      `json:"userId"`
	Position domain.Vec3 `json:"position"`
	Rotation domain.Vec3 `json:"rotation"`
}

type UserLeftPayload struct {
	ConnID string `json:"connId"`
	UserID string `json:"userId"`
}

type UserRenamedPayload struct {
	ConnID  string `json:"connId"`
	UserID  string `json:"userId"`
	NewName string `json:"newName"`
}

type AvatarUpdatedPayload struct {
	ConnID    string `json:"connId"`
	UserID    string `json:"userId"`
	Reference string `json:"reference"`
}

type ObjectAddedPayload struct {
	Object domain.ObjectState `json:"object"`
}

// ObjectMovedPayload 广播合并后的完整对象位姿。
type ObjectMovedPayload struct {
	ObjectID string      `json:"objectId"`
	Position domain.Vec3 `json:"position"`
	Rotation domain.Vec3 `json:"rotation"`
	Scale    domain.Vec3 `json:"scale"`
	MovedBy  string      `json:"movedBy"`
}

type ObjectDeletedPayload struct {
	ObjectID string `json:"objectId"`
}

type ModelDeletedPayload struct {
	ModelID string `json:"modelId"`
}

// SignalRelayPayload 是信令转发给目标连接的载荷：From 标识来源连接。
type SignalRelayPayload struct {
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}
