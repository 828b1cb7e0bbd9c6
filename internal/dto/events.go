// Package dto 定义客户端与服务端之间的 WebSocket 消息结构。
package dto

import (
	"encoding/json"
	"fmt"

	"my-room-spaces/internal/domain"
)

// 校验上限。
const (
	MaxDisplayNameLen = 32
	MaxChatMessageLen = 500
	MaxObjectIDLen    = 128
)

// Envelope 是双向消息的统一信封：{"type": "...", "data": {...}}。
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// 客户端到服务端的事件名。
const (
	MsgSpawn            = "spawn"
	MsgMove             = "move"
	MsgRename           = "rename"
	MsgAvatarUpdate     = "avatar-update"
	MsgObjectAdd        = "object-add"
	MsgObjectMove       = "object-move"
	MsgObjectDelete     = "object-delete"
	MsgScreenShareStart = "screen-share-start"
	MsgScreenShareStop  = "screen-share-stop"
	MsgChatMessage      = "chat-message"
	MsgWebRTCOffer      = "webrtc-offer"
	MsgWebRTCAnswer     = "webrtc-answer"
	MsgWebRTCICE        = "webrtc-ice-candidate"
)

// SpawnPayload 创建形象并开启会话。UserID 可以省略，由服务端分配。
type SpawnPayload struct {
	UserID      string      `json:"userId,omitempty"`
	DisplayName string      `json:"displayName,omitempty"`
	Position    domain.Vec3 `json:"position"`
	Rotation    domain.Vec3 `json:"rotation"`
	AvatarRef   string      `json:"avatarRef,omitempty"`
}

// Validate 检查 spawn 载荷的边界。
func (p *SpawnPayload) Validate() error {
	if len(p.DisplayName) > MaxDisplayNameLen {
		return fmt.Errorf("display name exceeds %d characters", MaxDisplayNameLen)
	}
	return nil
}

type MovePayload struct {
	Position domain.Vec3 `json:"position"`
	Rotation domain.Vec3 `json:"rotation"`
}

type RenamePayload struct {
	NewName string `json:"newName"`
}

func (p *RenamePayload) Validate() error {
	if p.NewName == "" {
		return fmt.Errorf("new name must not be empty")
	}
	if len(p.NewName) > MaxDisplayNameLen {
		return fmt.Errorf("new name exceeds %d characters", MaxDisplayNameLen)
	}
	return nil
}

type AvatarUpdatePayload struct {
	Reference string `json:"reference"`
}

type ObjectAddPayload struct {
	ObjectID string      `json:"objectId"`
	Kind     string      `json:"kind"`
	Position domain.Vec3 `json:"position"`
	Rotation domain.Vec3 `json:"rotation"`
	Scale    domain.Vec3 `json:"scale"`
	ModelID  string      `json:"modelId,omitempty"`
}

func (p *ObjectAddPayload) Validate() error {
	if p.ObjectID == "" || len(p.ObjectID) > MaxObjectIDLen {
		return fmt.Errorf("object id must be 1..%d characters", MaxObjectIDLen)
	}
	if p.Kind != domain.ObjectKindPrimitive && p.Kind != domain.ObjectKindModel {
		return fmt.Errorf("unknown object kind %q", p.Kind)
	}
	if p.Kind == domain.ObjectKindModel && p.ModelID == "" {
		return fmt.Errorf("model objects require a modelId")
	}
	return nil
}

// ObjectMovePayload 是合并式更新：省略的字段保留原值。
type ObjectMovePayload struct {
	ObjectID string       `json:"objectId"`
	Position *domain.Vec3 `json:"position,omitempty"`
	Rotation *domain.Vec3 `json:"rotation,omitempty"`
	Scale    *domain.Vec3 `json:"scale,omitempty"`
}

func (p *ObjectMovePayload) Validate() error {
	if p.ObjectID == "" {
		return fmt.Errorf("object id must not be empty")
	}
	if p.Position == nil && p.Rotation == nil && p.Scale == nil {
		return fmt.Errorf("object-move requires at least one field")
	}
	return nil
}

type ObjectDeletePayload struct {
	ObjectID string `json:"objectId"`
}

type ScreenShareStartPayload struct {
	StreamID    string `json:"streamId"`
	HasAudio    bool   `json:"hasAudio"`
	IsVideoFile bool   `json:"isVideoFile"`
	FileName    string `json:"fileName,omitempty"`
}

func (p *ScreenShareStartPayload) Validate() error {
	if p.StreamID == "" {
		return fmt.Errorf("stream id must not be empty")
	}
	return nil
}

type ChatPayload struct {
	Text string `json:"text"`
}

func (p *ChatPayload) Validate() error {
	if p.Text == "" {
		return fmt.Errorf("chat message must not be empty")
	}
	if len(p.Text) > MaxChatMessageLen {
		return fmt.Errorf("chat message exceeds %d characters", MaxChatMessageLen)
	}
	return nil
}

// SignalPayload 是 WebRTC 信令的透传载荷：To 指定目标连接，
// Payload 原样转发，服务端不做解析。
type SignalPayload struct {
	To      string          `json:"to"`
	Payload json.RawMessage `json:"payload"`
}

func (p *SignalPayload) Validate() error {
	if p.To == "" {
		return fmt.Errorf("signal target must not be empty")
	}
	return nil
}

// ErrorPayload 是仅发给出错发送者的错误事件载荷。
type ErrorPayload struct {
	Message string `json:"message"`
}
