package domain

import "time"

// AvatarState 表示一个在线用户的实时形象状态（只存在于内存与广播中，不落库）。
type AvatarState struct {
	UserID      string    `json:"userId"`
	ConnID      string    `json:"connId"`
	DisplayName string    `json:"displayName"`
	AvatarRef   string    `json:"avatarRef,omitempty"`
	Position    Vec3      `json:"position"`
	Rotation    Vec3      `json:"rotation"`
	SpawnedAt   time.Time `json:"spawnedAt"`
}

// WorldSnapshot 是某个空间世界状态在某一时刻的不可变副本。
// 新连接加入时整体下发 (world-state 事件)，也是缓存层存取的单位。
type WorldSnapshot struct {
	SpaceID      string                 `json:"spaceId"`
	Objects      map[string]ObjectState `json:"objects"` // objectId -> state
	Users        map[string]AvatarState `json:"users"`   // connId -> avatar
	ChatTail     []ChatMessage          `json:"chatTail"`
	SharedScreen *SharedScreenState     `json:"sharedScreen"` // 可能为 nil
	TakenAt      time.Time              `json:"takenAt"`
}
