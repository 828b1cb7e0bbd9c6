package domain

import "time"

// SharedScreenState 表示空间内的共享屏幕（可空单例）。
// 不变量：每个空间同一时刻至多一个非空共享屏幕；
// 只有持有者本人可以主动清除，或由服务端在持有者断线时清除。
type SharedScreenState struct {
	HolderUserID string    `json:"holderUserId"`
	HolderConnID string    `json:"-"` // 持有者的连接标识，用于断线清理，不下发给客户端
	StreamID     string    `json:"streamId"`
	StartedAt    time.Time `json:"startedAt"`
	HasAudio     bool      `json:"hasAudio"`
	IsVideoFile  bool      `json:"isVideoFile"`
	FileName     string    `json:"fileName,omitempty"`
}
