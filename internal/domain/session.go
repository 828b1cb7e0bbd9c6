package domain

import "time"

// Session 表示一条连接的生命周期记录。
// 不变量：一个连接标识 (SocketID) 同一时刻至多对应一条活跃会话；
// 结束会话是幂等操作（对已结束的会话再次 End 不产生第二条记录）。
type Session struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	UserID          string     `gorm:"size:64;index;not null" json:"userId"`        // 会话所属用户
	SocketID        string     `gorm:"size:64;uniqueIndex;not null" json:"socketId"` // 连接标识符
	SpaceID         string     `gorm:"size:191;index;not null" json:"spaceId"`      // 会话所在空间
	ConnectedAt     time.Time  `gorm:"not null" json:"connectedAt"`
	DisconnectedAt  *time.Time `json:"disconnectedAt,omitempty"` // 为 nil 表示仍然活跃
	IsActive        bool       `gorm:"index" json:"isActive"`
	DurationSeconds int64      `json:"durationSeconds"` // 结束时计算
}

// SessionRecord 是写后（write-behind）队列中携带的会话变更记录。
// Kind 为 "begin" 或 "end"；Batch Processor 按接收顺序冲刷到数据库。
type SessionRecord struct {
	Kind           string    `json:"kind"`
	UserID         string    `json:"userId"`
	SocketID       string    `json:"socketId"`
	SpaceID        string    `json:"spaceId"`
	ConnectedAt    time.Time `json:"connectedAt"`
	DisconnectedAt time.Time `json:"disconnectedAt,omitempty"`
}

const (
	SessionRecordBegin = "begin"
	SessionRecordEnd   = "end"
)
