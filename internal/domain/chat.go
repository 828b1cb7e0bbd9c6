package domain

import "time"

// ChatMessage 表示空间内的一条聊天消息。
// Seq 由 World State Store 按空间单调分配，用于客户端排序；
// 数据库主键 ID 仅作存储用途。
// 保留策略：每个空间只保留最近 ChatRetention 条，更早的消息由后台任务清理。
type ChatMessage struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	SpaceID   string    `gorm:"size:191;index:idx_chat_space_seq,priority:1;not null" json:"spaceId"`
	Seq       uint64    `gorm:"index:idx_chat_space_seq,priority:2;not null" json:"seq"`
	UserID    string    `gorm:"size:64;index" json:"userId"`
	Username  string    `gorm:"size:191" json:"username"` // 发送时的显示名快照
	Message   string    `gorm:"size:512;not null" json:"message"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"createdAt"`
}
