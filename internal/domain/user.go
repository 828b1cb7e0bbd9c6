// Package domain 定义了应用程序中使用的核心数据结构 (数据库模型与实时状态模型)。
package domain

import "time"

// User 表示进入过空间的一个用户。
// 用户标识是不透明字符串：可以由客户端提供，也可以由服务端分配。
// 用户记录只做软更新（首次 spawn 或改名时 upsert），从不硬删除。
type User struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`        // 用户唯一标识符 (不透明字符串)
	Username    string    `gorm:"size:191;index" json:"username"`      // 用户名 (与 DisplayName 同步，保留列以便审计)
	DisplayName string    `gorm:"size:191" json:"displayName"`         // 显示名称，长度上限由 dto 层校验
	AvatarRef   string    `gorm:"size:255" json:"avatarRef,omitempty"` // 头像/模型引用 (不透明字符串)
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`     // 首次出现时间 (GORM 自动填充)
	LastSeenAt  time.Time `gorm:"index" json:"lastSeenAt"`             // 最后活跃时间，spawn/rename 时刷新
}
