package domain

import "time"

// UploadedModel 表示一个已上传 3D 模型的元数据。
// 文件本体的校验/处理不在本服务范围内，StorageKey 和 PublicURL 均为不透明引用。
// 引用完整性不变量：删除模型时必须级联删除引用它的 WorldObject，
// 并通知所有在线连接，避免客户端状态悬挂。
type UploadedModel struct {
	ModelID    string    `gorm:"primaryKey;size:64" json:"modelId"`
	Name       string    `gorm:"size:191" json:"name"`
	StorageKey string    `gorm:"size:255;not null" json:"storageKey"`
	PublicURL  string    `gorm:"size:255" json:"publicUrl"`
	FileSize   int64     `json:"fileSize"`
	Format     string    `gorm:"size:32" json:"format"` // 例如 "glb"
	UploadedBy string    `gorm:"size:64;index" json:"uploadedBy"`
	UsageCount int64     `json:"usageCount"` // 被对象引用的累计次数
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
}
