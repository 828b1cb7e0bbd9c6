package domain

import "time"

// Vec3 表示三维坐标/旋转/缩放的三元组。
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// 对象类型标签。
const (
	ObjectKindPrimitive = "primitive" // 基础几何体
	ObjectKindModel     = "model"     // 引用 UploadedModel 的 3D 模型
)

// WorldObject 表示空间中一个被摆放的 3D 对象。
// 不变量：ObjectID 在同一空间内唯一；删除时需要同时从
// World State Store 和 Durable Store 中移除。
type WorldObject struct {
	ID               uint      `gorm:"primaryKey" json:"-"`
	ObjectID         string    `gorm:"size:128;uniqueIndex:idx_space_object,priority:2;not null" json:"objectId"` // 调用方提供的对象标识
	SpaceID          string    `gorm:"size:191;uniqueIndex:idx_space_object,priority:1;not null" json:"spaceId"`
	Kind             string    `gorm:"size:32;not null" json:"kind"` // primitive | model
	PosX             float64   `json:"-"`
	PosY             float64   `json:"-"`
	PosZ             float64   `json:"-"`
	RotX             float64   `json:"-"`
	RotY             float64   `json:"-"`
	RotZ             float64   `json:"-"`
	ScaleX           float64   `json:"-"`
	ScaleY           float64   `json:"-"`
	ScaleZ           float64   `json:"-"`
	ModelID          string    `gorm:"size:64;index" json:"modelId,omitempty"` // 可选：引用的上传模型
	CreatedBy        string    `gorm:"size:64" json:"createdBy"`
	UpdatedBy        string    `gorm:"size:64" json:"updatedBy"`
	InteractionCount int64     `json:"interactionCount"` // 每次成功变更递增
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// Position 以 Vec3 形式返回位置（GORM 列是拆开的标量，便于建索引和迁移）。
func (o *WorldObject) Position() Vec3 { return Vec3{o.PosX, o.PosY, o.PosZ} }
func (o *WorldObject) Rotation() Vec3 { return Vec3{o.RotX, o.RotY, o.RotZ} }
func (o *WorldObject) Scale() Vec3    { return Vec3{o.ScaleX, o.ScaleY, o.ScaleZ} }

// SetPosition / SetRotation / SetScale 反向写入拆开的标量列。
func (o *WorldObject) SetPosition(v Vec3) { o.PosX, o.PosY, o.PosZ = v.X, v.Y, v.Z }
func (o *WorldObject) SetRotation(v Vec3) { o.RotX, o.RotY, o.RotZ = v.X, v.Y, v.Z }
func (o *WorldObject) SetScale(v Vec3)    { o.ScaleX, o.ScaleY, o.ScaleZ = v.X, v.Y, v.Z }

// ObjectState 是对象在实时世界状态与线上协议中的表示。
type ObjectState struct {
	ObjectID         string `json:"objectId"`
	Kind             string `json:"kind"`
	Position         Vec3   `json:"position"`
	Rotation         Vec3   `json:"rotation"`
	Scale            Vec3   `json:"scale"`
	ModelID          string `json:"modelId,omitempty"`
	CreatedBy        string `json:"createdBy"`
	UpdatedBy        string `json:"updatedBy"`
	InteractionCount int64  `json:"interactionCount"`
}

// ObjectPatch 表示对象的合并式更新：为 nil 的字段保留原值 (merge-patch)。
type ObjectPatch struct {
	Position *Vec3 `json:"position,omitempty"`
	Rotation *Vec3 `json:"rotation,omitempty"`
	Scale    *Vec3 `json:"scale,omitempty"`
}

// 对象变更记录的操作类型。
const (
	ObjectOpUpsert = "upsert"
	ObjectOpDelete = "delete"
)

// ObjectMutation 是写后队列中携带的对象变更记录。
// Batch Processor 冲刷时按接收顺序合并：同一 ObjectID 的后一条记录
// 完全覆盖前一条（last-write-wins），删除之后不会复活。
type ObjectMutation struct {
	Op      string      `json:"op"` // upsert | delete
	SpaceID string      `json:"spaceId"`
	State   ObjectState `json:"state"` // delete 时仅 ObjectID 有意义
}
