// Package world 实现每个空间的权威实时世界状态 (World State Store)。
// 它是"当前在线"状态的唯一写者，与 Durable Store 的最终一致性解耦。
package world

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"my-room-spaces/internal/domain"
)

// DefaultChatRetention 是每个空间内存中保留的聊天尾部长度。
const DefaultChatRetention = 100

// space 是单个空间的实时状态。所有字段由 mu 保护；
// 持有 mu 期间绝不做任何网络 IO（序列化点不得被 IO 占用）。
type space struct {
	mu           sync.RWMutex
	objects      map[string]*domain.ObjectState // objectId -> state
	users        map[string]*domain.AvatarState // connId -> avatar
	chatTail     []domain.ChatMessage
	chatSeq      uint64
	sharedScreen *domain.SharedScreenState
}

// Store 管理全部已打开空间的实时状态。
// 每个空间是独立的一致性域：空间之间互不阻塞。
type Store struct {
	mu            sync.RWMutex
	spaces        map[string]*space
	chatRetention int
	log           *logrus.Entry
}

// NewStore 创建 Store 实例。chatRetention <= 0 时使用默认值。
func NewStore(chatRetention int) *Store {
	if chatRetention <= 0 {
		chatRetention = DefaultChatRetention
	}
	return &Store{
		spaces:        make(map[string]*space),
		chatRetention: chatRetention,
		log:           logrus.WithField("component", "world_store"),
	}
}

// Open 打开一个空间。seed 不为 nil 时用其内容（缓存或数据库恢复的快照）
// 初始化对象与聊天尾部；在线用户不从快照恢复，连接是本进程的事实。
// 对已打开的空间重复 Open 是无害的 no-op。
func (s *Store) Open(spaceID string, seed *domain.WorldSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.spaces[spaceID]; ok {
		return
	}
	sp := &space{
		objects: make(map[string]*domain.ObjectState),
		users:   make(map[string]*domain.AvatarState),
	}
	if seed != nil {
		for id, obj := range seed.Objects {
			o := obj
			sp.objects[id] = &o
		}
		sp.chatTail = append(sp.chatTail, seed.ChatTail...)
		for _, m := range sp.chatTail {
			if m.Seq > sp.chatSeq {
				sp.chatSeq = m.Seq
			}
		}
		// 共享屏幕不恢复：持有者的连接已不存在。
	}
	s.spaces[spaceID] = sp
	s.log.WithFields(logrus.Fields{"space_id": spaceID, "seeded": seed != nil}).Info("Space opened")
}

// Close 关闭空间并丢弃其内存状态。返回关闭前的最终快照，
// 供调用方写入缓存。未打开的空间返回 nil。
func (s *Store) Close(spaceID string) *domain.WorldSnapshot {
	s.mu.Lock()
	sp, ok := s.spaces[spaceID]
	if ok {
		delete(s.spaces, spaceID)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	snap := sp.snapshot(spaceID)
	s.log.WithField("space_id", spaceID).Info("Space closed")
	return snap
}

// IsOpen 报告空间是否已打开。
func (s *Store) IsOpen(spaceID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.spaces[spaceID]
	return ok
}

func (s *Store) get(spaceID string) *space {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.spaces[spaceID]
}

// --- 用户/形象 ---

// AddUser 放入一个刚 spawn 的形象。返回 false 表示空间未打开或连接已有形象。
func (s *Store) AddUser(spaceID string, avatar domain.AvatarState) bool {
	sp := s.get(spaceID)
	if sp == nil {
		return false
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if _, exists := sp.users[avatar.ConnID]; exists {
		return false
	}
	a := avatar
	sp.users[avatar.ConnID] = &a
	return true
}

// MoveUser 更新形象的位置与旋转。没有活跃形象时是 no-op。
func (s *Store) MoveUser(spaceID, connID string, pos, rot domain.Vec3) bool {
	sp := s.get(spaceID)
	if sp == nil {
		return false
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()
	a, ok := sp.users[connID]
	if !ok {
		return false
	}
	a.Position = pos
	a.Rotation = rot
	return true
}

// RenameUser 更新显示名，返回更新后的形象副本。
func (s *Store) RenameUser(spaceID, connID, newName string) (domain.AvatarState, bool) {
	sp := s.get(spaceID)
	if sp == nil {
		return domain.AvatarState{}, false
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()
	a, ok := sp.users[connID]
	if !ok {
		return domain.AvatarState{}, false
	}
	a.DisplayName = newName
	return *a, true
}

// SetAvatar 更新形象引用。
func (s *Store) SetAvatar(spaceID, connID, ref string) (domain.AvatarState, bool) {
	sp := s.get(spaceID)
	if sp == nil {
		return domain.AvatarState{}, false
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()
	a, ok := sp.users[connID]
	if !ok {
		return domain.AvatarState{}, false
	}
	a.AvatarRef = ref
	return *a, true
}

// GetUser 返回连接对应形象的副本。
func (s *Store) GetUser(spaceID, connID string) (domain.AvatarState, bool) {
	sp := s.get(spaceID)
	if sp == nil {
		return domain.AvatarState{}, false
	}
	sp.mu.RLock()
	defer sp.mu.RUnlock()
	a, ok := sp.users[connID]
	if !ok {
		return domain.AvatarState{}, false
	}
	return *a, true
}

// RemoveUser 移除形象（断线处理）。返回被移除的副本；
// 形象不存在时 ok=false，使重复 disconnect 自然幂等。
func (s *Store) RemoveUser(spaceID, connID string) (domain.AvatarState, bool) {
	sp := s.get(spaceID)
	if sp == nil {
		return domain.AvatarState{}, false
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()
	a, ok := sp.users[connID]
	if !ok {
		return domain.AvatarState{}, false
	}
	delete(sp.users, connID)
	return *a, true
}

// UserCount 返回空间内活跃形象数量。
func (s *Store) UserCount(spaceID string) int {
	sp := s.get(spaceID)
	if sp == nil {
		return 0
	}
	sp.mu.RLock()
	defer sp.mu.RUnlock()
	return len(sp.users)
}

// --- 对象 ---

// AddObject 放入一个新对象。对象标识在空间内必须唯一，冲突时返回 false。
func (s *Store) AddObject(spaceID string, obj domain.ObjectState) (domain.ObjectState, bool) {
	sp := s.get(spaceID)
	if sp == nil {
		return domain.ObjectState{}, false
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if _, exists := sp.objects[obj.ObjectID]; exists {
		return domain.ObjectState{}, false
	}
	obj.InteractionCount = 1
	o := obj
	sp.objects[obj.ObjectID] = &o
	return o, true
}

// MoveObject 对对象做合并式更新：patch 中为 nil 的字段保留原值。
// 每次成功变更递增 InteractionCount 并记录 UpdatedBy (last-write-wins)。
func (s *Store) MoveObject(spaceID, objectID string, patch domain.ObjectPatch, by string) (domain.ObjectState, bool) {
	sp := s.get(spaceID)
	if sp == nil {
		return domain.ObjectState{}, false
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()
	o, ok := sp.objects[objectID]
	if !ok {
		return domain.ObjectState{}, false
	}
	if patch.Position != nil {
		o.Position = *patch.Position
	}
	if patch.Rotation != nil {
		o.Rotation = *patch.Rotation
	}
	if patch.Scale != nil {
		o.Scale = *patch.Scale
	}
	o.UpdatedBy = by
	o.InteractionCount++
	return *o, true
}

// DeleteObject 移除对象，返回被移除的副本。
func (s *Store) DeleteObject(spaceID, objectID string) (domain.ObjectState, bool) {
	sp := s.get(spaceID)
	if sp == nil {
		return domain.ObjectState{}, false
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()
	o, ok := sp.objects[objectID]
	if !ok {
		return domain.ObjectState{}, false
	}
	delete(sp.objects, objectID)
	return *o, true
}

// --- 聊天 ---

// AppendChat 追加一条聊天消息并分配空间内单调递增的 Seq，
// 同时把尾部裁剪到保留上限。返回带 Seq 的消息副本。
func (s *Store) AppendChat(spaceID string, msg domain.ChatMessage) (domain.ChatMessage, bool) {
	sp := s.get(spaceID)
	if sp == nil {
		return domain.ChatMessage{}, false
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.chatSeq++
	msg.Seq = sp.chatSeq
	msg.SpaceID = spaceID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	sp.chatTail = append(sp.chatTail, msg)
	if over := len(sp.chatTail) - s.chatRetention; over > 0 {
		sp.chatTail = append(sp.chatTail[:0:0], sp.chatTail[over:]...)
	}
	return msg, true
}

// --- 共享屏幕 ---

// SetSharedScreen 设置共享屏幕。空间已有活跃共享时返回 false（单例不变量）。
func (s *Store) SetSharedScreen(spaceID string, state domain.SharedScreenState) bool {
	sp := s.get(spaceID)
	if sp == nil {
		return false
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.sharedScreen != nil {
		return false
	}
	st := state
	sp.sharedScreen = &st
	return true
}

// ClearSharedScreen 清除共享屏幕。仅当 byConn 是持有者的连接时生效，
// 返回被清除的状态副本。
func (s *Store) ClearSharedScreen(spaceID, byConn string) (domain.SharedScreenState, bool) {
	sp := s.get(spaceID)
	if sp == nil {
		return domain.SharedScreenState{}, false
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.sharedScreen == nil || sp.sharedScreen.HolderConnID != byConn {
		return domain.SharedScreenState{}, false
	}
	st := *sp.sharedScreen
	sp.sharedScreen = nil
	return st, true
}

// --- 快照 ---

// Snapshot 返回空间当前状态的不可变深拷贝。空间未打开时返回 nil。
func (s *Store) Snapshot(spaceID string) *domain.WorldSnapshot {
	sp := s.get(spaceID)
	if sp == nil {
		return nil
	}
	return sp.snapshot(spaceID)
}

func (sp *space) snapshot(spaceID string) *domain.WorldSnapshot {
	sp.mu.RLock()
	defer sp.mu.RUnlock()
	snap := &domain.WorldSnapshot{
		SpaceID: spaceID,
		Objects: make(map[string]domain.ObjectState, len(sp.objects)),
		Users:   make(map[string]domain.AvatarState, len(sp.users)),
		TakenAt: time.Now().UTC(),
	}
	for id, o := range sp.objects {
		snap.Objects[id] = *o
	}
	for id, a := range sp.users {
		snap.Users[id] = *a
	}
	snap.ChatTail = append([]domain.ChatMessage(nil), sp.chatTail...)
	if sp.sharedScreen != nil {
		st := *sp.sharedScreen
		snap.SharedScreen = &st
	}
	return snap
}
