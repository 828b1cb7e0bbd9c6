// Package service 实现连接/会话生命周期与世界状态变更的业务编排。
// 约定：每个已接受的变更先应用到 World State Store，再交给 Hub 广播，
// 持久化通过 Batch Processor 异步完成（write-behind），缓存异步刷新。
package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"my-room-spaces/internal/domain"
	"my-room-spaces/internal/dto"
	"my-room-spaces/internal/repository"
	"my-room-spaces/internal/world"
)

// 写后队列名。bootstrap 注册同名队列并绑定仓库冲刷函数。
const (
	QueueUsers    = "users"
	QueueSessions = "sessions"
	QueueObjects  = "objects"
	QueueChats    = "chats"
)

// Enqueuer 是 Batch Processor 面向服务层的最小接口。
type Enqueuer interface {
	Add(queueName string, record interface{}) error
}

// Notifier 把空间外部触发的事件（如模型级联删除）推给 Broadcast Engine。
type Notifier interface {
	Publish(spaceID string, event domain.Event)
}

// Config 是服务层的行为参数。
type Config struct {
	SnapshotTTL    time.Duration // 世界快照缓存 TTL
	SessionTTL     time.Duration // 缓存会话记录 TTL
	ChatRateLimit  int           // 每用户聊天限流：窗口内最大条数
	ChatRateWindow time.Duration // 聊天限流窗口
	ChatHistory    int           // 加入时回放的聊天尾部长度
}

func (c Config) withDefaults() Config {
	if c.SnapshotTTL <= 0 {
		c.SnapshotTTL = 10 * time.Minute
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 24 * time.Hour
	}
	if c.ChatRateLimit <= 0 {
		c.ChatRateLimit = 10
	}
	if c.ChatRateWindow <= 0 {
		c.ChatRateWindow = 10 * time.Second
	}
	if c.ChatHistory <= 0 {
		c.ChatHistory = world.DefaultChatRetention
	}
	return c
}

// SpaceService 是 Connection/Session Manager 与世界操作的编排层。
type SpaceService struct {
	store    *world.Store
	users    repository.UserRepository
	sessions repository.SessionRepository
	objects  repository.ObjectRepository
	chats    repository.ChatRepository
	models   repository.ModelRepository
	cache    repository.CacheRepository
	queue    Enqueuer
	notifier Notifier
	cfg      Config
	log      *logrus.Entry
}

// NewSpaceService 创建实例。notifier 可以先为 nil，由 bootstrap 在
// Hub 构造完成后通过 SetNotifier 注入（两者相互依赖）。
func NewSpaceService(
	store *world.Store,
	users repository.UserRepository,
	sessions repository.SessionRepository,
	objects repository.ObjectRepository,
	chats repository.ChatRepository,
	models repository.ModelRepository,
	cache repository.CacheRepository,
	queue Enqueuer,
	cfg Config,
) *SpaceService {
	if store == nil || objects == nil || chats == nil || cache == nil || queue == nil {
		panic("store, repositories, cache and queue must be non-nil for SpaceService")
	}
	return &SpaceService{
		store:    store,
		users:    users,
		sessions: sessions,
		objects:  objects,
		chats:    chats,
		models:   models,
		cache:    cache,
		queue:    queue,
		cfg:      cfg.withDefaults(),
		log:      logrus.WithField("component", "space_service"),
	}
}

// SetNotifier 注入广播通道（Hub）。
func (s *SpaceService) SetNotifier(n Notifier) { s.notifier = n }

// --- 加入与快照读路径 ---

// Join 确保空间已打开并返回发给新连接的世界快照。
// 读路径：内存(已打开) → 缓存 → Durable Store（仅加入路径允许同步读库）。
func (s *SpaceService) Join(ctx context.Context, spaceID, connID string) (*domain.WorldSnapshot, error) {
	logCtx := s.log.WithFields(logrus.Fields{"space_id": spaceID, "conn_id": connID})

	if !s.store.IsOpen(spaceID) {
		seed, err := s.loadSeed(ctx, spaceID)
		if err != nil {
			return nil, err
		}
		s.store.Open(spaceID, seed)
		s.scheduleCacheRefresh(spaceID)
	}

	snap := s.store.Snapshot(spaceID)
	if snap == nil {
		logCtx.Error("Space vanished between open and snapshot")
		return nil, ErrInternalServer
	}
	logCtx.WithFields(logrus.Fields{"objects": len(snap.Objects), "users": len(snap.Users)}).
		Info("Join snapshot prepared")
	return snap, nil
}

// loadSeed 按缓存→数据库的顺序取回空间的初始状态。
// 缓存未命中不是错误：缓存永远可以从 Durable Store 重建。
func (s *SpaceService) loadSeed(ctx context.Context, spaceID string) (*domain.WorldSnapshot, error) {
	logCtx := s.log.WithField("space_id", spaceID)

	cached, err := s.cache.GetCachedWorldState(ctx, spaceID)
	if err == nil {
		logCtx.Debug("World state seeded from cache")
		return cached, nil
	}
	if !errors.Is(err, repository.ErrCacheMiss) {
		// 缓存故障降级为数据库读取，不阻断加入。
		logCtx.WithError(err).Warn("Cache read failed, falling back to durable store")
	}

	objects, err := s.objects.ListBySpace(ctx, spaceID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to load objects from durable store")
		return nil, ErrInternalServer
	}
	chatTail, err := s.chats.ListRecent(ctx, spaceID, s.cfg.ChatHistory)
	if err != nil {
		logCtx.WithError(err).Error("Failed to load chat tail from durable store")
		return nil, ErrInternalServer
	}

	seed := &domain.WorldSnapshot{
		SpaceID:  spaceID,
		Objects:  make(map[string]domain.ObjectState, len(objects)),
		Users:    map[string]domain.AvatarState{},
		ChatTail: chatTail,
		TakenAt:  time.Now().UTC(),
	}
	for _, obj := range objects {
		seed.Objects[obj.ObjectID] = domain.ObjectState{
			ObjectID:         obj.ObjectID,
			Kind:             obj.Kind,
			Position:         obj.Position(),
			Rotation:         obj.Rotation(),
			Scale:            obj.Scale(),
			ModelID:          obj.ModelID,
			CreatedBy:        obj.CreatedBy,
			UpdatedBy:        obj.UpdatedBy,
			InteractionCount: obj.InteractionCount,
		}
	}
	logCtx.WithField("objects", len(objects)).Debug("World state seeded from durable store")
	return seed, nil
}

// SnapshotFor 供 HTTP 只读投影使用：优先内存，其次缓存，最后数据库。
// 不会打开空间。
func (s *SpaceService) SnapshotFor(ctx context.Context, spaceID string) (*domain.WorldSnapshot, error) {
	if snap := s.store.Snapshot(spaceID); snap != nil {
		return snap, nil
	}
	return s.loadSeed(ctx, spaceID)
}

// --- 会话生命周期 ---

// Spawn 创建形象并开启会话。是唯一分配 Session 与 User 记录的转换。
func (s *SpaceService) Spawn(ctx context.Context, spaceID, connID string, p dto.SpawnPayload) ([]domain.Event, error) {
	logCtx := s.log.WithFields(logrus.Fields{"space_id": spaceID, "conn_id": connID})
	if err := p.Validate(); err != nil {
		logCtx.WithError(err).Warn("Spawn payload rejected")
		return s.errorTo(connID, err.Error()), ErrValidation
	}

	userID := p.UserID
	if userID == "" {
		userID = newID()
	}
	displayName := p.DisplayName
	if displayName == "" {
		displayName = "Guest-" + userID[:min(6, len(userID))]
	}

	now := time.Now().UTC()
	avatar := domain.AvatarState{
		UserID:      userID,
		ConnID:      connID,
		DisplayName: displayName,
		AvatarRef:   p.AvatarRef,
		Position:    p.Position,
		Rotation:    p.Rotation,
		SpawnedAt:   now,
	}
	if !s.store.AddUser(spaceID, avatar) {
		// 重复 spawn（传输层重复事件），防御性 no-op。
		logCtx.Warn("Spawn ignored: connection already has an avatar or space is closed")
		return nil, nil
	}
	logCtx.WithField("user_id", userID).Info("User spawned")

	// 写后持久化：用户 upsert + 会话 begin。
	s.enqueue(QueueUsers, domain.User{
		ID:          userID,
		Username:    displayName,
		DisplayName: displayName,
		AvatarRef:   p.AvatarRef,
		LastSeenAt:  now,
	})
	s.enqueue(QueueSessions, domain.SessionRecord{
		Kind:        domain.SessionRecordBegin,
		UserID:      userID,
		SocketID:    connID,
		SpaceID:     spaceID,
		ConnectedAt: now,
	})

	// 缓存会话记录，供其他实例按连接标识查询。
	go func() {
		cctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.cache.PutSessionRecord(cctx, connID, repository.SessionCacheRecord{
			UserID:      userID,
			SpaceID:     spaceID,
			ConnectedAt: now,
		}, s.cfg.SessionTTL); err != nil {
			logCtx.WithError(err).Warn("Failed to cache session record")
		}
	}()
	s.scheduleCacheRefresh(spaceID)

	return []domain.Event{{
		Name:     domain.EvtUserJoined,
		Payload:  dto.UserJoinedPayload{User: avatar},
		Audience: domain.AudienceOthers,
	}}, nil
}

// Move 更新形象位姿。只改内存并广播，不逐条持久化。
func (s *SpaceService) Move(spaceID, connID string, p dto.MovePayload) ([]domain.Event, error) {
	if !s.store.MoveUser(spaceID, connID, p.Position, p.Rotation) {
		return nil, ErrNoActiveSession
	}
	avatar, _ := s.store.GetUser(spaceID, connID)
	return []domain.Event{{
		Name: domain.EvtUserMoved,
		Payload: dto.UserMovedPayload{
			ConnID:   connID,
			UserID:   avatar.UserID,
			Position: p.Position,
			Rotation: p.Rotation,
		},
		Audience: domain.AudienceOthers,
	}}, nil
}

// Rename 更新显示名并向所有连接（含发送者）广播确认。
func (s *SpaceService) Rename(spaceID, connID string, p dto.RenamePayload) ([]domain.Event, error) {
	if err := p.Validate(); err != nil {
		return s.errorTo(connID, err.Error()), ErrValidation
	}
	avatar, ok := s.store.RenameUser(spaceID, connID, p.NewName)
	if !ok {
		return nil, ErrNoActiveSession
	}
	s.enqueue(QueueUsers, domain.User{
		ID:          avatar.UserID,
		Username:    p.NewName,
		DisplayName: p.NewName,
		AvatarRef:   avatar.AvatarRef,
		LastSeenAt:  time.Now().UTC(),
	})
	s.scheduleCacheRefresh(spaceID)
	return []domain.Event{{
		Name: domain.EvtUserRenamed,
		Payload: dto.UserRenamedPayload{
			ConnID:  connID,
			UserID:  avatar.UserID,
			NewName: p.NewName,
		},
		Audience: domain.AudienceAll,
	}}, nil
}

// UpdateAvatar 更新形象引用并广播给其他连接。
func (s *SpaceService) UpdateAvatar(spaceID, connID string, p dto.AvatarUpdatePayload) ([]domain.Event, error) {
	avatar, ok := s.store.SetAvatar(spaceID, connID, p.Reference)
	if !ok {
		return nil, ErrNoActiveSession
	}
	s.enqueue(QueueUsers, domain.User{
		ID:          avatar.UserID,
		Username:    avatar.DisplayName,
		DisplayName: avatar.DisplayName,
		AvatarRef:   p.Reference,
		LastSeenAt:  time.Now().UTC(),
	})
	s.scheduleCacheRefresh(spaceID)
	return []domain.Event{{
		Name: domain.EvtAvatarUpdated,
		Payload: dto.AvatarUpdatedPayload{
			ConnID:    connID,
			UserID:    avatar.UserID,
			Reference: p.Reference,
		},
		Audience: domain.AudienceOthers,
	}}, nil
}

// Disconnect 结束连接：移除形象、按需清除共享屏幕、广播离开、
// 写后记录会话结束。幂等：重复调用时形象已不存在，直接返回空事件。
func (s *SpaceService) Disconnect(spaceID, connID string) []domain.Event {
	logCtx := s.log.WithFields(logrus.Fields{"space_id": spaceID, "conn_id": connID})

	avatar, ok := s.store.RemoveUser(spaceID, connID)
	if !ok {
		logCtx.Debug("Disconnect for connection without avatar (already handled)")
		return nil
	}

	var events []domain.Event

	// 断线者是共享屏幕持有者时由服务端清除（持有者已无法自己停止）。
	if screen, cleared := s.store.ClearSharedScreen(spaceID, connID); cleared {
		logCtx.WithField("stream_id", screen.StreamID).Info("Shared screen cleared on holder disconnect")
		events = append(events, domain.Event{
			Name:     domain.EvtScreenShareStopped,
			Payload:  screen,
			Audience: domain.AudienceOthers,
		})
	}

	events = append(events, domain.Event{
		Name:     domain.EvtUserLeft,
		Payload:  dto.UserLeftPayload{ConnID: connID, UserID: avatar.UserID},
		Audience: domain.AudienceOthers,
	})

	s.enqueue(QueueSessions, domain.SessionRecord{
		Kind:           domain.SessionRecordEnd,
		UserID:         avatar.UserID,
		SocketID:       connID,
		SpaceID:        spaceID,
		ConnectedAt:    avatar.SpawnedAt,
		DisconnectedAt: time.Now().UTC(),
	})

	go func() {
		cctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.cache.DeleteSessionRecord(cctx, connID); err != nil {
			logCtx.WithError(err).Warn("Failed to delete cached session record")
		}
	}()

	// 最后一个用户离开时关闭空间，关闭前的终态写入缓存。
	if s.store.UserCount(spaceID) == 0 {
		if final := s.store.Close(spaceID); final != nil {
			go func() {
				cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := s.cache.CacheWorldState(cctx, spaceID, final, s.cfg.SnapshotTTL); err != nil {
					logCtx.WithError(err).Warn("Failed to cache final world state on space close")
				}
			}()
		}
	} else {
		s.scheduleCacheRefresh(spaceID)
	}

	logCtx.WithField("user_id", avatar.UserID).Info("User disconnected")
	return events
}

// ReleaseIfIdle 在空间没有任何形象时关闭它并缓存终态。
// 由 Hub 在房间最后一个连接离开时调用，覆盖「连接了但从未 spawn」
// 导致 Disconnect 不会走到关闭分支的情况。
func (s *SpaceService) ReleaseIfIdle(spaceID string) {
	if !s.store.IsOpen(spaceID) || s.store.UserCount(spaceID) > 0 {
		return
	}
	final := s.store.Close(spaceID)
	if final == nil {
		return
	}
	s.log.WithField("space_id", spaceID).Info("Idle space released")
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.cache.CacheWorldState(ctx, spaceID, final, s.cfg.SnapshotTTL); err != nil {
			s.log.WithError(err).WithField("space_id", spaceID).Warn("Failed to cache final world state on release")
		}
	}()
}

// --- 内部辅助 ---

// enqueue 包装 Batch Processor 入队，失败只记日志（队列未注册属配置错误）。
func (s *SpaceService) enqueue(queueName string, record interface{}) {
	if err := s.queue.Add(queueName, record); err != nil {
		s.log.WithError(err).WithField("queue", queueName).Error("Failed to enqueue write-behind record")
	}
}

// scheduleCacheRefresh 异步把空间当前快照写入缓存。
// 网络 IO 不得持有世界状态的序列化锁，因此先取快照再在 goroutine 中写缓存。
func (s *SpaceService) scheduleCacheRefresh(spaceID string) {
	snap := s.store.Snapshot(spaceID)
	if snap == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.cache.CacheWorldState(ctx, spaceID, snap, s.cfg.SnapshotTTL); err != nil {
			s.log.WithError(err).WithField("space_id", spaceID).Warn("Async world state cache refresh failed")
		}
	}()
}

// errorTo 构造只发给出错发送者的错误事件。
func (s *SpaceService) errorTo(connID, message string) []domain.Event {
	return []domain.Event{{
		Name:       domain.EvtError,
		Payload:    dto.ErrorPayload{Message: message},
		Audience:   domain.AudienceTarget,
		TargetConn: connID,
	}}
}
