// Package hub 实现 Broadcast Engine：维护连接注册表，把入站消息
// 按空间排成有序队列交给服务层处理，并按受众投递产出的事件。
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"my-room-spaces/internal/domain"
	"my-room-spaces/internal/dto"
	"my-room-spaces/internal/service"
)

// WebSocket 连接参数。
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// 每个空间的有序队列容量。队列满说明该空间的处理已严重落后：
// 新加入被拒绝，普通消息丢弃，离开绝不丢弃（暂存在房间的待离开列表）。
const (
	roomQueueSize    = 256
	handlerTimeout   = 10 * time.Second
	shutdownInterval = 50 * time.Millisecond
)

type roomMsgKind int

const (
	msgJoin roomMsgKind = iota
	msgLeave
	msgFrame
	msgPublish
	msgShutdown // 仅用于唤醒 worker，动作在循环顶部执行
)

// roomMsg 是空间有序队列中的一个条目。同一空间的所有变更由
// 单个 worker goroutine 串行处理，天然满足因果顺序。
type roomMsg struct {
	kind   roomMsgKind
	client *Client
	raw    []byte       // msgFrame
	event  domain.Event // msgPublish
}

// room 是一个空间的连接集合与有序队列。
// clients 只由该空间的 worker goroutine 访问；
// pendingLeaves 由 Hub.mu 保护，存放队列满时无法入队的离开。
type room struct {
	spaceID       string
	clients       map[string]*Client // conn_id -> client
	queue         chan roomMsg
	pendingLeaves []*Client
}

// Hub 管理所有空间的房间与连接。
// 房间的创建、定位、入队与摘除都在 mu 下进行，
// 因此条目绝不会落入一个已从注册表摘除的房间的队列。
type Hub struct {
	svc *service.SpaceService

	mu    sync.RWMutex
	rooms map[string]*room

	closing bool
	conns   int64 // 原子计数，handleJoin/handleLeave 维护
	wg      sync.WaitGroup
	log     *logrus.Entry
}

var _ service.Notifier = (*Hub)(nil)

// NewHub 创建 Hub。
func NewHub(svc *service.SpaceService) *Hub {
	if svc == nil {
		panic("SpaceService must be non-nil for Hub")
	}
	return &Hub{
		svc:   svc,
		rooms: make(map[string]*room),
		log:   logrus.WithField("component", "hub"),
	}
}

// Register 把新连接排入其空间的有序队列（join 条目），
// 必要时创建房间并启动该空间的 worker。
func (h *Hub) Register(c *Client) {
	h.post(c.spaceID, roomMsg{kind: msgJoin, client: c})
}

// Unregister 把连接的离开排入队列。由 readPump 退出时调用。
func (h *Hub) Unregister(c *Client) {
	h.post(c.spaceID, roomMsg{kind: msgLeave, client: c})
}

// Route 把客户端的原始消息排入其空间的有序队列。
func (h *Hub) Route(c *Client, raw []byte) {
	h.post(c.spaceID, roomMsg{kind: msgFrame, client: c, raw: raw})
}

// Publish 实现 service.Notifier：把空间外部触发的事件
// （模型级联删除等 HTTP 路径）排入该空间的有序队列。
// 空间没有在线连接时静默丢弃，状态已在存储层落实。
func (h *Hub) Publish(spaceID string, event domain.Event) {
	h.post(spaceID, roomMsg{kind: msgPublish, event: event})
}

// post 在持有注册表锁的情况下定位（或为 join 创建）房间并入队。
// 队列满时按条目种类处理：join 拒绝并关闭连接，frame/publish 丢弃，
// leave 暂存到 pendingLeaves（待离开数量以在线连接数为上界，worker
// 在每次取队列条目之前优先消费它们，绝不丢失）。
func (h *Hub) post(spaceID string, m roomMsg) {
	h.mu.Lock()
	if m.kind == msgJoin && h.closing {
		h.mu.Unlock()
		m.client.CloseConn()
		return
	}
	r, ok := h.rooms[spaceID]
	if !ok {
		if m.kind != msgJoin {
			h.mu.Unlock()
			return
		}
		r = &room{
			spaceID: spaceID,
			clients: make(map[string]*Client),
			queue:   make(chan roomMsg, roomQueueSize),
		}
		h.rooms[spaceID] = r
		h.wg.Add(1)
		go h.runRoom(r)
		h.log.WithField("space_id", spaceID).Info("Room worker started")
	}

	select {
	case r.queue <- m:
		h.mu.Unlock()
		return
	default:
	}

	switch m.kind {
	case msgLeave:
		r.pendingLeaves = append(r.pendingLeaves, m.client)
		h.mu.Unlock()
	case msgJoin:
		h.mu.Unlock()
		h.log.WithField("space_id", spaceID).Error("Room queue full, rejecting new connection")
		m.client.CloseConn()
	default:
		h.mu.Unlock()
		h.log.WithFields(logrus.Fields{"space_id": spaceID, "kind": int(m.kind)}).
			Error("Room queue full, message dropped")
	}
}

// Stop 请求所有房间自行拆除并等待其排空。幂等。
// 连接的关闭由各房间的 worker 执行，Stop 不触碰任何房间内部状态。
func (h *Hub) Stop(ctx context.Context) error {
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		return nil
	}
	h.closing = true
	for _, r := range h.rooms {
		// 唤醒可能阻塞在空队列上的 worker；队列满时 worker 本就在忙，
		// 会在下一次循环顶部看到 closing。
		select {
		case r.queue <- roomMsg{kind: msgShutdown}:
		default:
		}
	}
	h.mu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		ticker := time.NewTicker(shutdownInterval)
		defer ticker.Stop()
		for {
			h.mu.RLock()
			remaining := len(h.rooms)
			h.mu.RUnlock()
			if remaining == 0 {
				h.wg.Wait()
				close(doneCh)
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	select {
	case <-doneCh:
		h.log.Info("Hub stopped, all rooms drained")
		return nil
	case <-ctx.Done():
		h.log.Warn("Hub stop timed out with rooms still open")
		return ctx.Err()
	}
}

// ConnectionCount 返回当前在线连接数（运维投影用）。
func (h *Hub) ConnectionCount() int {
	return int(atomic.LoadInt64(&h.conns))
}

func (h *Hub) isClosing() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closing
}

// takePendingLeave 取出一个队列满时暂存的离开。
func (h *Hub) takePendingLeave(r *room) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(r.pendingLeaves) == 0 {
		return nil
	}
	c := r.pendingLeaves[0]
	r.pendingLeaves = r.pendingLeaves[1:]
	return c
}

// runRoom 是空间的串行 worker：依次消费队列，保证同一空间内
// 所有变更按到达顺序应用与广播。房间空置且队列确认排空后自行拆除。
func (h *Hub) runRoom(r *room) {
	defer h.wg.Done()
	connsClosed := false

	for {
		if len(r.clients) == 0 && h.tryTeardown(r) {
			return
		}
		if !connsClosed && h.isClosing() {
			connsClosed = true
			// 关闭底层连接触发各自 readPump 退出 → leave 入队 → 房间排空。
			for _, c := range r.clients {
				c.CloseConn()
			}
		}
		if c := h.takePendingLeave(r); c != nil {
			h.handleLeave(r, c)
			continue
		}
		m := <-r.queue
		switch m.kind {
		case msgJoin:
			h.handleJoin(r, m.client)
		case msgLeave:
			h.handleLeave(r, m.client)
		case msgFrame:
			h.handleFrame(r, m.client, m.raw)
		case msgPublish:
			h.deliver(r, nil, m.event)
		case msgShutdown:
		}
	}
}

// tryTeardown 尝试摘除空置的房间。post 在注册表锁下入队，
// 因此在同一把锁下确认队列与待离开列表都为空后摘除，
// 保证不会丢下任何已入队的条目（比如紧随最后一个离开的新加入）。
func (h *Hub) tryTeardown(r *room) bool {
	h.mu.Lock()
	if len(r.queue) > 0 || len(r.pendingLeaves) > 0 {
		h.mu.Unlock()
		return false
	}
	delete(h.rooms, r.spaceID)
	h.mu.Unlock()

	h.svc.ReleaseIfIdle(r.spaceID)
	h.log.WithField("space_id", r.spaceID).Info("Room worker stopped, space released")
	return true
}

// handleJoin 打开空间（必要时）、发送世界快照并登记连接。
// 加入失败只关闭该连接；空置房间的拆除由 worker 循环统一处理。
func (h *Hub) handleJoin(r *room, c *Client) {
	logCtx := h.log.WithFields(logrus.Fields{"space_id": r.spaceID, "conn_id": c.connID})

	if h.isClosing() {
		c.CloseConn()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	snap, err := h.svc.Join(ctx, r.spaceID, c.connID)
	cancel()
	if err != nil {
		logCtx.WithError(err).Error("Join failed, closing connection")
		c.CloseConn()
		return
	}

	r.clients[c.connID] = c
	atomic.AddInt64(&h.conns, 1)
	h.sendEvent(c, domain.Event{Name: domain.EvtWorldState, Payload: snap})
	logCtx.WithField("clients", len(r.clients)).Info("Client registered")
}

// handleLeave 注销连接并结束其会话。对未登记的连接是 no-op
// （加入被拒或重复离开）。
func (h *Hub) handleLeave(r *room, c *Client) {
	if _, ok := r.clients[c.connID]; !ok {
		return
	}
	delete(r.clients, c.connID)
	atomic.AddInt64(&h.conns, -1)
	close(c.send)

	events := h.svc.Disconnect(r.spaceID, c.connID)
	h.deliverAll(r, c, events)
}

// handleFrame 解析信封并分发到服务层，再投递产出的事件。
// 服务层的业务错误已经以 error 事件形式包含在返回值中，这里只记日志。
func (h *Hub) handleFrame(r *room, c *Client, raw []byte) {
	logCtx := h.log.WithFields(logrus.Fields{"space_id": r.spaceID, "conn_id": c.connID})

	var env dto.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		logCtx.WithError(err).Warn("Malformed message envelope, dropped")
		h.sendEvent(c, domain.Event{Name: domain.EvtError, Payload: dto.ErrorPayload{Message: "malformed message"}})
		return
	}

	events, err := h.dispatch(r, c, env)
	if err != nil {
		logCtx.WithFields(logrus.Fields{"type": env.Type}).WithError(err).Debug("Client action rejected")
	}
	h.deliverAll(r, c, events)
}

// dispatch 按消息类型调用服务层。载荷解析失败回错误事件。
func (h *Hub) dispatch(r *room, c *Client, env dto.Envelope) ([]domain.Event, error) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	switch env.Type {
	case dto.MsgSpawn:
		var p dto.SpawnPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return h.badPayload(c, env.Type, err)
		}
		return h.svc.Spawn(ctx, r.spaceID, c.connID, p)
	case dto.MsgMove:
		var p dto.MovePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return h.badPayload(c, env.Type, err)
		}
		return h.svc.Move(r.spaceID, c.connID, p)
	case dto.MsgRename:
		var p dto.RenamePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return h.badPayload(c, env.Type, err)
		}
		return h.svc.Rename(r.spaceID, c.connID, p)
	case dto.MsgAvatarUpdate:
		var p dto.AvatarUpdatePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return h.badPayload(c, env.Type, err)
		}
		return h.svc.UpdateAvatar(r.spaceID, c.connID, p)
	case dto.MsgObjectAdd:
		var p dto.ObjectAddPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return h.badPayload(c, env.Type, err)
		}
		return h.svc.AddObject(ctx, r.spaceID, c.connID, p)
	case dto.MsgObjectMove:
		var p dto.ObjectMovePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return h.badPayload(c, env.Type, err)
		}
		return h.svc.MoveObject(r.spaceID, c.connID, p)
	case dto.MsgObjectDelete:
		var p dto.ObjectDeletePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return h.badPayload(c, env.Type, err)
		}
		return h.svc.DeleteObject(r.spaceID, c.connID, p)
	case dto.MsgScreenShareStart:
		var p dto.ScreenShareStartPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return h.badPayload(c, env.Type, err)
		}
		return h.svc.StartScreenShare(r.spaceID, c.connID, p)
	case dto.MsgScreenShareStop:
		return h.svc.StopScreenShare(r.spaceID, c.connID)
	case dto.MsgChatMessage:
		var p dto.ChatPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return h.badPayload(c, env.Type, err)
		}
		return h.svc.Chat(ctx, r.spaceID, c.connID, p)
	case dto.MsgWebRTCOffer, dto.MsgWebRTCAnswer, dto.MsgWebRTCICE:
		var p dto.SignalPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return h.badPayload(c, env.Type, err)
		}
		return h.svc.Relay(r.spaceID, c.connID, env.Type, p)
	default:
		h.log.WithFields(logrus.Fields{"space_id": r.spaceID, "conn_id": c.connID, "type": env.Type}).
			Warn("Unknown message type")
		return []domain.Event{{
			Name:       domain.EvtError,
			Payload:    dto.ErrorPayload{Message: "unknown message type: " + env.Type},
			Audience:   domain.AudienceTarget,
			TargetConn: c.connID,
		}}, nil
	}
}

func (h *Hub) badPayload(c *Client, msgType string, err error) ([]domain.Event, error) {
	h.log.WithFields(logrus.Fields{"conn_id": c.connID, "type": msgType}).
		WithError(err).Warn("Malformed payload, dropped")
	return []domain.Event{{
		Name:       domain.EvtError,
		Payload:    dto.ErrorPayload{Message: "malformed payload for " + msgType},
		Audience:   domain.AudienceTarget,
		TargetConn: c.connID,
	}}, nil
}

// deliverAll 依次投递一批事件。
func (h *Hub) deliverAll(r *room, sender *Client, events []domain.Event) {
	for _, ev := range events {
		h.deliver(r, sender, ev)
	}
}

// deliver 序列化事件信封并按受众投递。sender 为 nil 时
// （HTTP 触发的 Publish 路径）Others 等同 All。
func (h *Hub) deliver(r *room, sender *Client, ev domain.Event) {
	payload, err := json.Marshal(dto.Envelope{Type: ev.Name, Data: mustRaw(ev.Payload)})
	if err != nil {
		h.log.WithError(err).WithField("event", ev.Name).Error("Failed to marshal outbound event")
		return
	}

	switch ev.Audience {
	case domain.AudienceAll:
		for _, c := range r.clients {
			c.enqueueSend(payload)
		}
	case domain.AudienceOthers:
		for _, c := range r.clients {
			if sender != nil && c.connID == sender.connID {
				continue
			}
			c.enqueueSend(payload)
		}
	case domain.AudienceSelf:
		if sender != nil {
			sender.enqueueSend(payload)
		}
	case domain.AudienceTarget:
		if c, ok := r.clients[ev.TargetConn]; ok {
			c.enqueueSend(payload)
		} else {
			h.log.WithFields(logrus.Fields{"space_id": r.spaceID, "target": ev.TargetConn, "event": ev.Name}).
				Debug("Target connection not found, event dropped")
		}
	}
}

// sendEvent 把事件发给单个连接（注册表之外的直接路径，如 join 快照）。
func (h *Hub) sendEvent(c *Client, ev domain.Event) {
	payload, err := json.Marshal(dto.Envelope{Type: ev.Name, Data: mustRaw(ev.Payload)})
	if err != nil {
		h.log.WithError(err).WithField("event", ev.Name).Error("Failed to marshal outbound event")
		return
	}
	c.enqueueSend(payload)
}

func mustRaw(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
