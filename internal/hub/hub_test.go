package hub

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"my-room-spaces/internal/domain"
	"my-room-spaces/internal/dto"
	"my-room-spaces/internal/repository"
	"my-room-spaces/internal/repository/mocks"
	"my-room-spaces/internal/service"
	"my-room-spaces/internal/world"
)

// stubQueue 记录写后入队的记录。gate 不为 nil 时，会话 end 记录的
// 入队会先通知 entered 再阻塞等待 gate，用于把 worker 停在断线处理中。
type stubQueue struct {
	mu      sync.Mutex
	records map[string][]interface{}
	gate    chan struct{}
	entered chan struct{}
}

func newStubQueue() *stubQueue {
	return &stubQueue{records: make(map[string][]interface{})}
}

func (q *stubQueue) Add(queueName string, record interface{}) error {
	if q.gate != nil {
		if rec, ok := record.(domain.SessionRecord); ok && rec.Kind == domain.SessionRecordEnd {
			select {
			case q.entered <- struct{}{}:
			default:
			}
			<-q.gate
		}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.records[queueName] = append(q.records[queueName], record)
	return nil
}

func (q *stubQueue) endRecords() []domain.SessionRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []domain.SessionRecord
	for _, r := range q.records[service.QueueSessions] {
		if rec, ok := r.(domain.SessionRecord); ok && rec.Kind == domain.SessionRecordEnd {
			out = append(out, rec)
		}
	}
	return out
}

type hubDeps struct {
	store   *world.Store
	users   *mocks.UserRepository
	session *mocks.SessionRepository
	objects *mocks.ObjectRepository
	chats   *mocks.ChatRepository
	models  *mocks.ModelRepository
	cache   *mocks.CacheRepository
	queue   *stubQueue
}

func newTestHub(t *testing.T) (*Hub, *hubDeps) {
	t.Helper()
	deps := &hubDeps{
		store:   world.NewStore(0),
		users:   new(mocks.UserRepository),
		session: new(mocks.SessionRepository),
		objects: new(mocks.ObjectRepository),
		chats:   new(mocks.ChatRepository),
		models:  new(mocks.ModelRepository),
		cache:   new(mocks.CacheRepository),
		queue:   newStubQueue(),
	}
	deps.cache.On("CacheWorldState", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	deps.cache.On("PutSessionRecord", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	deps.cache.On("DeleteSessionRecord", mock.Anything, mock.Anything).Return(nil).Maybe()

	svc := service.NewSpaceService(
		deps.store, deps.users, deps.session, deps.objects, deps.chats, deps.models, deps.cache, deps.queue,
		service.Config{},
	)
	return NewHub(svc), deps
}

// allowJoin 配置空空间的加入路径（缓存未命中、数据库为空）。
func allowJoin(deps *hubDeps) {
	deps.cache.On("GetCachedWorldState", mock.Anything, mock.Anything).Return(nil, repository.ErrCacheMiss).Maybe()
	deps.objects.On("ListBySpace", mock.Anything, mock.Anything).Return(nil, nil).Maybe()
	deps.chats.On("ListRecent", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil).Maybe()
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// awaitEvent 从客户端的发送队列里读出指定事件。
func awaitEvent(t *testing.T, c *Client, name string) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case raw, ok := <-c.send:
			require.True(t, ok, "send channel closed before event %s", name)
			var env dto.Envelope
			require.NoError(t, json.Unmarshal(raw, &env))
			if env.Type == name {
				return
			}
		case <-deadline:
			t.Fatalf("event %s not received", name)
		}
	}
}

func (h *Hub) roomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func TestHub_ConnectionCountDuringChurn(t *testing.T) {
	h, deps := newTestHub(t)
	allowJoin(deps)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = h.ConnectionCount()
			}
		}
	}()

	for i := 0; i < 200; i++ {
		c := NewClient(h, nil, "main", fmt.Sprintf("conn-%d", i))
		h.Register(c)
		h.Unregister(c)
	}
	close(stop)
	wg.Wait()

	waitFor(t, func() bool { return h.ConnectionCount() == 0 && h.roomCount() == 0 },
		"rooms not drained after churn")
}

func TestHub_JoinQueuedBehindLastLeaveIsServed(t *testing.T) {
	h, deps := newTestHub(t)
	allowJoin(deps)
	deps.queue.gate = make(chan struct{})
	deps.queue.entered = make(chan struct{}, 4)

	c1 := NewClient(h, nil, "main", "c1")
	h.Register(c1)
	awaitEvent(t, c1, domain.EvtWorldState)
	h.Route(c1, []byte(`{"type":"spawn","data":{"userId":"u1","displayName":"Bob"}}`))
	waitFor(t, func() bool { return deps.store.UserCount("main") == 1 }, "spawn not applied")

	// worker 停在 c1 的断线处理里（会话 end 记录被闸住）。
	h.Unregister(c1)
	<-deps.queue.entered

	// 此刻最后一个离开尚未完成：新的加入必须排进同一队列并被服务，
	// 不能随房间拆除被无声丢弃。
	c2 := NewClient(h, nil, "main", "c2")
	h.Register(c2)

	close(deps.queue.gate)
	awaitEvent(t, c2, domain.EvtWorldState)
	assert.Equal(t, 1, h.ConnectionCount())

	h.Unregister(c2)
	waitFor(t, func() bool { return h.ConnectionCount() == 0 && h.roomCount() == 0 },
		"room not drained after c2 left")
}

func TestHub_LeaveSurvivesFullQueue(t *testing.T) {
	h, deps := newTestHub(t)
	allowJoin(deps)
	deps.queue.gate = make(chan struct{})
	deps.queue.entered = make(chan struct{}, 4)

	c1 := NewClient(h, nil, "main", "c1")
	c2 := NewClient(h, nil, "main", "c2")
	h.Register(c1)
	h.Register(c2)
	awaitEvent(t, c1, domain.EvtWorldState)
	awaitEvent(t, c2, domain.EvtWorldState)
	h.Route(c1, []byte(`{"type":"spawn","data":{"userId":"u1"}}`))
	h.Route(c2, []byte(`{"type":"spawn","data":{"userId":"u2"}}`))
	waitFor(t, func() bool { return deps.store.UserCount("main") == 2 }, "spawns not applied")

	// worker 停在 c1 的断线处理里，然后塞满队列。
	h.Unregister(c1)
	<-deps.queue.entered
	h.mu.RLock()
	r := h.rooms["main"]
	h.mu.RUnlock()
	require.NotNil(t, r)
	for filled := false; !filled; {
		select {
		case r.queue <- roomMsg{kind: msgShutdown}:
		default:
			filled = true
		}
	}

	// 队列已满：c2 的离开不能被丢弃，否则形象与会话永久泄漏。
	h.Unregister(c2)
	close(deps.queue.gate)

	waitFor(t, func() bool { return h.ConnectionCount() == 0 && h.roomCount() == 0 },
		"leave was dropped, room never drained")
	assert.Len(t, deps.queue.endRecords(), 2, "both sessions must end exactly once")
	assert.False(t, deps.store.IsOpen("main"))
}

func TestHub_JoinFailureTearsDownEmptyRoom(t *testing.T) {
	h, deps := newTestHub(t)
	deps.cache.On("GetCachedWorldState", mock.Anything, "broken").Return(nil, repository.ErrCacheMiss)
	deps.objects.On("ListBySpace", mock.Anything, "broken").Return(nil, assert.AnError)

	c := NewClient(h, nil, "broken", "c1")
	h.Register(c)

	// 加入失败的空房间必须连同 worker 一起拆除，不随故障堆积。
	waitFor(t, func() bool { return h.roomCount() == 0 }, "empty room leaked after failed join")
	assert.Equal(t, 0, h.ConnectionCount())
}
