package world_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"my-room-spaces/internal/domain"
	"my-room-spaces/internal/world"
)

func vec(x, y, z float64) domain.Vec3 { return domain.Vec3{X: x, Y: y, Z: z} }

func TestStore_OpenWithSeed(t *testing.T) {
	store := world.NewStore(0)

	seed := &domain.WorldSnapshot{
		SpaceID: "main",
		Objects: map[string]domain.ObjectState{
			"cube-1": {ObjectID: "cube-1", Kind: domain.ObjectKindPrimitive, Position: vec(1, 2, 3)},
		},
		ChatTail: []domain.ChatMessage{
			{Seq: 41, Message: "older"},
			{Seq: 42, Message: "newest"},
		},
		SharedScreen: &domain.SharedScreenState{HolderConnID: "gone", StreamID: "s1"},
	}
	store.Open("main", seed)
	require.True(t, store.IsOpen("main"))

	snap := store.Snapshot("main")
	require.NotNil(t, snap)
	assert.Len(t, snap.Objects, 1)
	assert.Equal(t, vec(1, 2, 3), snap.Objects["cube-1"].Position)
	assert.Len(t, snap.ChatTail, 2)
	// 共享屏幕不从快照恢复：持有者的连接已不存在。
	assert.Nil(t, snap.SharedScreen)
	// 在线用户也不恢复。
	assert.Empty(t, snap.Users)

	// 聊天序号从种子的最大值继续。
	msg, ok := store.AppendChat("main", domain.ChatMessage{Message: "next"})
	require.True(t, ok)
	assert.Equal(t, uint64(43), msg.Seq)
}

func TestStore_ReopenIsNoop(t *testing.T) {
	store := world.NewStore(0)
	store.Open("main", nil)
	require.True(t, store.AddUser("main", domain.AvatarState{ConnID: "c1", UserID: "u1"}))

	// 重复 Open 不得丢弃已有状态。
	store.Open("main", nil)
	assert.Equal(t, 1, store.UserCount("main"))
}

func TestStore_CloseReturnsFinalSnapshot(t *testing.T) {
	store := world.NewStore(0)
	store.Open("main", nil)
	store.AddObject("main", domain.ObjectState{ObjectID: "o1", Kind: domain.ObjectKindPrimitive})

	final := store.Close("main")
	require.NotNil(t, final)
	assert.Len(t, final.Objects, 1)
	assert.False(t, store.IsOpen("main"))

	// 已关闭空间上的所有操作都是安全的 no-op。
	assert.Nil(t, store.Close("main"))
	assert.False(t, store.AddUser("main", domain.AvatarState{ConnID: "c1"}))
	_, ok := store.AppendChat("main", domain.ChatMessage{Message: "x"})
	assert.False(t, ok)
	assert.Nil(t, store.Snapshot("main"))
}

func TestStore_AddUserDuplicateConn(t *testing.T) {
	store := world.NewStore(0)
	store.Open("main", nil)

	require.True(t, store.AddUser("main", domain.AvatarState{ConnID: "c1", UserID: "u1"}))
	assert.False(t, store.AddUser("main", domain.AvatarState{ConnID: "c1", UserID: "u2"}),
		"同一连接不能有第二个形象")
}

func TestStore_RemoveUserIdempotent(t *testing.T) {
	store := world.NewStore(0)
	store.Open("main", nil)
	store.AddUser("main", domain.AvatarState{ConnID: "c1", UserID: "u1"})

	removed, ok := store.RemoveUser("main", "c1")
	require.True(t, ok)
	assert.Equal(t, "u1", removed.UserID)

	_, ok = store.RemoveUser("main", "c1")
	assert.False(t, ok, "重复移除应返回 false")
	assert.Equal(t, 0, store.UserCount("main"))
}

func TestStore_AddObjectDuplicateID(t *testing.T) {
	store := world.NewStore(0)
	store.Open("main", nil)

	added, ok := store.AddObject("main", domain.ObjectState{ObjectID: "o1", Kind: domain.ObjectKindPrimitive})
	require.True(t, ok)
	assert.Equal(t, int64(1), added.InteractionCount)

	_, ok = store.AddObject("main", domain.ObjectState{ObjectID: "o1"})
	assert.False(t, ok, "对象标识在空间内必须唯一")
}

func TestStore_MoveObjectMergesPatch(t *testing.T) {
	store := world.NewStore(0)
	store.Open("main", nil)
	store.AddObject("main", domain.ObjectState{
		ObjectID: "o1",
		Kind:     domain.ObjectKindPrimitive,
		Position: vec(1, 1, 1),
		Rotation: vec(0, 90, 0),
		Scale:    vec(2, 2, 2),
	})

	newPos := vec(5, 6, 7)
	moved, ok := store.MoveObject("main", "o1", domain.ObjectPatch{Position: &newPos}, "u2")
	require.True(t, ok)
	assert.Equal(t, newPos, moved.Position)
	// 未提供的字段保留原值。
	assert.Equal(t, vec(0, 90, 0), moved.Rotation)
	assert.Equal(t, vec(2, 2, 2), moved.Scale)
	assert.Equal(t, "u2", moved.UpdatedBy)
	assert.Equal(t, int64(2), moved.InteractionCount)

	_, ok = store.MoveObject("main", "missing", domain.ObjectPatch{Position: &newPos}, "u2")
	assert.False(t, ok)
}

func TestStore_ChatTailRetention(t *testing.T) {
	store := world.NewStore(3)
	store.Open("main", nil)

	for i := 1; i <= 5; i++ {
		_, ok := store.AppendChat("main", domain.ChatMessage{Message: fmt.Sprintf("msg-%d", i)})
		require.True(t, ok)
	}

	snap := store.Snapshot("main")
	require.Len(t, snap.ChatTail, 3, "尾部只保留最近 3 条")
	assert.Equal(t, "msg-3", snap.ChatTail[0].Message)
	assert.Equal(t, "msg-5", snap.ChatTail[2].Message)
	// Seq 连续且单调。
	assert.Equal(t, uint64(3), snap.ChatTail[0].Seq)
	assert.Equal(t, uint64(5), snap.ChatTail[2].Seq)
}

func TestStore_SharedScreenSingleton(t *testing.T) {
	store := world.NewStore(0)
	store.Open("main", nil)

	require.True(t, store.SetSharedScreen("main", domain.SharedScreenState{HolderConnID: "c1", StreamID: "s1"}))
	assert.False(t, store.SetSharedScreen("main", domain.SharedScreenState{HolderConnID: "c2", StreamID: "s2"}),
		"空间内最多一个活跃共享")

	// 非持有者不能清除。
	_, ok := store.ClearSharedScreen("main", "c2")
	assert.False(t, ok)

	cleared, ok := store.ClearSharedScreen("main", "c1")
	require.True(t, ok)
	assert.Equal(t, "s1", cleared.StreamID)

	// 清除后可以开始新的共享。
	assert.True(t, store.SetSharedScreen("main", domain.SharedScreenState{HolderConnID: "c2", StreamID: "s2"}))
}

func TestStore_SnapshotIsDeepCopy(t *testing.T) {
	store := world.NewStore(0)
	store.Open("main", nil)
	store.AddObject("main", domain.ObjectState{ObjectID: "o1", Position: vec(1, 1, 1)})

	snap := store.Snapshot("main")
	require.NotNil(t, snap)

	// 修改快照不影响存储内状态。
	obj := snap.Objects["o1"]
	obj.Position = vec(9, 9, 9)
	snap.Objects["o1"] = obj

	again := store.Snapshot("main")
	assert.Equal(t, vec(1, 1, 1), again.Objects["o1"].Position)
}

func TestStore_SpacesAreIndependent(t *testing.T) {
	store := world.NewStore(0)
	store.Open("a", nil)
	store.Open("b", nil)

	store.AddObject("a", domain.ObjectState{ObjectID: "o1"})
	store.AppendChat("a", domain.ChatMessage{Message: "hello"})

	snapB := store.Snapshot("b")
	assert.Empty(t, snapB.Objects)
	assert.Empty(t, snapB.ChatTail)

	// b 的聊天序号从 1 开始，不受 a 影响。
	msg, _ := store.AppendChat("b", domain.ChatMessage{Message: "first"})
	assert.Equal(t, uint64(1), msg.Seq)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	store := world.NewStore(0)
	store.Open("main", nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			connID := fmt.Sprintf("c%d", n)
			store.AddUser("main", domain.AvatarState{ConnID: connID, UserID: connID})
			store.MoveUser("main", connID, vec(float64(n), 0, 0), domain.Vec3{})
			store.AppendChat("main", domain.ChatMessage{UserID: connID, Message: "hi"})
			store.Snapshot("main")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, store.UserCount("main"))
	snap := store.Snapshot("main")
	assert.Len(t, snap.ChatTail, 20)
}
