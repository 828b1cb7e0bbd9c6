package gormpersistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"my-room-spaces/internal/domain"
	gormpersistence "my-room-spaces/internal/infra/persistence/gorm"
	"my-room-spaces/internal/repository"
)

func TestSessionRepository_BeginThenEnd(t *testing.T) {
	db := newTestDB(t)
	repo := gormpersistence.NewGormSessionRepository(db)
	ctx := context.Background()

	connectedAt := time.Now().UTC().Add(-90 * time.Second)
	require.NoError(t, repo.ApplyRecords(ctx, []domain.SessionRecord{{
		Kind:        domain.SessionRecordBegin,
		UserID:      "u1",
		SocketID:    "sock-1",
		SpaceID:     "main",
		ConnectedAt: connectedAt,
	}}))

	active, err := repo.FindActiveBySocket(ctx, "sock-1")
	require.NoError(t, err)
	assert.Equal(t, "u1", active.UserID)
	assert.True(t, active.IsActive)

	disconnectedAt := connectedAt.Add(90 * time.Second)
	require.NoError(t, repo.ApplyRecords(ctx, []domain.SessionRecord{{
		Kind:           domain.SessionRecordEnd,
		UserID:         "u1",
		SocketID:       "sock-1",
		SpaceID:        "main",
		ConnectedAt:    connectedAt,
		DisconnectedAt: disconnectedAt,
	}}))

	_, err = repo.FindActiveBySocket(ctx, "sock-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	var session domain.Session
	require.NoError(t, db.Where("socket_id = ?", "sock-1").First(&session).Error)
	assert.False(t, session.IsActive)
	assert.Equal(t, int64(90), session.DurationSeconds)
	require.NotNil(t, session.DisconnectedAt)
}

func TestSessionRepository_EndIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	repo := gormpersistence.NewGormSessionRepository(db)
	ctx := context.Background()

	connectedAt := time.Now().UTC().Add(-time.Minute)
	end := domain.SessionRecord{
		Kind:           domain.SessionRecordEnd,
		UserID:         "u1",
		SocketID:       "sock-1",
		SpaceID:        "main",
		ConnectedAt:    connectedAt,
		DisconnectedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.ApplyRecords(ctx, []domain.SessionRecord{{
		Kind:        domain.SessionRecordBegin,
		UserID:      "u1",
		SocketID:    "sock-1",
		SpaceID:     "main",
		ConnectedAt: connectedAt,
	}, end}))

	// 重复 end（传输层重复断线事件）：0 行受影响，不产生第二条记录。
	require.NoError(t, repo.ApplyRecords(ctx, []domain.SessionRecord{end, end}))

	var count int64
	require.NoError(t, db.Model(&domain.Session{}).Where("socket_id = ?", "sock-1").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSessionRepository_EndWithoutBegin(t *testing.T) {
	repo := gormpersistence.NewGormSessionRepository(newTestDB(t))

	// 从未落库的会话收到 end：幂等放行，不报错。
	err := repo.ApplyRecords(context.Background(), []domain.SessionRecord{{
		Kind:           domain.SessionRecordEnd,
		SocketID:       "never-seen",
		ConnectedAt:    time.Now().UTC(),
		DisconnectedAt: time.Now().UTC(),
	}})
	assert.NoError(t, err)
}

func TestSessionRepository_BeginUpsertKeepsSingleActiveRow(t *testing.T) {
	db := newTestDB(t)
	repo := gormpersistence.NewGormSessionRepository(db)
	ctx := context.Background()

	begin := domain.SessionRecord{
		Kind:        domain.SessionRecordBegin,
		UserID:      "u1",
		SocketID:    "sock-1",
		SpaceID:     "main",
		ConnectedAt: time.Now().UTC(),
	}
	// 重复 begin：同一 SocketID 至多一条活跃会话。
	require.NoError(t, repo.ApplyRecords(ctx, []domain.SessionRecord{begin}))
	require.NoError(t, repo.ApplyRecords(ctx, []domain.SessionRecord{begin}))

	var count int64
	require.NoError(t, db.Model(&domain.Session{}).Where("socket_id = ?", "sock-1").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSessionRepository_CloseStale(t *testing.T) {
	db := newTestDB(t)
	repo := gormpersistence.NewGormSessionRepository(db)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	recent := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, repo.ApplyRecords(ctx, []domain.SessionRecord{
		{Kind: domain.SessionRecordBegin, UserID: "u1", SocketID: "stale", SpaceID: "main", ConnectedAt: old},
		{Kind: domain.SessionRecordBegin, UserID: "u2", SocketID: "fresh", SpaceID: "main", ConnectedAt: recent},
	}))

	n, err := repo.CloseStale(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.FindActiveBySocket(ctx, "stale")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = repo.FindActiveBySocket(ctx, "fresh")
	assert.NoError(t, err)
}
