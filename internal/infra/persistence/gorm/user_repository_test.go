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

func TestUserRepository_UpsertBatch(t *testing.T) {
	db := newTestDB(t)
	repo := gormpersistence.NewGormUserRepository(db)
	ctx := context.Background()

	first := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, repo.UpsertBatch(ctx, []domain.User{
		{ID: "u1", Username: "Alice", DisplayName: "Alice", LastSeenAt: first},
	}))

	found, err := repo.FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", found.DisplayName)

	// 再次 upsert 更新显示名与最后活跃时间，不产生第二行。
	later := time.Now().UTC()
	require.NoError(t, repo.UpsertBatch(ctx, []domain.User{
		{ID: "u1", Username: "Alicia", DisplayName: "Alicia", AvatarRef: "robot", LastSeenAt: later},
	}))

	var count int64
	require.NoError(t, db.Model(&domain.User{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	found, err = repo.FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alicia", found.DisplayName)
	assert.Equal(t, "robot", found.AvatarRef)
	assert.True(t, found.LastSeenAt.After(first))
}

func TestUserRepository_FindMissing(t *testing.T) {
	repo := gormpersistence.NewGormUserRepository(newTestDB(t))

	_, err := repo.FindByID(context.Background(), "nobody")
	assert.ErrorIs(t, err, repository.ErrUserNotFound)
}

func TestUserRepository_EmptyBatch(t *testing.T) {
	repo := gormpersistence.NewGormUserRepository(newTestDB(t))
	assert.NoError(t, repo.UpsertBatch(context.Background(), nil))
}
