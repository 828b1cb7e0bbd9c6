package gormpersistence_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"my-room-spaces/internal/domain"
	gormpersistence "my-room-spaces/internal/infra/persistence/gorm"
	"my-room-spaces/internal/repository"
)

func TestModelRepository_SaveAndFind(t *testing.T) {
	repo := gormpersistence.NewGormModelRepository(newTestDB(t))
	ctx := context.Background()

	model := &domain.UploadedModel{
		ModelID:    "m1",
		Name:       "Chair",
		StorageKey: "models/m1.glb",
		Format:     "glb",
		UploadedBy: "u1",
	}
	require.NoError(t, repo.Save(ctx, model))

	found, err := repo.FindByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Chair", found.Name)

	_, err = repo.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrModelNotFound)
}

func TestModelRepository_IncrementUsage(t *testing.T) {
	repo := gormpersistence.NewGormModelRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &domain.UploadedModel{ModelID: "m1", Name: "X", StorageKey: "k"}))
	require.NoError(t, repo.IncrementUsage(ctx, "m1"))
	require.NoError(t, repo.IncrementUsage(ctx, "m1"))

	found, err := repo.FindByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), found.UsageCount)
}

func TestModelRepository_DeleteCascade(t *testing.T) {
	db := newTestDB(t)
	modelRepo := gormpersistence.NewGormModelRepository(db)
	objectRepo := gormpersistence.NewGormObjectRepository(db)
	ctx := context.Background()

	require.NoError(t, modelRepo.Save(ctx, &domain.UploadedModel{ModelID: "m1", Name: "X", StorageKey: "k"}))

	// 两个空间各摆放一个该模型的对象，外加一个无关对象。
	require.NoError(t, objectRepo.ApplyMutations(ctx, []domain.ObjectMutation{
		{Op: domain.ObjectOpUpsert, SpaceID: "a", State: domain.ObjectState{ObjectID: "o1", Kind: domain.ObjectKindModel, ModelID: "m1"}},
		{Op: domain.ObjectOpUpsert, SpaceID: "b", State: domain.ObjectState{ObjectID: "o2", Kind: domain.ObjectKindModel, ModelID: "m1"}},
		{Op: domain.ObjectOpUpsert, SpaceID: "a", State: domain.ObjectState{ObjectID: "keep", Kind: domain.ObjectKindPrimitive}},
	}))

	refs, err := modelRepo.DeleteCascade(ctx, "m1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []repository.DeletedObjectRef{
		{SpaceID: "a", ObjectID: "o1"},
		{SpaceID: "b", ObjectID: "o2"},
	}, refs)

	// 模型行与依赖对象都消失，无关对象保留。
	_, err = modelRepo.FindByID(ctx, "m1")
	assert.ErrorIs(t, err, repository.ErrModelNotFound)

	remaining, err := objectRepo.ListBySpace(ctx, "a")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "keep", remaining[0].ObjectID)
}

func TestModelRepository_DeleteCascadeMissingModel(t *testing.T) {
	repo := gormpersistence.NewGormModelRepository(newTestDB(t))

	_, err := repo.DeleteCascade(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrModelNotFound)
}
