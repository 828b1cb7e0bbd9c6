package gormpersistence_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"my-room-spaces/internal/domain"
	gormpersistence "my-room-spaces/internal/infra/persistence/gorm"
)

func upsertMutation(spaceID, objectID string, pos domain.Vec3, by string) domain.ObjectMutation {
	return domain.ObjectMutation{
		Op:      domain.ObjectOpUpsert,
		SpaceID: spaceID,
		State: domain.ObjectState{
			ObjectID:  objectID,
			Kind:      domain.ObjectKindPrimitive,
			Position:  pos,
			Scale:     domain.Vec3{X: 1, Y: 1, Z: 1},
			CreatedBy: by,
			UpdatedBy: by,
		},
	}
}

func deleteMutation(spaceID, objectID string) domain.ObjectMutation {
	return domain.ObjectMutation{
		Op:      domain.ObjectOpDelete,
		SpaceID: spaceID,
		State:   domain.ObjectState{ObjectID: objectID},
	}
}

func TestObjectRepository_UpsertThenList(t *testing.T) {
	repo := gormpersistence.NewGormObjectRepository(newTestDB(t))
	ctx := context.Background()

	err := repo.ApplyMutations(ctx, []domain.ObjectMutation{
		upsertMutation("main", "o1", domain.Vec3{X: 1}, "u1"),
		upsertMutation("main", "o2", domain.Vec3{X: 2}, "u1"),
		upsertMutation("other", "o1", domain.Vec3{X: 9}, "u2"), // 不同空间同名对象
	})
	require.NoError(t, err)

	objects, err := repo.ListBySpace(ctx, "main")
	require.NoError(t, err)
	assert.Len(t, objects, 2)

	other, err := repo.ListBySpace(ctx, "other")
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, domain.Vec3{X: 9}, other[0].Position())
}

func TestObjectRepository_CoalesceLastWriteWins(t *testing.T) {
	repo := gormpersistence.NewGormObjectRepository(newTestDB(t))
	ctx := context.Background()

	// 同一批里对同一对象的多次更新只落最终态。
	err := repo.ApplyMutations(ctx, []domain.ObjectMutation{
		upsertMutation("main", "o1", domain.Vec3{X: 1}, "u1"),
		upsertMutation("main", "o1", domain.Vec3{X: 2}, "u2"),
		upsertMutation("main", "o1", domain.Vec3{X: 3}, "u3"),
	})
	require.NoError(t, err)

	objects, err := repo.ListBySpace(ctx, "main")
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, domain.Vec3{X: 3}, objects[0].Position())
	assert.Equal(t, "u3", objects[0].UpdatedBy)
}

func TestObjectRepository_AddMoveDeleteInOneBatch(t *testing.T) {
	repo := gormpersistence.NewGormObjectRepository(newTestDB(t))
	ctx := context.Background()

	// add → move → delete 在同一批：对象最终不存在，不会复活。
	err := repo.ApplyMutations(ctx, []domain.ObjectMutation{
		upsertMutation("main", "o1", domain.Vec3{X: 1}, "u1"),
		upsertMutation("main", "o1", domain.Vec3{X: 2}, "u1"),
		deleteMutation("main", "o1"),
	})
	require.NoError(t, err)

	objects, err := repo.ListBySpace(ctx, "main")
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestObjectRepository_DeleteThenReAdd(t *testing.T) {
	repo := gormpersistence.NewGormObjectRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.ApplyMutations(ctx, []domain.ObjectMutation{
		upsertMutation("main", "o1", domain.Vec3{X: 1}, "u1"),
	}))

	// delete → add（新对象复用标识）：最终态是新对象。
	err := repo.ApplyMutations(ctx, []domain.ObjectMutation{
		deleteMutation("main", "o1"),
		upsertMutation("main", "o1", domain.Vec3{X: 7}, "u2"),
	})
	require.NoError(t, err)

	objects, err := repo.ListBySpace(ctx, "main")
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, domain.Vec3{X: 7}, objects[0].Position())
}

func TestObjectRepository_UpsertUpdatesExistingRow(t *testing.T) {
	repo := gormpersistence.NewGormObjectRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.ApplyMutations(ctx, []domain.ObjectMutation{
		upsertMutation("main", "o1", domain.Vec3{X: 1}, "u1"),
	}))
	// 第二批对同一对象 upsert：更新行，而不是新增行。
	require.NoError(t, repo.ApplyMutations(ctx, []domain.ObjectMutation{
		upsertMutation("main", "o1", domain.Vec3{X: 5}, "u2"),
	}))

	objects, err := repo.ListBySpace(ctx, "main")
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, domain.Vec3{X: 5}, objects[0].Position())
	assert.Equal(t, "u2", objects[0].UpdatedBy)
}

func TestObjectRepository_EmptyBatch(t *testing.T) {
	repo := gormpersistence.NewGormObjectRepository(newTestDB(t))
	assert.NoError(t, repo.ApplyMutations(context.Background(), nil))
}
