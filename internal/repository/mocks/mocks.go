// Package mocks 提供 repository 接口的 testify Mock 实现，供服务层测试使用。
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"my-room-spaces/internal/domain"
	"my-room-spaces/internal/repository"
)

// UserRepository 是 repository.UserRepository 的 Mock。
type UserRepository struct {
	mock.Mock
}

func (m *UserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	var user *domain.User
	if args.Get(0) != nil {
		user = args.Get(0).(*domain.User)
	}
	return user, args.Error(1)
}

func (m *UserRepository) UpsertBatch(ctx context.Context, users []domain.User) error {
	args := m.Called(ctx, users)
	return args.Error(0)
}

// SessionRepository 是 repository.SessionRepository 的 Mock。
type SessionRepository struct {
	mock.Mock
}

func (m *SessionRepository) ApplyRecords(ctx context.Context, records []domain.SessionRecord) error {
	args := m.Called(ctx, records)
	return args.Error(0)
}

func (m *SessionRepository) FindActiveBySocket(ctx context.Context, socketID string) (*domain.Session, error) {
	args := m.Called(ctx, socketID)
	var session *domain.Session
	if args.Get(0) != nil {
		session = args.Get(0).(*domain.Session)
	}
	return session, args.Error(1)
}

func (m *SessionRepository) CloseStale(ctx context.Context, olderThan time.Time) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

// ObjectRepository 是 repository.ObjectRepository 的 Mock。
type ObjectRepository struct {
	mock.Mock
}

func (m *ObjectRepository) ApplyMutations(ctx context.Context, mutations []domain.ObjectMutation) error {
	args := m.Called(ctx, mutations)
	return args.Error(0)
}

func (m *ObjectRepository) ListBySpace(ctx context.Context, spaceID string) ([]domain.WorldObject, error) {
	args := m.Called(ctx, spaceID)
	var objects []domain.WorldObject
	if args.Get(0) != nil {
		objects = args.Get(0).([]domain.WorldObject)
	}
	return objects, args.Error(1)
}

// ChatRepository 是 repository.ChatRepository 的 Mock。
type ChatRepository struct {
	mock.Mock
}

func (m *ChatRepository) SaveBatch(ctx context.Context, messages []domain.ChatMessage) error {
	args := m.Called(ctx, messages)
	return args.Error(0)
}

func (m *ChatRepository) ListRecent(ctx context.Context, spaceID string, n int) ([]domain.ChatMessage, error) {
	args := m.Called(ctx, spaceID, n)
	var messages []domain.ChatMessage
	if args.Get(0) != nil {
		messages = args.Get(0).([]domain.ChatMessage)
	}
	return messages, args.Error(1)
}

func (m *ChatRepository) Prune(ctx context.Context, spaceID string, keep int) (int64, error) {
	args := m.Called(ctx, spaceID, keep)
	return args.Get(0).(int64), args.Error(1)
}

func (m *ChatRepository) SpaceIDs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	var ids []string
	if args.Get(0) != nil {
		ids = args.Get(0).([]string)
	}
	return ids, args.Error(1)
}

// ModelRepository 是 repository.ModelRepository 的 Mock。
type ModelRepository struct {
	mock.Mock
}

func (m *ModelRepository) FindByID(ctx context.Context, modelID string) (*domain.UploadedModel, error) {
	args := m.Called(ctx, modelID)
	var model *domain.UploadedModel
	if args.Get(0) != nil {
		model = args.Get(0).(*domain.UploadedModel)
	}
	return model, args.Error(1)
}

func (m *ModelRepository) Save(ctx context.Context, model *domain.UploadedModel) error {
	args := m.Called(ctx, model)
	return args.Error(0)
}

func (m *ModelRepository) List(ctx context.Context) ([]domain.UploadedModel, error) {
	args := m.Called(ctx)
	var models []domain.UploadedModel
	if args.Get(0) != nil {
		models = args.Get(0).([]domain.UploadedModel)
	}
	return models, args.Error(1)
}

func (m *ModelRepository) IncrementUsage(ctx context.Context, modelID string) error {
	args := m.Called(ctx, modelID)
	return args.Error(0)
}

func (m *ModelRepository) DeleteCascade(ctx context.Context, modelID string) ([]repository.DeletedObjectRef, error) {
	args := m.Called(ctx, modelID)
	var refs []repository.DeletedObjectRef
	if args.Get(0) != nil {
		refs = args.Get(0).([]repository.DeletedObjectRef)
	}
	return refs, args.Error(1)
}

// CacheRepository 是 repository.CacheRepository 的 Mock。
type CacheRepository struct {
	mock.Mock
}

func (m *CacheRepository) Get(ctx context.Context, category, key string) ([]byte, error) {
	args := m.Called(ctx, category, key)
	var value []byte
	if args.Get(0) != nil {
		value = args.Get(0).([]byte)
	}
	return value, args.Error(1)
}

func (m *CacheRepository) Set(ctx context.Context, category, key string, value []byte, ttl time.Duration) error {
	args := m.Called(ctx, category, key, value, ttl)
	return args.Error(0)
}

func (m *CacheRepository) Delete(ctx context.Context, category, key string) error {
	args := m.Called(ctx, category, key)
	return args.Error(0)
}

func (m *CacheRepository) HSet(ctx context.Context, category, id string, fields map[string]interface{}) error {
	args := m.Called(ctx, category, id, fields)
	return args.Error(0)
}

func (m *CacheRepository) HGet(ctx context.Context, category, id, field string) (string, error) {
	args := m.Called(ctx, category, id, field)
	return args.String(0), args.Error(1)
}

func (m *CacheRepository) HGetAll(ctx context.Context, category, id string) (map[string]string, error) {
	args := m.Called(ctx, category, id)
	var fields map[string]string
	if args.Get(0) != nil {
		fields = args.Get(0).(map[string]string)
	}
	return fields, args.Error(1)
}

func (m *CacheRepository) Invalidate(ctx context.Context, pattern string) (int64, error) {
	args := m.Called(ctx, pattern)
	return args.Get(0).(int64), args.Error(1)
}

func (m *CacheRepository) CacheWorldState(ctx context.Context, spaceID string, snapshot *domain.WorldSnapshot, ttl time.Duration) error {
	args := m.Called(ctx, spaceID, snapshot, ttl)
	return args.Error(0)
}

func (m *CacheRepository) GetCachedWorldState(ctx context.Context, spaceID string) (*domain.WorldSnapshot, error) {
	args := m.Called(ctx, spaceID)
	var snapshot *domain.WorldSnapshot
	if args.Get(0) != nil {
		snapshot = args.Get(0).(*domain.WorldSnapshot)
	}
	return snapshot, args.Error(1)
}

func (m *CacheRepository) PutSessionRecord(ctx context.Context, connID string, record repository.SessionCacheRecord, ttl time.Duration) error {
	args := m.Called(ctx, connID, record, ttl)
	return args.Error(0)
}

func (m *CacheRepository) GetSessionRecord(ctx context.Context, connID string) (*repository.SessionCacheRecord, error) {
	args := m.Called(ctx, connID)
	var record *repository.SessionCacheRecord
	if args.Get(0) != nil {
		record = args.Get(0).(*repository.SessionCacheRecord)
	}
	return record, args.Error(1)
}

func (m *CacheRepository) DeleteSessionRecord(ctx context.Context, connID string) error {
	args := m.Called(ctx, connID)
	return args.Error(0)
}

func (m *CacheRepository) CheckRateLimit(ctx context.Context, subject, action string, limit int, window time.Duration) (repository.RateLimitResult, error) {
	args := m.Called(ctx, subject, action, limit, window)
	return args.Get(0).(repository.RateLimitResult), args.Error(1)
}
