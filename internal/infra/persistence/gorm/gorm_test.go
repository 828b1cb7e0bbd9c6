package gormpersistence_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"my-room-spaces/internal/domain"
)

// newTestDB 创建一个迁移完成的内存 SQLite 数据库。
// 每个测试使用独立命名的共享内存库，连接池内的连接看到同一份数据，
// 测试之间互不污染。
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "打开内存数据库不应失败")

	err = db.AutoMigrate(
		&domain.User{},
		&domain.Session{},
		&domain.WorldObject{},
		&domain.ChatMessage{},
		&domain.UploadedModel{},
	)
	require.NoError(t, err, "迁移不应失败")

	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})
	return db
}
