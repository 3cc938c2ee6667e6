// Package metatest 为依赖文档存储的包提供内存 SQLite 仓库
package metatest

import (
	"fmt"
	"strings"
	"testing"

	"hippo/pkg/meta"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewRepository 每个测试一个隔离的内存库，测试结束自动关闭
func NewRepository(t testing.TB) *meta.Repository {
	t.Helper()
	return meta.NewRepository(NewDB(t))
}

// NewDB 同 NewRepository，但返回底层连接，便于测试注册 gorm 回调
func NewDB(t testing.TB) *meta.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// 单连接避免共享缓存下的表锁
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	metaDB := meta.NewWithConn(db)
	require.NoError(t, metaDB.AutoMigrate(meta.Models()...))
	return metaDB
}
