package meta

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"hippo/pkg/membership"
	"hippo/pkg/types"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// -----------------------------------------------------------------------------
// 通用辅助函数 (Helpers)
// -----------------------------------------------------------------------------

// setupTestRepo 构建隔离的测试环境，每个测试一个内存库
func setupTestRepo(t *testing.T) *Repository {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	metaDB := NewWithConn(db)
	require.NoError(t, metaDB.AutoMigrate(Models()...))

	return NewRepository(metaDB)
}

func newFile(name string) *File {
	return &File{
		Name:     name,
		Slug:     "data",
		Uploader: "alice",
		Checksum: types.Checksum("xxh64:00000000000000ff"),
		Size:     10,
		Bucket:   "global",
		Key:      "alice/" + name,
	}
}

// mustInsertProduct 插入产品，失败直接终止
func mustInsertProduct(t *testing.T, repo *Repository, p *Product, msgAndArgs ...any) *Product {
	t.Helper()
	require.NoError(t, repo.InsertProduct(context.Background(), p), msgAndArgs...)
	return p
}

func mustInsertCollection(t *testing.T, repo *Repository, name string) *Collection {
	t.Helper()
	c := &Collection{Name: name, Owner: "alice"}
	require.NoError(t, repo.InsertCollection(context.Background(), c))
	return c
}

func linkTo(id string, policy types.Policy) membership.Link {
	return membership.Link{CollectionID: id, Policy: policy}
}
