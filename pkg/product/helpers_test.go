package product

import (
	"bytes"
	"context"
	"testing"

	"hippo/pkg/acl"
	"hippo/pkg/meta"
	"hippo/pkg/meta/metatest"
	"hippo/pkg/storage/memory"
	"hippo/pkg/upload"
	"hippo/pkg/versioning"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var (
	alice = acl.Caller{Name: "alice", Groups: []string{"alice"}}
	bob   = acl.Caller{Name: "bob", Groups: []string{"readers"}}
	eve   = acl.Caller{Name: "eve", Groups: []string{"outsiders"}}
	admin = acl.Caller{Name: "root", Scopes: []string{acl.AdminScope}}
)

type fixture struct {
	db    *meta.DB
	repo  *meta.Repository
	store *memory.Store
	svc   *Service
}

func setup(t *testing.T, cfg Config) *fixture {
	t.Helper()
	db := metatest.NewDB(t)
	repo := meta.NewRepository(db)
	store := memory.New("http://objects.test")
	orch := upload.NewOrchestrator(repo, store, upload.Config{}, zerolog.Nop(), nil)
	return &fixture{
		db:    db,
		repo:  repo,
		store: store,
		svc:   NewService(repo, orch, cfg, zerolog.Nop(), nil),
	}
}

func ptr[T any](v T) *T { return &v }

// mustCreate 创建产品并把所有源文件 "上传" 到内存存储后确认
func mustCreate(t *testing.T, fx *fixture, name string, sources ...upload.SourceSpec) *meta.Product {
	t.Helper()
	ctx := context.Background()
	p, _, err := fx.svc.Create(ctx, alice, CreateRequest{
		Name:    name,
		Readers: []string{"readers"},
		Sources: sources,
	})
	require.NoError(t, err)
	mustUploadAll(t, fx, p)
	return p
}

// mustUploadAll 把 p 上所有未确认的文件写入存储并确认
func mustUploadAll(t *testing.T, fx *fixture, p *meta.Product) {
	t.Helper()
	for _, f := range p.Sources {
		if !f.Available {
			fx.store.Put(f.Bucket, f.Key, make([]byte, f.Size))
		}
	}
	require.NoError(t, fx.svc.Confirm(context.Background(), alice, p.ID))
}

// mustRevise 以 patch 级别修改描述，返回新 head
func mustRevise(t *testing.T, fx *fixture, id string, desc string) *meta.Product {
	t.Helper()
	next, _, err := fx.svc.Update(context.Background(), alice, id, Changes{Description: ptr(desc)}, upload.SourceChanges{}, versioning.Patch)
	require.NoError(t, err)
	return next
}

func mustGet(t *testing.T, fx *fixture, id string) *meta.Product {
	t.Helper()
	p, err := fx.repo.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p
}

// currentCount 统计某个名字下 current=true 的节点数
func currentCount(t *testing.T, fx *fixture, name string) int {
	t.Helper()
	all, err := fx.repo.RecentProducts(context.Background(), true, func(p *meta.Product) bool { return p.Name == name }, 1000)
	require.NoError(t, err)
	return len(all)
}

// src 声明一个 8 字节全零的文件，与 mustUploadAll 写入的内容一致
func src(name, slug string) upload.SourceSpec {
	size, sum, _ := upload.ChecksumReader(bytes.NewReader(make([]byte, 8)))
	return upload.SourceSpec{Name: name, Slug: slug, Size: size, Checksum: sum}
}
