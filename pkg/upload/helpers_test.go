package upload

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"hippo/pkg/meta"
	"hippo/pkg/meta/metatest"
	"hippo/pkg/storage/memory"
	"hippo/pkg/types"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	repo  *meta.Repository
	store *memory.Store
	orch  *Orchestrator
}

// setup 内存仓库 + 通过 httptest 对外服务的内存对象存储
func setup(t *testing.T, cfg Config) *fixture {
	t.Helper()
	repo := metatest.NewRepository(t)
	store := memory.New("")
	srv := httptest.NewServer(store)
	t.Cleanup(srv.Close)
	store.SetBaseURL(srv.URL)

	return &fixture{
		repo:  repo,
		store: store,
		orch:  NewOrchestrator(repo, store, cfg, zerolog.Nop(), nil),
	}
}

// writeTemp 写一个临时文件并返回路径
func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// specFor 根据本地文件生成上传声明
func specFor(t *testing.T, path, slug string) SourceSpec {
	t.Helper()
	size, sum, err := FileInfo(path)
	require.NoError(t, err)
	return SourceSpec{Name: path, Slug: slug, Size: size, Checksum: sum}
}

// mustCreateProduct 发放 URL 并把文件挂到一个新产品上
func mustCreateProduct(t *testing.T, fx *fixture, specs ...SourceSpec) (*meta.Product, map[string][]string) {
	t.Helper()
	ctx := context.Background()
	urls, files, err := fx.orch.Presign(ctx, "alice", specs)
	require.NoError(t, err)

	sources := make(map[string]*meta.File, len(files))
	for _, f := range files {
		sources[f.Slug] = f
	}
	p := &meta.Product{Name: "p", Version: "1.0.0", Current: true, Owner: "alice", Sources: sources}
	require.NoError(t, fx.repo.InsertProduct(ctx, p))
	return p, urls
}

func fileList(p *meta.Product) []*meta.File {
	out := make([]*meta.File, 0, len(p.Sources))
	for _, slug := range p.Slugs() {
		out = append(out, p.Sources[slug])
	}
	return out
}

var bogusChecksum = types.Checksum("xxh64:0000000000000000")
