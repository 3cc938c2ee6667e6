package meta

import (
	"context"
	"testing"
	"time"

	"hippo/pkg/membership"
	"hippo/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepository_ProductRoundTrip(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	coll := mustInsertCollection(t, repo, "maps")
	parent := mustInsertProduct(t, repo, &Product{Name: "parent", Version: "1.0.0", Current: true})

	p := mustInsertProduct(t, repo, &Product{
		Name:     "cmb-map",
		Version:  "1.0.0",
		Current:  true,
		Owner:    "alice",
		Readers:  []string{"act"},
		Writers:  []string{"alice"},
		Metadata: []byte(`{"metadata_type":"simple"}`),
		Sources: map[string]*File{
			"data":  newFile("map.fits"),
			"extra": newFile("extra.fits"),
		},
		Collections: []membership.Link{linkTo(coll.ID, types.PolicyAll)},
		ChildOf:     []string{parent.ID},
	})

	got, err := repo.GetProduct(ctx, p.ID)
	require.NoError(t, err)

	assert.Equal(t, "cmb-map", got.Name)
	assert.True(t, got.Current)
	assert.Equal(t, []string{"act"}, got.ReaderGroups())
	assert.Equal(t, []string{"data", "extra"}, got.Slugs())
	assert.Equal(t, "map.fits", got.Sources["data"].Name)
	assert.Equal(t, []membership.Link{linkTo(coll.ID, types.PolicyAll)}, got.Collections)
	assert.Equal(t, []string{parent.ID}, got.ChildOf)
	assert.Empty(t, got.Replaces())

	children, err := repo.ChildrenOf(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{p.ID}, children)
}

func TestRepository_GetProduct_NotFound(t *testing.T) {
	repo := setupTestRepo(t)
	_, err := repo.GetProduct(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestRepository_SharedFilesAreInsertedOnce(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	f := newFile("shared.fits")
	v1 := mustInsertProduct(t, repo, &Product{Name: "p", Version: "1.0.0", Current: true, Sources: map[string]*File{"data": f}})
	v1ID := v1.ID
	mustInsertProduct(t, repo, &Product{Name: "p", Version: "1.0.1", Current: true, ReplacesID: &v1ID, Sources: map[string]*File{"data": f}})

	var count int64
	require.NoError(t, repo.db.GetConn().Model(&File{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// 仍被引用的文件不会被删除
	n, err := repo.DeleteFiles(ctx, []string{f.ID})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRepository_FindProductAndSuccessor(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	v1 := mustInsertProduct(t, repo, &Product{Name: "p", Version: "1.0.0", Current: false})
	v1ID := v1.ID
	v2 := mustInsertProduct(t, repo, &Product{Name: "p", Version: "1.1.0", Current: true, ReplacesID: &v1ID})

	cur, err := repo.FindProduct(ctx, "p", "")
	require.NoError(t, err)
	assert.Equal(t, v2.ID, cur.ID)

	old, err := repo.FindProduct(ctx, "p", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, v1.ID, old.ID)

	next, err := repo.FindSuccessor(ctx, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, next.ID)

	_, err = repo.FindSuccessor(ctx, v2.ID)
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestRepository_MarkSuperseded_CAS(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	p := mustInsertProduct(t, repo, &Product{Name: "p", Version: "1.0.0", Current: true})

	// 1. 第一次翻转成功
	require.NoError(t, repo.MarkSuperseded(ctx, p.ID, true))

	// 2. 第二个并发修订者基于过期状态，CAS 失败
	err := repo.MarkSuperseded(ctx, p.ID, true)
	assert.ErrorIs(t, err, ErrConcurrentUpdate)

	// 3. 不加保护时最后写入者胜出
	assert.NoError(t, repo.MarkSuperseded(ctx, p.ID, false))

	got, err := repo.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, got.Current)
	assert.Equal(t, int64(3), got.Stamp)
}

func TestRepository_CollectionLinks(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	a := mustInsertCollection(t, repo, "a")
	b := mustInsertCollection(t, repo, "b")
	p := mustInsertProduct(t, repo, &Product{Name: "p", Version: "1.0.0", Current: true})

	require.NoError(t, repo.AddCollectionLink(ctx, p.ID, linkTo(a.ID, types.PolicyAll)))
	require.NoError(t, repo.AddCollectionLink(ctx, p.ID, linkTo(b.ID, types.PolicyFixed)))
	// 重复添加只改策略
	require.NoError(t, repo.AddCollectionLink(ctx, p.ID, linkTo(a.ID, types.PolicyCurrent)))

	got, err := repo.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []membership.Link{
		linkTo(a.ID, types.PolicyCurrent),
		linkTo(b.ID, types.PolicyFixed),
	}, got.Collections)

	require.NoError(t, repo.SetCollectionLinks(ctx, p.ID, []membership.Link{linkTo(b.ID, types.PolicyNew)}))
	got, err = repo.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []membership.Link{linkTo(b.ID, types.PolicyNew)}, got.Collections)

	inB, err := repo.ProductsInCollection(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, inB, 1)
	assert.Equal(t, p.ID, inB[0].ID)

	require.NoError(t, repo.RemoveCollectionLink(ctx, p.ID, b.ID))
	inB, err = repo.ProductsInCollection(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, inB)
}

func TestRepository_DeleteProductAndOrphanFiles(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	f := newFile("only.fits")
	p := mustInsertProduct(t, repo, &Product{Name: "p", Version: "1.0.0", Current: true, Sources: map[string]*File{"data": f}})

	require.NoError(t, repo.DeleteProduct(ctx, p.ID))
	assert.ErrorIs(t, repo.DeleteProduct(ctx, p.ID), ErrProductNotFound)

	n, err := repo.DeleteFiles(ctx, []string{f.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.GetFile(ctx, f.ID)
	assert.ErrorIs(t, err, ErrFileRecordNotFound)
}

func TestRepository_RecentProducts_Filter(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, owner := range []string{"alice", "bob", "alice", "carol"} {
		mustInsertProduct(t, repo, &Product{
			Name:    "p" + owner,
			Version: "1.0.0",
			Current: true,
			Owner:   owner,
			Updated: base.Add(time.Duration(i) * time.Minute),
		})
	}

	onlyAlice := func(p *Product) bool { return p.Owner == "alice" }
	got, err := repo.RecentProducts(ctx, true, onlyAlice, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Updated.After(got[1].Updated))

	got, err = repo.RecentProducts(ctx, true, nil, 3)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, "pcarol", got[0].Name)
}

func TestRepository_SearchProducts(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	mustInsertProduct(t, repo, &Product{Name: "ACT DR6 Maps", Version: "1.0.0", Current: true})
	mustInsertProduct(t, repo, &Product{Name: "act dr5 maps", Version: "1.0.0", Current: false})
	mustInsertProduct(t, repo, &Product{Name: "Planck", Version: "1.0.0", Current: true})

	got, err := repo.SearchProducts(ctx, "act", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ACT DR6 Maps", got[0].Name)
}

func TestRepository_UpdateAccess(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	p := mustInsertProduct(t, repo, &Product{Name: "p", Version: "1.0.0", Current: true, Owner: "alice"})
	require.NoError(t, repo.UpdateAccess(ctx, p.ID, "bob", []string{"r"}, []string{"w", "bob"}))

	got, err := repo.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", got.Owner)
	assert.Equal(t, []string{"r"}, got.ReaderGroups())
	assert.Equal(t, []string{"w", "bob"}, got.WriterGroups())
}

func TestRepository_CollectionLifecycle(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	parent := mustInsertCollection(t, repo, "Parent Survey")
	child := mustInsertCollection(t, repo, "child")
	p := mustInsertProduct(t, repo, &Product{
		Name: "p", Version: "1.0.0", Current: true,
		Collections: []membership.Link{linkTo(child.ID, types.PolicyAll)},
	})

	require.NoError(t, repo.AddCollectionChild(ctx, parent.ID, child.ID))
	require.NoError(t, repo.AddCollectionChild(ctx, parent.ID, child.ID))

	got, err := repo.GetCollection(ctx, child.ID, true)
	require.NoError(t, err)
	assert.Equal(t, []string{parent.ID}, got.ParentIDs)
	require.Len(t, got.Products, 1)
	assert.Equal(t, p.ID, got.Products[0].ID)

	got, err = repo.GetCollection(ctx, parent.ID, false)
	require.NoError(t, err)
	assert.Equal(t, []string{child.ID}, got.ChildIDs)

	found, err := repo.SearchCollections(ctx, "survey", 5)
	require.NoError(t, err)
	require.Len(t, found, 1)

	got.Description = "updated"
	require.NoError(t, repo.UpdateCollection(ctx, got))

	require.NoError(t, repo.DeleteCollection(ctx, child.ID))
	_, err = repo.GetCollection(ctx, child.ID, false)
	assert.ErrorIs(t, err, ErrCollectionNotFound)

	// 产品上的关联被一并清理
	after, err := repo.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, after.Collections)

	parentAfter, err := repo.GetCollection(ctx, parent.ID, false)
	require.NoError(t, err)
	assert.Empty(t, parentAfter.ChildIDs)
	assert.Equal(t, "Parent Survey", parentAfter.Name)
}
