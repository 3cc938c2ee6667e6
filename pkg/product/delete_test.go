package product

import (
	"context"
	"testing"

	"hippo/pkg/meta"
	"hippo/pkg/upload"
	"hippo/pkg/versioning"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// replaceData 修订 id 并把 data 换成新文件，新文件上传并确认
func replaceData(t *testing.T, fx *fixture, id, name string) *meta.Product {
	t.Helper()
	next, _, err := fx.svc.Update(context.Background(), alice, id, Changes{}, upload.SourceChanges{
		Replace: []upload.SourceSpec{src(name, "data")},
	}, versioning.Minor)
	require.NoError(t, err)
	next = mustGet(t, fx, next.ID)
	mustUploadAll(t, fx, next)
	return mustGet(t, fx, next.ID)
}

func objectOf(p *meta.Product) string {
	f := p.Sources["data"]
	return f.Bucket + "/" + f.Key
}

func TestDeleteOne_SpliceMiddle(t *testing.T) {
	fx := setup(t, Config{})
	ctx := context.Background()

	v1 := mustCreate(t, fx, "p", src("x.fits", "data"))
	v2 := mustRevise(t, fx, v1.ID, "2")
	v3 := mustRevise(t, fx, v2.ID, "3")

	require.NoError(t, fx.svc.DeleteOne(ctx, alice, v2.ID, false))

	got := mustGet(t, fx, v3.ID)
	assert.Equal(t, v1.ID, got.Replaces(), "v3 must be spliced onto v1")
	assert.True(t, got.Current)
	assert.False(t, mustGet(t, fx, v1.ID).Current)

	chain, err := fx.svc.History(ctx, got)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, []string{"1.0.2", "1.0.0"}, []string{chain[0].Version, chain[1].Version})

	_, err = fx.repo.GetProduct(ctx, v2.ID)
	assert.ErrorIs(t, err, meta.ErrProductNotFound)
}

func TestDeleteOne_HeadPromotesPredecessor(t *testing.T) {
	fx := setup(t, Config{})
	ctx := context.Background()

	v1 := mustCreate(t, fx, "p")
	v2 := mustRevise(t, fx, v1.ID, "2")

	require.NoError(t, fx.svc.DeleteOne(ctx, alice, v2.ID, true))

	head, err := fx.svc.ReadByName(ctx, alice, "p", "")
	require.NoError(t, err)
	assert.Equal(t, v1.ID, head.ID)
	assert.Equal(t, 1, currentCount(t, fx, "p"))
}

func TestDeleteOne_Root(t *testing.T) {
	fx := setup(t, Config{})
	ctx := context.Background()

	v1 := mustCreate(t, fx, "p")
	v2 := mustRevise(t, fx, v1.ID, "2")

	require.NoError(t, fx.svc.DeleteOne(ctx, alice, v1.ID, false))
	got := mustGet(t, fx, v2.ID)
	assert.Nil(t, got.ReplacesID)
	assert.True(t, got.Current)
}

func TestDeleteOne_OwnedFilesOnly(t *testing.T) {
	fx := setup(t, Config{})
	ctx := context.Background()

	// v1{X} -> v2{Y} -> v3{Z}
	v1 := mustGet(t, fx, mustCreate(t, fx, "p", src("x.fits", "data")).ID)
	v2 := replaceData(t, fx, v1.ID, "y.fits")
	v3 := replaceData(t, fx, v2.ID, "z.fits")
	require.Len(t, fx.store.Keys(), 3)

	require.NoError(t, fx.svc.DeleteOne(ctx, alice, v2.ID, true))

	assert.ElementsMatch(t, []string{objectOf(v1), objectOf(v3)}, fx.store.Keys())
	_, err := fx.repo.GetFile(ctx, v2.Sources["data"].ID)
	assert.ErrorIs(t, err, meta.ErrFileRecordNotFound)
	_, err = fx.repo.GetFile(ctx, v1.Sources["data"].ID)
	assert.NoError(t, err)
}

func TestDeleteOne_SharedFileSurvives(t *testing.T) {
	fx := setup(t, Config{})
	ctx := context.Background()

	// 三个版本共享同一个文件，删中间的不能删掉它
	v1 := mustGet(t, fx, mustCreate(t, fx, "p", src("x.fits", "data")).ID)
	v2 := mustRevise(t, fx, v1.ID, "2")
	mustRevise(t, fx, v2.ID, "3")

	require.NoError(t, fx.svc.DeleteOne(ctx, alice, v2.ID, true))
	assert.Equal(t, []string{objectOf(v1)}, fx.store.Keys())

	f, err := fx.repo.GetFile(ctx, v1.Sources["data"].ID)
	require.NoError(t, err)
	assert.True(t, f.Available)
}

func TestDeleteOne_FileDroppedLaterSurvivesUntilTreeDelete(t *testing.T) {
	fx := setup(t, Config{})
	ctx := context.Background()

	// v1 引入 F，v2 继承 F，v3 删掉 F
	v1 := mustGet(t, fx, mustCreate(t, fx, "p", src("f.fits", "data")).ID)
	v2 := mustRevise(t, fx, v1.ID, "2")
	v3, _, err := fx.svc.Update(ctx, alice, v2.ID, Changes{}, upload.SourceChanges{Drop: []string{"data"}}, versioning.Minor)
	require.NoError(t, err)
	assert.Empty(t, mustGet(t, fx, v3.ID).Sources)

	// F 仍被 v1 引用，删除 v2 不能删掉它
	require.NoError(t, fx.svc.DeleteOne(ctx, alice, v2.ID, true))
	assert.Equal(t, []string{objectOf(v1)}, fx.store.Keys())
	_, err = fx.repo.GetFile(ctx, v1.Sources["data"].ID)
	require.NoError(t, err)

	// 删除整条链时 F 才被删除
	require.NoError(t, fx.svc.DeleteTree(ctx, alice, v3.ID, true))
	assert.Empty(t, fx.store.Keys())
	_, err = fx.repo.GetFile(ctx, v1.Sources["data"].ID)
	assert.ErrorIs(t, err, meta.ErrFileRecordNotFound)
}

func TestOwnedFiles(t *testing.T) {
	x := &meta.File{ID: "fx", UUID: "x", Slug: "a"}
	y := &meta.File{ID: "fy", UUID: "y", Slug: "b"}
	z := &meta.File{ID: "fz", UUID: "z", Slug: "c"}

	node := func(files ...*meta.File) *meta.Product {
		p := &meta.Product{Sources: map[string]*meta.File{}}
		for _, f := range files {
			p.Sources[f.Slug] = f
		}
		return p
	}

	tests := []struct {
		name string
		p    *meta.Product
		prev *meta.Product
		next *meta.Product
		want []string
	}{
		{"no neighbours", node(x, y), nil, nil, []string{"x", "y"}},
		{"shared with prev", node(x, y), node(x), nil, []string{"y"}},
		{"shared with next", node(x, y), nil, node(y), []string{"x"}},
		{"shared with both", node(x), node(x), node(x), nil},
		{"prev and next share, p does not", node(z), node(x), node(x), []string{"z"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, f := range ownedFiles(tt.p, tt.prev, tt.next) {
				got = append(got, f.UUID)
			}
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestDeleteTree(t *testing.T) {
	fx := setup(t, Config{})
	ctx := context.Background()

	v1 := mustGet(t, fx, mustCreate(t, fx, "p", src("x.fits", "data")).ID)
	v2 := replaceData(t, fx, v1.ID, "y.fits")
	v3 := mustRevise(t, fx, v2.ID, "3")
	other := mustCreate(t, fx, "other", src("o.fits", "data"))

	// 1. 只能从 head 发起
	err := fx.svc.DeleteTree(ctx, alice, v1.ID, true)
	assert.ErrorIs(t, err, versioning.ErrVersioning)

	// 2. 删除整条链
	require.NoError(t, fx.svc.DeleteTree(ctx, alice, v3.ID, true))
	for _, id := range []string{v1.ID, v2.ID, v3.ID} {
		_, err := fx.repo.GetProduct(ctx, id)
		assert.ErrorIs(t, err, meta.ErrProductNotFound)
	}
	assert.Equal(t, []string{objectOf(mustGet(t, fx, other.ID))}, fx.store.Keys())
}

func TestDelete_RequiresWrite(t *testing.T) {
	fx := setup(t, Config{})
	ctx := context.Background()
	v1 := mustCreate(t, fx, "p")

	assert.ErrorIs(t, fx.svc.DeleteOne(ctx, eve, v1.ID, false), meta.ErrProductNotFound)
	assert.Error(t, fx.svc.DeleteTree(ctx, bob, v1.ID, false))
	assert.NoError(t, fx.svc.DeleteTree(ctx, admin, v1.ID, false))
}
