package memory

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"hippo/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServedStore(t *testing.T) *Store {
	t.Helper()
	s := New("")
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	s.SetBaseURL(srv.URL)
	return s
}

func httpPut(t *testing.T, url string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func TestStore_PresignedRoundTrip(t *testing.T) {
	s := newServedStore(t)
	ctx := context.Background()

	put, err := s.PresignPut(ctx, "global", "alice/u/a.txt")
	require.NoError(t, err)
	resp := httpPut(t, put, []byte("hello"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	info, err := s.Stat(ctx, "global", "alice/u/a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)
	assert.Equal(t, "xxh64", info.Checksum.Algorithm())

	get, err := s.PresignGet(ctx, "global", "alice/u/a.txt")
	require.NoError(t, err)
	gresp, err := http.Get(get)
	require.NoError(t, err)
	defer gresp.Body.Close()
	body, err := io.ReadAll(gresp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	require.NoError(t, s.Delete(ctx, "global", "alice/u/a.txt"))
	_, err = s.Stat(ctx, "global", "alice/u/a.txt")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_Multipart(t *testing.T) {
	s := newServedStore(t)
	ctx := context.Background()

	id, urls, err := s.CreateMultipart(ctx, "global", "k", 2)
	require.NoError(t, err)
	require.Len(t, urls, 2)

	r1 := httpPut(t, urls[0], []byte("abc"))
	r2 := httpPut(t, urls[1], []byte("de"))

	// 还没有 complete 时对象不存在
	_, err = s.Stat(ctx, "global", "k")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = s.CompleteMultipart(ctx, "global", "k", id, []storage.Part{
		{Number: 2, ETag: r2.Header.Get("ETag"), Size: 2},
		{Number: 1, ETag: r1.Header.Get("ETag"), Size: 3},
	})
	require.NoError(t, err)

	info, err := s.Stat(ctx, "global", "k")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)
	assert.Equal(t, []string{"global/k"}, s.Keys())
}

func TestStore_CompleteRejectsBadETag(t *testing.T) {
	s := newServedStore(t)
	ctx := context.Background()

	id, urls, err := s.CreateMultipart(ctx, "global", "k", 1)
	require.NoError(t, err)
	httpPut(t, urls[0], []byte("abc"))

	err = s.CompleteMultipart(ctx, "global", "k", id, []storage.Part{{Number: 1, ETag: "nope"}})
	assert.Error(t, err)
}
