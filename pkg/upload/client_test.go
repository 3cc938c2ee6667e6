package upload

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder 记录每次收到的请求体
type recorder struct {
	mu     sync.Mutex
	bodies map[string][]string
}

func (r *recorder) record(path string, body []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bodies == nil {
		r.bodies = map[string][]string{}
	}
	r.bodies[path] = append(r.bodies[path], string(body))
}

func TestUploader_RedirectResendsSameChunk(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.record(r.URL.Path, body)

		switch r.URL.Path {
		case "/first":
			// 307 保留方法，必须由客户端重新发送完整分片
			http.Redirect(w, r, "/second", http.StatusTemporaryRedirect)
		case "/second":
			w.Header().Set("ETag", `"etag-`+string(body)+`"`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	path := writeTemp(t, "f.txt", []byte("abcdef"))
	up := NewUploader(0, 3, zerolog.Nop())

	parts, err := up.UploadFile(context.Background(), path, []string{srv.URL + "/first", srv.URL + "/second"})
	require.NoError(t, err)
	require.Len(t, parts, 2)

	assert.Equal(t, 1, parts[0].Number)
	assert.Equal(t, `"etag-abc"`, parts[0].ETag)
	assert.Equal(t, int64(3), parts[0].Size)
	assert.Equal(t, `"etag-def"`, parts[1].ETag)

	// 重定向后目标收到的是同一个完整分片
	assert.Equal(t, []string{"abc"}, rec.bodies["/first"])
	assert.Equal(t, []string{"abc", "def"}, rec.bodies["/second"])
}

func TestUploader_RejectedChunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	path := writeTemp(t, "f.txt", []byte("abc"))
	_, err := NewUploader(0, 0, zerolog.Nop()).UploadFile(context.Background(), path, []string{srv.URL})
	assert.ErrorIs(t, err, ErrChunkRejected)
}

func TestUploader_RedirectLoop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.Path, http.StatusPermanentRedirect)
	}))
	defer srv.Close()

	path := writeTemp(t, "f.txt", []byte("abc"))
	_, err := NewUploader(0, 0, zerolog.Nop()).UploadFile(context.Background(), path, []string{srv.URL + "/loop"})
	assert.ErrorIs(t, err, ErrTooManyRedirect)
}

func TestUploader_URLCountMismatch(t *testing.T) {
	path := writeTemp(t, "f.txt", []byte("abcdefg"))
	_, err := NewUploader(0, 3, zerolog.Nop()).UploadFile(context.Background(), path, []string{"http://a", "http://b"})
	assert.ErrorIs(t, err, ErrURLCount)
}

func TestFileInfo(t *testing.T) {
	path := writeTemp(t, "f.txt", []byte("hello"))
	size, sum, err := FileInfo(path)
	require.NoError(t, err)

	assert.Equal(t, int64(5), size)
	assert.Equal(t, FormatChecksum(xxhash.Sum64String("hello")), sum)
	assert.True(t, strings.HasPrefix(sum.String(), "xxh64:"))
	assert.Len(t, sum.String(), len("xxh64:")+16)
}
