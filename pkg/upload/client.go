package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"hippo/pkg/storage"

	"github.com/rs/zerolog"
)

// DefaultChunkTimeout 每个分片 50MB，慢连接下需要足够长的超时
const DefaultChunkTimeout = 120 * time.Second

// maxRedirects 单个分片最多跟随的重定向次数
const maxRedirects = 10

var (
	ErrChunkRejected   = errors.New("object store rejected upload chunk")
	ErrTooManyRedirect = errors.New("too many redirects while uploading chunk")
	ErrURLCount        = errors.New("number of upload urls does not match file size")
)

// Uploader 把本地文件按分片顺序 PUT 到预签名 URL
// 重定向由我们自己处理：每次都从头重新发送同一个分片，否则请求体会被截断
type Uploader struct {
	client   *http.Client
	partSize int64
	log      zerolog.Logger
}

func NewUploader(timeout time.Duration, partSize int64, log zerolog.Logger) *Uploader {
	if timeout <= 0 {
		timeout = DefaultChunkTimeout
	}
	if partSize <= 0 {
		partSize = DefaultPartSize
	}
	return &Uploader{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		partSize: partSize,
		log:      log.With().Str("component", "uploader").Logger(),
	}
}

// UploadFile 顺序上传文件，返回每个分片的 ETag 和大小，用于 Complete
// 只有一个 URL 时整个文件作为一个分片上传
func (u *Uploader) UploadFile(ctx context.Context, path string, urls []string) ([]storage.Part, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := st.Size()

	chunk := size
	if len(urls) > 1 {
		chunk = u.partSize
		if expected := int((size + chunk - 1) / chunk); expected != len(urls) {
			return nil, fmt.Errorf("%w: %d urls for %d parts", ErrURLCount, len(urls), expected)
		}
	}

	parts := make([]storage.Part, 0, len(urls))
	for i, url := range urls {
		offset := int64(i) * chunk
		length := min(chunk, size-offset)

		part, err := u.putChunk(ctx, strings.TrimSpace(url), f, offset, length)
		if err != nil {
			return nil, fmt.Errorf("part %d of %s: %w", i+1, path, err)
		}
		part.Number = i + 1
		parts = append(parts, part)
	}
	return parts, nil
}

func (u *Uploader) putChunk(ctx context.Context, url string, r io.ReaderAt, offset, length int64) (storage.Part, error) {
	for range maxRedirects {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, io.NewSectionReader(r, offset, length))
		if err != nil {
			return storage.Part{}, err
		}
		req.ContentLength = length

		resp, err := u.client.Do(req)
		if err != nil {
			return storage.Part{}, err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusMovedPermanently, http.StatusFound,
			http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
			loc, err := resp.Location()
			if err != nil {
				return storage.Part{}, fmt.Errorf("redirect without location: %w", err)
			}
			u.log.Debug().Str("from", url).Str("to", loc.String()).Msg("upload redirected")
			url = loc.String()
			continue
		}

		if resp.StatusCode >= 300 {
			return storage.Part{}, fmt.Errorf("%w: status %d", ErrChunkRejected, resp.StatusCode)
		}
		return storage.Part{ETag: resp.Header.Get("ETag"), Size: length}, nil
	}
	return storage.Part{}, ErrTooManyRedirect
}
