// Package memory 提供一个进程内的 ObjectStore，自带处理预签名 URL 的 HTTP handler
// 用于测试和单机开发模式
package memory

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"hippo/pkg/storage"
	"hippo/pkg/types"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

type pendingUpload struct {
	bucket string
	key    string
	parts  map[int][]byte
}

// Store 实现了 storage.ObjectStore
type Store struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string][]byte
	uploads map[string]*pendingUpload
	mux     *http.ServeMux
}

// New 创建一个内存存储；baseURL 是 Handler 对外的地址，可以之后用 SetBaseURL 设置
func New(baseURL string) *Store {
	s := &Store{
		baseURL: strings.TrimRight(baseURL, "/"),
		objects: make(map[string][]byte),
		uploads: make(map[string]*pendingUpload),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /o/{bucket}/{key...}", s.handlePut)
	mux.HandleFunc("GET /o/{bucket}/{key...}", s.handleGet)
	mux.HandleFunc("PUT /mp/{upload}/{part}", s.handlePart)
	s.mux = mux
	return s
}

func (s *Store) SetBaseURL(u string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseURL = strings.TrimRight(u, "/")
}

// ServeHTTP 处理预签名 URL 上的 PUT/GET
func (s *Store) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func objectKey(bucket, key string) string { return bucket + "/" + key }

func etagOf(data []byte) string {
	return strconv.FormatUint(xxhash.Sum64(data), 16)
}

// Put 直接写入对象，绕过 HTTP
func (s *Store) Put(bucket, key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[objectKey(bucket, key)] = append([]byte(nil), data...)
}

// Keys 返回当前所有对象 (bucket/key)，已排序
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.objects))
	for k := range s.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *Store) PresignPut(_ context.Context, bucket, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseURL + "/o/" + objectKey(bucket, key), nil
}

func (s *Store) CreateMultipart(_ context.Context, bucket, key string, parts int) (string, []string, error) {
	if parts < 1 {
		return "", nil, storage.ErrInvalidPartNum
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.uploads[id] = &pendingUpload{bucket: bucket, key: key, parts: make(map[int][]byte)}

	urls := make([]string, 0, parts)
	for n := 1; n <= parts; n++ {
		urls = append(urls, fmt.Sprintf("%s/mp/%s/%d", s.baseURL, id, n))
	}
	return id, urls, nil
}

func (s *Store) CompleteMultipart(_ context.Context, bucket, key, uploadID string, parts []storage.Part) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	up, ok := s.uploads[uploadID]
	if !ok || up.bucket != bucket || up.key != key {
		return storage.ErrNotFound
	}

	sorted := make([]storage.Part, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })

	var joined []byte
	for _, p := range sorted {
		data, ok := up.parts[p.Number]
		if !ok {
			return fmt.Errorf("part %d: %w", p.Number, storage.ErrNotFound)
		}
		if etagOf(data) != strings.Trim(p.ETag, `"`) {
			return fmt.Errorf("part %d: etag mismatch", p.Number)
		}
		joined = append(joined, data...)
	}

	s.objects[objectKey(bucket, key)] = joined
	delete(s.uploads, uploadID)
	return nil
}

func (s *Store) AbortMultipart(_ context.Context, _, _, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.uploads, uploadID)
	return nil
}

func (s *Store) PresignGet(_ context.Context, bucket, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseURL + "/o/" + objectKey(bucket, key), nil
}

func (s *Store) Stat(_ context.Context, bucket, key string) (*storage.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[objectKey(bucket, key)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &storage.ObjectInfo{
		Size:     int64(len(data)),
		ETag:     etagOf(data),
		Checksum: types.Checksum(fmt.Sprintf("xxh64:%016x", xxhash.Sum64(data))),
	}, nil
}

func (s *Store) Delete(_ context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, objectKey(bucket, key))
	return nil
}

// -----------------------------------------------------------------------------
// HTTP 端
// -----------------------------------------------------------------------------

func (s *Store) handlePut(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.Put(r.PathValue("bucket"), r.PathValue("key"), data)
	w.Header().Set("ETag", `"`+etagOf(data)+`"`)
	w.WriteHeader(http.StatusOK)
}

func (s *Store) handleGet(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	data, ok := s.objects[objectKey(r.PathValue("bucket"), r.PathValue("key"))]
	s.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (s *Store) handlePart(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("part"))
	if err != nil || n < 1 {
		http.Error(w, "bad part number", http.StatusBadRequest)
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	up, ok := s.uploads[r.PathValue("upload")]
	if ok {
		up.parts[n] = data
	}
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("ETag", `"`+etagOf(data)+`"`)
	w.WriteHeader(http.StatusOK)
}
