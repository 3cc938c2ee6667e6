package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"hippo/pkg/storage"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// CachedStore 是一个装饰器，为底层 storage.ObjectStore 的 Stat 结果添加 Redis 缓存
// 只缓存 "存在" 的结果：对象可能随时被上传，缓存 "不存在" 会让 confirm 误判
type CachedStore struct {
	backend storage.ObjectStore
	client  *redis.Client
	ttl     time.Duration
	log     zerolog.Logger
}

type Config struct {
	RedisURL string        // redis://<user>:<password>@<host>:<port>/<db>
	TTL      time.Duration // 过期时间
}

// NewCachedStore 解析 URL 并做 fail-fast 连接检查
func NewCachedStore(backend storage.ObjectStore, cfg Config, log zerolog.Logger) (*CachedStore, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewWithClient(backend, client, cfg.TTL, log), nil
}

// NewWithClient 复用已有的 redis 客户端
func NewWithClient(backend storage.ObjectStore, client *redis.Client, ttl time.Duration, log zerolog.Logger) *CachedStore {
	return &CachedStore{
		backend: backend,
		client:  client,
		ttl:     ttl,
		log:     log.With().Str("component", "stat-cache").Logger(),
	}
}

// Close 关闭 redis 连接
func (s *CachedStore) Close() error {
	return s.client.Close()
}

// cacheKey 添加前缀防止冲突
func (s *CachedStore) cacheKey(bucket, key string) string {
	return "hippo:stat:" + bucket + "/" + key
}

// Stat 优先查 Redis
func (s *CachedStore) Stat(ctx context.Context, bucket, key string) (*storage.ObjectInfo, error) {
	ck := s.cacheKey(bucket, key)

	// 1. 查 Redis；故障时降级为直接查底层存储
	raw, err := s.client.Get(ctx, ck).Bytes()
	switch {
	case err == nil:
		var info storage.ObjectInfo
		if jerr := json.Unmarshal(raw, &info); jerr == nil {
			return &info, nil
		}
	case err != redis.Nil:
		s.log.Warn().Err(err).Msg("redis error, falling back to backend")
	}

	// 2. 缓存未命中
	info, err := s.backend.Stat(ctx, bucket, key)
	if err != nil {
		return nil, err
	}

	// 3. 回填，写失败不影响主流程
	if data, jerr := json.Marshal(info); jerr == nil {
		if serr := s.client.Set(ctx, ck, data, s.ttl).Err(); serr != nil {
			s.log.Warn().Err(serr).Msg("failed to fill stat cache")
		}
	}
	return info, nil
}

// Delete 先删底层对象再失效缓存
func (s *CachedStore) Delete(ctx context.Context, bucket, key string) error {
	if err := s.backend.Delete(ctx, bucket, key); err != nil {
		return err
	}
	s.invalidate(ctx, bucket, key)
	return nil
}

// CompleteMultipart 合并后对象内容变化，失效缓存
func (s *CachedStore) CompleteMultipart(ctx context.Context, bucket, key, uploadID string, parts []storage.Part) error {
	if err := s.backend.CompleteMultipart(ctx, bucket, key, uploadID, parts); err != nil {
		return err
	}
	s.invalidate(ctx, bucket, key)
	return nil
}

func (s *CachedStore) invalidate(ctx context.Context, bucket, key string) {
	if err := s.client.Del(ctx, s.cacheKey(bucket, key)).Err(); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to invalidate stat cache")
	}
}

// 以下透传：URL 签名和分片管理不需要缓存

func (s *CachedStore) PresignPut(ctx context.Context, bucket, key string) (string, error) {
	return s.backend.PresignPut(ctx, bucket, key)
}

func (s *CachedStore) CreateMultipart(ctx context.Context, bucket, key string, parts int) (string, []string, error) {
	return s.backend.CreateMultipart(ctx, bucket, key, parts)
}

func (s *CachedStore) AbortMultipart(ctx context.Context, bucket, key, uploadID string) error {
	return s.backend.AbortMultipart(ctx, bucket, key, uploadID)
}

func (s *CachedStore) PresignGet(ctx context.Context, bucket, key string) (string, error) {
	return s.backend.PresignGet(ctx, bucket, key)
}
