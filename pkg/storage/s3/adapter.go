package s3

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"hippo/pkg/storage"
	"hippo/pkg/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
)

// DefaultPresignExpiry 预签名 URL 的默认有效期
const DefaultPresignExpiry = 24 * time.Hour

// checksumMetaKey 上传时若带了 x-amz-meta-checksum，Stat 会把它带回来
const checksumMetaKey = "checksum"

// Adapter 实现了 storage.ObjectStore 接口
type Adapter struct {
	client    *s3.Client
	presigner *s3.PresignClient
	expiry    time.Duration
	log       zerolog.Logger

	// 预签名 URL 的对外地址改写
	presignEndpoint *url.URL
	upgradeHTTPS    bool

	// 已确认存在的桶，避免每次请求都 HeadBucket
	buckets sync.Map
}

// Config 用于初始化 Adapter
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string

	// PresignEndpoint 非空时，预签名 URL 的 scheme://host 会被替换成它
	// 用于服务端访问 MinIO 的地址和客户端看到的地址不一致的部署
	PresignEndpoint string
	// UpgradeHTTPS 把预签名 URL 升级为 https
	UpgradeHTTPS  bool
	PresignExpiry time.Duration
}

// NewAdapter 初始化 S3 客户端 (适配 AWS SDK v2 最新规范)
func NewAdapter(ctx context.Context, cfg Config, log zerolog.Logger) (*Adapter, error) {
	// 1. 加载基础配置 (仅包含 Region 和 Credentials)
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	// 2. 使用 BaseEndpoint 而不是全局 Resolver
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		// MinIO 必须强制使用 Path Style: http://host:9000/bucket/key
		o.UsePathStyle = true
	})

	a := &Adapter{
		client:       client,
		presigner:    s3.NewPresignClient(client),
		expiry:       cfg.PresignExpiry,
		log:          log.With().Str("component", "s3").Logger(),
		upgradeHTTPS: cfg.UpgradeHTTPS,
	}
	if a.expiry <= 0 {
		a.expiry = DefaultPresignExpiry
	}
	if cfg.PresignEndpoint != "" {
		u, err := url.Parse(cfg.PresignEndpoint)
		if err != nil {
			return nil, fmt.Errorf("invalid presign endpoint: %w", err)
		}
		a.presignEndpoint = u
	}

	// 3. 预先创建默认桶
	if cfg.Bucket != "" {
		a.ensureBucket(ctx, cfg.Bucket)
	}

	return a, nil
}

// ensureBucket 桶不存在时尝试创建；失败只记日志，真正的错误会在后续请求里暴露
func (a *Adapter) ensureBucket(ctx context.Context, bucket string) {
	if _, ok := a.buckets.Load(bucket); ok {
		return
	}
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		_, err = a.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
		if err != nil {
			a.log.Warn().Err(err).Str("bucket", bucket).Msg("failed to ensure bucket exists")
			return
		}
	}
	a.buckets.Store(bucket, struct{}{})
}

// rewriteURL 按配置改写预签名 URL 的对外地址
func (a *Adapter) rewriteURL(raw string) string {
	return RewritePresigned(raw, a.presignEndpoint, a.upgradeHTTPS)
}

// RewritePresigned 替换 URL 的 scheme/host，并按需升级到 https
func RewritePresigned(raw string, endpoint *url.URL, upgrade bool) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if endpoint != nil && endpoint.Host != "" {
		u.Host = endpoint.Host
		if endpoint.Scheme != "" {
			u.Scheme = endpoint.Scheme
		}
	}
	if upgrade && u.Scheme == "http" {
		u.Scheme = "https"
	}
	return u.String()
}

func (a *Adapter) PresignPut(ctx context.Context, bucket, key string) (string, error) {
	a.ensureBucket(ctx, bucket)

	req, err := a.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(a.expiry))
	if err != nil {
		return "", fmt.Errorf("s3 presign put failed: %w", err)
	}
	return a.rewriteURL(req.URL), nil
}

// CreateMultipart 发起分片上传并为每个分片签一个 UploadPart URL
func (a *Adapter) CreateMultipart(ctx context.Context, bucket, key string, parts int) (string, []string, error) {
	if parts < 1 {
		return "", nil, storage.ErrInvalidPartNum
	}
	a.ensureBucket(ctx, bucket)

	out, err := a.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", nil, fmt.Errorf("s3 create multipart failed: %w", err)
	}
	uploadID := aws.ToString(out.UploadId)

	urls := make([]string, 0, parts)
	for n := 1; n <= parts; n++ {
		req, err := a.presigner.PresignUploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(bucket),
			Key:        aws.String(key),
			UploadId:   aws.String(uploadID),
			PartNumber: aws.Int32(int32(n)),
		}, s3.WithPresignExpires(a.expiry))
		if err != nil {
			return "", nil, fmt.Errorf("s3 presign part %d failed: %w", n, err)
		}
		urls = append(urls, a.rewriteURL(req.URL))
	}
	return uploadID, urls, nil
}

func (a *Adapter) CompleteMultipart(ctx context.Context, bucket, key, uploadID string, parts []storage.Part) error {
	sorted := make([]storage.Part, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })

	completed := make([]s3types.CompletedPart, 0, len(sorted))
	for _, p := range sorted {
		completed = append(completed, s3types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(int32(p.Number)),
		})
	}

	_, err := a.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return fmt.Errorf("s3 complete multipart failed: %w", err)
	}
	return nil
}

func (a *Adapter) AbortMultipart(ctx context.Context, bucket, key, uploadID string) error {
	_, err := a.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("s3 abort multipart failed: %w", err)
	}
	return nil
}

func (a *Adapter) PresignGet(ctx context.Context, bucket, key string) (string, error) {
	req, err := a.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(a.expiry))
	if err != nil {
		return "", fmt.Errorf("s3 presign get failed: %w", err)
	}
	return a.rewriteURL(req.URL), nil
}

// Stat 使用 HeadObject，比 GetObjectTagging 更便宜且能拿到大小
func (a *Adapter) Stat(ctx context.Context, bucket, key string) (*storage.ObjectInfo, error) {
	out, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("s3 head failed: %w", err)
	}

	info := &storage.ObjectInfo{
		Size: aws.ToInt64(out.ContentLength),
		ETag: strings.Trim(aws.ToString(out.ETag), `"`),
	}
	if sum, ok := out.Metadata[checksumMetaKey]; ok {
		info.Checksum = types.Checksum(sum)
	}
	return info, nil
}

func (a *Adapter) Delete(ctx context.Context, bucket, key string) error {
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("s3 delete failed: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var notFound *s3types.NotFound
	var noKey *s3types.NoSuchKey
	var noUpload *s3types.NoSuchUpload
	if errors.As(err, &notFound) || errors.As(err, &noKey) || errors.As(err, &noUpload) {
		return true
	}
	// 兼容性：某些 S3 实现只返回 generic 404
	return strings.Contains(err.Error(), "StatusCode: 404")
}
