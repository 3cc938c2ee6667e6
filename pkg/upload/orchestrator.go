// Package upload 负责多文件上传的生命周期：
// Presigned -> Uploading -> Completed -> Confirmed
// 文件内容从不经过服务端，客户端拿到预签名 URL 后直接写对象存储
package upload

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"hippo/pkg/meta"
	"hippo/pkg/metrics"
	"hippo/pkg/storage"
	"hippo/pkg/types"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultPartSize 分片大小，与客户端保持一致
const DefaultPartSize int64 = 50 * 1024 * 1024

// confirmParallelism 并发 Stat 的上限
const confirmParallelism = 8

var (
	ErrFileExists          = errors.New("file already exists on product")
	ErrFileNotFound        = errors.New("file not found on product")
	ErrUploadIncomplete    = errors.New("upload incomplete")
	ErrMissingParts        = errors.New("missing upload part report")
	ErrSizeMismatch        = errors.New("reported part sizes do not match file size")
	ErrConflictingChange   = errors.New("file cannot be both replaced and dropped")
	ErrInconsistentSources = errors.New("inconsistent source count after update")
)

// Config 上传参数
type Config struct {
	Bucket string
	// MultipartThreshold 大于它的文件走分片上传，0 表示等于 PartSize
	MultipartThreshold int64
	PartSize           int64
}

// SourceSpec 客户端声明要上传的文件
type SourceSpec struct {
	Name        string
	Slug        string
	Description string
	Size        int64
	Checksum    types.Checksum
}

// Orchestrator 发放上传 URL、完成分片并确认对象落盘
type Orchestrator struct {
	repo    *meta.Repository
	store   storage.ObjectStore
	cfg     Config
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func NewOrchestrator(repo *meta.Repository, store storage.ObjectStore, cfg Config, log zerolog.Logger, m *metrics.Metrics) *Orchestrator {
	if cfg.Bucket == "" {
		cfg.Bucket = storage.GlobalBucket
	}
	if cfg.PartSize <= 0 {
		cfg.PartSize = DefaultPartSize
	}
	if cfg.MultipartThreshold <= 0 {
		cfg.MultipartThreshold = cfg.PartSize
	}
	return &Orchestrator{
		repo:    repo,
		store:   store,
		cfg:     cfg,
		log:     log.With().Str("component", "upload").Logger(),
		metrics: m,
	}
}

// Store 暴露底层对象存储，删除引擎和读路径需要它
func (o *Orchestrator) Store() storage.ObjectStore { return o.store }

// Presign 为每个源文件生成 File 记录和预签名 URL
// 返回的 File 尚未持久化，由调用方随产品一起写入 (available=false)
// URL 按文件名索引；分片上传时每个分片一个 URL
func (o *Orchestrator) Presign(ctx context.Context, uploader string, sources []SourceSpec) (map[string][]string, []*meta.File, error) {
	presigned := make(map[string][]string, len(sources))
	files := make([]*meta.File, 0, len(sources))

	err := func() error {
		for _, src := range sources {
			f := &meta.File{
				ID:          uuid.NewString(),
				UUID:        uuid.NewString(),
				Name:        baseName(src.Name),
				Slug:        src.Slug,
				Description: src.Description,
				Uploader:    uploader,
				Checksum:    src.Checksum,
				Size:        src.Size,
				Bucket:      o.cfg.Bucket,
			}
			f.Key = storage.ObjectName(f.Uploader, f.UUID, f.Name)

			if _, dup := presigned[f.Name]; dup {
				return fmt.Errorf("%w: %s listed twice", ErrFileExists, f.Name)
			}

			// 1. 大文件走分片上传
			if src.Size > o.cfg.MultipartThreshold {
				parts := int((src.Size + o.cfg.PartSize - 1) / o.cfg.PartSize)
				uploadID, urls, err := o.store.CreateMultipart(ctx, f.Bucket, f.Key, parts)
				if err != nil {
					return fmt.Errorf("presign multipart %s: %w", f.Name, err)
				}
				f.Multipart = true
				f.NumberOfParts = parts
				f.PartSize = o.cfg.PartSize
				f.UploadID = uploadID
				presigned[f.Name] = urls
			} else {
				// 2. 单次 PUT
				url, err := o.store.PresignPut(ctx, f.Bucket, f.Key)
				if err != nil {
					return fmt.Errorf("presign %s: %w", f.Name, err)
				}
				f.NumberOfParts = 1
				// 单次 PUT 没有需要合并的分片
				f.MultipartClosed = true
				presigned[f.Name] = []string{url}
			}
			files = append(files, f)
		}
		return nil
	}()
	o.metrics.RecordUploadStage("presign", err)
	if err != nil {
		return nil, nil, err
	}

	o.log.Debug().Str("uploader", uploader).Int("files", len(files)).Msg("presigned uploads")
	return presigned, files, nil
}

// Complete 用客户端回报的分片信息合并分片上传
// reports 按文件名索引；已经合并过的文件会被跳过，所以可以重复调用
func (o *Orchestrator) Complete(ctx context.Context, files []*meta.File, reports map[string][]storage.Part) error {
	err := func() error {
		for _, f := range files {
			if f.MultipartClosed || !f.Multipart {
				continue
			}

			parts, ok := reports[f.Name]
			if !ok {
				return fmt.Errorf("%w: %s", ErrMissingParts, f.Name)
			}
			if err := storage.ValidateParts(f.NumberOfParts, parts); err != nil {
				return fmt.Errorf("%s: %w", f.Name, err)
			}
			var total int64
			for _, p := range parts {
				total += p.Size
			}
			if total != f.Size {
				return fmt.Errorf("%w: %s reported %d of %d bytes", ErrSizeMismatch, f.Name, total, f.Size)
			}

			if err := o.store.CompleteMultipart(ctx, f.Bucket, f.Key, f.UploadID, parts); err != nil {
				return fmt.Errorf("complete %s: %w", f.Name, err)
			}

			f.MultipartClosed = true
			if err := o.repo.UpdateFile(ctx, f); err != nil {
				return fmt.Errorf("record completion of %s: %w", f.Name, err)
			}
		}
		return nil
	}()
	o.metrics.RecordUploadStage("complete", err)
	return err
}

// Confirm 检查所有文件都已在对象存储中，全部通过后才标记 available
// 任何一个缺失或大小/校验和不符都返回 ErrUploadIncomplete，且不修改任何文件
func (o *Orchestrator) Confirm(ctx context.Context, files []*meta.File) error {
	start := time.Now()
	defer o.metrics.ObserveConfirm(start)

	var (
		mu       sync.Mutex
		problems []string
		pending  []*meta.File
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(confirmParallelism)

	for _, f := range files {
		if f.Available {
			continue
		}
		pending = append(pending, f)

		g.Go(func() error {
			problem, err := o.check(gctx, f)
			if err != nil {
				return err
			}
			if problem != "" {
				mu.Lock()
				problems = append(problems, problem)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		o.metrics.RecordUploadStage("confirm", err)
		return err
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		err := fmt.Errorf("%w: %s", ErrUploadIncomplete, strings.Join(problems, "; "))
		o.metrics.RecordUploadStage("confirm", err)
		o.log.Debug().Strs("problems", problems).Msg("upload not confirmed")
		return err
	}

	for _, f := range pending {
		f.Available = true
		if err := o.repo.UpdateFile(ctx, f); err != nil {
			o.metrics.RecordUploadStage("confirm", err)
			return fmt.Errorf("mark %s available: %w", f.Name, err)
		}
	}
	o.metrics.RecordUploadStage("confirm", nil)
	return nil
}

// check 返回问题描述；只有存储本身出错时才返回 error
func (o *Orchestrator) check(ctx context.Context, f *meta.File) (string, error) {
	if f.Multipart && !f.MultipartClosed {
		return f.Name + " multipart upload not completed", nil
	}

	info, err := o.store.Stat(ctx, f.Bucket, f.Key)
	if errors.Is(err, storage.ErrNotFound) {
		return f.Name + " missing", nil
	}
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", f.Name, err)
	}

	if info.Size != f.Size {
		return fmt.Sprintf("%s size %d, expected %d", f.Name, info.Size, f.Size), nil
	}
	// 只有后端给出同一算法的校验和时才比较
	if !info.Checksum.IsZero() && !f.Checksum.IsZero() &&
		info.Checksum.Algorithm() == f.Checksum.Algorithm() &&
		info.Checksum != f.Checksum {
		return f.Name + " checksum mismatch", nil
	}
	return "", nil
}

// ReadURL 为可用文件生成下载 URL；未确认的文件返回空串
func (o *Orchestrator) ReadURL(ctx context.Context, f *meta.File) (string, error) {
	if !f.Available {
		return "", nil
	}
	return o.store.PresignGet(ctx, f.Bucket, f.Key)
}

func baseName(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		return name[i+1:]
	}
	return name
}
