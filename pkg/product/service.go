// Package product 管理产品的版本链：创建、修订、历史遍历、删除以及关系维护
//
// 每次修订都插入一个新节点并把旧节点的 current 翻成 false。
// 修订由三次独立写入组成 (翻转旧节点 / 插入新节点 / 收缩旧节点的集合关联)，
// 并发修订同一条链默认是最后写入者胜出；打开 Config.OptimisticLock 后
// 翻转旧节点变成条件更新，失败方得到 meta.ErrConcurrentUpdate。
package product

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"hippo/pkg/acl"
	"hippo/pkg/meta"
	"hippo/pkg/metadata"
	"hippo/pkg/metrics"
	"hippo/pkg/storage"
	"hippo/pkg/types"
	"hippo/pkg/upload"
	"hippo/pkg/versioning"

	"github.com/rs/zerolog"
)

var (
	// ErrNoChanges 修订没有任何有效变更
	ErrNoChanges = errors.New("nothing to upload: revision contains no changes")
	// ErrBrokenChain 链上的指针指向了不存在的节点
	ErrBrokenChain = errors.New("version chain is broken")
	// ErrInvalidPolicy 未知的集合策略
	ErrInvalidPolicy = errors.New("invalid collection policy")
)

type Config struct {
	// OptimisticLock 打开后并发修订只有一个能成功
	OptimisticLock bool
}

type Service struct {
	repo    *meta.Repository
	uploads *upload.Orchestrator
	cfg     Config
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func NewService(repo *meta.Repository, uploads *upload.Orchestrator, cfg Config, log zerolog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		repo:    repo,
		uploads: uploads,
		cfg:     cfg,
		log:     log.With().Str("component", "product").Logger(),
		metrics: m,
	}
}

// CreateRequest 创建产品的参数
type CreateRequest struct {
	Name        string
	Description string
	Metadata    metadata.Metadata
	Sources     []upload.SourceSpec
	Readers     []string
	Writers     []string
}

// Create 以 1.0.0 创建一条新链，返回产品和按文件名索引的上传 URL
// owner 总是被加入 writers
func (s *Service) Create(ctx context.Context, caller acl.Caller, req CreateRequest) (*meta.Product, map[string][]string, error) {
	md := req.Metadata
	if md == nil {
		md = &metadata.Simple{}
	}
	if err := metadata.Validate(md); err != nil {
		return nil, nil, err
	}

	// 1. slug 校验
	specs := make([]upload.SourceSpec, len(req.Sources))
	slugs := make([]string, 0, len(req.Sources))
	seen := make(map[string]bool, len(req.Sources))
	for i, src := range req.Sources {
		if src.Slug == "" {
			src.Slug = metadata.DefaultSlugs[0]
		}
		if seen[src.Slug] {
			return nil, nil, fmt.Errorf("%w: slug %q", upload.ErrFileExists, src.Slug)
		}
		seen[src.Slug] = true
		specs[i] = src
		slugs = append(slugs, src.Slug)
	}
	if err := metadata.CheckSlugs(md, slugs); err != nil {
		return nil, nil, err
	}

	payload, err := metadata.Encode(md)
	if err != nil {
		return nil, nil, err
	}

	// 2. 发放上传 URL
	presigned, files, err := s.uploads.Presign(ctx, caller.Name, specs)
	if err != nil {
		return nil, nil, err
	}
	sources := make(map[string]*meta.File, len(files))
	for _, f := range files {
		sources[f.Slug] = f
	}

	// 3. 写入
	writers := req.Writers
	if caller.Name != "" {
		writers = applySet(writers, []string{caller.Name}, nil)
	}
	p := &meta.Product{
		Name:         req.Name,
		Description:  req.Description,
		Version:      versioning.Initial.String(),
		Current:      true,
		MetadataType: md.MetadataType(),
		Metadata:     payload,
		Owner:        caller.Name,
		Readers:      applySet(req.Readers, nil, nil),
		Writers:      writers,
		Sources:      sources,
	}
	if err := s.repo.InsertProduct(ctx, p); err != nil {
		return nil, nil, err
	}

	s.metrics.RecordCreate()
	s.log.Info().Str("product", p.ID).Str("name", p.Name).Int("sources", len(sources)).Msg("product created")
	return p, presigned, nil
}

// Complete 转发给上传编排器，files 取自刚读出的产品
func (s *Service) Complete(ctx context.Context, caller acl.Caller, id string, reports map[string][]storage.Part) error {
	p, err := s.readFor(ctx, caller, id, types.Write)
	if err != nil {
		return err
	}
	return s.uploads.Complete(ctx, filesOf(p), reports)
}

// Confirm 所有源文件都落盘后才把它们标记为可用
func (s *Service) Confirm(ctx context.Context, caller acl.Caller, id string) error {
	p, err := s.readFor(ctx, caller, id, types.Write)
	if err != nil {
		return err
	}
	return s.uploads.Confirm(ctx, filesOf(p))
}

// readFor 重新读取实体并检查权限；没有读权限时报告为不存在
func (s *Service) readFor(ctx context.Context, caller acl.Caller, id string, access types.Access) (*meta.Product, error) {
	p, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(caller, p, access); err != nil {
		return nil, err
	}
	return p, nil
}

func authorize(caller acl.Caller, p *meta.Product, access types.Access) error {
	err := acl.Authorize(caller, p, access)
	if errors.Is(err, acl.ErrNotVisible) {
		return meta.ErrProductNotFound
	}
	return err
}

func filesOf(p *meta.Product) []*meta.File {
	out := make([]*meta.File, 0, len(p.Sources))
	for _, slug := range p.Slugs() {
		out = append(out, p.Sources[slug])
	}
	return out
}

// applySet 返回 (base ∪ add) - remove，保持首次出现的顺序
func applySet(base, add, remove []string) []string {
	out := make([]string, 0, len(base)+len(add))
	for _, x := range slices.Concat(base, add) {
		if slices.Contains(remove, x) || slices.Contains(out, x) {
			continue
		}
		out = append(out, x)
	}
	return out
}
