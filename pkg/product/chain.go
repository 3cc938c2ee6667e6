package product

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hippo/pkg/acl"
	"hippo/pkg/membership"
	"hippo/pkg/meta"
	"hippo/pkg/metadata"
	"hippo/pkg/types"
	"hippo/pkg/upload"
	"hippo/pkg/versioning"

	"github.com/google/uuid"
)

// Changes 是对元数据的修改；nil / 空表示不变
type Changes struct {
	Name        *string
	Description *string
	Metadata    metadata.Metadata
	Owner       *string

	AddReaders    []string
	RemoveReaders []string
	AddWriters    []string
	RemoveWriters []string
}

// ReviseMetadata 在 head 之后插入一个新版本
// current 必须是 head，否则返回 versioning.ErrVersioning
// 新节点继承 sources，child_of 清空；集合关联按策略在新旧节点间拆分
func (s *Service) ReviseMetadata(ctx context.Context, current *meta.Product, ch Changes, level versioning.Level) (*meta.Product, error) {
	if !current.Current {
		return nil, versioning.ErrVersioning
	}

	version, err := versioning.Revise(current.Version, level)
	if err != nil {
		return nil, err
	}

	// 1. 组装新节点
	next := &meta.Product{
		ID:           uuid.NewString(),
		Name:         current.Name,
		Description:  current.Description,
		Version:      version,
		Current:      true,
		MetadataType: current.MetadataType,
		Metadata:     current.Metadata,
		Owner:        current.Owner,
		ReplacesID:   &current.ID,
		Uploaded:     current.Uploaded,
		Updated:      time.Now().UTC(),
		Sources:      current.Sources,
	}
	if ch.Name != nil {
		next.Name = *ch.Name
	}
	if ch.Description != nil {
		next.Description = *ch.Description
	}
	if ch.Metadata != nil {
		if err := metadata.Validate(ch.Metadata); err != nil {
			return nil, err
		}
		if err := metadata.CheckSlugs(ch.Metadata, current.Slugs()); err != nil {
			return nil, err
		}
		payload, err := metadata.Encode(ch.Metadata)
		if err != nil {
			return nil, err
		}
		next.MetadataType = ch.Metadata.MetadataType()
		next.Metadata = payload
	}

	readers := applySet(current.Readers, ch.AddReaders, ch.RemoveReaders)
	addWriters := ch.AddWriters
	if ch.Owner != nil {
		next.Owner = *ch.Owner
		addWriters = append([]string{*ch.Owner}, addWriters...)
	}
	next.Readers = readers
	next.Writers = applySet(current.Writers, addWriters, ch.RemoveWriters)

	oldLinks, newLinks := membership.Split(current.Collections)
	next.Collections = newLinks

	// 2. 翻转旧节点
	if err := s.repo.MarkSuperseded(ctx, current.ID, s.cfg.OptimisticLock); err != nil {
		return nil, err
	}

	// 3. 插入新节点；失败时尽量把旧节点恢复成 head
	if err := s.repo.InsertProduct(ctx, next); err != nil {
		if rerr := s.repo.SetCurrent(ctx, current.ID, true); rerr != nil {
			s.log.Error().Err(rerr).Str("product", current.ID).Msg("failed to restore head after insert failure")
		}
		return nil, fmt.Errorf("insert revision: %w", err)
	}

	// 4. 收缩旧节点的集合关联；失败时撤销新节点，旧节点恢复成 head
	if err := s.repo.SetCollectionLinks(ctx, current.ID, oldLinks); err != nil {
		s.rollback(ctx, next, current.ID, current.Collections)
		return nil, fmt.Errorf("restrict superseded links: %w", err)
	}

	current.Current = false
	current.Collections = oldLinks

	s.metrics.RecordRevision(level.String())
	s.log.Info().
		Str("product", next.ID).
		Str("replaces", current.ID).
		Str("version", next.Version).
		Msg("product revised")
	return next, nil
}

// Update 是完整的修订：检查写权限，修订元数据，然后应用源文件变更
// 源文件变更失败 (包括断言 panic) 时删除刚建的修订并恢复旧 head 的集合关联
func (s *Service) Update(ctx context.Context, caller acl.Caller, id string, ch Changes, sc upload.SourceChanges, level versioning.Level) (next *meta.Product, presigned map[string][]string, err error) {
	current, err := s.readFor(ctx, caller, id, types.Write)
	if err != nil {
		return nil, nil, err
	}
	if !current.Current {
		return nil, nil, versioning.ErrVersioning
	}

	diff, err := Diff(current, ch, sc)
	if err != nil {
		return nil, nil, err
	}
	if diff.Empty() {
		return nil, nil, ErrNoChanges
	}

	links := current.Collections
	next, err = s.ReviseMetadata(ctx, current, ch, level)
	if err != nil {
		return nil, nil, err
	}

	if sc.Empty() {
		return next, map[string][]string{}, nil
	}

	defer func() {
		if r := recover(); r != nil {
			s.rollback(ctx, next, current.ID, links)
			panic(r)
		}
	}()

	md, err := next.DecodeMetadata()
	if err == nil {
		presigned, err = s.uploads.UpdateSources(ctx, next, md, sc)
	}
	if err != nil {
		s.rollback(ctx, next, current.ID, links)
		return nil, nil, err
	}
	return next, presigned, nil
}

// rollback 删除一个刚创建的修订 (只删这一个节点，不删数据)
func (s *Service) rollback(ctx context.Context, next *meta.Product, previousID string, links []membership.Link) {
	s.metrics.RecordRollback()

	if err := s.deleteOne(ctx, next, false); err != nil {
		s.log.Error().Err(err).Str("product", next.ID).Msg("rollback of failed revision failed")
		return
	}
	if err := s.repo.SetCollectionLinks(ctx, previousID, links); err != nil {
		s.log.Error().Err(err).Str("product", previousID).Msg("failed to restore collection links")
	}
	s.log.Warn().Str("product", next.ID).Msg("rolled back failed revision")
}

// History 从 from 沿 replaces 走到根，按从新到旧排列
func (s *Service) History(ctx context.Context, from *meta.Product) ([]*meta.Product, error) {
	chain := []*meta.Product{from}
	visited := map[string]bool{from.ID: true}

	for node := from; node.ReplacesID != nil; {
		prev, err := s.repo.GetProduct(ctx, *node.ReplacesID)
		if errors.Is(err, meta.ErrProductNotFound) {
			return nil, fmt.Errorf("%w: %s replaces missing %s", ErrBrokenChain, node.ID, *node.ReplacesID)
		}
		if err != nil {
			return nil, err
		}
		if visited[prev.ID] {
			return nil, fmt.Errorf("%w: cycle at %s", ErrBrokenChain, prev.ID)
		}
		visited[prev.ID] = true
		chain = append(chain, prev)
		node = prev
	}
	return chain, nil
}

// WalkHistory 按版本号索引的历史；建议先 WalkToCurrent 拿到完整的链
func (s *Service) WalkHistory(ctx context.Context, from *meta.Product) (map[string]*meta.Product, error) {
	chain, err := s.History(ctx, from)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*meta.Product, len(chain))
	for _, p := range chain {
		out[p.Version] = p
	}
	return out, nil
}

// WalkToCurrent 重新读取 p，然后沿派生的正向指针走到 head
// 调用方持有的副本可能已经过期
func (s *Service) WalkToCurrent(ctx context.Context, caller acl.Caller, id string) (*meta.Product, error) {
	p, err := s.readFor(ctx, caller, id, types.Read)
	if err != nil {
		return nil, err
	}

	visited := map[string]bool{p.ID: true}
	for !p.Current {
		next, err := s.repo.FindSuccessor(ctx, p.ID)
		if errors.Is(err, meta.ErrProductNotFound) {
			return nil, fmt.Errorf("%w: %s has no successor and is not current", ErrBrokenChain, p.ID)
		}
		if err != nil {
			return nil, err
		}
		if visited[next.ID] {
			return nil, fmt.Errorf("%w: cycle at %s", ErrBrokenChain, next.ID)
		}
		visited[next.ID] = true
		p = next
	}
	return p, nil
}
