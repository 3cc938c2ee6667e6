package product

import (
	"context"
	"errors"

	"hippo/pkg/acl"
	"hippo/pkg/meta"
	"hippo/pkg/types"
	"hippo/pkg/versioning"

	"golang.org/x/sync/errgroup"
)

// deleteParallelism 并发删除对象的上限
const deleteParallelism = 8

// DeleteOne 删除单个版本，两侧的历史保持连通
// data 为 true 时只删除这个版本独有的文件 (不被前驱或后继引用)
func (s *Service) DeleteOne(ctx context.Context, caller acl.Caller, id string, data bool) error {
	p, err := s.readFor(ctx, caller, id, types.Write)
	if err != nil {
		return err
	}
	if err := s.deleteOne(ctx, p, data); err != nil {
		return err
	}
	s.metrics.RecordDelete("one")
	return nil
}

func (s *Service) deleteOne(ctx context.Context, p *meta.Product, data bool) error {
	// 1. 找到两侧邻居
	var prev, next *meta.Product
	if p.ReplacesID != nil {
		found, err := s.repo.GetProduct(ctx, *p.ReplacesID)
		if err != nil && !errors.Is(err, meta.ErrProductNotFound) {
			return err
		}
		prev = found
	}
	if !p.Current {
		found, err := s.repo.FindSuccessor(ctx, p.ID)
		if err != nil && !errors.Is(err, meta.ErrProductNotFound) {
			return err
		}
		next = found
	}

	// 2. 删除独有的对象
	if data {
		owned := ownedFiles(p, prev, next)
		if err := s.deleteObjects(ctx, owned); err != nil {
			return err
		}
	}

	// 3. 修复链：删 head 时前驱成为 head，删中间节点时后继接到前驱上
	if p.Current && prev != nil {
		if err := s.repo.SetCurrent(ctx, prev.ID, true); err != nil {
			return err
		}
	}
	if next != nil {
		if err := s.repo.SetReplaces(ctx, next.ID, p.ReplacesID); err != nil {
			return err
		}
	}

	// 4. 删除记录，再清掉不再被任何版本引用的文件行
	if err := s.repo.DeleteProduct(ctx, p.ID); err != nil {
		return err
	}
	if _, err := s.repo.DeleteFiles(ctx, fileIDs(filesOf(p))); err != nil {
		return err
	}

	s.log.Info().Str("product", p.ID).Str("version", p.Version).Bool("data", data).Msg("product version deleted")
	return nil
}

// ownedFiles 返回只被 p 引用、不被前驱或后继引用的文件
func ownedFiles(p, prev, next *meta.Product) []*meta.File {
	shared := map[string]struct{}{}
	for _, n := range []*meta.Product{prev, next} {
		if n == nil {
			continue
		}
		for id := range n.SourceUUIDs() {
			shared[id] = struct{}{}
		}
	}

	var out []*meta.File
	for _, f := range filesOf(p) {
		if _, ok := shared[f.UUID]; !ok {
			out = append(out, f)
		}
	}
	return out
}

// DeleteTree 删除整条链，必须从 head 发起
// 先删对象再删记录：中途失败时记录还在，可以重试
func (s *Service) DeleteTree(ctx context.Context, caller acl.Caller, id string, data bool) error {
	head, err := s.readFor(ctx, caller, id, types.Write)
	if err != nil {
		return err
	}
	if !head.Current {
		return versioning.ErrVersioning
	}

	chain, err := s.History(ctx, head)
	if err != nil {
		return err
	}

	// 按 uuid 去重收集所有文件
	seen := map[string]bool{}
	var files []*meta.File
	for _, node := range chain {
		for _, f := range filesOf(node) {
			if !seen[f.UUID] {
				seen[f.UUID] = true
				files = append(files, f)
			}
		}
	}

	if data {
		if err := s.deleteObjects(ctx, files); err != nil {
			return err
		}
	}

	for _, node := range chain {
		if err := s.repo.DeleteProduct(ctx, node.ID); err != nil {
			return err
		}
	}
	if _, err := s.repo.DeleteFiles(ctx, fileIDs(files)); err != nil {
		return err
	}

	s.metrics.RecordDelete("tree")
	s.log.Info().Str("product", head.ID).Int("versions", len(chain)).Int("files", len(files)).Bool("data", data).Msg("product tree deleted")
	return nil
}

func (s *Service) deleteObjects(ctx context.Context, files []*meta.File) error {
	store := s.uploads.Store()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(deleteParallelism)
	for _, f := range files {
		g.Go(func() error {
			return store.Delete(gctx, f.Bucket, f.Key)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.metrics.RecordObjectsDeleted(len(files))
	return nil
}

func fileIDs(files []*meta.File) []string {
	ids := make([]string, 0, len(files))
	for _, f := range files {
		ids = append(ids, f.ID)
	}
	return ids
}
