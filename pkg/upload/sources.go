package upload

import (
	"context"
	"fmt"

	"hippo/pkg/meta"
	"hippo/pkg/metadata"
)

// SourceChanges 一次修订里对源文件的增/换/删
// Replace 和 Drop 按 slug 匹配；Replace 没有给出 slug 或 Drop 的条目不是 slug 时，退而按文件名匹配
type SourceChanges struct {
	New     []SourceSpec
	Replace []SourceSpec
	Drop    []string
}

func (c SourceChanges) Empty() bool {
	return len(c.New) == 0 && len(c.Replace) == 0 && len(c.Drop) == 0
}

// UpdateSources 在 (刚创建的) 修订上应用源文件变更，返回新文件的预签名 URL
// 1. new 的 slug 不能已存在 (ErrFileExists)
// 2. replace / drop 必须已存在且只出现一次 (ErrFileNotFound)
// 3. 所有新文件的 slug 必须对 md 合法 (metadata.ErrInvalidSlug)
// 结果数量不等于 len(existing)-len(drop)+len(new) 时 panic
func (o *Orchestrator) UpdateSources(ctx context.Context, p *meta.Product, md metadata.Metadata, changes SourceChanges) (map[string][]string, error) {
	nameToSlug := make(map[string]string, len(p.Sources))
	for slug, f := range p.Sources {
		nameToSlug[f.Name] = slug
	}
	resolve := func(key string) (string, bool) {
		if _, ok := p.Sources[key]; ok {
			return key, true
		}
		slug, ok := nameToSlug[baseName(key)]
		return slug, ok
	}

	incoming := make([]SourceSpec, 0, len(changes.New)+len(changes.Replace))
	claimed := make(map[string]bool, len(changes.New))

	// 1. 新增
	for _, s := range changes.New {
		if s.Slug == "" {
			s.Slug = metadata.DefaultSlugs[0]
		}
		if _, ok := p.Sources[s.Slug]; ok || claimed[s.Slug] {
			return nil, fmt.Errorf("%w: slug %q", ErrFileExists, s.Slug)
		}
		claimed[s.Slug] = true
		incoming = append(incoming, s)
	}

	// 2. 替换：新文件继承原 slug
	replaced := make(map[string]bool, len(changes.Replace))
	for _, s := range changes.Replace {
		key := s.Slug
		if key == "" {
			key = s.Name
		}
		slug, ok := resolve(key)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, key)
		}
		if replaced[slug] {
			return nil, fmt.Errorf("%w: slug %q replaced twice", ErrFileExists, slug)
		}
		replaced[slug] = true
		s.Slug = slug
		incoming = append(incoming, s)
	}

	// 3. 删除
	dropped := make(map[string]bool, len(changes.Drop))
	for _, key := range changes.Drop {
		slug, ok := resolve(key)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, key)
		}
		if replaced[slug] {
			return nil, fmt.Errorf("%w: %s", ErrConflictingChange, key)
		}
		// 同一个文件用 slug 和文件名各删一次也算重复
		if dropped[slug] {
			return nil, fmt.Errorf("%w: %s already dropped", ErrFileNotFound, key)
		}
		dropped[slug] = true
	}

	slugs := make([]string, 0, len(incoming))
	for _, s := range incoming {
		slugs = append(slugs, s.Slug)
	}
	if err := metadata.CheckSlugs(md, slugs); err != nil {
		return nil, err
	}

	// 4. 保留集合：replace 和 drop 都是 existing 的子集且互不相交，对称差即差集
	keep := make(map[string]*meta.File, len(p.Sources))
	for slug, f := range p.Sources {
		if !replaced[slug] && !dropped[slug] {
			keep[slug] = f
		}
	}

	// 5. 发放 URL
	presigned, files, err := o.Presign(ctx, p.Owner, incoming)
	if err != nil {
		return nil, err
	}

	// 6. 数量断言，失败说明上面的集合运算有 bug
	expected := len(p.Sources) - len(dropped) + len(changes.New)
	if len(keep)+len(files) != expected {
		panic(fmt.Errorf("%w: have %d, expected %d", ErrInconsistentSources, len(keep)+len(files), expected))
	}

	sources := make(map[string]*meta.File, expected)
	for slug, f := range keep {
		sources[slug] = f
	}
	for _, f := range files {
		sources[f.Slug] = f
	}

	if err := o.repo.SetSources(ctx, p.ID, sources); err != nil {
		return nil, fmt.Errorf("save sources: %w", err)
	}
	p.Sources = sources
	return presigned, nil
}
