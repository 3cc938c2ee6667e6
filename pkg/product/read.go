package product

import (
	"context"
	"errors"

	"hippo/pkg/acl"
	"hippo/pkg/meta"
	"hippo/pkg/storage"
	"hippo/pkg/types"
)

// DefaultSearchLimit 名字搜索返回的最大条数
const DefaultSearchLimit = 64

// FileView 是给下载方看的文件信息；只有 Available 的文件才有 URL
type FileView struct {
	UUID        string
	Name        string
	Slug        string
	Description string
	Size        int64
	Checksum    types.Checksum
	URL         string
	ObjectName  string
	Available   bool
}

func (s *Service) ReadByID(ctx context.Context, caller acl.Caller, id string) (*meta.Product, error) {
	return s.readFor(ctx, caller, id, types.Read)
}

// ReadByName version 为空时返回 current 版本
func (s *Service) ReadByName(ctx context.Context, caller acl.Caller, name, version string) (*meta.Product, error) {
	p, err := s.repo.FindProduct(ctx, name, version)
	if err != nil {
		return nil, err
	}
	if err := authorize(caller, p, types.Read); err != nil {
		return nil, err
	}
	return p, nil
}

// SearchByName 名字模糊匹配 current 版本，过滤掉调用方看不到的
func (s *Service) SearchByName(ctx context.Context, caller acl.Caller, name string) ([]*meta.Product, error) {
	found, err := s.repo.SearchProducts(ctx, name, DefaultSearchLimit)
	if err != nil {
		return nil, err
	}
	out := found[:0]
	for _, p := range found {
		if acl.Authorize(caller, p, types.Read) == nil {
			out = append(out, p)
		}
	}
	return out, nil
}

// ReadMostRecent 最近更新的 max 个调用方可读的产品
func (s *Service) ReadMostRecent(ctx context.Context, caller acl.Caller, max int, currentOnly bool) ([]*meta.Product, error) {
	visible := func(p *meta.Product) bool {
		return acl.Authorize(caller, p, types.Read) == nil
	}
	return s.repo.RecentProducts(ctx, currentOnly, visible, max)
}

// ReadFiles 列出源文件，可用的附带预签名下载 URL
func (s *Service) ReadFiles(ctx context.Context, caller acl.Caller, id string) ([]FileView, error) {
	p, err := s.readFor(ctx, caller, id, types.Read)
	if err != nil {
		return nil, err
	}

	views := make([]FileView, 0, len(p.Sources))
	for _, f := range filesOf(p) {
		v := FileView{
			UUID:        f.UUID,
			Name:        f.Name,
			Slug:        f.Slug,
			Description: f.Description,
			Size:        f.Size,
			Checksum:    f.Checksum,
			Available:   f.Available,
		}
		if f.Available {
			url, err := s.uploads.ReadURL(ctx, f)
			if err != nil {
				return nil, err
			}
			v.URL = url
			v.ObjectName = storage.ObjectName(f.Uploader, f.UUID, f.Name)
		}
		views = append(views, v)
	}
	return views, nil
}

// ParentOf 反向关系：声明自己是 id 的 child 的产品中调用方可读的那些
func (s *Service) ParentOf(ctx context.Context, caller acl.Caller, id string) ([]*meta.Product, error) {
	if _, err := s.readFor(ctx, caller, id, types.Read); err != nil {
		return nil, err
	}
	ids, err := s.repo.ChildrenOf(ctx, id)
	if err != nil {
		return nil, err
	}

	out := make([]*meta.Product, 0, len(ids))
	for _, cid := range ids {
		child, err := s.repo.GetProduct(ctx, cid)
		if errors.Is(err, meta.ErrProductNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if acl.Authorize(caller, child, types.Read) == nil {
			out = append(out, child)
		}
	}
	return out, nil
}
