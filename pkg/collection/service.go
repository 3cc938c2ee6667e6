// Package collection 管理集合本身：创建、读取、嵌套以及访问控制
// 产品与集合之间的关联由 product 包维护
package collection

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"hippo/pkg/acl"
	"hippo/pkg/meta"
	"hippo/pkg/types"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
)

// DefaultSearchLimit 名字搜索返回的最大条数
const DefaultSearchLimit = 64

var (
	// ErrSelfReference 集合不能是自己的子集合
	ErrSelfReference = errors.New("collection cannot be its own child")
	// ErrCycle 加入后会形成环
	ErrCycle = errors.New("collection nesting would create a cycle")
)

type Service struct {
	repo *meta.Repository
	log  zerolog.Logger
}

func NewService(repo *meta.Repository, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With().Str("component", "collection").Logger(),
	}
}

// CreateRequest 创建集合的参数
type CreateRequest struct {
	Name        string
	Description string
	Readers     []string
	Writers     []string
}

// Create 新建集合；调用方成为 owner 并被加入 writers
func (s *Service) Create(ctx context.Context, caller acl.Caller, req CreateRequest) (*meta.Collection, error) {
	writers := req.Writers
	if caller.Name != "" && !slices.Contains(writers, caller.Name) {
		writers = append(slices.Clone(writers), caller.Name)
	}
	c := &meta.Collection{
		Name:        req.Name,
		Description: req.Description,
		Owner:       caller.Name,
		Readers:     datatypes.JSONSlice[string](req.Readers),
		Writers:     datatypes.JSONSlice[string](writers),
	}
	if err := s.repo.InsertCollection(ctx, c); err != nil {
		return nil, err
	}
	s.log.Info().Str("collection", c.ID).Str("name", c.Name).Msg("collection created")
	return c, nil
}

// Read 读取集合和它的反向关系
// Products 只包含调用方可读的产品
func (s *Service) Read(ctx context.Context, caller acl.Caller, id string) (*meta.Collection, error) {
	c, err := s.repo.GetCollection(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if err := authorize(caller, c, types.Read); err != nil {
		return nil, err
	}

	visible := c.Products[:0]
	for _, p := range c.Products {
		if acl.Authorize(caller, p, types.Read) == nil {
			visible = append(visible, p)
		}
	}
	c.Products = visible
	return c, nil
}

func (s *Service) SearchByName(ctx context.Context, caller acl.Caller, name string) ([]*meta.Collection, error) {
	found, err := s.repo.SearchCollections(ctx, name, DefaultSearchLimit)
	if err != nil {
		return nil, err
	}
	out := found[:0]
	for _, c := range found {
		if acl.Authorize(caller, c, types.Read) == nil {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Service) ReadMostRecent(ctx context.Context, caller acl.Caller, max int) ([]*meta.Collection, error) {
	return s.repo.RecentCollections(ctx, func(c *meta.Collection) bool {
		return acl.Authorize(caller, c, types.Read) == nil
	}, max)
}

// UpdateRequest 空字段表示不变
type UpdateRequest struct {
	Owner         string
	Description   *string
	AddReaders    []string
	RemoveReaders []string
	AddWriters    []string
	RemoveWriters []string
}

// Update 修改集合的描述和访问控制；集合没有版本
func (s *Service) Update(ctx context.Context, caller acl.Caller, id string, req UpdateRequest) (*meta.Collection, error) {
	c, err := s.readFor(ctx, caller, id, types.Write)
	if err != nil {
		return nil, err
	}

	if req.Description != nil {
		c.Description = *req.Description
	}
	readers := applySet(c.Readers, req.AddReaders, req.RemoveReaders)
	writers := applySet(c.Writers, req.AddWriters, req.RemoveWriters)
	if req.Owner != "" {
		c.Owner = req.Owner
		writers = applySet(writers, []string{req.Owner}, nil)
	}
	c.Readers = readers
	c.Writers = writers

	if err := s.repo.UpdateCollection(ctx, c); err != nil {
		return nil, err
	}
	s.log.Info().Str("collection", c.ID).Msg("collection updated")
	return c, nil
}

// AddChild 把 child 嵌套进 parent
// 需要 parent 的写权限和 child 的读权限
func (s *Service) AddChild(ctx context.Context, caller acl.Caller, parentID, childID string) error {
	if parentID == childID {
		return ErrSelfReference
	}
	if _, err := s.readFor(ctx, caller, parentID, types.Write); err != nil {
		return err
	}
	if _, err := s.readFor(ctx, caller, childID, types.Read); err != nil {
		return err
	}

	// parent 已经是 child 的后代时拒绝
	cyclic, err := s.descends(ctx, parentID, childID)
	if err != nil {
		return err
	}
	if cyclic {
		return fmt.Errorf("%w: %s is nested under %s", ErrCycle, parentID, childID)
	}
	return s.repo.AddCollectionChild(ctx, parentID, childID)
}

func (s *Service) RemoveChild(ctx context.Context, caller acl.Caller, parentID, childID string) error {
	if _, err := s.readFor(ctx, caller, parentID, types.Write); err != nil {
		return err
	}
	return s.repo.RemoveCollectionChild(ctx, parentID, childID)
}

// Delete 删除集合；产品本身不受影响，只去掉关联和嵌套边
func (s *Service) Delete(ctx context.Context, caller acl.Caller, id string) error {
	if _, err := s.readFor(ctx, caller, id, types.Write); err != nil {
		return err
	}
	if err := s.repo.DeleteCollection(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("collection", id).Msg("collection deleted")
	return nil
}

// descends 判断 node 是否在 root 之下 (广度优先)
func (s *Service) descends(ctx context.Context, node, root string) (bool, error) {
	queue := []string{root}
	seen := map[string]bool{root: true}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		c, err := s.repo.GetCollection(ctx, id, false)
		if errors.Is(err, meta.ErrCollectionNotFound) {
			continue
		}
		if err != nil {
			return false, err
		}
		for _, child := range c.ChildIDs {
			if child == node {
				return true, nil
			}
			if !seen[child] {
				seen[child] = true
				queue = append(queue, child)
			}
		}
	}
	return false, nil
}

func (s *Service) readFor(ctx context.Context, caller acl.Caller, id string, access types.Access) (*meta.Collection, error) {
	c, err := s.repo.GetCollection(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if err := authorize(caller, c, access); err != nil {
		return nil, err
	}
	return c, nil
}

func authorize(caller acl.Caller, c *meta.Collection, access types.Access) error {
	err := acl.Authorize(caller, c, access)
	if errors.Is(err, acl.ErrNotVisible) {
		return meta.ErrCollectionNotFound
	}
	return err
}

// applySet 返回 (base ∪ add) - remove，保持首次出现的顺序
func applySet(base, add, remove []string) datatypes.JSONSlice[string] {
	out := make(datatypes.JSONSlice[string], 0, len(base)+len(add))
	for _, x := range slices.Concat(base, add) {
		if slices.Contains(remove, x) || slices.Contains(out, x) {
			continue
		}
		out = append(out, x)
	}
	return out
}
