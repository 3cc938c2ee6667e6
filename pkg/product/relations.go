package product

import (
	"context"
	"errors"
	"fmt"

	"hippo/pkg/acl"
	"hippo/pkg/membership"
	"hippo/pkg/meta"
	"hippo/pkg/types"
)

// AddRelationship 把 source 标记为 destination 的 child
// child_of 只属于一个版本，修订后不会继承
func (s *Service) AddRelationship(ctx context.Context, caller acl.Caller, sourceID, destinationID string) error {
	if _, err := s.readFor(ctx, caller, sourceID, types.Write); err != nil {
		return err
	}
	if _, err := s.readFor(ctx, caller, destinationID, types.Read); err != nil {
		return err
	}
	return s.repo.AddChild(ctx, sourceID, destinationID)
}

func (s *Service) RemoveRelationship(ctx context.Context, caller acl.Caller, sourceID, destinationID string) error {
	if _, err := s.readFor(ctx, caller, sourceID, types.Write); err != nil {
		return err
	}
	return s.repo.RemoveChild(ctx, sourceID, destinationID)
}

// AddToCollection 以给定策略把产品的这个版本加入集合
// 需要产品和集合的写权限
func (s *Service) AddToCollection(ctx context.Context, caller acl.Caller, productID, collectionID string, policy types.Policy) error {
	if !policy.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidPolicy, policy)
	}
	if _, err := s.readFor(ctx, caller, productID, types.Write); err != nil {
		return err
	}
	if err := s.authorizeCollection(ctx, caller, collectionID); err != nil {
		return err
	}
	return s.repo.AddCollectionLink(ctx, productID, membership.Link{CollectionID: collectionID, Policy: policy})
}

func (s *Service) RemoveFromCollection(ctx context.Context, caller acl.Caller, productID, collectionID string) error {
	if _, err := s.readFor(ctx, caller, productID, types.Write); err != nil {
		return err
	}
	if err := s.authorizeCollection(ctx, caller, collectionID); err != nil {
		return err
	}
	return s.repo.RemoveCollectionLink(ctx, productID, collectionID)
}

func (s *Service) authorizeCollection(ctx context.Context, caller acl.Caller, id string) error {
	c, err := s.repo.GetCollection(ctx, id, false)
	if err != nil {
		return err
	}
	err = acl.Authorize(caller, c, types.Write)
	if errors.Is(err, acl.ErrNotVisible) {
		return meta.ErrCollectionNotFound
	}
	return err
}
