package product

import (
	"context"

	"hippo/pkg/acl"
	"hippo/pkg/meta"
	"hippo/pkg/types"
	"hippo/pkg/versioning"
)

// AccessChanges 修改 owner / readers / writers
type AccessChanges struct {
	Owner         string
	AddReaders    []string
	RemoveReaders []string
	AddWriters    []string
	RemoveWriters []string
}

// UpdateAccessControl 把新的访问控制写到整条链上，不产生新版本
// 只能从 head 发起；新 owner 同时加入 readers 和 writers
func (s *Service) UpdateAccessControl(ctx context.Context, caller acl.Caller, id string, ch AccessChanges) (*meta.Product, error) {
	head, err := s.readFor(ctx, caller, id, types.Write)
	if err != nil {
		return nil, err
	}
	if !head.Current {
		return nil, versioning.ErrVersioning
	}

	readers := applySet(head.Readers, ch.AddReaders, ch.RemoveReaders)
	writers := applySet(head.Writers, ch.AddWriters, ch.RemoveWriters)
	owner := head.Owner
	if ch.Owner != "" {
		owner = ch.Owner
		readers = applySet(readers, []string{owner}, nil)
		writers = applySet(writers, []string{owner}, nil)
	}

	chain, err := s.History(ctx, head)
	if err != nil {
		return nil, err
	}
	for _, node := range chain {
		if err := s.repo.UpdateAccess(ctx, node.ID, owner, readers, writers); err != nil {
			return nil, err
		}
	}

	s.log.Info().Str("product", head.ID).Int("versions", len(chain)).Msg("access control updated")
	return s.repo.GetProduct(ctx, head.ID)
}
