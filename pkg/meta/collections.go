package meta

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (r *Repository) InsertCollection(ctx context.Context, c *Collection) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Readers == nil {
		c.Readers = datatypes.JSONSlice[string]{}
	}
	if c.Writers == nil {
		c.Writers = datatypes.JSONSlice[string]{}
	}
	if err := r.conn(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("failed to insert collection: %w", err)
	}
	return nil
}

// GetCollection 读取集合以及它的子集合/父集合 id
// withProducts 为 true 时额外装载关联的产品 (包括历史版本)
func (r *Repository) GetCollection(ctx context.Context, id string, withProducts bool) (*Collection, error) {
	var c Collection
	err := r.conn(ctx).Where("id = ?", id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCollectionNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := r.conn(ctx).Model(&CollectionChild{}).
		Where("parent_id = ?", id).Order("child_id").
		Pluck("child_id", &c.ChildIDs).Error; err != nil {
		return nil, fmt.Errorf("failed to load child collections: %w", err)
	}
	if err := r.conn(ctx).Model(&CollectionChild{}).
		Where("child_id = ?", id).Order("parent_id").
		Pluck("parent_id", &c.ParentIDs).Error; err != nil {
		return nil, fmt.Errorf("failed to load parent collections: %w", err)
	}

	if withProducts {
		products, err := r.ProductsInCollection(ctx, id)
		if err != nil {
			return nil, err
		}
		c.Products = products
	}
	return &c, nil
}

// UpdateCollection 只更新可编辑的字段
func (r *Repository) UpdateCollection(ctx context.Context, c *Collection) error {
	result := r.conn(ctx).Model(&Collection{}).Where("id = ?", c.ID).Updates(map[string]any{
		"description": c.Description,
		"owner":       c.Owner,
		"readers":     c.Readers,
		"writers":     c.Writers,
		"updated_at":  time.Now().UTC(),
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCollectionNotFound
	}
	return nil
}

// DeleteCollection 删除集合，同时清理产品关联和父子边
func (r *Repository) DeleteCollection(ctx context.Context, id string) error {
	return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("collection_id = ?", id).Delete(&ProductCollection{}).Error; err != nil {
			return err
		}
		if err := tx.Where("parent_id = ? OR child_id = ?", id, id).Delete(&CollectionChild{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&Collection{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrCollectionNotFound
		}
		return nil
	})
}

func (r *Repository) AddCollectionChild(ctx context.Context, parentID, childID string) error {
	return r.conn(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&CollectionChild{ParentID: parentID, ChildID: childID}).Error
}

func (r *Repository) RemoveCollectionChild(ctx context.Context, parentID, childID string) error {
	return r.conn(ctx).
		Where("parent_id = ? AND child_id = ?", parentID, childID).
		Delete(&CollectionChild{}).Error
}

func (r *Repository) SearchCollections(ctx context.Context, name string, limit int) ([]*Collection, error) {
	var found []*Collection
	err := r.conn(ctx).
		Where("LOWER(name) LIKE ?", "%"+strings.ToLower(name)+"%").
		Order("name").
		Limit(limit).
		Find(&found).Error
	return found, err
}

// RecentCollections 与 RecentProducts 相同的分页过滤
func (r *Repository) RecentCollections(ctx context.Context, keep func(*Collection) bool, max int) ([]*Collection, error) {
	const page = 64
	var out []*Collection

	for offset := 0; len(out) < max; offset += page {
		var batch []*Collection
		if err := r.conn(ctx).Order("updated_at DESC").Order("id").
			Offset(offset).Limit(page).Find(&batch).Error; err != nil {
			return nil, err
		}
		for _, c := range batch {
			if keep == nil || keep(c) {
				out = append(out, c)
				if len(out) == max {
					break
				}
			}
		}
		if len(batch) < page {
			break
		}
	}
	return out, nil
}
