package meta

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"hippo/pkg/membership"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrProductNotFound    = errors.New("product not found")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrFileRecordNotFound = errors.New("file record not found")
	ErrConcurrentUpdate   = errors.New("concurrent update detected (CAS failed)")
)

// Repository 封装所有对文档存储的操作
// 每个方法对应一次独立的写入；跨文档的原子性不做保证
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) conn(ctx context.Context) *gorm.DB {
	return r.db.GetConn().WithContext(ctx)
}

// -----------------------------------------------------------------------------
// 1. Product 节点
// -----------------------------------------------------------------------------

// InsertProduct 插入一个新版本节点，连同它的 sources / 集合关联 / child_of
// 这些子表属于同一个 "文档"，所以在一个事务里写入
func (r *Repository) InsertProduct(ctx context.Context, p *Product) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.Uploaded.IsZero() {
		p.Uploaded = now
	}
	if p.Updated.IsZero() {
		p.Updated = now
	}
	if p.Readers == nil {
		p.Readers = datatypes.JSONSlice[string]{}
	}
	if p.Writers == nil {
		p.Writers = datatypes.JSONSlice[string]{}
	}

	return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(p).Error; err != nil {
			return fmt.Errorf("failed to insert product: %w", err)
		}
		if err := writeSources(tx, p.ID, p.Sources); err != nil {
			return err
		}
		if err := writeLinks(tx, p.ID, p.Collections); err != nil {
			return err
		}
		for _, parent := range p.ChildOf {
			if err := tx.Create(&ProductChild{ChildID: p.ID, ParentID: parent}).Error; err != nil {
				return fmt.Errorf("failed to insert child_of edge: %w", err)
			}
		}
		return nil
	})
}

// GetProduct 按 id 读取节点，并装载所有关联
func (r *Repository) GetProduct(ctx context.Context, id string) (*Product, error) {
	var p Product
	err := r.conn(ctx).Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadRelations(ctx, []*Product{&p}); err != nil {
		return nil, err
	}
	return &p, nil
}

// FindProduct 按名字查找；version 为空时返回 current 版本
func (r *Repository) FindProduct(ctx context.Context, name, version string) (*Product, error) {
	q := r.conn(ctx).Where("name = ?", name)
	if version == "" {
		q = q.Where("is_current = ?", true)
	} else {
		q = q.Where("version = ?", version)
	}
	return r.first(ctx, q)
}

// FindSuccessor 查找 replaces_id 指向 id 的节点 (派生的正向指针)
func (r *Repository) FindSuccessor(ctx context.Context, id string) (*Product, error) {
	return r.first(ctx, r.conn(ctx).Where("replaces_id = ?", id))
}

func (r *Repository) first(ctx context.Context, q *gorm.DB) (*Product, error) {
	var p Product
	err := q.Order("updated DESC").First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadRelations(ctx, []*Product{&p}); err != nil {
		return nil, err
	}
	return &p, nil
}

// MarkSuperseded 把节点的 current 翻成 false
// guarded 为 true 时只有在它仍然是 current 的情况下才会成功 (CAS)，
// 否则返回 ErrConcurrentUpdate；为 false 时是最后写入者胜出
func (r *Repository) MarkSuperseded(ctx context.Context, id string, guarded bool) error {
	q := r.conn(ctx).Model(&Product{}).Where("id = ?", id)
	if guarded {
		q = q.Where("is_current = ?", true)
	}
	result := q.Updates(map[string]any{
		"is_current": false,
		"stamp":      gorm.Expr("stamp + 1"),
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if guarded {
			return ErrConcurrentUpdate
		}
		return ErrProductNotFound
	}
	return nil
}

// SetCurrent 删除 head 时把前驱重新提升为 current
func (r *Repository) SetCurrent(ctx context.Context, id string, current bool) error {
	return r.updateProduct(ctx, id, map[string]any{
		"is_current": current,
		"stamp":      gorm.Expr("stamp + 1"),
	})
}

// SetReplaces 只在删除中间节点时用于拼接链
func (r *Repository) SetReplaces(ctx context.Context, id string, replaces *string) error {
	return r.updateProduct(ctx, id, map[string]any{"replaces_id": replaces})
}

// UpdateAccess 修改 owner / readers / writers，不产生新版本
func (r *Repository) UpdateAccess(ctx context.Context, id, owner string, readers, writers []string) error {
	return r.updateProduct(ctx, id, map[string]any{
		"owner":   owner,
		"readers": datatypes.JSONSlice[string](readers),
		"writers": datatypes.JSONSlice[string](writers),
	})
}

func (r *Repository) updateProduct(ctx context.Context, id string, fields map[string]any) error {
	result := r.conn(ctx).Model(&Product{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrProductNotFound
	}
	return nil
}

// SetCollectionLinks 整体替换一个节点的集合关联，顺序即 Position
func (r *Repository) SetCollectionLinks(ctx context.Context, productID string, links []membership.Link) error {
	return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("product_id = ?", productID).Delete(&ProductCollection{}).Error; err != nil {
			return err
		}
		return writeLinks(tx, productID, links)
	})
}

// AddCollectionLink 追加一条关联；已存在时只更新策略
func (r *Repository) AddCollectionLink(ctx context.Context, productID string, link membership.Link) error {
	return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var last int
		if err := tx.Model(&ProductCollection{}).
			Where("product_id = ?", productID).
			Select("COALESCE(MAX(position), -1)").
			Row().Scan(&last); err != nil {
			return err
		}
		pos := last + 1
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "product_id"}, {Name: "collection_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"policy"}),
		}).Create(&ProductCollection{
			ProductID:    productID,
			CollectionID: link.CollectionID,
			Policy:       link.Policy,
			Position:     pos,
		}).Error
	})
}

func (r *Repository) RemoveCollectionLink(ctx context.Context, productID, collectionID string) error {
	return r.conn(ctx).
		Where("product_id = ? AND collection_id = ?", productID, collectionID).
		Delete(&ProductCollection{}).Error
}

// SetSources 整体替换一个节点的 slug -> 文件映射
func (r *Repository) SetSources(ctx context.Context, productID string, sources map[string]*File) error {
	return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("product_id = ?", productID).Delete(&ProductSource{}).Error; err != nil {
			return err
		}
		return writeSources(tx, productID, sources)
	})
}

// DeleteProduct 删除节点和它拥有的子表行 (不删除 File 行)
func (r *Repository) DeleteProduct(ctx context.Context, id string) error {
	return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("product_id = ?", id).Delete(&ProductSource{}).Error; err != nil {
			return err
		}
		if err := tx.Where("product_id = ?", id).Delete(&ProductCollection{}).Error; err != nil {
			return err
		}
		if err := tx.Where("child_id = ? OR parent_id = ?", id, id).Delete(&ProductChild{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&Product{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrProductNotFound
		}
		return nil
	})
}

// -----------------------------------------------------------------------------
// 2. child_of 关系
// -----------------------------------------------------------------------------

func (r *Repository) AddChild(ctx context.Context, childID, parentID string) error {
	return r.conn(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&ProductChild{ChildID: childID, ParentID: parentID}).Error
}

func (r *Repository) RemoveChild(ctx context.Context, childID, parentID string) error {
	return r.conn(ctx).
		Where("child_id = ? AND parent_id = ?", childID, parentID).
		Delete(&ProductChild{}).Error
}

// ChildrenOf 反向查询：哪些节点声明自己是 parentID 的 child
func (r *Repository) ChildrenOf(ctx context.Context, parentID string) ([]string, error) {
	var ids []string
	err := r.conn(ctx).Model(&ProductChild{}).
		Where("parent_id = ?", parentID).
		Order("child_id").
		Pluck("child_id", &ids).Error
	return ids, err
}

// -----------------------------------------------------------------------------
// 3. 查询
// -----------------------------------------------------------------------------

// SearchProducts 名字模糊匹配，只返回 current 版本
func (r *Repository) SearchProducts(ctx context.Context, name string, limit int) ([]*Product, error) {
	var found []*Product
	err := r.conn(ctx).
		Where("is_current = ? AND LOWER(name) LIKE ?", true, "%"+strings.ToLower(name)+"%").
		Order("name").
		Limit(limit).
		Find(&found).Error
	if err != nil {
		return nil, err
	}
	return found, r.loadRelations(ctx, found)
}

// RecentProducts 按更新时间倒序分页扫描，keep 返回 true 的才计入结果
// 访问控制过滤需要在 Go 里做 (readers/writers 是 JSON 列)
func (r *Repository) RecentProducts(ctx context.Context, currentOnly bool, keep func(*Product) bool, max int) ([]*Product, error) {
	const page = 64
	var out []*Product

	for offset := 0; len(out) < max; offset += page {
		var batch []*Product
		q := r.conn(ctx).Order("updated DESC").Order("id").Offset(offset).Limit(page)
		if currentOnly {
			q = q.Where("is_current = ?", true)
		}
		if err := q.Find(&batch).Error; err != nil {
			return nil, err
		}
		for _, p := range batch {
			if keep == nil || keep(p) {
				out = append(out, p)
				if len(out) == max {
					break
				}
			}
		}
		if len(batch) < page {
			break
		}
	}
	return out, r.loadRelations(ctx, out)
}

// ProductsInCollection 集合的反向关系 products
func (r *Repository) ProductsInCollection(ctx context.Context, collectionID string) ([]*Product, error) {
	var found []*Product
	err := r.conn(ctx).
		Joins("JOIN product_collections pc ON pc.product_id = products.id").
		Where("pc.collection_id = ?", collectionID).
		Order("products.name").Order("products.version").
		Find(&found).Error
	if err != nil {
		return nil, err
	}
	return found, r.loadRelations(ctx, found)
}

// -----------------------------------------------------------------------------
// 4. 关联装载
// -----------------------------------------------------------------------------

func (r *Repository) loadRelations(ctx context.Context, products []*Product) error {
	if len(products) == 0 {
		return nil
	}

	byID := make(map[string]*Product, len(products))
	ids := make([]string, 0, len(products))
	for _, p := range products {
		p.Sources = map[string]*File{}
		p.Collections = nil
		p.ChildOf = nil
		byID[p.ID] = p
		ids = append(ids, p.ID)
	}

	// A. sources
	var rows []ProductSource
	if err := r.conn(ctx).Where("product_id IN ?", ids).Find(&rows).Error; err != nil {
		return fmt.Errorf("failed to load sources: %w", err)
	}
	if len(rows) > 0 {
		fileIDs := make([]string, 0, len(rows))
		for _, row := range rows {
			fileIDs = append(fileIDs, row.FileID)
		}
		var files []*File
		if err := r.conn(ctx).Where("id IN ?", fileIDs).Find(&files).Error; err != nil {
			return fmt.Errorf("failed to load files: %w", err)
		}
		fileByID := make(map[string]*File, len(files))
		for _, f := range files {
			fileByID[f.ID] = f
		}
		for _, row := range rows {
			if f, ok := fileByID[row.FileID]; ok {
				byID[row.ProductID].Sources[row.Slug] = f
			}
		}
	}

	// B. 集合关联，按 position 排序
	var links []ProductCollection
	if err := r.conn(ctx).Where("product_id IN ?", ids).Order("position").Find(&links).Error; err != nil {
		return fmt.Errorf("failed to load collection links: %w", err)
	}
	for _, l := range links {
		p := byID[l.ProductID]
		p.Collections = append(p.Collections, membership.Link{CollectionID: l.CollectionID, Policy: l.Policy})
	}

	// C. child_of
	var edges []ProductChild
	if err := r.conn(ctx).Where("child_id IN ?", ids).Order("parent_id").Find(&edges).Error; err != nil {
		return fmt.Errorf("failed to load child_of: %w", err)
	}
	for _, e := range edges {
		p := byID[e.ChildID]
		p.ChildOf = append(p.ChildOf, e.ParentID)
	}

	return nil
}

func writeSources(tx *gorm.DB, productID string, sources map[string]*File) error {
	for slug, f := range sources {
		if f.ID == "" {
			f.ID = uuid.NewString()
		}
		if f.UUID == "" {
			f.UUID = uuid.NewString()
		}
		if f.Slug == "" {
			f.Slug = slug
		}
		// 继承来的文件已经存在，重复插入直接忽略
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).Create(f).Error; err != nil {
			return fmt.Errorf("failed to register file %s: %w", f.Name, err)
		}
		if err := tx.Create(&ProductSource{ProductID: productID, Slug: slug, FileID: f.ID}).Error; err != nil {
			return fmt.Errorf("failed to attach source %s: %w", slug, err)
		}
	}
	return nil
}

func writeLinks(tx *gorm.DB, productID string, links []membership.Link) error {
	for i, l := range links {
		row := ProductCollection{
			ProductID:    productID,
			CollectionID: l.CollectionID,
			Policy:       l.Policy,
			Position:     i,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to link collection %s: %w", l.CollectionID, err)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// 5. 文件登记
// -----------------------------------------------------------------------------

// InsertFiles 登记新上传的文件 (available=false)
func (r *Repository) InsertFiles(ctx context.Context, files []*File) error {
	if len(files) == 0 {
		return nil
	}
	for _, f := range files {
		if f.ID == "" {
			f.ID = uuid.NewString()
		}
		if f.UUID == "" {
			f.UUID = uuid.NewString()
		}
	}
	return r.conn(ctx).Create(files).Error
}

func (r *Repository) GetFile(ctx context.Context, id string) (*File, error) {
	var f File
	err := r.conn(ctx).Where("id = ?", id).First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrFileRecordNotFound
	}
	return &f, err
}

// UpdateFile 写回上传状态 (multipart_closed / available)
func (r *Repository) UpdateFile(ctx context.Context, f *File) error {
	result := r.conn(ctx).Model(&File{}).Where("id = ?", f.ID).Updates(map[string]any{
		"available":        f.Available,
		"multipart_closed": f.MultipartClosed,
		"size":             f.Size,
		"checksum":         f.Checksum,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrFileRecordNotFound
	}
	return nil
}

// DeleteFiles 删除文件登记；仍被其他版本引用的行会被跳过
func (r *Repository) DeleteFiles(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	referenced := r.conn(ctx).Model(&ProductSource{}).Select("file_id")
	result := r.conn(ctx).
		Where("id IN ?", ids).
		Where("id NOT IN (?)", referenced).
		Delete(&File{})
	return result.RowsAffected, result.Error
}
