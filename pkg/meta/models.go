package meta

import (
	"sort"
	"time"

	"hippo/pkg/membership"
	"hippo/pkg/metadata"
	"hippo/pkg/types"

	"gorm.io/datatypes"
)

// Product 是版本链上的一个节点
// 每次修订都会插入一个新节点，旧节点只会被翻转 current 和收缩集合关联
type Product struct {
	ID          string `gorm:"primaryKey;type:varchar(36)"`
	Name        string `gorm:"index;type:varchar(255);not null"`
	Description string `gorm:"type:text"`

	// Version 形如 1.0.0，同一条链内严格递增
	Version string `gorm:"type:varchar(64);not null"`
	Current bool   `gorm:"column:is_current;index"`

	// Metadata 是带 metadata_type 判别字段的 JSON
	MetadataType string `gorm:"type:varchar(64);index"`
	Metadata     datatypes.JSON

	Owner   string                      `gorm:"index;type:varchar(255)"`
	Readers datatypes.JSONSlice[string] `gorm:"type:text"`
	Writers datatypes.JSONSlice[string] `gorm:"type:text"`

	// ReplacesID 指向前一个版本，链的反向指针
	// 后继节点通过查询 replaces_id = id 得到
	ReplacesID *string `gorm:"index;type:varchar(36)"`

	// Stamp 乐观并发令牌，每次翻转 current 时 +1
	Stamp int64 `gorm:"default:1"`

	Uploaded time.Time
	Updated  time.Time `gorm:"index"`

	// 以下字段存放在独立的表中，由 Repository 负责装载
	Sources     map[string]*File  `gorm:"-"`
	Collections []membership.Link `gorm:"-"`
	ChildOf     []string          `gorm:"-"`
}

func (p *Product) ReaderGroups() []string { return p.Readers }
func (p *Product) WriterGroups() []string { return p.Writers }

// Replaces 返回前驱 id，没有时为空串
func (p *Product) Replaces() string {
	if p.ReplacesID == nil {
		return ""
	}
	return *p.ReplacesID
}

// DecodeMetadata 解析多态元数据
func (p *Product) DecodeMetadata() (metadata.Metadata, error) {
	return metadata.Decode(p.Metadata)
}

// SourceUUIDs 返回该版本引用的所有文件 uuid
func (p *Product) SourceUUIDs() map[string]struct{} {
	out := make(map[string]struct{}, len(p.Sources))
	for _, f := range p.Sources {
		out[f.UUID] = struct{}{}
	}
	return out
}

// Slugs 返回排好序的 slug 列表
func (p *Product) Slugs() []string {
	out := make([]string, 0, len(p.Sources))
	for s := range p.Sources {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// File 是一个上传文件的登记信息
// 同一个 File 可以被链上多个版本共享 (未修改的 source 会被继承)
type File struct {
	ID          string         `gorm:"primaryKey;type:varchar(36)"`
	UUID        string         `gorm:"uniqueIndex;type:varchar(36);not null"`
	Name        string         `gorm:"type:varchar(255);not null"`
	Slug        string         `gorm:"type:varchar(128)"`
	Description string         `gorm:"type:text"`
	Uploader    string         `gorm:"type:varchar(255)"`
	Checksum    types.Checksum `gorm:"type:varchar(128)"`
	Size        int64
	Bucket      string `gorm:"type:varchar(255)"`
	Key         string `gorm:"type:varchar(1024)"`

	// Available 只有在 confirm 成功后才为 true
	Available bool

	// 分片上传状态
	Multipart       bool
	NumberOfParts   int `gorm:"default:1"`
	PartSize        int64
	UploadID        string `gorm:"type:varchar(1024)"`
	MultipartClosed bool

	CreatedAt time.Time
}

// ProductSource 版本 -> (slug -> 文件) 的映射
type ProductSource struct {
	ProductID string `gorm:"primaryKey;type:varchar(36)"`
	Slug      string `gorm:"primaryKey;type:varchar(128)"`
	FileID    string `gorm:"index;type:varchar(36);not null"`
}

// ProductCollection 版本与集合的关联，Position 保持关联顺序
type ProductCollection struct {
	ProductID    string       `gorm:"primaryKey;type:varchar(36)"`
	CollectionID string       `gorm:"primaryKey;index;type:varchar(36)"`
	Policy       types.Policy `gorm:"type:varchar(16);not null"`
	Position     int
}

// ProductChild 任意的 child_of 关系，与版本历史无关
type ProductChild struct {
	ChildID  string `gorm:"primaryKey;type:varchar(36)"`
	ParentID string `gorm:"primaryKey;index;type:varchar(36)"`
}

// Collection 一组 Product 和/或子集合
type Collection struct {
	ID          string                      `gorm:"primaryKey;type:varchar(36)"`
	Name        string                      `gorm:"index;type:varchar(255);not null"`
	Description string                      `gorm:"type:text"`
	Owner       string                      `gorm:"index;type:varchar(255)"`
	Readers     datatypes.JSONSlice[string] `gorm:"type:text"`
	Writers     datatypes.JSONSlice[string] `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time `gorm:"index"`

	// 反向关系全部由查询得到，不存储
	Products  []*Product `gorm:"-"`
	ChildIDs  []string   `gorm:"-"`
	ParentIDs []string   `gorm:"-"`
}

func (c *Collection) ReaderGroups() []string { return c.Readers }
func (c *Collection) WriterGroups() []string { return c.Writers }

// CollectionChild 集合之间的父子关系
type CollectionChild struct {
	ParentID string `gorm:"primaryKey;type:varchar(36)"`
	ChildID  string `gorm:"primaryKey;index;type:varchar(36)"`
}

// Models 列出所有需要迁移的表
func Models() []any {
	return []any{
		&Product{}, &File{}, &ProductSource{}, &ProductCollection{},
		&ProductChild{}, &Collection{}, &CollectionChild{},
	}
}
