// Package metadata 定义 Product 的多态元数据。
// 每个变体是一个实现了 Metadata 接口的结构体，自带合法 slug 集合，
// 存储时通过 metadata_type 字段区分。
package metadata

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"
)

var (
	ErrInvalidSlug     = errors.New("source slug not valid for metadata type")
	ErrUnknownType     = errors.New("unknown metadata type")
	ErrInvalidMetadata = errors.New("invalid metadata")
)

// DefaultSlugs 没有特别声明时只接受 "data"
var DefaultSlugs = []string{"data"}

// Metadata 是所有元数据变体的公共接口
type Metadata interface {
	// MetadataType 是存储时使用的判别字段
	MetadataType() string
	// ValidSlugs 返回该变体接受的 source slug
	ValidSlugs() []string
}

// Validator 是可选接口，变体需要额外字段校验时实现
type Validator interface {
	Validate() error
}

// Simple 没有任何字段，是缺省的元数据类型
type Simple struct{}

func (Simple) MetadataType() string { return "simple" }
func (Simple) ValidSlugs() []string { return DefaultSlugs }

// Numeric 单个数值
type Numeric struct {
	Value float64 `json:"value"`
}

func (Numeric) MetadataType() string { return "numeric" }
func (Numeric) ValidSlugs() []string { return DefaultSlugs }

func (n Numeric) Validate() error {
	if n.Value < -1e100 || n.Value > 1e100 {
		return fmt.Errorf("%w: numeric value %g out of range", ErrInvalidMetadata, n.Value)
	}
	return nil
}

// Archive zip/tar 之类的打包文件
type Archive struct {
	ArchiveType string `json:"archive_type"`
}

func (Archive) MetadataType() string { return "archive" }
func (Archive) ValidSlugs() []string { return DefaultSlugs }

func (a Archive) Validate() error {
	if a.ArchiveType == "" {
		return fmt.Errorf("%w: archive_type is required", ErrInvalidMetadata)
	}
	return nil
}

// Beam 某个望远镜/仪器/频段的 beam
type Beam struct {
	Telescope  string `json:"telescope,omitempty"`
	Instrument string `json:"instrument,omitempty"`
	Wafer      string `json:"wafer,omitempty"`
	Frequency  string `json:"frequency,omitempty"`
}

func (Beam) MetadataType() string { return "beam" }
func (Beam) ValidSlugs() []string { return DefaultSlugs }

// Map 对应 FITS 头信息的单张天图
type Map struct {
	NAXIS    []int     `json:"NAXIS,omitempty"`
	CTYPE    []string  `json:"CTYPE,omitempty"`
	CUNIT    []string  `json:"CUNIT,omitempty"`
	CRVAL    []float64 `json:"CRVAL,omitempty"`
	CDELT    []float64 `json:"CDELT,omitempty"`
	CRPIX    []float64 `json:"CRPIX,omitempty"`
	Telescop string    `json:"TELESCOP,omitempty"`
	Instrume string    `json:"INSTRUME,omitempty"`
	Release  string    `json:"RELEASE,omitempty"`
	Season   string    `json:"SEASON,omitempty"`
	Patch    string    `json:"PATCH,omitempty"`
	Freq     string    `json:"FREQ,omitempty"`
	BUnit    string    `json:"BUNIT,omitempty"`
}

func (Map) MetadataType() string { return "map" }
func (Map) ValidSlugs() []string { return DefaultSlugs }

// MapSet 同一次观测的一组天图，例如 coadd 和对应的 ivar
type MapSet struct {
	Pixelisation           string   `json:"pixelisation"`
	Telescope              string   `json:"telescope,omitempty"`
	Instrument             string   `json:"instrument,omitempty"`
	Release                string   `json:"release,omitempty"`
	Season                 string   `json:"season,omitempty"`
	Patch                  string   `json:"patch,omitempty"`
	Frequency              string   `json:"frequency,omitempty"`
	PolarizationConvention string   `json:"polarization_convention,omitempty"`
	Tags                   []string `json:"tags,omitempty"`
}

var mapSetSlugs = []string{
	"coadd", "split",
	"source_only", "source_only_split",
	"source_free", "source_free_split",
	"ivar_coadd", "ivar_split",
	"xlink_coadd", "xlink_split",
	"mask", "data",
}

func (MapSet) MetadataType() string { return "mapset" }
func (MapSet) ValidSlugs() []string { return mapSetSlugs }

func (m MapSet) Validate() error {
	if m.Pixelisation != "healpix" && m.Pixelisation != "cartesian" {
		return fmt.Errorf("%w: pixelisation must be healpix or cartesian, got %q", ErrInvalidMetadata, m.Pixelisation)
	}
	return nil
}

// Camera 站点摄像头的延时视频，每个 slug 是一台摄像头
type Camera struct {
	Date time.Time `json:"date"`
}

var cameraSlugs = []string{
	"act_highbay", "busbar",
	"c1", "c2", "c2_front", "c3", "c3_front", "c4", "c4_front", "c5",
	"highbay_back", "highbay_cargo",
	"lat_g5", "lat_highbay", "lat_shutter", "latr",
	"mirror1_latr", "mirror2_latr",
	"pumphouse", "pumphouse_inside",
	"satp1", "satp2", "satp3",
	"site_entrance",
}

func (Camera) MetadataType() string { return "camera" }
func (Camera) ValidSlugs() []string { return cameraSlugs }

func (c Camera) Validate() error {
	if c.Date.IsZero() {
		return fmt.Errorf("%w: camera date is required", ErrInvalidMetadata)
	}
	return nil
}

// registry 判别字段 -> 构造函数
var registry = map[string]func() Metadata{
	"simple":  func() Metadata { return &Simple{} },
	"numeric": func() Metadata { return &Numeric{} },
	"archive": func() Metadata { return &Archive{} },
	"beam":    func() Metadata { return &Beam{} },
	"map":     func() Metadata { return &Map{} },
	"mapset":  func() Metadata { return &MapSet{} },
	"camera":  func() Metadata { return &Camera{} },
}

// Types 返回所有已注册的判别字段，已排序
func Types() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New 按判别字段创建空变体
func New(metadataType string) (Metadata, error) {
	ctor, ok := registry[metadataType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, metadataType)
	}
	return ctor(), nil
}

// Validate 跑变体自己的字段校验
func Validate(m Metadata) error {
	if v, ok := m.(Validator); ok {
		return v.Validate()
	}
	return nil
}

// CheckSlugs 确认每个 slug 都属于 m 的合法集合
func CheckSlugs(m Metadata, slugs []string) error {
	if m == nil {
		m = Simple{}
	}
	valid := m.ValidSlugs()
	for _, s := range slugs {
		if !slices.Contains(valid, s) {
			return fmt.Errorf("%w: %q is not one of %v for %s", ErrInvalidSlug, s, valid, m.MetadataType())
		}
	}
	return nil
}
