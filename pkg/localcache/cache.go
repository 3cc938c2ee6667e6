// Package localcache 是客户端的源文件缓存
//
// 一个缓存由一个目录和目录下的 SQLite 元数据库组成。
// 文件按 id 分片存放：root/<id 前两位>/<id>/<文件名>。
// 下载先写临时文件，校验通过后 rename，所以标记为 available 的文件一定是完整的。
package localcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"hippo/pkg/types"
	"hippo/pkg/upload"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// DatabaseName 元数据库在缓存目录下的文件名
const DatabaseName = "cache.db"

var (
	ErrNotFound         = errors.New("source not in cache")
	ErrNotWriteable     = errors.New("cache is not writeable")
	ErrSizeMismatch     = errors.New("downloaded size does not match")
	ErrChecksumMismatch = errors.New("downloaded checksum does not match")
	ErrDownload         = errors.New("download failed")
)

// Source 一条缓存记录；Path 相对于缓存根目录
type Source struct {
	ID        string         `gorm:"primaryKey;type:varchar(64)"`
	Path      string         `gorm:"not null"`
	Checksum  types.Checksum `gorm:"type:varchar(80)"`
	Size      int64
	Available bool `gorm:"index"`
	CreatedAt time.Time
}

func (Source) TableName() string { return "sources" }

type Cache struct {
	root   string
	db     *gorm.DB
	client *http.Client
	log    zerolog.Logger
}

// Open 打开 (或初始化) root 下的缓存
func Open(root string, log zerolog.Logger) (*Cache, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(filepath.Join(root, DatabaseName)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	if err := db.AutoMigrate(&Source{}); err != nil {
		return nil, fmt.Errorf("failed to migrate cache database: %w", err)
	}

	return &Cache{
		root:   root,
		db:     db,
		client: &http.Client{Timeout: 10 * time.Minute},
		log:    log.With().Str("component", "localcache").Str("root", root).Logger(),
	}, nil
}

func (c *Cache) Root() string { return c.root }

// Writeable 判断当前进程能否在缓存目录里创建文件
func (c *Cache) Writeable() bool {
	f, err := os.CreateTemp(c.root, ".probe-*")
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(f.Name())
	return true
}

// layout 返回 id 对应的相对路径
// 策略：id 前两位作为子目录 (Sharding)
func layout(id, name string) string {
	name = filepath.Base(filepath.Clean("/" + name))
	if len(id) < 2 {
		return filepath.Join(id, name)
	}
	return filepath.Join(id[:2], id, name)
}

// Available 返回已缓存文件的绝对路径，不在缓存里时返回 ErrNotFound
func (c *Cache) Available(ctx context.Context, id string) (string, error) {
	var src Source
	err := c.db.WithContext(ctx).Where("id = ? AND available = ?", id, true).First(&src).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}

	full := filepath.Join(c.root, src.Path)
	if _, err := os.Stat(full); err != nil {
		// 记录还在但文件被外部删掉了
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	return full, nil
}

// Get 返回缓存中的文件；不在缓存里时从 url 下载
// size 和 checksum 用于校验下载结果，checksum 为空时跳过校验和比较
func (c *Cache) Get(ctx context.Context, id, name string, checksum types.Checksum, size int64, url string) (string, error) {
	if path, err := c.Available(ctx, id); err == nil {
		return path, nil
	} else if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	if !c.Writeable() {
		return "", ErrNotWriteable
	}

	// 1. 先登记为不可用
	rel := layout(id, name)
	src := &Source{ID: id, Path: rel, Checksum: checksum, Size: size, Available: false}
	if err := c.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(src).Error; err != nil {
		return "", fmt.Errorf("failed to register source: %w", err)
	}

	// 2. 下载并校验
	full := filepath.Join(c.root, rel)
	if err := c.fetch(ctx, url, full, checksum, size); err != nil {
		c.db.WithContext(ctx).Where("id = ?", id).Delete(&Source{})
		return "", err
	}

	// 3. 标记可用
	if err := c.db.WithContext(ctx).Model(&Source{}).Where("id = ?", id).Update("available", true).Error; err != nil {
		return "", fmt.Errorf("failed to mark source available: %w", err)
	}
	c.log.Debug().Str("id", id).Int64("size", size).Msg("source cached")
	return full, nil
}

func (c *Cache) fetch(ctx context.Context, url, target string, checksum types.Checksum, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDownload, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrDownload, resp.StatusCode)
	}

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	// 原子写入：临时文件 + Rename
	tmp, err := os.CreateTemp(dir, "temp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	h := xxhash.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDownload, err)
	}

	if n != size {
		return fmt.Errorf("%w: got %d bytes, expected %d", ErrSizeMismatch, n, size)
	}
	if !checksum.IsZero() && checksum.Algorithm() == upload.ChecksumPrefix {
		if got := upload.FormatChecksum(h.Sum64()); got != checksum {
			return fmt.Errorf("%w: got %s, expected %s", ErrChecksumMismatch, got, checksum)
		}
	}

	return os.Rename(tmp.Name(), target)
}

// Remove 删除缓存的文件和记录；不存在时不报错
func (c *Cache) Remove(ctx context.Context, id string) error {
	var src Source
	err := c.db.WithContext(ctx).Where("id = ?", id).First(&src).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	full := filepath.Join(c.root, src.Path)
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return err
	}
	// 分片目录空了就顺手删掉
	os.Remove(filepath.Dir(full))

	return c.db.WithContext(ctx).Where("id = ?", id).Delete(&Source{}).Error
}

// List 返回所有可用的记录
func (c *Cache) List(ctx context.Context) ([]Source, error) {
	var out []Source
	err := c.db.WithContext(ctx).Where("available = ?", true).Order("id").Find(&out).Error
	return out, err
}

func (c *Cache) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
