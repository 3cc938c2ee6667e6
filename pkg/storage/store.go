package storage

import (
	"context"
	"errors"
	"path"

	"hippo/pkg/types"
)

var (
	ErrNotFound       = errors.New("object not found")
	ErrMissingETag    = errors.New("upload part is missing an etag")
	ErrPartCount      = errors.New("upload part count mismatch")
	ErrInvalidPartNum = errors.New("invalid upload part number")
)

// GlobalBucket 所有产品文件共用的桶
const GlobalBucket = "global"

// ObjectInfo 是 Stat 返回的对象元信息
type ObjectInfo struct {
	Size int64
	ETag string
	// Checksum 只有在后端能提供时才非空
	Checksum types.Checksum
}

// Part 是客户端完成一个分片后回报的信息
type Part struct {
	Number int // 从 1 开始
	ETag   string
	Size   int64
}

// ObjectStore 描述了对象存储需要提供的能力
// 数据本身从不经过服务端：上传和下载都通过预签名 URL 由客户端直连
type ObjectStore interface {
	// PresignPut 返回单次 PUT 的预签名 URL
	PresignPut(ctx context.Context, bucket, key string) (string, error)

	// CreateMultipart 发起分片上传，返回 uploadID 和每个分片的预签名 URL
	CreateMultipart(ctx context.Context, bucket, key string, parts int) (string, []string, error)

	// CompleteMultipart 用客户端回报的 ETag 合并分片
	CompleteMultipart(ctx context.Context, bucket, key, uploadID string, parts []Part) error

	// AbortMultipart 放弃未完成的分片上传
	AbortMultipart(ctx context.Context, bucket, key, uploadID string) error

	// PresignGet 返回下载用的预签名 URL
	PresignGet(ctx context.Context, bucket, key string) (string, error)

	// Stat 查询对象是否存在；不存在时返回 ErrNotFound
	Stat(ctx context.Context, bucket, key string) (*ObjectInfo, error)

	// Delete 删除对象；对象不存在不算错误
	Delete(ctx context.Context, bucket, key string) error
}

// ObjectName 生成对象在桶内的 key: {uploader}/{uuid}/{basename}
// 文件名里可能带路径，只保留最后一段
func ObjectName(uploader, uuid, filename string) string {
	return uploader + "/" + uuid + "/" + path.Base(filename)
}

// ValidateParts 检查分片回报是否完整：数量一致、编号连续且都带 ETag
func ValidateParts(expected int, parts []Part) error {
	if len(parts) != expected {
		return ErrPartCount
	}
	seen := make(map[int]bool, len(parts))
	for _, p := range parts {
		if p.Number < 1 || p.Number > expected || seen[p.Number] {
			return ErrInvalidPartNum
		}
		if p.ETag == "" {
			return ErrMissingETag
		}
		seen[p.Number] = true
	}
	return nil
}
