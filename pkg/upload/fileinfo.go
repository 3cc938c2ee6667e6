package upload

import (
	"fmt"
	"io"
	"os"

	"hippo/pkg/types"

	"github.com/cespare/xxhash/v2"
)

// ChecksumPrefix 所有文件校验和使用的算法
const ChecksumPrefix = "xxh64"

// FormatChecksum 格式化为 xxh64:<16 位十六进制>
func FormatChecksum(sum uint64) types.Checksum {
	return types.Checksum(fmt.Sprintf("%s:%016x", ChecksumPrefix, sum))
}

// ChecksumReader 流式计算 r 的大小和校验和
func ChecksumReader(r io.Reader) (int64, types.Checksum, error) {
	h := xxhash.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return 0, "", err
	}
	return n, FormatChecksum(h.Sum64()), nil
}

// FileInfo 读取本地文件，得到上传声明需要的大小和校验和
func FileInfo(path string) (int64, types.Checksum, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()
	return ChecksumReader(f)
}
