package commands

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"hippo/pkg/storage"
	"hippo/pkg/upload"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// localSources 由 slug=path (或只有 path，slug 取 data) 解析出的本地文件
type localSources struct {
	specs []upload.SourceSpec
	paths map[string]string // 文件名 -> 本地路径
}

func parseSources(args []string) (*localSources, error) {
	out := &localSources{paths: make(map[string]string, len(args))}
	for _, arg := range args {
		slug, path, ok := strings.Cut(arg, "=")
		if !ok {
			slug, path = "", arg
		}

		size, sum, err := upload.FileInfo(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		name := filepath.Base(path)
		if _, dup := out.paths[name]; dup {
			return nil, fmt.Errorf("%w: %s given twice", upload.ErrFileExists, name)
		}
		out.paths[name] = path
		out.specs = append(out.specs, upload.SourceSpec{Name: path, Slug: slug, Size: size, Checksum: sum})
	}
	return out, nil
}

// uploadAll 把文件推到预签名 URL，合并分片后确认
func uploadAll(ctx context.Context, w io.Writer, productID string, src *localSources, presigned map[string][]string) error {
	if len(presigned) == 0 {
		return nil
	}

	uploader := upload.NewUploader(viper.GetDuration("upload.chunk_timeout"), viper.GetInt64("upload.part_size"), log.Logger)
	reports := make(map[string][]storage.Part, len(presigned))
	for name, urls := range presigned {
		path, ok := src.paths[name]
		if !ok {
			return fmt.Errorf("%w: no local file for %s", upload.ErrFileNotFound, name)
		}
		parts, err := uploader.UploadFile(ctx, path, urls)
		if err != nil {
			return err
		}
		reports[name] = parts

		var total int64
		for _, p := range parts {
			total += p.Size
		}
		fmt.Fprintf(w, "⬆️  %s (%s, %d part(s))\n", name, humanize.IBytes(uint64(total)), len(parts))
	}

	caller := currentCaller()
	if err := Hippo.Products.Complete(ctx, caller, productID, reports); err != nil {
		return fmt.Errorf("complete uploads: %w", err)
	}
	return Hippo.Products.Confirm(ctx, caller, productID)
}
