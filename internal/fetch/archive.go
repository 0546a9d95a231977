package fetch

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/airbusgeo/terrainfetch/internal/concurrency"
	"github.com/airbusgeo/terrainfetch/internal/log"
	"github.com/airbusgeo/terrainfetch/internal/terrain"
	"github.com/mholt/archives"
	"go.uber.org/zap"
)

// RasterExts are the extensions of the files kept from an archive
var RasterExts = []string{"tif", "tiff", "hgt", "asc", "png", "jpg", "jpeg", "bil", "img", "dem", "xyz"}

var archiveExts = []string{".zip", ".7z", ".tar", ".tar.gz", ".tgz", ".tar.bz2", ".tar.xz", ".rar"}

// IsArchive returns true if the extension of file is a known archive format
func IsArchive(file string) bool {
	lower := strings.ToLower(file)
	for _, ext := range archiveExts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func archiveBase(file string) string {
	base := filepath.Base(file)
	lower := strings.ToLower(base)
	for _, ext := range archiveExts {
		if strings.HasSuffix(lower, ext) {
			return base[:len(base)-len(ext)]
		}
	}
	return base
}

type archiveStage struct {
	Output
	stage Stage
	dir   string
}

// Archive runs stage and extracts every archive it outputs into dir/{archive name}/.
// The output files are the extracted rasters, and the outputs of stage that are not archives
func Archive(stage Stage, dir string) Stage {
	return &archiveStage{stage: stage, dir: dir}
}

func (a *archiveStage) Name() string { return Name(a.stage) }

func (a *archiveStage) Fetch(ctx context.Context, crs string, files []string, onComplete concurrency.Done) {
	onComplete = concurrency.OnceDone(onComplete)
	a.stage.Fetch(ctx, crs, files, func(ok bool) {
		if !ok {
			onComplete(false)
			return
		}
		inputs := a.stage.OutputFiles()
		go func() {
			extracted := make([][]string, len(inputs))
			err := forEachIndex(ctx, len(inputs), func(ctx context.Context, i int) error {
				if !IsArchive(inputs[i]) {
					extracted[i] = []string{inputs[i]}
					return nil
				}
				var err error
				extracted[i], err = Extract(ctx, inputs[i], filepath.Join(a.dir, archiveBase(inputs[i])))
				return err
			})
			if err != nil {
				log.Logger(ctx).Error("extraction failed", zap.Error(err))
				onComplete(false)
				return
			}
			var outputs []string
			for _, e := range extracted {
				outputs = append(outputs, e...)
			}
			if len(outputs) == 0 {
				log.Logger(ctx).Error("no raster in the archives", zap.Strings("archives", inputs))
				onComplete(false)
				return
			}
			a.set(a.stage.OutputCRS(), outputs)
			onComplete(true)
		}()
	})
}

// Extract extracts the rasters of the archive into dir and returns their paths.
// Files already extracted with the same size are kept
func Extract(ctx context.Context, archive, dir string) ([]string, error) {
	fsys, err := archives.FileSystem(ctx, archive, nil)
	if err != nil {
		return nil, terrain.NewFormatError("cannot open the archive %s: %v", archive, err)
	}
	if closer, ok := fsys.(io.Closer); ok {
		defer closer.Close()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("Extract: %w", err)
	}

	var files []string
	err = fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !hasExt(path, RasterExts) {
			return nil
		}
		dst := filepath.Join(dir, filepath.FromSlash(path))
		if !strings.HasPrefix(dst, filepath.Clean(dir)+string(os.PathSeparator)) {
			return terrain.NewFormatError("%s: illegal path %s", archive, path)
		}
		files = append(files, dst)
		info, err := d.Info()
		if err != nil {
			return err
		}
		if st, err := os.Stat(dst); err == nil && st.Size() == info.Size() {
			return nil
		}
		return extractFile(fsys, path, dst)
	})
	if err != nil {
		return nil, fmt.Errorf("Extract(%s): %w", archive, err)
	}
	log.Logger(ctx).Debug("archive extracted", zap.String("archive", archive), zap.Int("files", len(files)))
	return files, nil
}

func extractFile(fsys fs.FS, path, dst string) error {
	src, err := fsys.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
