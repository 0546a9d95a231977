package fetch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/airbusgeo/terrainfetch/interface/storage"
	"github.com/airbusgeo/terrainfetch/internal/concurrency"
	"github.com/airbusgeo/terrainfetch/internal/log"
	"github.com/airbusgeo/terrainfetch/internal/raster"
	"github.com/airbusgeo/terrainfetch/internal/terrain"
	"github.com/airbusgeo/terrainfetch/internal/tiles"
	"github.com/airbusgeo/terrainfetch/internal/utils"
	"github.com/airbusgeo/terrainfetch/internal/utils/proj"
	"go.uber.org/zap"
)

// DegreeFilter keeps the one-degree tiles whose longitude is in [minLon, maxLon] and latitude in [minLat, maxLat]
func DegreeFilter(codec tiles.DegreeCodec, minLon, maxLon, minLat, maxLat int) Stage {
	return Func("DegreeFilter", func(ctx context.Context, crs string, files []string) (string, []string, error) {
		var kept []string
		for _, file := range files {
			id := tiles.RawID(file)
			lon, err := codec.Longitude(id)
			if err != nil {
				return "", nil, err
			}
			lat, err := codec.Latitude(id)
			if err != nil {
				return "", nil, err
			}
			if minLon <= lon && lon <= maxLon && minLat <= lat && lat <= maxLat {
				kept = append(kept, file)
			}
		}
		if len(kept) == 0 {
			return "", nil, terrain.NewFormatError("no tile left after filtering on [%d, %d] x [%d, %d]", minLon, maxLon, minLat, maxLat)
		}
		log.Logger(ctx).Debug("tiles filtered", zap.Int("kept", len(kept)), zap.Int("inputs", len(files)))
		return crs, kept, nil
	})
}

type renamer struct {
	Output
	codec tiles.Codec
	label string
	dir   string
}

// TilesRenamer copies each tile into dir as {label}_x{i}_y{j}.{ext}, where (i, j) is its position in the grid of the input tiles.
// A single file is not renamed
func TilesRenamer(codec tiles.Codec, label, dir string) Stage {
	return &renamer{codec: codec, label: label, dir: dir}
}

func (r *renamer) Name() string { return "TilesRenamer" }

func (r *renamer) Fetch(ctx context.Context, crs string, files []string, onComplete concurrency.Done) {
	if len(files) == 1 {
		r.set(crs, files)
		onComplete(true)
		return
	}
	ts := tiles.NewTileSet(r.label, r.codec)
	ts.AddFiles(files...)
	if err := ts.InitializeMinMaxTiles(ctx); err != nil {
		log.Logger(ctx).Error("cannot rename the tiles", zap.Error(err))
		onComplete(false)
		return
	}
	outputs := make([]string, 0, len(ts.Tiles))
	concurrency.RunSuccessively(ts.Tiles, func(t tiles.Tile, done concurrency.Done) {
		name, err := ts.Rename(t)
		if err == nil {
			dst := filepath.Join(r.dir, name+filepath.Ext(t.Location))
			err = copyTile(t.Location, dst)
			outputs = append(outputs, dst)
		}
		if err != nil {
			log.Logger(ctx).Error("cannot rename tile", zap.String("tile", t.Location), zap.Error(err))
		}
		done(err == nil)
	}, func(ok bool) {
		if ok {
			r.set(crs, outputs)
		}
		onComplete(ok)
	})
}

// copyTile copies src and its .aux.xml, if any, to dst
func copyTile(src, dst string) error {
	if err := copyFile(src, dst); err != nil {
		return err
	}
	if _, err := os.Stat(src + ".aux.xml"); err == nil {
		return copyFile(src+".aux.xml", dst+".aux.xml")
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst + ".part")
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(dst+".part", dst)
}

// Merge merges the inputs in dir/{name}.tif. A single input is not merged
func Merge(dir, name string) Stage {
	return Func("Merge", func(ctx context.Context, crs string, files []string) (string, []string, error) {
		if len(files) == 1 {
			return crs, files, nil
		}
		vrt := filepath.Join(dir, name+".vrt")
		ds, err := raster.Merge(ctx, files, vrt)
		if err != nil {
			return "", nil, err
		}
		if err := ds.Close(); err != nil {
			return "", nil, fmt.Errorf("Merge: %w", err)
		}
		dst := filepath.Join(dir, name+".tif")
		if err := raster.Translate(ctx, vrt, dst); err != nil {
			return "", nil, err
		}
		return crs, []string{dst}, nil
	})
}

// ReprojectedName returns dir/{name}-{crs}/{name}.tif, with ':' replaced by '_' in crs
func ReprojectedName(dir, name, crs string) string {
	return filepath.Join(dir, name+"-"+strings.ReplaceAll(crs, ":", "_"), name+".tif")
}

// Reproject merges and warps the inputs into targetCRS, with nodata outside the coverage.
// Nothing is done if the inputs are already in targetCRS
func Reproject(dir, name, targetCRS string, nodata float64) Stage {
	return Func("Reproject", func(ctx context.Context, crs string, files []string) (string, []string, error) {
		same, err := proj.SameCRS(crs, targetCRS)
		if err != nil {
			return "", nil, terrain.NewConfigurationError("cannot compare %s and %s: %v", crs, targetCRS, err)
		}
		if same {
			return crs, files, nil
		}
		dst := ReprojectedName(dir, name, targetCRS)
		log.Logger(ctx).Info("reprojecting", zap.String("from", crs), zap.String("to", targetCRS), zap.String("dst", dst))
		if err := raster.WarpFiles(ctx, files, targetCRS, nodata, dst); err != nil {
			return "", nil, err
		}
		return targetCRS, []string{dst}, nil
	})
}

// Convert translates each input to the format of ext, into dir. Files already in this format are kept
func Convert(dir, ext string) Stage {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	return Func("Convert", func(ctx context.Context, crs string, files []string) (string, []string, error) {
		outputs, err := mapFiles(ctx, files, func(ctx context.Context, file string) (string, error) {
			if utils.Ext(file) == ext {
				return file, nil
			}
			dst := filepath.Join(dir, utils.TrimExt(file)+"."+ext)
			return dst, raster.Convert(ctx, file, dst)
		})
		return crs, outputs, err
	})
}

// Crop crops each input to bbox (in the input CRS) into dir. With a positive size, it is also resized
func Crop(dir string, bbox terrain.BoundingBox, width, height int) Stage {
	return Func("Crop", func(ctx context.Context, crs string, files []string) (string, []string, error) {
		outputs, err := mapFiles(ctx, files, func(ctx context.Context, file string) (string, error) {
			dst := filepath.Join(dir, utils.TrimExt(file)+".tif")
			return dst, raster.Crop(ctx, file, dst, bbox, width, height)
		})
		return crs, outputs, err
	})
}

// Resolution resizes each input by percent into dir
func Resolution(dir string, percent int) Stage {
	return Func("Resolution", func(ctx context.Context, crs string, files []string) (string, []string, error) {
		if percent == 100 {
			return crs, files, nil
		}
		outputs, err := mapFiles(ctx, files, func(ctx context.Context, file string) (string, error) {
			dst := filepath.Join(dir, filepath.Base(file))
			return dst, raster.ChangeResolution(ctx, file, dst, percent)
		})
		return crs, outputs, err
	})
}

// ReadCRS sets the output CRS to the one of the first input
func ReadCRS(provider terrain.SpatialRefProvider) Stage {
	if provider == nil {
		provider = raster.SpatialRefs{}
	}
	return Func("ReadCRS", func(ctx context.Context, _ string, files []string) (string, []string, error) {
		if len(files) == 0 {
			return "", nil, terrain.NewFormatError("no file to read the crs from")
		}
		crs, err := provider.ReadCRS(ctx, files[0])
		if err != nil {
			return "", nil, err
		}
		return crs, files, nil
	})
}

// SetCRS overrides the CRS of the inputs
func SetCRS(crs string) Stage {
	return Func("SetCRS", func(_ context.Context, _ string, files []string) (string, []string, error) {
		return crs, files, nil
	})
}

// EnsureOneBand keeps the first band of the inputs with several bands, into dir
func EnsureOneBand(dir string) Stage {
	return Func("EnsureOneBand", func(ctx context.Context, crs string, files []string) (string, []string, error) {
		outputs, err := mapFiles(ctx, files, func(ctx context.Context, file string) (string, error) {
			dst := filepath.Join(dir, utils.TrimExt(file)+".tif")
			changed, err := raster.EnsureOneBand(ctx, file, dst)
			if err != nil || !changed {
				return file, err
			}
			return dst, nil
		})
		return crs, outputs, err
	})
}

// Remap replaces the value from by to in the inputs, copied into dir
func Remap(dir string, from, to float64) Stage {
	return Func("Remap", func(ctx context.Context, crs string, files []string) (string, []string, error) {
		outputs, err := mapFiles(ctx, files, func(ctx context.Context, file string) (string, error) {
			dst := filepath.Join(dir, utils.TrimExt(file)+".tif")
			if err := raster.Translate(ctx, file, dst); err != nil {
				return "", err
			}
			return dst, raster.Remap(ctx, dst, from, to)
		})
		return crs, outputs, err
	})
}

// AddMissingTiles creates width x height tiles filled with zeros for the cells of the
// grid of the inputs (named {label}_x{i}_y{j}) that no input covers
func AddMissingTiles(label, ext string, width, height int) Stage {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	return Func("AddMissingTiles", func(ctx context.Context, crs string, files []string) (string, []string, error) {
		if len(files) <= 1 {
			return crs, files, nil
		}
		ts := tiles.NewTileSet(label, tiles.GenericCodec)
		ts.AddFiles(files...)
		if err := ts.InitializeMinMaxTiles(ctx); err != nil {
			return "", nil, err
		}
		missing, err := ts.Missing()
		if err != nil {
			return "", nil, err
		}
		dir := filepath.Dir(files[0])
		outputs := append([]string(nil), files...)
		for _, cell := range missing {
			name := filepath.Join(dir, tiles.CellName(label, cell[0], cell[1]))
			dst := name + "." + ext
			if ext == "tif" {
				err = raster.CreateBlank(ctx, dst, width, height, 0)
			} else {
				if err = raster.CreateBlank(ctx, name+".blank.tif", width, height, 0); err == nil {
					err = raster.Convert(ctx, name+".blank.tif", dst)
					os.Remove(name + ".blank.tif")
				}
			}
			if err != nil {
				return "", nil, fmt.Errorf("AddMissingTiles: %w", err)
			}
			outputs = append(outputs, dst)
		}
		log.Logger(ctx).Debug("missing tiles added", zap.Int("tiles", len(missing)))
		return crs, outputs, nil
	})
}

// DecodeTerrainRGB converts RGB-encoded elevation tiles into elevation rasters, into dir
func DecodeTerrainRGB(dir string, enc raster.RGBEncoding) Stage {
	return Func("DecodeTerrainRGB", func(ctx context.Context, crs string, files []string) (string, []string, error) {
		outputs, err := mapFiles(ctx, files, func(ctx context.Context, file string) (string, error) {
			dst := filepath.Join(dir, utils.TrimExt(file)+".tif")
			return dst, raster.DecodeTerrainRGB(ctx, file, dst, enc)
		})
		return crs, outputs, err
	})
}

// ToCOG rewrites the inputs as Cloud Optimized GeoTIFFs, into dir
func ToCOG(dir string, opts raster.COGOptions) Stage {
	return Func("ToCOG", func(ctx context.Context, crs string, files []string) (string, []string, error) {
		outputs, err := mapFiles(ctx, files, func(ctx context.Context, file string) (string, error) {
			dst := filepath.Join(dir, utils.TrimExt(file)+".tif")
			return dst, raster.WriteCOG(ctx, file, dst, opts)
		})
		return crs, outputs, err
	})
}

// Uploader uploads files to an uri
type Uploader interface {
	UploadFile(ctx context.Context, rawURI string, data io.ReadCloser, options ...storage.Option) error
}

// Publish uploads the inputs under prefix. The outputs are the uploaded uris
func Publish(uploader Uploader, prefix string) Stage {
	return Func("Publish", func(ctx context.Context, crs string, files []string) (string, []string, error) {
		outputs := make([]string, len(files))
		g := utils.ErrWaitGroup{}
		for i, file := range files {
			i, file := i, file
			outputs[i] = utils.URLJoin(prefix, filepath.Base(file))
			g.Go(func() error {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				if err := uploader.UploadFile(ctx, outputs[i], f); err != nil {
					return fmt.Errorf("upload %s: %w", outputs[i], err)
				}
				log.Logger(ctx).Info("published", zap.String("uri", outputs[i]))
				return nil
			})
		}
		if errs := g.Wait(); len(errs) > 0 {
			return "", nil, utils.MergeErrors(true, nil, errs...)
		}
		return crs, outputs, nil
	})
}

// Filter keeps the files whose base name matches pattern. It fails if nothing remains
func Filter(pattern *regexp.Regexp) Stage {
	return Func("Filter", func(ctx context.Context, crs string, files []string) (string, []string, error) {
		var kept []string
		for _, file := range files {
			if pattern.MatchString(filepath.Base(file)) {
				kept = append(kept, file)
			}
		}
		if len(kept) == 0 {
			return "", nil, terrain.NewFormatError("no file matches %s", pattern.String())
		}
		return crs, kept, nil
	})
}
