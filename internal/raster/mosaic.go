package raster

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/terrainfetch/internal/log"
	"github.com/airbusgeo/terrainfetch/internal/terrain"
	"github.com/airbusgeo/terrainfetch/internal/utils"
	"github.com/airbusgeo/terrainfetch/internal/utils/affine"
	"github.com/airbusgeo/terrainfetch/internal/utils/proj"
	"go.uber.org/zap"
)

// CornerTransformer transforms coordinates in place
type CornerTransformer interface {
	Transform(xs, ys []float64) error
}

// Identity does not transform the coordinates
type Identity struct{}

func (Identity) Transform(xs, ys []float64) error { return nil }

type layout struct {
	nbands int
	dtype  godal.DataType
}

// Merge builds a virtual mosaic of files, preserving their native resolution and extent.
// A single file is opened as is.
// The caller is responsible for closing the returned dataset
func Merge(ctx context.Context, files []string, dst string) (*godal.Dataset, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("Merge: no file to merge")
	}
	if len(files) == 1 {
		return Open(ctx, files[0])
	}

	var ref layout
	for i, file := range files {
		ds, err := Open(ctx, file)
		if err != nil {
			return nil, fmt.Errorf("Merge.%w", err)
		}
		st := ds.Structure()
		l := layout{nbands: st.NBands, dtype: st.DataType}
		ds.Close()
		if i == 0 {
			ref = l
			continue
		}
		if l.nbands != ref.nbands {
			return nil, terrain.NewFormatError("cannot merge %s (%d bands) with %s (%d bands)", file, l.nbands, files[0], ref.nbands)
		}
		if l.dtype != ref.dtype {
			return nil, terrain.NewFormatError("cannot merge %s (%s) with %s (%s)", file, l.dtype.String(), files[0], ref.dtype.String())
		}
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil && !strings.HasPrefix(dst, "/vsi") {
		return nil, fmt.Errorf("Merge: %w", err)
	}
	ds, err := godal.BuildVRT(dst, files, nil, godal.ErrLogger(ErrHandler(ctx)))
	if err != nil {
		return nil, fmt.Errorf("Merge.BuildVRT: %w", err)
	}
	log.Logger(ctx).Debug("mosaic built", zap.String("vrt", dst), zap.Int("files", len(files)))
	return ds, nil
}

// CropWindow returns the largest axis-aligned window inside the quadrilateral
// given by the corners bottom-left, top-left, top-right, bottom-right
func CropWindow(c [4][2]float64) (xmin, ymin, xmax, ymax float64) {
	xmin = math.Max(c[0][0], c[1][0])
	xmax = math.Min(c[2][0], c[3][0])
	ymin = math.Max(c[0][1], c[3][1])
	ymax = math.Min(c[1][1], c[2][1])
	return
}

// Warp reprojects src into targetCRS, cropped to the transformed extent of src.
// Pixels outside the source coverage are set to nodata
func Warp(ctx context.Context, src, targetCRS string, nodata float64, dst string) error {
	ds, err := Open(ctx, src)
	if err != nil {
		return terrain.NewGeometryError(err, "cannot open %s", src)
	}
	defer ds.Close()
	return warpDataset(ctx, ds, targetCRS, nodata, dst, nil)
}

// WarpWith is Warp, with the corners of src transformed by tr
func WarpWith(ctx context.Context, src, targetCRS string, nodata float64, dst string, tr CornerTransformer) error {
	ds, err := Open(ctx, src)
	if err != nil {
		return terrain.NewGeometryError(err, "cannot open %s", src)
	}
	defer ds.Close()
	return warpDataset(ctx, ds, targetCRS, nodata, dst, tr)
}

// WarpFiles merges files and warps the mosaic to dst. The mosaic is written next to dst, as <base>.vrt
func WarpFiles(ctx context.Context, files []string, targetCRS string, nodata float64, dst string) error {
	vrt := filepath.Join(filepath.Dir(dst), utils.TrimExt(dst)+".vrt")
	ds, err := Merge(ctx, files, vrt)
	if err != nil {
		return fmt.Errorf("WarpFiles.%w", err)
	}
	defer ds.Close()
	return warpDataset(ctx, ds, targetCRS, nodata, dst, nil)
}

// sourceTransformer returns the transformer from the crs of ds to targetCRS
func sourceTransformer(ds *godal.Dataset, targetCRS string) (*proj.Transformer, error) {
	if ds.Projection() == "" {
		return nil, terrain.NewGeometryError(nil, "the source has no projection")
	}
	srcSR := ds.SpatialRef()
	defer srcSR.Close()
	dstSR, _, err := proj.CRSFromUserInput(targetCRS)
	if err != nil {
		return nil, terrain.NewGeometryError(err, "invalid target crs %q", targetCRS)
	}
	defer dstSR.Close()
	tr, err := proj.NewTransformer(srcSR, dstSR)
	if err != nil {
		return nil, terrain.NewGeometryError(err, "cannot transform to %s", targetCRS)
	}
	return tr, nil
}

func warpDataset(ctx context.Context, ds *godal.Dataset, targetCRS string, nodata float64, dst string, tr CornerTransformer) error {
	gt, err := ds.GeoTransform()
	if err != nil {
		return terrain.NewGeometryError(err, "the source has no geotransform")
	}
	if tr == nil {
		ptr, err := sourceTransformer(ds, targetCRS)
		if err != nil {
			return err
		}
		defer ptr.Close()
		tr = ptr
	}

	st := ds.Structure()
	aff := affine.Affine(gt)
	corners := aff.Corners(st.SizeX, st.SizeY)
	xs := []float64{corners[0][0], corners[1][0], corners[2][0], corners[3][0]}
	ys := []float64{corners[0][1], corners[1][1], corners[2][1], corners[3][1]}
	if err := tr.Transform(xs, ys); err != nil {
		return terrain.NewGeometryError(err, "cannot transform the corners of the source to %s", targetCRS)
	}
	for i := range corners {
		corners[i] = [2]float64{xs[i], ys[i]}
	}
	xmin, ymin, xmax, ymax := CropWindow(corners)
	if !(xmax > xmin) || !(ymax > ymin) {
		return terrain.NewGeometryError(nil, "empty crop window [%s,%s]x[%s,%s] in %s",
			toS(xmin), toS(xmax), toS(ymin), toS(ymax), targetCRS)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("Warp: %w", err)
	}
	options := []string{
		"-r", "bilinear",
		"-t_srs", targetCRS,
		"-te", toS(xmin), toS(ymin), toS(xmax), toS(ymax),
		"-dstnodata", toS(nodata),
		"-wo", "INIT_DEST=NO_DATA",
		"-wm", "500",
		"-multi",
		"-overwrite",
	}
	options = append(options, outputOptions(dst)...)
	log.Logger(ctx).Debug("warp", zap.String("dst", dst), zap.Strings("options", options))

	driver, err := driverForExt(utils.Ext(dst))
	if err != nil {
		return fmt.Errorf("Warp: %w", err)
	}
	out, err := godal.Warp(dst, []*godal.Dataset{ds}, options, driver, godal.ErrLogger(ErrHandler(ctx)))
	if err != nil {
		return fmt.Errorf("Warp[%s]: %w", strings.Join(options, " "), err)
	}
	return out.Close()
}
