// Package raster wraps the GDAL operations used to assemble terrain rasters
package raster

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/terrainfetch/internal/log"
	"github.com/airbusgeo/terrainfetch/internal/terrain"
	"github.com/airbusgeo/terrainfetch/internal/utils"
	"github.com/airbusgeo/terrainfetch/internal/utils/affine"
	"github.com/airbusgeo/terrainfetch/internal/utils/proj"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrHandler logs GDAL warnings with the logger of ctx and returns errors
func ErrHandler(ctx context.Context) godal.ErrorHandler {
	return func(ec godal.ErrorCategory, code int, msg string) error {
		if ec <= godal.CE_Warning {
			if ec == godal.CE_Warning {
				log.Logger(ctx).Debug("GDAL warning", zap.Int("code", code), zap.String("msg", msg))
			}
			return nil
		}
		return fmt.Errorf("GDAL %d: %s", code, msg)
	}
}

func toS(f float64) string {
	if math.IsNaN(f) {
		return "nan"
	}
	return utils.F64ToS(f)
}

// Open opens a raster. The caller is responsible for closing the dataset
func Open(ctx context.Context, file string) (*godal.Dataset, error) {
	ds, err := godal.Open(file, godal.ErrLogger(ErrHandler(ctx)))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", file, err)
	}
	return ds, nil
}

// tempName returns a unique /vsimem/ file name
func tempName(ext string) string {
	return "/vsimem/" + uuid.New().String() + "." + ext
}

// ephemeralDataset is a dataset removed on Close
type ephemeralDataset struct {
	*godal.Dataset
	uri string
}

func (ds *ephemeralDataset) Close() error {
	var err error
	if ds.Dataset != nil {
		err = ds.Dataset.Close()
		ds.Dataset = nil
	}
	return utils.MergeErrors(true, err, godal.VSIUnlink(ds.uri))
}

// driverForExt returns the GDAL driver writing files with the given extension
func driverForExt(ext string) (godal.DriverName, error) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "tif", "tiff":
		return godal.GTiff, nil
	case "png":
		return godal.DriverName("PNG"), nil
	case "jpg", "jpeg":
		return godal.DriverName("JPEG"), nil
	case "asc":
		return godal.DriverName("AAIGrid"), nil
	case "vrt":
		return godal.VRT, nil
	case "hgt":
		return godal.DriverName("SRTMHGT"), nil
	case "bil":
		return godal.DriverName("EHdr"), nil
	}
	return "", terrain.NewConfigurationError("unsupported raster extension %q", ext)
}

// outputOptions returns the translate/warp switches for the format of dst
func outputOptions(dst string) []string {
	switch utils.Ext(dst) {
	case "tif", "tiff":
		return []string{"-co", "TILED=YES", "-co", "COMPRESS=DEFLATE", "-co", "BIGTIFF=IF_SAFER"}
	}
	return nil
}

// Translate runs gdal_translate with switches from src to dst
func Translate(ctx context.Context, src, dst string, switches ...string) error {
	ds, err := Open(ctx, src)
	if err != nil {
		return fmt.Errorf("Translate.%w", err)
	}
	defer ds.Close()

	driver, err := driverForExt(utils.Ext(dst))
	if err != nil {
		return fmt.Errorf("Translate: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("Translate: %w", err)
	}
	switches = append(switches, outputOptions(dst)...)
	out, err := ds.Translate(dst, switches, driver, godal.ErrLogger(ErrHandler(ctx)))
	if err != nil {
		return fmt.Errorf("Translate[%s]: %w", strings.Join(switches, " "), err)
	}
	return out.Close()
}

// Convert translates src to dst, in the format given by the extension of dst
func Convert(ctx context.Context, src, dst string) error {
	var switches []string
	switch utils.Ext(dst) {
	case "png":
		switches = append(switches, "-ot", "UInt16", "-scale")
	case "jpg", "jpeg":
		switches = append(switches, "-ot", "Byte", "-scale")
	}
	return Translate(ctx, src, dst, switches...)
}

// Crop crops src to the bbox (in the CRS of src) and optionally resizes it to width x height pixels
func Crop(ctx context.Context, src, dst string, bbox terrain.BoundingBox, width, height int) error {
	ds, err := Open(ctx, src)
	if err != nil {
		return fmt.Errorf("Crop.%w", err)
	}
	defer ds.Close()

	switches := []string{"-te", toS(bbox.MinX()), toS(bbox.MinY()), toS(bbox.MaxX()), toS(bbox.MaxY())}
	if width > 0 && height > 0 {
		switches = append(switches, "-ts", strconv.Itoa(width), strconv.Itoa(height))
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("Crop: %w", err)
	}
	switches = append(switches, outputOptions(dst)...)
	out, err := godal.Warp(dst, []*godal.Dataset{ds}, switches, godal.ErrLogger(ErrHandler(ctx)))
	if err != nil {
		return fmt.Errorf("Crop[%s]: %w", strings.Join(switches, " "), err)
	}
	return out.Close()
}

// ChangeResolution resizes src by percent
func ChangeResolution(ctx context.Context, src, dst string, percent int) error {
	if percent <= 0 {
		return terrain.NewConfigurationError("resolution must be a positive percentage, got %d", percent)
	}
	p := strconv.Itoa(percent) + "%"
	return Translate(ctx, src, dst, "-outsize", p, p, "-r", "bilinear")
}

// BandCount returns the number of bands of file
func BandCount(ctx context.Context, file string) (int, error) {
	ds, err := Open(ctx, file)
	if err != nil {
		return 0, fmt.Errorf("BandCount.%w", err)
	}
	defer ds.Close()
	return ds.Structure().NBands, nil
}

// EnsureOneBand keeps the first band of src. It returns false (and does nothing) if src has only one band
func EnsureOneBand(ctx context.Context, src, dst string) (bool, error) {
	n, err := BandCount(ctx, src)
	if err != nil {
		return false, fmt.Errorf("EnsureOneBand.%w", err)
	}
	if n <= 1 {
		return false, nil
	}
	return true, Translate(ctx, src, dst, "-b", "1")
}

// ReadCRS returns the EPSG:<code> of the projection embedded in file
func ReadCRS(ctx context.Context, file string) (string, error) {
	ds, err := Open(ctx, file)
	if err != nil {
		return "", fmt.Errorf("ReadCRS.%w", err)
	}
	defer ds.Close()
	if ds.Projection() == "" {
		return "", terrain.NewGeometryError(nil, "%s has no projection", file)
	}
	sr := ds.SpatialRef()
	defer sr.Close()
	crs := proj.EPSGString(sr)
	if crs == "" {
		return "", terrain.NewGeometryError(nil, "cannot identify the EPSG code of %s", file)
	}
	return crs, nil
}

// SetGeoreference sets the CRS and the geotransform of file, so that it covers bounds
func SetGeoreference(ctx context.Context, file, crs string, minX, minY, maxX, maxY float64) error {
	sr, _, err := proj.CRSFromUserInput(crs)
	if err != nil {
		return fmt.Errorf("SetGeoreference.%w", err)
	}
	defer sr.Close()

	ds, err := godal.Open(file, godal.Update(), godal.ErrLogger(ErrHandler(ctx)))
	if err != nil {
		return fmt.Errorf("SetGeoreference: open %s: %w", file, err)
	}
	st := ds.Structure()
	gt := affine.FromBounds(minX, minY, maxX, maxY, st.SizeX, st.SizeY)
	if err = ds.SetGeoTransform([6]float64(*gt)); err != nil {
		ds.Close()
		return fmt.Errorf("SetGeoreference.SetGeoTransform: %w", err)
	}
	if err = ds.SetSpatialRef(sr); err != nil {
		ds.Close()
		return fmt.Errorf("SetGeoreference.SetSpatialRef: %w", err)
	}
	return ds.Close()
}

// CreateBlank creates a one-band Float32 raster of width x height pixels, filled with value
func CreateBlank(ctx context.Context, file string, width, height int, value float64) error {
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return fmt.Errorf("CreateBlank: %w", err)
	}
	ds, err := godal.Create(godal.GTiff, file, 1, godal.Float32, width, height, godal.ErrLogger(ErrHandler(ctx)))
	if err != nil {
		return fmt.Errorf("CreateBlank: %w", err)
	}
	buf := make([]float32, width)
	for i := range buf {
		buf[i] = float32(value)
	}
	band := ds.Bands()[0]
	for y := 0; y < height; y++ {
		if err := band.Write(0, y, buf, width, 1); err != nil {
			ds.Close()
			return fmt.Errorf("CreateBlank.Write: %w", err)
		}
	}
	return ds.Close()
}

// MinMax returns the minimum and maximum valid values of the first band of files.
// Files are read concurrently
func MinMax(ctx context.Context, files ...string) (float64, float64, error) {
	mins := make([]float64, len(files))
	maxs := make([]float64, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			var err error
			mins[i], maxs[i], err = bandMinMax(gctx, file)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, fmt.Errorf("MinMax.%w", err)
	}
	min, max := math.Inf(1), math.Inf(-1)
	for i := range files {
		min, max = math.Min(min, mins[i]), math.Max(max, maxs[i])
	}
	if math.IsInf(min, 1) {
		return 0, 0, terrain.NewFormatError("no valid pixel in %d files", len(files))
	}
	return min, max, nil
}

func bandMinMax(ctx context.Context, file string) (float64, float64, error) {
	min, max := math.Inf(1), math.Inf(-1)
	ds, err := Open(ctx, file)
	if err != nil {
		return min, max, err
	}
	defer ds.Close()
	st := ds.Structure()
	band := ds.Bands()[0]
	nodata, hasNoData := band.NoData()
	buf := make([]float64, st.SizeX)
	for y := 0; y < st.SizeY; y++ {
		if err := ctx.Err(); err != nil {
			return min, max, err
		}
		if err := band.Read(0, y, buf, st.SizeX, 1); err != nil {
			return min, max, fmt.Errorf("read %s: %w", file, err)
		}
		for _, v := range buf {
			if math.IsNaN(v) || (hasNoData && v == nodata) {
				continue
			}
			min, max = math.Min(min, v), math.Max(max, v)
		}
	}
	return min, max, nil
}

// Georeference copies src to dst, assigning crs and the extent [minX, maxX] x [minY, maxY]
func Georeference(ctx context.Context, src, dst, crs string, minX, minY, maxX, maxY float64) error {
	return Translate(ctx, src, dst, "-a_srs", crs, "-a_ullr", toS(minX), toS(maxY), toS(maxX), toS(minY))
}

// Remap replaces the value from by to in the first band of file
func Remap(ctx context.Context, file string, from, to float64) error {
	ds, err := godal.Open(file, godal.Update(), godal.ErrLogger(ErrHandler(ctx)))
	if err != nil {
		return fmt.Errorf("Remap: open %s: %w", file, err)
	}
	st := ds.Structure()
	band := ds.Bands()[0]
	buf := make([]float64, st.SizeX)
	for y := 0; y < st.SizeY; y++ {
		if err := band.Read(0, y, buf, st.SizeX, 1); err != nil {
			ds.Close()
			return fmt.Errorf("Remap.Read: %w", err)
		}
		changed := false
		for i, v := range buf {
			if v == from || (math.IsNaN(from) && math.IsNaN(v)) {
				buf[i] = to
				changed = true
			}
		}
		if !changed {
			continue
		}
		if err := band.Write(0, y, buf, st.SizeX, 1); err != nil {
			ds.Close()
			return fmt.Errorf("Remap.Write: %w", err)
		}
	}
	return ds.Close()
}

// SpatialRefs implements terrain.SpatialRefProvider with GDAL
type SpatialRefs struct{}

func (SpatialRefs) SpatialRef(crs string) (*godal.SpatialRef, error) {
	sr, _, err := proj.CRSFromUserInput(crs)
	if err != nil {
		return nil, terrain.NewConfigurationError("invalid crs %q: %v", crs, err)
	}
	return sr, nil
}

func (SpatialRefs) ReadCRS(ctx context.Context, file string) (string, error) {
	return ReadCRS(ctx, file)
}
