package raster

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/airbusgeo/cogger"
	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/terrainfetch/internal/utils"
	"github.com/google/tiff"
)

// COGOptions configures WriteCOG
type COGOptions struct {
	BlockSize        int
	OverviewsMinSize int // 0: no overview
	Resampling       godal.ResamplingAlg
	Lossy            bool
}

// DefaultCOGOptions are 256px blocks with bilinear overviews down to 256px
var DefaultCOGOptions = COGOptions{BlockSize: 256, OverviewsMinSize: 256, Resampling: godal.Bilinear}

// WriteCOG rewrites src as a Cloud Optimized GeoTIFF with overviews.
// Nodata, if any, is copied from the first band of src
func WriteCOG(ctx context.Context, src, dst string, opts COGOptions) error {
	ds, err := Open(ctx, src)
	if err != nil {
		return fmt.Errorf("WriteCOG.%w", err)
	}
	defer ds.Close()

	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultCOGOptions.BlockSize
	}
	st := ds.Structure()
	options := []string{
		"-co", "TILED=YES",
		"-co", fmt.Sprintf("BLOCKXSIZE=%d", opts.BlockSize),
		"-co", fmt.Sprintf("BLOCKYSIZE=%d", opts.BlockSize),
		"-co", "NUM_THREADS=ALL_CPUS",
		"-co", "SPARSE_OK=TRUE",
	}
	options = append(options, compressionOptions(st.DataType, opts.Lossy)...)
	if st.SizeX*st.SizeY >= 10000*10000 {
		options = append(options, "-co", "BIGTIFF=YES")
	}

	tmp := tempName("tif")
	tds, err := ds.Translate(tmp, options, godal.GTiff, godal.ErrLogger(ErrHandler(ctx)))
	if err != nil {
		return fmt.Errorf("WriteCOG.Translate: %w", err)
	}
	eds := &ephemeralDataset{Dataset: tds, uri: tmp}
	defer eds.Close()

	if opts.OverviewsMinSize > 0 {
		if err := tds.BuildOverviews(godal.Resampling(opts.Resampling), godal.MinSize(opts.OverviewsMinSize)); err != nil {
			return fmt.Errorf("WriteCOG.BuildOverviews: %w", err)
		}
	}
	if nodata, ok := ds.Bands()[0].NoData(); ok {
		for _, band := range tds.Bands() {
			if err := band.SetNoData(nodata); err != nil {
				return fmt.Errorf("WriteCOG.SetNoData: %w", err)
			}
		}
	}
	// flush before rewriting
	err = tds.Close()
	eds.Dataset = nil
	if err != nil {
		return fmt.Errorf("WriteCOG: %w", err)
	}

	if err := rewriteTiff(tmp, dst); err != nil {
		return fmt.Errorf("WriteCOG: %w", err)
	}
	return nil
}

func compressionOptions(dtype godal.DataType, lossy bool) []string {
	switch dtype {
	case godal.Float32, godal.Float64:
		if lossy {
			return []string{"-co", "COMPRESS=LERC_ZSTD", "-co", "MAX_Z_ERROR=0.01"}
		}
		return []string{"-co", "COMPRESS=LERC_ZSTD", "-co", "MAX_Z_ERROR=0"}
	case godal.Byte, godal.Int16, godal.UInt16, godal.Int32, godal.UInt32:
		if lossy {
			return []string{"-co", "COMPRESS=LERC", "-co", "MAX_Z_ERROR=0.01"}
		}
		return []string{"-co", "COMPRESS=ZSTD", "-co", "PREDICTOR=2"}
	}
	return nil
}

// rewriteTiff reorders the IFDs and the blocks of the tiff src into dst
func rewriteTiff(src, dst string) error {
	fd, err := godal.VSIOpen(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer fd.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	if err = cogger.Rewrite(out, tiff.NewReadAtReadSeeker(fd)); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to rewrite cog: %w", err)
	}
	if err = out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

// CheckCOG returns an error if file is not tiled or if its IFDs and blocks are not in the cloud-optimized order
func CheckCOG(ctx context.Context, file string) error {
	ds, err := godal.Open(file, godal.Drivers("GTiff"), godal.ErrLogger(ErrHandler(ctx)))
	if err != nil {
		return fmt.Errorf("CheckCOG: %w", err)
	}
	defer ds.Close()

	band := ds.Bands()[0]
	bst := band.Structure()
	if (bst.SizeX > 512 || bst.SizeY > 512) &&
		((bst.BlockSizeX == bst.SizeX && bst.BlockSizeX > 1024) || (bst.BlockSizeY == bst.SizeY && bst.BlockSizeY > 1024)) {
		err = utils.MergeErrors(true, err, fmt.Errorf("%s is larger than 1024px but is not tiled", file))
	}

	levels := append([]godal.Band{band}, band.Overviews()...)
	ifdOffsets := make([]int, len(levels))
	dataOffsets := make([]int, len(levels))
	for i, b := range levels {
		var e error
		if ifdOffsets[i], e = strconv.Atoi(b.Metadata("IFD_OFFSET", godal.Domain("TIFF"))); e != nil {
			err = utils.MergeErrors(true, err, fmt.Errorf("level %d: IFD_OFFSET: %w", i, e))
		}
		dataOffsets[i] = firstBlockOffset(b)
		if i > 0 && ifdOffsets[i] < ifdOffsets[i-1] {
			err = utils.MergeErrors(true, err, fmt.Errorf("the IFD of level %d is at byte %d, before the one of level %d", i, ifdOffsets[i], i-1))
		}
	}
	last := len(levels) - 1
	if dataOffsets[last] > 0 && dataOffsets[last] < ifdOffsets[last] {
		err = utils.MergeErrors(true, err, fmt.Errorf("the first block of the smallest level is before its IFD"))
	}
	if last > 0 && dataOffsets[0] > 0 && dataOffsets[0] < dataOffsets[1] {
		err = utils.MergeErrors(true, err, fmt.Errorf("the blocks of the full resolution are before the ones of the overviews"))
	}
	return err
}

func firstBlockOffset(band godal.Band) int {
	st := band.Structure()
	for y := 0; y < (st.SizeY+st.BlockSizeY-1)/st.BlockSizeY; y++ {
		for x := 0; x < (st.SizeX+st.BlockSizeX-1)/st.BlockSizeX; x++ {
			if offset := band.Metadata(fmt.Sprintf("BLOCK_OFFSET_%d_%d", x, y), godal.Domain("TIFF")); offset != "" {
				i, err := strconv.Atoi(offset)
				if err != nil {
					return -1
				}
				return i
			}
		}
	}
	return -1
}
