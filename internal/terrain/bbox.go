package terrain

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/twpayne/go-geom"
)

// BoundingBox is an axis-aligned extent expressed in CRS, with an optional output size in pixels
type BoundingBox struct {
	CRS    string
	Bounds *geom.Bounds
	Width  int
	Height int
}

// NewBoundingBox creates a bounding box. Width and Height may be 0 (unspecified)
func NewBoundingBox(crs string, minX, maxX, minY, maxY float64, width, height int) BoundingBox {
	b := geom.NewBounds(geom.XY)
	b.Set(minX, minY, maxX, maxY)
	return BoundingBox{CRS: crs, Bounds: b, Width: width, Height: height}
}

func (b BoundingBox) MinX() float64 { return b.Bounds.Min(0) }
func (b BoundingBox) MaxX() float64 { return b.Bounds.Max(0) }
func (b BoundingBox) MinY() float64 { return b.Bounds.Min(1) }
func (b BoundingBox) MaxY() float64 { return b.Bounds.Max(1) }

// PixelSize returns Width and Height, or the extent itself (one unit per pixel) when unspecified
func (b BoundingBox) PixelSize() (int, int) {
	w, h := b.Width, b.Height
	if w == 0 && h == 0 {
		w = int(math.Round(b.MaxX() - b.MinX()))
		h = int(math.Round(b.MaxY() - b.MinY()))
	}
	return w, h
}

// Validate checks that the extent is not empty and that the requested
// raster size is positive and at most maxPixels in each dimension (0 for no limit)
func (b BoundingBox) Validate(label string, maxPixels int) error {
	if b.Bounds == nil {
		return NewConfigurationError("the bounding box of %s is missing", label)
	}
	if b.MaxX() <= b.MinX() {
		return NewConfigurationError("the width of %s is not positive, make sure you entered the coordinates as MinX,MaxX,MinY,MaxY", label)
	}
	if b.MaxY() <= b.MinY() {
		return NewConfigurationError("the height of %s is not positive, make sure you entered the coordinates as MinX,MaxX,MinY,MaxY", label)
	}
	w, h := b.PixelSize()
	if w <= 0 {
		return NewConfigurationError("the width of %s is not positive", label)
	}
	if h <= 0 {
		return NewConfigurationError("the height of %s is not positive", label)
	}
	if maxPixels > 0 && w > maxPixels {
		return NewConfigurationError("the width of %s is higher than %dpx", label, maxPixels)
	}
	if maxPixels > 0 && h > maxPixels {
		return NewConfigurationError("the height of %s is higher than %dpx", label, maxPixels)
	}
	return nil
}

var bboxPattern = regexp.MustCompile(`^\s*([-\d.]+)\s*,\s*([-\d.]+)\s*,\s*([-\d.]+)\s*,\s*([-\d.]+)\s*(?:,\s*(\d+)\s*,\s*(\d+)\s*)?$`)

// ParseBoundingBox parses "MinX,MaxX,MinY,MaxY[,Width,Height]"
func ParseBoundingBox(crs, descr string) (BoundingBox, error) {
	m := bboxPattern.FindStringSubmatch(descr)
	if m == nil {
		return BoundingBox{}, NewConfigurationError("please use the format MinX,MaxX,MinY,MaxY (and optionally ,Width,Height): got %q", descr)
	}
	var coords [4]float64
	for i := range coords {
		v, err := strconv.ParseFloat(m[i+1], 64)
		if err != nil {
			return BoundingBox{}, NewConfigurationError("invalid coordinate %q in %q", m[i+1], descr)
		}
		coords[i] = v
	}
	var width, height int
	if m[5] != "" {
		width, _ = strconv.Atoi(m[5])
		height, _ = strconv.Atoi(m[6])
	}
	// inverted coordinates are kept as is, and rejected by Validate
	return NewBoundingBox(crs, coords[0], coords[1], coords[2], coords[3], width, height), nil
}

// String returns the bbox as "MinX,MaxX,MinY,MaxY"
func (b BoundingBox) String() string {
	return strings.Join([]string{f64(b.MinX()), f64(b.MaxX()), f64(b.MinY()), f64(b.MaxY())}, ",")
}

func f64(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
