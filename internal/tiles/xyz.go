package tiles

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/airbusgeo/terrainfetch/internal/terrain"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// MaxLatitude bounds the web mercator domain
const MaxLatitude = 85.0511287798

// XYZGrid is the range of slippy map tiles covering a lon/lat extent at a given zoom
type XYZGrid struct {
	Zoom       maptile.Zoom
	MinX, MaxX uint32
	MinY, MaxY uint32
}

// NewXYZGrid returns the tiles covering [minLon, maxLon] x [minLat, maxLat] at zoom
func NewXYZGrid(zoom int, minLon, maxLon, minLat, maxLat float64) (XYZGrid, error) {
	if zoom < 0 || zoom > 24 {
		return XYZGrid{}, terrain.NewConfigurationError("zoom %d must be between 0 and 24", zoom)
	}
	if minLon >= maxLon || minLat >= maxLat {
		return XYZGrid{}, terrain.NewConfigurationError("invalid extent [%v, %v] x [%v, %v]", minLon, maxLon, minLat, maxLat)
	}
	if minLat < -MaxLatitude || maxLat > MaxLatitude {
		return XYZGrid{}, terrain.NewConfigurationError("latitudes must be within ±%v", MaxLatitude)
	}
	z := maptile.Zoom(zoom)
	// y grows southwards: the top-left tile holds (minLon, maxLat)
	tl := maptile.At(orb.Point{minLon, maxLat}, z)
	br := maptile.At(orb.Point{maxLon, minLat}, z)
	return XYZGrid{Zoom: z, MinX: tl.X, MaxX: br.X, MinY: tl.Y, MaxY: br.Y}, nil
}

// Width returns the number of columns
func (g XYZGrid) Width() int {
	return int(g.MaxX-g.MinX) + 1
}

// Height returns the number of rows
func (g XYZGrid) Height() int {
	return int(g.MaxY-g.MinY) + 1
}

// Len returns the number of tiles
func (g XYZGrid) Len() int {
	return g.Width() * g.Height()
}

// Tile returns the i-th tile, row by row
func (g XYZGrid) Tile(i int) maptile.Tile {
	w := g.Width()
	return maptile.New(uint32(i%w)+g.MinX, uint32(i/w)+g.MinY, g.Zoom)
}

// Tiles returns all the tiles, row by row
func (g XYZGrid) Tiles() []maptile.Tile {
	res := make([]maptile.Tile, g.Len())
	for i := range res {
		res[i] = g.Tile(i)
	}
	return res
}

// Name returns the grid-relative name {label}_x{X-MinX}_y{Y-MinY} of a tile
func (g XYZGrid) Name(label string, t maptile.Tile) string {
	return CellName(label, int(t.X-g.MinX), int(t.Y-g.MinY))
}

// TileURL substitutes {z}, {x} and {y} in template.
// With tms, the y axis is flipped (origin at the bottom).
func TileURL(template string, t maptile.Tile, tms bool) string {
	y := t.Y
	if tms {
		y = (uint32(1) << uint32(t.Z)) - 1 - t.Y
	}
	return strings.NewReplacer(
		"{z}", strconv.Itoa(int(t.Z)),
		"{x}", strconv.FormatUint(uint64(t.X), 10),
		"{y}", strconv.FormatUint(uint64(y), 10),
	).Replace(template)
}

// DownloadName returns the name of the raw downloaded tile: {layer}-{z}-{x}-{y}.{ext}
func DownloadName(layer string, t maptile.Tile, ext string) string {
	return fmt.Sprintf("%s-%d-%d-%d.%s", layer, t.Z, t.X, t.Y, ext)
}
