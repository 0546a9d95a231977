package tiles

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/airbusgeo/terrainfetch/internal/log"
	"github.com/airbusgeo/terrainfetch/internal/utils"
	"go.uber.org/zap"
)

var (
	ErrEmptyTileSet   = errors.New("empty tile set")
	ErrNotInitialized = errors.New("tile set is not initialized: call InitializeMinMaxTiles first")
)

// Tile is a raw tile and its grid coordinates
type Tile struct {
	RawID    string
	X, Y     int
	Location string
}

// TileSet gathers the tiles of a source.
// FirstX, LastX, FirstY, LastY are only valid after InitializeMinMaxTiles
type TileSet struct {
	Label        string
	Codec        Codec
	Tiles        []Tile
	FirstX       int
	LastX        int
	FirstY       int
	LastY        int
	TileWidthPx  int
	TileHeightPx int

	initialized bool
}

// NewTileSet creates a tileset with the given codec and label
func NewTileSet(label string, codec Codec) *TileSet {
	return &TileSet{Label: label, Codec: codec}
}

// RawID returns the identifier of a tile file: its base name without extension
func RawID(file string) string {
	return utils.TrimExt(filepath.Base(file))
}

// AddFiles appends one tile per file. Tiles must be initialized again.
func (ts *TileSet) AddFiles(files ...string) {
	for _, f := range files {
		ts.Tiles = append(ts.Tiles, Tile{RawID: RawID(f), Location: f})
	}
	ts.initialized = false
}

// InitializeMinMaxTiles decodes the grid coordinates of all the tiles and computes the grid bounds.
// A malformed identifier aborts the whole set. Duplicate identifiers are removed, the last one wins.
func (ts *TileSet) InitializeMinMaxTiles(ctx context.Context) error {
	ts.initialized = false
	if len(ts.Tiles) == 0 {
		return ErrEmptyTileSet
	}

	index := make(map[string]int, len(ts.Tiles))
	tiles := make([]Tile, 0, len(ts.Tiles))
	for _, t := range ts.Tiles {
		x, err := ts.Codec.TileToX(t.RawID)
		if err != nil {
			return fmt.Errorf("InitializeMinMaxTiles[%s]: %w", ts.Label, err)
		}
		y, err := ts.Codec.TileToY(t.RawID)
		if err != nil {
			return fmt.Errorf("InitializeMinMaxTiles[%s]: %w", ts.Label, err)
		}
		t.X, t.Y = x, y
		if i, ok := index[t.RawID]; ok {
			log.Logger(ctx).Warn("duplicate tile", zap.String("tile", t.RawID),
				zap.String("replaced", tiles[i].Location), zap.String("by", t.Location))
			tiles[i] = t
			continue
		}
		index[t.RawID] = len(tiles)
		tiles = append(tiles, t)
	}

	ts.FirstX, ts.LastX = tiles[0].X, tiles[0].X
	ts.FirstY, ts.LastY = tiles[0].Y, tiles[0].Y
	for _, t := range tiles[1:] {
		ts.FirstX, _ = utils.MinMaxI(ts.FirstX, t.X)
		_, ts.LastX = utils.MinMaxI(ts.LastX, t.X)
		ts.FirstY, _ = utils.MinMaxI(ts.FirstY, t.Y)
		_, ts.LastY = utils.MinMaxI(ts.LastY, t.Y)
	}
	ts.Tiles = tiles
	ts.initialized = true
	return nil
}

// Initialized returns true if the grid bounds are valid
func (ts *TileSet) Initialized() bool {
	return ts.initialized
}

// Width returns the number of columns of the grid
func (ts *TileSet) Width() int {
	return ts.LastX - ts.FirstX + 1
}

// Height returns the number of rows of the grid
func (ts *TileSet) Height() int {
	return ts.LastY - ts.FirstY + 1
}

// Rename returns the grid-relative name of the tile: {label}_x{X-firstX}_y{Y-firstY}
func (ts *TileSet) Rename(t Tile) (string, error) {
	if !ts.initialized {
		return "", ErrNotInitialized
	}
	return CellName(ts.Label, t.X-ts.FirstX, t.Y-ts.FirstY), nil
}

// CellName returns the canonical name of the cell (i, j)
func CellName(label string, i, j int) string {
	return fmt.Sprintf("%s_x%d_y%d", label, i, j)
}

// Contains returns true if a tile has the grid coordinates (x, y)
func (ts *TileSet) Contains(x, y int) bool {
	for _, t := range ts.Tiles {
		if t.X == x && t.Y == y {
			return true
		}
	}
	return false
}

// Missing returns the zero-based cells of the grid that no tile covers
func (ts *TileSet) Missing() ([][2]int, error) {
	if !ts.initialized {
		return nil, ErrNotInitialized
	}
	covered := make(map[[2]int]bool, len(ts.Tiles))
	for _, t := range ts.Tiles {
		covered[[2]int{t.X - ts.FirstX, t.Y - ts.FirstY}] = true
	}
	var missing [][2]int
	for j := 0; j < ts.Height(); j++ {
		for i := 0; i < ts.Width(); i++ {
			if !covered[[2]int{i, j}] {
				missing = append(missing, [2]int{i, j})
			}
		}
	}
	return missing, nil
}
