package raster

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/terrainfetch/internal/terrain"
)

// RGBEncoding encodes elevations in the RGB bands of a tile
type RGBEncoding int

const (
	Mapbox RGBEncoding = iota
	Terrarium
)

// ParseRGBEncoding returns the encoding named s ("mapbox" or "terrarium")
func ParseRGBEncoding(s string) (RGBEncoding, error) {
	switch s {
	case "mapbox", "Mapbox":
		return Mapbox, nil
	case "terrarium", "Terrarium":
		return Terrarium, nil
	}
	return 0, terrain.NewConfigurationError("unknown rgb encoding %q", s)
}

// Elevation decodes the elevation of a pixel
func (e RGBEncoding) Elevation(r, g, b uint8) float32 {
	if e == Terrarium {
		return float32(r)*256 + float32(g) + float32(b)/256 - 32768
	}
	return float32(-10000 + float64(int(r)*65536+int(g)*256+int(b))*0.1)
}

// DecodeTerrainRGB converts the RGB tile src into a one-band Float32 elevation raster dst, keeping the georeference of src
func DecodeTerrainRGB(ctx context.Context, src, dst string, enc RGBEncoding) error {
	ds, err := Open(ctx, src)
	if err != nil {
		return fmt.Errorf("DecodeTerrainRGB.%w", err)
	}
	defer ds.Close()

	st := ds.Structure()
	if st.NBands < 3 {
		return terrain.NewFormatError("%s has %d bands, expected RGB", src, st.NBands)
	}
	bands := ds.Bands()
	w, h := st.SizeX, st.SizeY
	var rgb [3][]uint8
	for i := range rgb {
		rgb[i] = make([]uint8, w*h)
		if err := bands[i].Read(0, 0, rgb[i], w, h); err != nil {
			return fmt.Errorf("DecodeTerrainRGB.Read: %w", err)
		}
	}
	elevation := make([]float32, w*h)
	for i := range elevation {
		elevation[i] = enc.Elevation(rgb[0][i], rgb[1][i], rgb[2][i])
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("DecodeTerrainRGB: %w", err)
	}
	out, err := godal.Create(godal.GTiff, dst, 1, godal.Float32, w, h, godal.ErrLogger(ErrHandler(ctx)))
	if err != nil {
		return fmt.Errorf("DecodeTerrainRGB.Create: %w", err)
	}
	if gt, err := ds.GeoTransform(); err == nil {
		if err := out.SetGeoTransform(gt); err != nil {
			out.Close()
			return fmt.Errorf("DecodeTerrainRGB.SetGeoTransform: %w", err)
		}
	}
	if ds.Projection() != "" {
		if err := out.SetProjection(ds.Projection()); err != nil {
			out.Close()
			return fmt.Errorf("DecodeTerrainRGB.SetProjection: %w", err)
		}
	}
	if err := out.Bands()[0].Write(0, 0, elevation, w, h); err != nil {
		out.Close()
		return fmt.Errorf("DecodeTerrainRGB.Write: %w", err)
	}
	return out.Close()
}
