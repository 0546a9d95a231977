package terrain

import (
	"context"

	"github.com/airbusgeo/godal"
)

// SpatialRefProvider resolves CRS inputs, or reads them out of rasters
type SpatialRefProvider interface {
	// SpatialRef returns the spatial reference of an EPSG code, a proj string or a WKT.
	// The caller is responsible for closing it
	SpatialRef(crs string) (*godal.SpatialRef, error)
	// ReadCRS returns the EPSG:<code> of the projection embedded in file
	ReadCRS(ctx context.Context, file string) (string, error)
}
