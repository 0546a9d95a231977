package proj

import (
	"fmt"
	"math"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/airbusgeo/godal"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

const (
	RadToDeg = 180 / math.Pi
	DegToRad = math.Pi / 180
)

// CRSFromUserInput initialize a crs from epsg, proj4 or Wkt format
// Return the SRID if known
// The caller is responsible for closing the crs
func CRSFromUserInput(input string) (*godal.SpatialRef, int, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, 0, fmt.Errorf("CRSFromUserInput: empty crs")
	}
	if epsg, err := strconv.Atoi(input); err == nil {
		crs, err := godal.NewSpatialRefFromEPSG(epsg)
		return crs, epsg, err
	}
	if strings.HasPrefix(strings.ToLower(input), "epsg:") {
		epsg, err := strconv.Atoi(input[5:])
		if err != nil {
			return nil, 0, fmt.Errorf("CRSFromUserInput: %w", err)
		}
		crs, err := godal.NewSpatialRefFromEPSG(epsg)
		return crs, epsg, err
	}
	if strings.HasPrefix(input, "+") {
		crs, err := godal.NewSpatialRefFromProj4(input)
		if err != nil {
			return nil, 0, fmt.Errorf("CRSFromUserInput: %w", err)
		}
		return crs, Srid(crs), nil
	}
	crs, err := godal.NewSpatialRefFromWKT(input)
	if err != nil {
		return nil, 0, fmt.Errorf("CRSFromUserInput: %w", err)
	}
	return crs, Srid(crs), nil
}

var crsEPSG = map[int]*godal.SpatialRef{}
var crsEPSGLock sync.Mutex

// CRSFromEPSG initialize a crs from epsg (only once per epsg)
// DO NOT release the crs (it is kept for further uses)
func CRSFromEPSG(epsg int) (*godal.SpatialRef, error) {
	crsEPSGLock.Lock()
	defer crsEPSGLock.Unlock()

	if crs, ok := crsEPSG[epsg]; ok && crs != nil {
		return crs, nil
	}

	crs, err := godal.NewSpatialRefFromEPSG(epsg)
	if err != nil {
		return nil, fmt.Errorf("CRSFromEPSG: %w", err)
	}
	runtime.SetFinalizer(crs, func(crs *godal.SpatialRef) { crs.Close() })
	crsEPSG[epsg] = crs
	return crs, nil
}

// Srid returns the SRID from the crs or 0 if not found
func Srid(crs *godal.SpatialRef) int {
	if crs == nil {
		return 0
	}
	entities := []string{"PROJCS", "PROJCS", "LOCAL_CS", "GEOGCS"}
	for i, entity := range entities {
		if crs.AuthorityName(entity) == "EPSG" {
			if res, err := strconv.Atoi(crs.AuthorityCode(entity)); err == nil {
				return res
			}
		}
		if i == 0 {
			_ = crs.AutoIdentifyEPSG()
		}
	}
	return 0
}

// EPSGString returns "EPSG:<srid>" or "" if the crs cannot be identified
func EPSGString(crs *godal.SpatialRef) string {
	if srid := Srid(crs); srid != 0 {
		return fmt.Sprintf("EPSG:%d", srid)
	}
	return ""
}

// SameCRS returns true if both user inputs describe the same crs
func SameCRS(a, b string) (bool, error) {
	if strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b)) {
		return true, nil
	}
	if a == "" || b == "" {
		return false, nil
	}
	crsA, _, err := CRSFromUserInput(a)
	if err != nil {
		return false, fmt.Errorf("SameCRS.%w", err)
	}
	defer crsA.Close()
	crsB, _, err := CRSFromUserInput(b)
	if err != nil {
		return false, fmt.Errorf("SameCRS.%w", err)
	}
	defer crsB.Close()
	return crsA.IsSame(crsB), nil
}

// Transformer transforms points from one crs to another
type Transformer struct {
	tr *godal.Transform
}

// NewTransformer creates a Transformer from src to dst. The caller must call Close
func NewTransformer(src, dst *godal.SpatialRef) (*Transformer, error) {
	tr, err := godal.NewTransform(src, dst)
	if err != nil {
		return nil, fmt.Errorf("NewTransformer: %w", err)
	}
	return &Transformer{tr: tr}, nil
}

// Transform transforms xs, ys in place.
// It fails if any of the points cannot be transformed
func (t *Transformer) Transform(xs, ys []float64) error {
	if len(xs) != len(ys) {
		return fmt.Errorf("Transform: %d xs for %d ys", len(xs), len(ys))
	}
	ok := make([]bool, len(xs))
	if err := t.tr.TransformEx(xs, ys, make([]float64, len(xs)), ok); err != nil {
		return fmt.Errorf("Transform: %w", err)
	}
	for i := range ok {
		if !ok[i] || math.IsInf(xs[i], 0) || math.IsInf(ys[i], 0) || math.IsNaN(xs[i]) || math.IsNaN(ys[i]) {
			return fmt.Errorf("Transform: point %d is out of the projection domain", i)
		}
	}
	return nil
}

func (t *Transformer) Close() {
	t.tr.Close()
}

// LonLatToWebMercator projects a lon/lat point to EPSG:3857
func LonLatToWebMercator(lon, lat float64) (float64, float64) {
	p := project.WGS84.ToMercator(orb.Point{lon, lat})
	return p[0], p[1]
}
