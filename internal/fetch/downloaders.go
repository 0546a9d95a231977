package fetch

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/airbusgeo/terrainfetch/internal/concurrency"
	"github.com/airbusgeo/terrainfetch/internal/download"
	"github.com/airbusgeo/terrainfetch/internal/log"
	"github.com/airbusgeo/terrainfetch/internal/raster"
	"github.com/airbusgeo/terrainfetch/internal/terrain"
	"github.com/airbusgeo/terrainfetch/internal/tiles"
	"github.com/airbusgeo/terrainfetch/internal/utils"
	"github.com/airbusgeo/terrainfetch/internal/utils/proj"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type urlStage struct {
	Output
	d         *download.Downloader
	url, path string
	crs       string
}

// URL downloads url into dir. The file name is the last element of the url path
func URL(d *download.Downloader, url, dir, crs string) Stage {
	return URLTo(d, url, filepath.Join(dir, utils.URLFileName(url)), crs)
}

// URLTo downloads url to path
func URLTo(d *download.Downloader, url, path, crs string) Stage {
	return &urlStage{d: d, url: url, path: path, crs: crs}
}

func (s *urlStage) Name() string { return "URL" }

func (s *urlStage) Fetch(ctx context.Context, crs string, files []string, onComplete concurrency.Done) {
	s.d.FromURL(ctx, s.url, s.path, func(ok bool) {
		if ok {
			s.set(s.crs, []string{s.path})
		}
		onComplete(ok)
	})
}

type manyStage struct {
	Output
	name string
	d    *download.Downloader
	urls func() ([]string, error)
	dir  string
	crs  string
}

func (s *manyStage) Name() string { return s.name }

func (s *manyStage) Fetch(ctx context.Context, crs string, files []string, onComplete concurrency.Done) {
	urls, err := s.urls()
	if err != nil {
		log.Logger(ctx).Error(s.name+" failed", zap.Error(err))
		onComplete(false)
		return
	}
	paths := make([]string, len(urls))
	for i, u := range urls {
		paths[i] = filepath.Join(s.dir, utils.URLFileName(u))
	}
	s.d.ManyToPaths(ctx, urls, paths, func(ok bool) {
		if ok {
			s.set(s.crs, paths)
		}
		onComplete(ok)
	})
}

// ListDownloader downloads every link of listFile (one per line) into dir
func ListDownloader(d *download.Downloader, listFile, dir string) Stage {
	return &manyStage{name: "ListDownloader", d: d, dir: dir, urls: func() ([]string, error) {
		return ReadLinks(listFile)
	}}
}

// StorageFiles downloads http(s)://, gs://, s3:// or file:// objects into dir
func StorageFiles(d *download.Downloader, uris []string, dir, crs string) Stage {
	return &manyStage{name: "StorageFiles", d: d, dir: dir, crs: crs, urls: func() ([]string, error) {
		for _, u := range uris {
			if !strings.Contains(u, "://") {
				return nil, terrain.NewConfigurationError("%s is not an uri", u)
			}
		}
		return uris, nil
	}}
}

// ReadLinks returns the non-blank lines of file
func ReadLinks(file string) ([]string, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, terrain.NewConfigurationError("cannot read the list of links %s: %v", file, err)
	}
	defer f.Close()
	var links []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if l := strings.TrimSpace(scanner.Text()); l != "" {
			links = append(links, l)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ReadLinks: %w", err)
	}
	return links, nil
}

// LocalFile outputs path
func LocalFile(path, crs string) Stage {
	return Func("LocalFile", func(_ context.Context, _ string, _ []string) (string, []string, error) {
		if _, err := os.Stat(path); err != nil {
			return "", nil, terrain.NewConfigurationError("cannot find %s", path)
		}
		return crs, []string{path}, nil
	})
}

// LocalFolder outputs the files of dir with one of the extensions exts (case insensitive)
func LocalFolder(dir, crs string, exts ...string) Stage {
	return Func("LocalFolder", func(_ context.Context, _ string, _ []string) (string, []string, error) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return "", nil, terrain.NewConfigurationError("cannot read %s: %v", dir, err)
		}
		var files []string
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if hasExt(e.Name(), exts) {
				files = append(files, filepath.Join(dir, e.Name()))
			}
		}
		if len(files) == 0 {
			return "", nil, terrain.NewConfigurationError("no file with extension %v in %s", exts, dir)
		}
		return crs, files, nil
	})
}

func hasExt(file string, exts []string) bool {
	ext := utils.Ext(file)
	for _, e := range exts {
		if strings.EqualFold(strings.TrimPrefix(e, "."), ext) {
			return true
		}
	}
	return false
}

// XYZSource describes a slippy map tile server
type XYZSource struct {
	Label       string
	Layer       string
	URLTemplate string // with {z}, {x} and {y}
	Ext         string
	TMS         bool
}

type xyzStage struct {
	Output
	d           *download.Downloader
	src         XYZSource
	grid        tiles.XYZGrid
	downloadDir string
	dir         string
}

// XYZ downloads the tiles of src covering the lon/lat extent at zoom into downloadDir,
// then georeferences them in EPSG:3857 into dir as {label}_x{i}_y{j}.tif
func XYZ(d *download.Downloader, src XYZSource, zoom int, minLon, maxLon, minLat, maxLat float64, downloadDir, dir string) (Stage, error) {
	grid, err := tiles.NewXYZGrid(zoom, minLon, maxLon, minLat, maxLat)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(src.URLTemplate, "{z}") || !strings.Contains(src.URLTemplate, "{x}") || !strings.Contains(src.URLTemplate, "{y}") {
		return nil, terrain.NewConfigurationError("the url template %q must contain {z}, {x} and {y}", src.URLTemplate)
	}
	if src.Layer == "" {
		src.Layer = src.Label
	}
	return &xyzStage{d: d, src: src, grid: grid, downloadDir: downloadDir, dir: dir}, nil
}

func (s *xyzStage) Name() string { return "XYZ" }

func (s *xyzStage) Fetch(ctx context.Context, crs string, files []string, onComplete concurrency.Done) {
	ts := s.grid.Tiles()
	urls := make([]string, len(ts))
	paths := make([]string, len(ts))
	for i, t := range ts {
		urls[i] = tiles.TileURL(s.src.URLTemplate, t, s.src.TMS)
		paths[i] = filepath.Join(s.downloadDir, tiles.DownloadName(s.src.Layer, t, s.src.Ext))
	}
	log.Logger(ctx).Info("downloading xyz tiles", zap.Int("tiles", len(ts)), zap.Uint32("zoom", uint32(s.grid.Zoom)))

	outputs := make([]string, len(ts))
	s.d.ManyToPaths(ctx, urls, paths, func(ok bool) {
		if !ok {
			onComplete(false)
			return
		}
		go func() {
			err := forEachIndex(ctx, len(ts), func(ctx context.Context, i int) error {
				b := ts[i].Bound()
				minX, minY := proj.LonLatToWebMercator(b.Min[0], b.Min[1])
				maxX, maxY := proj.LonLatToWebMercator(b.Max[0], b.Max[1])
				outputs[i] = filepath.Join(s.dir, s.grid.Name(s.src.Label, ts[i])+".tif")
				return raster.Georeference(ctx, paths[i], outputs[i], "EPSG:3857", minX, minY, maxX, maxY)
			})
			if err != nil {
				log.Logger(ctx).Error("XYZ failed", zap.Error(err))
				onComplete(false)
				return
			}
			s.set("EPSG:3857", outputs)
			onComplete(true)
		}()
	})
}

// WMSRequest is a GetMap request, split in tiles of at most MaxTileWidth x MaxTileHeight pixels
type WMSRequest struct {
	Endpoint      string // GetMap url
	Layer         string
	CRS           string
	Format        string // ex: image/geotiff, image/png
	XIsLong       bool   // false when the CRS axis order is lat,long (WMS 1.3.0 EPSG:4326)
	MinX, MaxX    float64
	MinY, MaxY    float64
	Width, Height int
	MaxTileWidth  int
	MaxTileHeight int
}

// Validate checks the request before any download
func (r WMSRequest) Validate() error {
	if r.Endpoint == "" || r.Layer == "" {
		return terrain.NewConfigurationError("the wms endpoint and layer are required")
	}
	if r.CRS == "" {
		return terrain.NewConfigurationError("the crs of the wms layer %s is required", r.Layer)
	}
	bbox := terrain.NewBoundingBox(r.CRS, r.MinX, r.MaxX, r.MinY, r.MaxY, r.Width, r.Height)
	if err := bbox.Validate(r.Layer, 0); err != nil {
		return err
	}
	if r.Width <= 0 || r.Height <= 0 {
		return terrain.NewConfigurationError("the size of %s must be positive", r.Layer)
	}
	if r.MaxTileWidth <= 0 || r.MaxTileHeight <= 0 {
		return terrain.NewConfigurationError("the maximum tile size of %s must be positive", r.Layer)
	}
	return nil
}

// Ext returns the extension of the files returned by the server
func (r WMSRequest) Ext() string {
	switch r.Format {
	case "image/geotiff", "image/tiff":
		return "tif"
	case "image/jpeg":
		return "jpg"
	}
	return "png"
}

// GetMap returns the url of the GetMap request over the extent, with a size of width x height pixels
func (r WMSRequest) GetMap(minX, maxX, minY, maxY float64, width, height int) string {
	base := r.Endpoint
	switch {
	case !strings.Contains(base, "?"):
		base += "?"
	case !strings.HasSuffix(base, "?") && !strings.HasSuffix(base, "&"):
		base += "&"
	}
	bbox := []float64{minX, minY, maxX, maxY}
	if !r.XIsLong {
		bbox = []float64{minY, minX, maxY, maxX}
	}
	return fmt.Sprintf("%sLAYERS=%s&FORMAT=%s&SERVICE=WMS&VERSION=1.3.0&REQUEST=GetMap&CRS=%s&STYLES=&BBOX=%s,%s,%s,%s&WIDTH=%d&HEIGHT=%d",
		base, r.Layer, r.Format, r.CRS,
		utils.F64ToS(bbox[0]), utils.F64ToS(bbox[1]), utils.F64ToS(bbox[2]), utils.F64ToS(bbox[3]),
		width, height)
}

// WMSTile is one GetMap request of a WMSRequest
type WMSTile struct {
	URL        string
	Name       string
	MinX, MaxX float64
	MinY, MaxY float64
}

// Tiles splits the request in tiles. Tiles are named WMS_{hash}_x{i}_y{j}, or WMS_{hash} if there is only one
func (r WMSRequest) Tiles() []WMSTile {
	nx := int(math.Ceil(float64(r.Width) / float64(r.MaxTileWidth)))
	ny := int(math.Ceil(float64(r.Height) / float64(r.MaxTileHeight)))
	w := int(math.Ceil(float64(r.Width) / float64(nx)))
	h := int(math.Ceil(float64(r.Height) / float64(ny)))
	dx := (r.MaxX - r.MinX) / float64(nx)
	dy := (r.MaxY - r.MinY) / float64(ny)
	hash := uuid.NewSHA1(uuid.NameSpaceURL, []byte(r.GetMap(r.MinX, r.MaxX, r.MinY, r.MaxY, r.Width, r.Height))).String()[:8]

	var res []WMSTile
	for i := 0; i < nx; i++ {
		for j := 0; j < ny; j++ {
			t := WMSTile{
				MinX: r.MinX + float64(i)*dx,
				MaxX: math.Min(r.MinX+float64(i+1)*dx, r.MaxX),
				MaxY: r.MaxY - float64(j)*dy,
				MinY: math.Max(r.MaxY-float64(j+1)*dy, r.MinY),
			}
			t.URL = r.GetMap(t.MinX, t.MaxX, t.MinY, t.MaxY, w, h)
			if nx == 1 && ny == 1 {
				t.Name = "WMS_" + hash
			} else {
				t.Name = tiles.CellName("WMS_"+hash, i, j)
			}
			res = append(res, t)
		}
	}
	return res
}

type wmsStage struct {
	Output
	d           *download.Downloader
	req         WMSRequest
	downloadDir string
	dir         string
}

// WMS downloads the request into downloadDir. Files that are not georeferenced are
// georeferenced into dir
func WMS(d *download.Downloader, req WMSRequest, downloadDir, dir string) (Stage, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Format == "" {
		req.Format = "image/geotiff"
	}
	return &wmsStage{d: d, req: req, downloadDir: downloadDir, dir: dir}, nil
}

func (s *wmsStage) Name() string { return "WMS" }

func (s *wmsStage) Fetch(ctx context.Context, crs string, files []string, onComplete concurrency.Done) {
	wts := s.req.Tiles()
	urls := make([]string, len(wts))
	paths := make([]string, len(wts))
	for i, t := range wts {
		urls[i] = t.URL
		paths[i] = filepath.Join(s.downloadDir, t.Name+"."+s.req.Ext())
	}
	outputs := make([]string, len(wts))
	s.d.ManyToPaths(ctx, urls, paths, func(ok bool) {
		if !ok {
			onComplete(false)
			return
		}
		go func() {
			err := forEachIndex(ctx, len(wts), func(ctx context.Context, i int) error {
				outputs[i] = paths[i]
				if s.req.Format == "image/geotiff" {
					if _, err := raster.ReadCRS(ctx, paths[i]); err == nil {
						return nil
					}
				}
				outputs[i] = filepath.Join(s.dir, wts[i].Name+".tif")
				return raster.Georeference(ctx, paths[i], outputs[i], s.req.CRS, wts[i].MinX, wts[i].MinY, wts[i].MaxX, wts[i].MaxY)
			})
			if err != nil {
				log.Logger(ctx).Error("WMS failed", zap.Error(err))
				onComplete(false)
				return
			}
			s.set(s.req.CRS, outputs)
			onComplete(true)
		}()
	})
}
