// Package sources builds the acquisition pipelines of the supported elevation sources
package sources

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/airbusgeo/terrainfetch/internal/download"
	"github.com/airbusgeo/terrainfetch/internal/fetch"
	"github.com/airbusgeo/terrainfetch/internal/raster"
	"github.com/airbusgeo/terrainfetch/internal/terrain"
	"github.com/airbusgeo/terrainfetch/internal/tiles"
)

// Kind identifies a source
type Kind string

const (
	LocalFile    Kind = "local_file"
	LocalFolder  Kind = "local_folder"
	URL          Kind = "url"
	Storage      Kind = "storage"
	Viewfinder1  Kind = "viewfinder1"
	Viewfinder3  Kind = "viewfinder3"
	Viewfinder15 Kind = "viewfinder15"
	SwissALTI3D  Kind = "swissalti3d"
	USGSOneThird Kind = "usgs_one_third"
	Litto3D      Kind = "litto3d_guadeloupe"
	RGEAlti      Kind = "rge_alti"
	WMS          Kind = "wms"
	Mapbox       Kind = "mapbox"
	Terrarium    Kind = "terrarium"
	XYZ          Kind = "xyz"
)

// Kinds lists the supported sources
var Kinds = []Kind{LocalFile, LocalFolder, URL, Storage, Viewfinder1, Viewfinder3, Viewfinder15,
	SwissALTI3D, USGSOneThird, Litto3D, RGEAlti, WMS, Mapbox, Terrarium, XYZ}

// ParseKind returns the kind named s
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if strings.EqualFold(string(k), s) {
			return k, nil
		}
	}
	return "", terrain.NewConfigurationError("unknown source %q", s)
}

// TileSource describes a tiled elevation source
type TileSource struct {
	Label        string
	URLTemplate  string
	Codec        tiles.Codec
	Ext          string
	CRS          string
	TileWidthPx  int
	TileHeightPx int
	TMS          bool
	// RGB tiles encode elevations in their color bands
	RGB          bool
	Encoding     raster.RGBEncoding
}

var (
	Viewfinder1Source  = TileSource{Label: "Viewfinder1", URLTemplate: "http://viewfinderpanoramas.org/dem1/{tile}.zip", Codec: tiles.ViewfinderCodec, Ext: "hgt", CRS: "EPSG:4326", TileWidthPx: 3601, TileHeightPx: 3601}
	Viewfinder3Source  = TileSource{Label: "Viewfinder3", URLTemplate: "http://viewfinderpanoramas.org/dem3/{tile}.zip", Codec: tiles.ViewfinderCodec, Ext: "hgt", CRS: "EPSG:4326", TileWidthPx: 1201, TileHeightPx: 1201}
	Viewfinder15Source = TileSource{Label: "Viewfinder15", URLTemplate: "http://www.viewfinderpanoramas.org/DEM/TIF15/{tile}.zip", Codec: tiles.Viewfinder15Codec, Ext: "tif", CRS: "EPSG:4326", TileWidthPx: 14401, TileHeightPx: 10801}
	SwissALTI3DSource  = TileSource{Label: "SwissALTI3D", Codec: tiles.SwissALTI3DCodec, Ext: "tif", CRS: "EPSG:2056", TileWidthPx: 2000, TileHeightPx: 2000}
	USGSSource         = TileSource{Label: "USGS", Codec: tiles.DegreeCodec{}, Ext: "tif", CRS: "EPSG:4269", TileWidthPx: 10812, TileHeightPx: 10812}
	Litto3DSource      = TileSource{Label: "Litto3D", Codec: tiles.Litto3DCodec, Ext: "asc", CRS: "EPSG:5490", TileWidthPx: 1000, TileHeightPx: 1000}
	MapboxSource       = TileSource{Label: "Mapbox", URLTemplate: "https://api.mapbox.com/v4/mapbox.terrain-rgb/{z}/{x}/{y}.pngraw", Codec: tiles.GenericCodec, Ext: "png", CRS: "EPSG:3857", TileWidthPx: 256, TileHeightPx: 256, RGB: true, Encoding: raster.Mapbox}
	TerrariumSource    = TileSource{Label: "Terrarium", URLTemplate: "https://s3.amazonaws.com/elevation-tiles-prod/terrarium/{z}/{x}/{y}.png", Codec: tiles.GenericCodec, Ext: "png", CRS: "EPSG:3857", TileWidthPx: 256, TileHeightPx: 256, RGB: true, Encoding: raster.Terrarium}
)

// RGE ALTI, served by the IGN WMS
const (
	RGEAltiEndpoint  = "https://data.geopf.fr/wms-r/wms?"
	RGEAltiLayer     = "ELEVATION.ELEVATIONGRIDCOVERAGE.HIGHRES"
	RGEAltiCRS       = "EPSG:2154"
	RGEAltiMaxPixels = 10000
)

// Dirs are the working directories under Root
type Dirs struct {
	Root string
}

// Work is the directory of the intermediate files
func (d Dirs) Work() string {
	return filepath.Join(d.Root, "ImageDownloader")
}

// Download is the directory of the raw downloads
func (d Dirs) Download() string {
	return filepath.Join(d.Work(), "Download")
}

// Stage returns the directory of the outputs of a stage
func (d Dirs) Stage(name, stage string) string {
	return filepath.Join(d.Work(), name+"-"+stage)
}

// DegreeExtent filters one-degree tiles
type DegreeExtent struct {
	MinLon int `yaml:"min_lon"`
	MaxLon int `yaml:"max_lon"`
	MinLat int `yaml:"min_lat"`
	MaxLat int `yaml:"max_lat"`
}

// Builder builds the initial stages of the sources
type Builder struct {
	Downloader *download.Downloader
	Dirs       Dirs
	Reporter   terrain.Reporter
	// Mirrors overrides the url template of a source
	Mirrors map[Kind]string
}

func (b Builder) template(kind Kind, def string) string {
	if t, ok := b.Mirrors[kind]; ok && t != "" {
		return t
	}
	return def
}

// report sends a construction error to the reporter
func (b Builder) report(err error) error {
	return terrain.Report(b.Reporter, err)
}

func debug(s fetch.Stage, name string) fetch.Stage {
	return fetch.Debug(s, name, false)
}

func initial(s fetch.Stage, name string) fetch.Stage {
	return fetch.Debug(s, name, true)
}

// Viewfinder downloads and unpacks Viewfinder Panoramas mega tiles (ex: M31, or 15-A for Viewfinder15).
// For 1" and 3" tiles, filter (optional) keeps the one-degree tiles inside an extent
func (b Builder) Viewfinder(kind Kind, name string, megaTiles []string, filter *DegreeExtent) (fetch.Stage, error) {
	var src TileSource
	validate := tiles.ValidateViewfinder
	switch kind {
	case Viewfinder1:
		src = Viewfinder1Source
	case Viewfinder3:
		src = Viewfinder3Source
	case Viewfinder15:
		src = Viewfinder15Source
		validate = tiles.ValidateViewfinder15
	default:
		return nil, b.report(terrain.NewConfigurationError("%s is not a viewfinder source", kind))
	}
	if len(megaTiles) == 0 {
		return nil, b.report(terrain.NewConfigurationError("no viewfinder mega tile given"))
	}
	urls := make([]string, len(megaTiles))
	for i, t := range megaTiles {
		t = strings.TrimSpace(t)
		if err := validate(t); err != nil {
			return nil, b.report(err)
		}
		urls[i] = strings.ReplaceAll(b.template(kind, src.URLTemplate), "{tile}", t)
	}

	stages := []fetch.Stage{
		initial(fetch.Archive(fetch.StorageFiles(b.Downloader, urls, b.Dirs.Download(), src.CRS), b.Dirs.Work()), "ViewfinderDownloader"),
		debug(fetch.Filter(regexp.MustCompile(`(?i)\.`+src.Ext+`$`)), "Filter"),
	}
	if kind == Viewfinder15 {
		return fetch.Chain(append(stages,
			debug(fetch.TilesRenamer(src.Codec, name, b.Dirs.Stage(name, "Viewfinder15Renamer")), "Viewfinder15Renamer"))...), nil
	}
	if filter != nil {
		if filter.MinLon > filter.MaxLon || filter.MinLat > filter.MaxLat {
			return nil, b.report(terrain.NewConfigurationError("invalid filter extent [%d, %d] x [%d, %d]", filter.MinLon, filter.MaxLon, filter.MinLat, filter.MaxLat))
		}
		stages = append(stages, debug(fetch.DegreeFilter(tiles.ViewfinderCodec, filter.MinLon, filter.MaxLon, filter.MinLat, filter.MaxLat), "DegreeFilter"))
	}
	return fetch.Chain(append(stages,
		debug(fetch.Convert(b.Dirs.Stage(name, "Convert"), "tif"), "Convert"),
		debug(fetch.TilesRenamer(src.Codec, name, b.Dirs.Stage(name, "DegreeRenamer")), "DegreeRenamer"))...), nil
}

// SwissALTI3D downloads the links of listFile, as exported by swisstopo
func (b Builder) SwissALTI3D(name, listFile string) (fetch.Stage, error) {
	if listFile == "" {
		return nil, b.report(terrain.NewConfigurationError("the list of SwissALTI3D links is required"))
	}
	return fetch.Chain(
		initial(fetch.ListDownloader(b.Downloader, listFile, b.Dirs.Download()), "ListDownloader"),
		debug(fetch.ReadCRS(nil), "ReadCRS"),
		debug(fetch.TilesRenamer(SwissALTI3DSource.Codec, name, b.Dirs.Stage(name, "SwissALTI3DRenamer")), "SwissALTI3DRenamer"),
	), nil
}

// USGSOneThird downloads the links of listFile (USGS 1/3 arc-second tiles, named like USGS_13_n45w122)
func (b Builder) USGSOneThird(name, listFile string) (fetch.Stage, error) {
	if listFile == "" {
		return nil, b.report(terrain.NewConfigurationError("the list of USGS links is required"))
	}
	return fetch.Chain(
		initial(fetch.ListDownloader(b.Downloader, listFile, b.Dirs.Download()), "ListDownloader"),
		debug(fetch.ReadCRS(nil), "ReadCRS"),
		debug(fetch.TilesRenamer(USGSSource.Codec, name, b.Dirs.Stage(name, "DegreeRenamer")), "DegreeRenamer"),
	), nil
}

// Litto3DGuadeloupe extracts the 7z archives of folder and keeps the 1m (or 5m) elevation grids
func (b Builder) Litto3DGuadeloupe(name, folder string, use5m bool) (fetch.Stage, error) {
	if folder == "" {
		return nil, b.report(terrain.NewConfigurationError("the Litto3D folder is required"))
	}
	pattern := regexp.MustCompile(`_MNT_.*\.asc$`)
	if use5m {
		pattern = regexp.MustCompile(`_MNT5_.*\.asc$`)
	}
	return fetch.Chain(
		initial(fetch.Archive(fetch.LocalFolder(folder, Litto3DSource.CRS, "7z"), b.Dirs.Work()), "Litto3DGuadeloupe"),
		debug(fetch.Filter(pattern), "Filter"),
		debug(fetch.TilesRenamer(Litto3DSource.Codec, name, b.Dirs.Stage(name, "Litto3DRenamer")), "Litto3DRenamer"),
	), nil
}

// RGEAlti requests the IGN RGE ALTI elevation over bbox (in EPSG:2154), of at most 10000 x 10000 pixels
func (b Builder) RGEAlti(name string, bbox terrain.BoundingBox) (fetch.Stage, error) {
	if err := bbox.Validate("RGE ALTI", RGEAltiMaxPixels); err != nil {
		return nil, b.report(err)
	}
	w, h := bbox.PixelSize()
	req := fetch.WMSRequest{
		Endpoint: RGEAltiEndpoint, Layer: RGEAltiLayer, CRS: RGEAltiCRS, Format: "image/geotiff", XIsLong: true,
		MinX: bbox.MinX(), MaxX: bbox.MaxX(), MinY: bbox.MinY(), MaxY: bbox.MaxY(),
		Width: w, Height: h, MaxTileWidth: RGEAltiMaxPixels, MaxTileHeight: RGEAltiMaxPixels,
	}
	return b.WMS(name, req)
}

// WMS requests a generic WMS layer
func (b Builder) WMS(name string, req fetch.WMSRequest) (fetch.Stage, error) {
	s, err := fetch.WMS(b.Downloader, req, b.Dirs.Download(), b.Dirs.Stage(name, "WMS"))
	if err != nil {
		return nil, b.report(err)
	}
	return fetch.Chain(
		initial(s, "WMS_Download"),
		debug(fetch.EnsureOneBand(b.Dirs.Stage(name, "EnsureOneBand")), "EnsureOneBand"),
	), nil
}

// XYZ downloads the tiles of src covering the lon/lat extent. RGB-encoded sources are decoded into elevations
func (b Builder) XYZ(name string, src TileSource, zoom int, minLon, maxLon, minLat, maxLat float64) (fetch.Stage, error) {
	s, err := fetch.XYZ(b.Downloader, fetch.XYZSource{
		Label: name, Layer: src.Label, URLTemplate: src.URLTemplate, Ext: src.Ext, TMS: src.TMS,
	}, zoom, minLon, maxLon, minLat, maxLat, b.Dirs.Download(), b.Dirs.Stage(name, "XYZ"))
	if err != nil {
		return nil, b.report(err)
	}
	stage := initial(s, "XYZ")
	if src.RGB {
		stage = fetch.AndThen(stage, debug(fetch.DecodeTerrainRGB(b.Dirs.Stage(name, "Decode"), src.Encoding), "DecodeTerrainRGB"))
	}
	return stage, nil
}

// MapboxTemplate adds the access token to the Mapbox url template
func MapboxTemplate(token string) string {
	return MapboxSource.URLTemplate + "?access_token=" + token
}

// Local outputs file (or the rasters of a folder) in crs
func (b Builder) Local(kind Kind, path, crs string) (fetch.Stage, error) {
	if path == "" {
		return nil, b.report(terrain.NewConfigurationError("the path of the %s source is required", kind))
	}
	switch kind {
	case LocalFile:
		return initial(fetch.LocalFile(path, crs), "LocalFile"), nil
	case LocalFolder:
		return initial(fetch.LocalFolder(path, crs, fetch.RasterExts...), "LocalFolder"), nil
	}
	return nil, b.report(terrain.NewConfigurationError("%s is not a local source", kind))
}

// Remote downloads one or several urls (http(s), gs://, s3:// or file://)
func (b Builder) Remote(name string, urls []string, crs string) (fetch.Stage, error) {
	switch len(urls) {
	case 0:
		return nil, b.report(terrain.NewConfigurationError("no url given for %s", name))
	case 1:
		return initial(fetch.Archive(fetch.URL(b.Downloader, urls[0], b.Dirs.Download(), crs), b.Dirs.Work()), "URL"), nil
	}
	return initial(fetch.Archive(fetch.StorageFiles(b.Downloader, urls, b.Dirs.Download(), crs), b.Dirs.Work()), "URLs"), nil
}

// String describes a source
func (s TileSource) String() string {
	return fmt.Sprintf("%s (%s, %dx%d px)", s.Label, s.CRS, s.TileWidthPx, s.TileHeightPx)
}
