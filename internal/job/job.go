// Package job reads a YAML job file and builds the fetch pipeline it describes
package job

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/airbusgeo/terrainfetch/internal/fetch"
	"github.com/airbusgeo/terrainfetch/internal/raster"
	"github.com/airbusgeo/terrainfetch/internal/sources"
	"github.com/airbusgeo/terrainfetch/internal/terrain"
	"gopkg.in/yaml.v3"
)

// DefaultNoData fills the pixels the sources do not cover
const DefaultNoData = -32768

// Job describes a source and the post-processing of its tiles
type Job struct {
	Name string `yaml:"name"`
	// Root of the working directories (default: current directory)
	Root   string `yaml:"root,omitempty"`
	Source Source `yaml:"source"`
	// BBox is MinX,MaxX,MinY,MaxY[,Width,Height] in BBoxCRS
	BBox    string `yaml:"bbox,omitempty"`
	BBoxCRS string `yaml:"bbox_crs,omitempty"`

	Remap           *Remap   `yaml:"remap,omitempty"`
	TargetCRS       string   `yaml:"target_crs,omitempty"`
	NoData          *float64 `yaml:"nodata,omitempty"`
	Merge           bool     `yaml:"merge,omitempty"`
	Crop            bool     `yaml:"crop,omitempty"`
	Resolution      int      `yaml:"resolution_percent,omitempty"`
	Format          string   `yaml:"format,omitempty"`
	AddMissingTiles bool     `yaml:"add_missing_tiles,omitempty"`
	COG             bool     `yaml:"cog,omitempty"`
	Publish         string   `yaml:"publish,omitempty"`
}

// Source selects one of sources.Kinds and its parameters
type Source struct {
	Kind string `yaml:"kind"`
	CRS  string `yaml:"crs,omitempty"`

	// local_file, local_folder, litto3d_guadeloupe
	Path string `yaml:"path,omitempty"`
	// url, storage
	URLs []string `yaml:"urls,omitempty"`
	// swissalti3d, usgs_one_third
	List string `yaml:"list,omitempty"`
	// viewfinder*
	Tiles  []string              `yaml:"tiles,omitempty"`
	Filter *sources.DegreeExtent `yaml:"filter,omitempty"`
	// litto3d_guadeloupe
	Use5m bool `yaml:"use_5m,omitempty"`
	// mapbox, terrarium, xyz
	Zoom        int    `yaml:"zoom,omitempty"`
	Token       string `yaml:"token,omitempty"`
	URLTemplate string `yaml:"url_template,omitempty"`
	Ext         string `yaml:"ext,omitempty"`
	TMS         bool   `yaml:"tms,omitempty"`
	Encoding    string `yaml:"encoding,omitempty"`
	// wms
	Endpoint      string `yaml:"endpoint,omitempty"`
	Layer         string `yaml:"layer,omitempty"`
	ImageFormat   string `yaml:"image_format,omitempty"`
	LatLong       bool   `yaml:"lat_long,omitempty"`
	MaxTileWidth  int    `yaml:"max_tile_width,omitempty"`
	MaxTileHeight int    `yaml:"max_tile_height,omitempty"`
	// Mirror overrides the default url template of the source
	Mirror string `yaml:"mirror,omitempty"`
}

// Remap replaces a pixel value (typically a wrong nodata)
type Remap struct {
	From float64 `yaml:"from"`
	To   float64 `yaml:"to"`
}

// Load reads the job file at path
func Load(path string) (*Job, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes, completes and validates a job
func Parse(r io.Reader) (*Job, error) {
	var j Job
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&j); err != nil {
		return nil, terrain.NewConfigurationError("malformed job: %v", err)
	}
	j.applyDefaults()
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return &j, nil
}

func (j *Job) applyDefaults() {
	if j.Root == "" {
		j.Root = "."
	}
	if j.NoData == nil {
		nodata := float64(DefaultNoData)
		j.NoData = &nodata
	}
	j.Format = strings.ToLower(strings.TrimPrefix(j.Format, "."))
	if j.Format == "" {
		j.Format = "tif"
	}
	if j.Resolution == 0 {
		j.Resolution = 100
	}
	if j.BBoxCRS == "" {
		switch sources.Kind(strings.ToLower(j.Source.Kind)) {
		case sources.RGEAlti:
			j.BBoxCRS = sources.RGEAltiCRS
		case sources.Mapbox, sources.Terrarium, sources.XYZ:
			j.BBoxCRS = "EPSG:4326"
		default:
			j.BBoxCRS = j.TargetCRS
		}
	}
}

// Kind returns the kind of the source
func (j *Job) Kind() (sources.Kind, error) {
	return sources.ParseKind(j.Source.Kind)
}

// BoundingBox parses BBox, which is optional for most sources
func (j *Job) BoundingBox() (terrain.BoundingBox, bool, error) {
	if j.BBox == "" {
		return terrain.BoundingBox{}, false, nil
	}
	bbox, err := terrain.ParseBoundingBox(j.BBoxCRS, j.BBox)
	if err != nil {
		return terrain.BoundingBox{}, false, err
	}
	return bbox, true, bbox.Validate(j.Name, 0)
}

// Validate checks the consistency of the job, without any I/O
func (j *Job) Validate() error {
	if j.Name == "" || strings.ContainsAny(j.Name, `/\`) {
		return terrain.NewConfigurationError("the job needs a name without path separator, got %q", j.Name)
	}
	kind, err := j.Kind()
	if err != nil {
		return err
	}
	_, hasBBox, err := j.BoundingBox()
	if err != nil {
		return err
	}
	switch kind {
	case sources.RGEAlti, sources.WMS, sources.Mapbox, sources.Terrarium, sources.XYZ:
		if !hasBBox {
			return terrain.NewConfigurationError("the %s source needs a bbox", kind)
		}
	}
	if kind == sources.Mapbox && j.Source.Token == "" && j.Source.Mirror == "" {
		return terrain.NewConfigurationError("the mapbox source needs an access token")
	}
	if j.Crop {
		if !hasBBox {
			return terrain.NewConfigurationError("crop needs a bbox")
		}
		if j.TargetCRS != "" && !strings.EqualFold(j.BBoxCRS, j.TargetCRS) {
			return terrain.NewConfigurationError("crop needs a bbox in the target crs %s, got %s", j.TargetCRS, j.BBoxCRS)
		}
	}
	if j.Resolution < 0 {
		return terrain.NewConfigurationError("resolution_percent must be positive, got %d", j.Resolution)
	}
	switch j.Format {
	case "tif", "png", "jpg", "asc":
	default:
		return terrain.NewConfigurationError("unsupported output format %q", j.Format)
	}
	if j.COG && j.Format != "tif" {
		return terrain.NewConfigurationError("cog requires the tif format")
	}
	if j.AddMissingTiles && (j.Merge || j.TargetCRS != "") {
		return terrain.NewConfigurationError("add_missing_tiles only applies to unmerged tiles")
	}
	if j.Remap != nil && j.Remap.From == j.Remap.To {
		return terrain.NewConfigurationError("remap from and to are both %v", j.Remap.From)
	}
	return nil
}

// Build returns the source stage followed by the post-processing stages.
// Validation errors are sent to the reporter of b before being returned
func (j *Job) Build(b sources.Builder, uploader fetch.Uploader) (fetch.Stage, error) {
	if err := j.Validate(); err != nil {
		return nil, terrain.Report(b.Reporter, err)
	}
	if b.Dirs.Root == "" {
		b.Dirs.Root = j.Root
	}
	kind, _ := j.Kind()
	if j.Source.Mirror != "" {
		mirrors := map[sources.Kind]string{kind: j.Source.Mirror}
		for k, v := range b.Mirrors {
			if k != kind {
				mirrors[k] = v
			}
		}
		b.Mirrors = mirrors
	}
	src, err := j.source(b, kind)
	if err != nil {
		return nil, err
	}
	post, err := j.postProcess(b, uploader)
	if err != nil {
		return nil, terrain.Report(b.Reporter, err)
	}
	stage := fetch.Chain(append([]fetch.Stage{src}, post...)...)
	return fetch.AndRun(stage, func(o *fetch.Output) bool {
		return len(o.Files) > 0
	}), nil
}

func (j *Job) source(b sources.Builder, kind sources.Kind) (fetch.Stage, error) {
	s := j.Source
	bbox, _, _ := j.BoundingBox()
	switch kind {
	case sources.LocalFile, sources.LocalFolder:
		return b.Local(kind, s.Path, s.CRS)
	case sources.URL, sources.Storage:
		return b.Remote(j.Name, s.URLs, s.CRS)
	case sources.Viewfinder1, sources.Viewfinder3, sources.Viewfinder15:
		return b.Viewfinder(kind, j.Name, s.Tiles, s.Filter)
	case sources.SwissALTI3D:
		return b.SwissALTI3D(j.Name, s.List)
	case sources.USGSOneThird:
		return b.USGSOneThird(j.Name, s.List)
	case sources.Litto3D:
		return b.Litto3DGuadeloupe(j.Name, s.Path, s.Use5m)
	case sources.RGEAlti:
		return b.RGEAlti(j.Name, bbox)
	case sources.WMS:
		w, h := bbox.PixelSize()
		maxW, maxH := s.MaxTileWidth, s.MaxTileHeight
		if maxW == 0 {
			maxW = w
		}
		if maxH == 0 {
			maxH = h
		}
		return b.WMS(j.Name, fetch.WMSRequest{
			Endpoint: s.Endpoint, Layer: s.Layer, CRS: bbox.CRS, Format: s.ImageFormat, XIsLong: !s.LatLong,
			MinX: bbox.MinX(), MaxX: bbox.MaxX(), MinY: bbox.MinY(), MaxY: bbox.MaxY(),
			Width: w, Height: h, MaxTileWidth: maxW, MaxTileHeight: maxH,
		})
	case sources.Mapbox, sources.Terrarium, sources.XYZ:
		src, err := j.xyzSource(kind)
		if err != nil {
			return nil, terrain.Report(b.Reporter, err)
		}
		return b.XYZ(j.Name, src, s.Zoom, bbox.MinX(), bbox.MaxX(), bbox.MinY(), bbox.MaxY())
	}
	return nil, terrain.Report(b.Reporter, terrain.NewConfigurationError("unsupported source %s", kind))
}

func (j *Job) xyzSource(kind sources.Kind) (sources.TileSource, error) {
	s := j.Source
	var src sources.TileSource
	switch kind {
	case sources.Mapbox:
		src = sources.MapboxSource
		src.URLTemplate = sources.MapboxTemplate(s.Token)
	case sources.Terrarium:
		src = sources.TerrariumSource
	default:
		src = sources.TileSource{Label: j.Name, URLTemplate: s.URLTemplate, Ext: s.Ext, CRS: "EPSG:3857", TMS: s.TMS}
		if src.Ext == "" {
			src.Ext = "png"
		}
		if s.Encoding != "" {
			enc, err := raster.ParseRGBEncoding(s.Encoding)
			if err != nil {
				return src, err
			}
			src.RGB, src.Encoding = true, enc
		}
	}
	if s.Mirror != "" {
		src.URLTemplate = s.Mirror
	}
	return src, nil
}

func (j *Job) postProcess(b sources.Builder, uploader fetch.Uploader) ([]fetch.Stage, error) {
	var stages []fetch.Stage
	add := func(s fetch.Stage, name string) {
		stages = append(stages, fetch.Debug(s, name, false))
	}
	if j.Remap != nil {
		add(fetch.Remap(b.Dirs.Stage(j.Name, "Remap"), j.Remap.From, j.Remap.To), "Remap")
	}
	switch {
	case j.TargetCRS != "":
		add(fetch.Reproject(b.Dirs.Work(), j.Name, j.TargetCRS, *j.NoData), "Reproject")
	case j.Merge:
		add(fetch.Merge(b.Dirs.Stage(j.Name, "Merge"), j.Name), "Merge")
	}
	if j.Crop {
		bbox, _, err := j.BoundingBox()
		if err != nil {
			return nil, err
		}
		add(fetch.Crop(b.Dirs.Stage(j.Name, "Crop"), bbox, bbox.Width, bbox.Height), "Crop")
	}
	if j.Resolution != 100 {
		add(fetch.Resolution(b.Dirs.Stage(j.Name, "Resolution"), j.Resolution), "Resolution")
	}
	if j.Format != "tif" {
		add(fetch.Convert(b.Dirs.Stage(j.Name, "Convert"), j.Format), "Convert")
	}
	if j.AddMissingTiles {
		src := tileSource(j.Source.Kind)
		add(fetch.AddMissingTiles(j.Name, j.Format, src.TileWidthPx, src.TileHeightPx), "AddMissingTiles")
	}
	if j.COG {
		add(fetch.ToCOG(b.Dirs.Stage(j.Name, "COG"), raster.DefaultCOGOptions), "ToCOG")
	}
	if j.Publish != "" {
		if uploader == nil {
			return nil, terrain.NewConfigurationError("no storage to publish to %s", j.Publish)
		}
		add(fetch.Publish(uploader, j.Publish), "Publish")
	}
	return stages, nil
}

// tileSource returns the description of the tiles of a source, with a 256px default
func tileSource(kind string) sources.TileSource {
	switch sources.Kind(strings.ToLower(kind)) {
	case sources.Viewfinder1:
		return sources.Viewfinder1Source
	case sources.Viewfinder3:
		return sources.Viewfinder3Source
	case sources.Viewfinder15:
		return sources.Viewfinder15Source
	case sources.SwissALTI3D:
		return sources.SwissALTI3DSource
	case sources.USGSOneThird:
		return sources.USGSSource
	case sources.Litto3D:
		return sources.Litto3DSource
	}
	return sources.TileSource{TileWidthPx: 256, TileHeightPx: 256}
}
