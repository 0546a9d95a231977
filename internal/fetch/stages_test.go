package fetch_test

import (
	"archive/zip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/terrainfetch/interface/storage"
	"github.com/airbusgeo/terrainfetch/internal/download"
	"github.com/airbusgeo/terrainfetch/internal/fetch"
	"github.com/airbusgeo/terrainfetch/internal/terrain"
	"github.com/airbusgeo/terrainfetch/internal/tiles"
	"github.com/airbusgeo/terrainfetch/internal/utils/affine"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func writeFile(path, content string) string {
	Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
	Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
	return path
}

func createTile(file string, minX, minY float64, size int) {
	Expect(os.MkdirAll(filepath.Dir(file), 0o755)).To(Succeed())
	ds, err := godal.Create(godal.GTiff, file, 1, godal.Float32, size, size)
	Expect(err).To(BeNil())
	Expect(ds.SetGeoTransform([6]float64(*affine.FromBounds(minX, minY, minX+1, minY+1, size, size)))).To(Succeed())
	sr, err := godal.NewSpatialRefFromEPSG(4326)
	Expect(err).To(BeNil())
	defer sr.Close()
	Expect(ds.SetSpatialRef(sr)).To(Succeed())
	Expect(ds.Close()).To(Succeed())
}

type uploads struct {
	mu    sync.Mutex
	files map[string]string
}

func (u *uploads) UploadFile(ctx context.Context, rawURI string, data io.ReadCloser, options ...storage.Option) error {
	defer data.Close()
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.files[rawURI] = string(b)
	return nil
}

var _ = Describe("Stages", func() {
	var (
		ctx = context.Background()
		dir string
	)

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "fetch")
		Expect(err).To(BeNil())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	Describe("Local files", func() {
		It("should list the files of a folder by extension", func() {
			writeFile(filepath.Join(dir, "a.TIF"), "a")
			writeFile(filepath.Join(dir, "b.png"), "b")
			writeFile(filepath.Join(dir, "c.tif"), "c")
			res, err := fetch.Run(ctx, fetch.LocalFolder(dir, "EPSG:2056", "tif"), "", nil)
			Expect(err).To(BeNil())
			Expect(res.CRS).To(Equal("EPSG:2056"))
			Expect(res.Files).To(ConsistOf(filepath.Join(dir, "a.TIF"), filepath.Join(dir, "c.tif")))
		})

		It("should fail on a folder without matching file", func() {
			_, err := fetch.Run(ctx, fetch.LocalFolder(dir, "", "hgt"), "", nil)
			Expect(err).NotTo(BeNil())
		})

		It("should fail on a missing file", func() {
			_, err := fetch.Run(ctx, fetch.LocalFile(filepath.Join(dir, "missing.tif"), ""), "", nil)
			Expect(err).NotTo(BeNil())
		})
	})

	Describe("ListDownloader", func() {
		It("should download every link", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Length", "4")
				if r.Method == http.MethodGet {
					w.Write([]byte("tile"))
				}
			}))
			defer server.Close()
			list := writeFile(filepath.Join(dir, "links.txt"), server.URL+"/a/one.tif\n\n  "+server.URL+"/b/two.tif?x=1  \n")
			d := download.New(download.NewSizeCache(filepath.Join(dir, "cache.json")), nil)

			res, err := fetch.Run(ctx, fetch.ListDownloader(d, list, filepath.Join(dir, "dl")), "", nil)
			Expect(err).To(BeNil())
			Expect(res.Files).To(Equal([]string{filepath.Join(dir, "dl", "one.tif"), filepath.Join(dir, "dl", "two.tif")}))
			b, err := os.ReadFile(res.Files[1])
			Expect(err).To(BeNil())
			Expect(string(b)).To(Equal("tile"))
		})

		It("should fail on a missing list", func() {
			d := download.New(nil, nil)
			_, err := fetch.Run(ctx, fetch.ListDownloader(d, filepath.Join(dir, "missing.txt"), dir), "", nil)
			Expect(err).NotTo(BeNil())
		})
	})

	Describe("WMS", func() {
		req := fetch.WMSRequest{
			Endpoint: "https://example.com/wms", Layer: "ELEVATION", CRS: "EPSG:2154", Format: "image/geotiff", XIsLong: true,
			MinX: 0, MaxX: 1000, MinY: 0, MaxY: 500, Width: 1000, Height: 500, MaxTileWidth: 400, MaxTileHeight: 400,
		}

		It("should split the request", func() {
			ts := req.Tiles()
			Expect(ts).To(HaveLen(6))
			Expect(ts[0].MinX).To(Equal(0.0))
			Expect(ts[0].MaxY).To(Equal(500.0))
			Expect(ts[0].MinY).To(Equal(250.0))
			Expect(ts[0].Name).To(MatchRegexp(`^WMS_[0-9a-f]{8}_x0_y0$`))
			Expect(ts[5].Name).To(HaveSuffix("_x2_y1"))
			Expect(ts[5].MaxX).To(BeNumerically("~", 1000, 1e-9))
			Expect(ts[0].URL).To(HavePrefix("https://example.com/wms?LAYERS=ELEVATION&FORMAT=image/geotiff"))
			Expect(ts[0].URL).To(ContainSubstring("&BBOX=0,250,333.3333333333333,500&WIDTH=334&HEIGHT=250"))
		})

		It("should swap the axes of lat,long crs", func() {
			r := req
			r.XIsLong = false
			Expect(r.GetMap(1, 2, 3, 4, 10, 10)).To(ContainSubstring("BBOX=3,1,4,2"))
		})

		It("should validate the request before any download", func() {
			r := req
			r.MaxX = -1
			_, err := fetch.WMS(download.New(nil, nil), r, dir, dir)
			Expect(terrain.IsError(err, terrain.ConfigurationError)).To(BeTrue())
			r = req
			r.MaxTileWidth = 0
			Expect(terrain.IsError(r.Validate(), terrain.ConfigurationError)).To(BeTrue())
		})
	})

	Describe("XYZ", func() {
		It("should refuse an invalid template", func() {
			_, err := fetch.XYZ(download.New(nil, nil), fetch.XYZSource{Label: "dem", URLTemplate: "https://example.com/{z}/{x}.png", Ext: "png"}, 10, 6, 7, 45, 46, dir, dir)
			Expect(terrain.IsError(err, terrain.ConfigurationError)).To(BeTrue())
		})

		It("should refuse an invalid extent", func() {
			_, err := fetch.XYZ(download.New(nil, nil), fetch.XYZSource{Label: "dem", URLTemplate: "https://example.com/{z}/{x}/{y}.png", Ext: "png"}, 10, 7, 6, 45, 46, dir, dir)
			Expect(terrain.IsError(err, terrain.ConfigurationError)).To(BeTrue())
		})
	})

	Describe("Archive", func() {
		It("should extract the rasters of the archives", func() {
			archive := filepath.Join(dir, "M31.zip")
			f, err := os.Create(archive)
			Expect(err).To(BeNil())
			zw := zip.NewWriter(f)
			for _, name := range []string{"M31/N45E006.hgt", "M31/N45E007.hgt", "M31/readme.txt"} {
				w, err := zw.Create(name)
				Expect(err).To(BeNil())
				w.Write([]byte(name))
			}
			Expect(zw.Close()).To(Succeed())
			Expect(f.Close()).To(Succeed())
			other := writeFile(filepath.Join(dir, "other.tif"), "tif")

			res, err := fetch.Run(ctx, fetch.Archive(fetch.SetCRS("EPSG:4326"), filepath.Join(dir, "extracted")), "", []string{archive, other})
			Expect(err).To(BeNil())
			Expect(res.CRS).To(Equal("EPSG:4326"))
			Expect(res.Files).To(ConsistOf(
				filepath.Join(dir, "extracted", "M31", "M31", "N45E006.hgt"),
				filepath.Join(dir, "extracted", "M31", "M31", "N45E007.hgt"),
				other,
			))
			b, err := os.ReadFile(filepath.Join(dir, "extracted", "M31", "M31", "N45E007.hgt"))
			Expect(err).To(BeNil())
			Expect(string(b)).To(Equal("M31/N45E007.hgt"))
		})
	})

	Describe("DegreeFilter", func() {
		files := []string{"/dl/N45E006.hgt", "/dl/N46E006.hgt", "/dl/N45W001.hgt"}

		It("should keep the tiles inside the extent", func() {
			res, err := fetch.Run(ctx, fetch.DegreeFilter(tiles.ViewfinderCodec, 5, 7, 44, 45), "EPSG:4326", files)
			Expect(err).To(BeNil())
			Expect(res.Files).To(Equal([]string{"/dl/N45E006.hgt"}))
			Expect(res.CRS).To(Equal("EPSG:4326"))
		})

		It("should fail when nothing remains", func() {
			_, err := fetch.Run(ctx, fetch.DegreeFilter(tiles.ViewfinderCodec, 10, 11, 44, 45), "EPSG:4326", files)
			Expect(err).NotTo(BeNil())
		})
	})

	Describe("TilesRenamer", func() {
		It("should copy the tiles with grid-relative names", func() {
			a := writeFile(filepath.Join(dir, "in", "W010N40.tif"), "a")
			writeFile(a+".aux.xml", "<aux/>")
			b := writeFile(filepath.Join(dir, "in", "E005N42.tif"), "b")
			out := filepath.Join(dir, "dem-Renamer")
			res, err := fetch.Run(ctx, fetch.TilesRenamer(tiles.DegreeCodec{}, "dem", out), "EPSG:4326", []string{a, b})
			Expect(err).To(BeNil())
			Expect(res.Files).To(Equal([]string{filepath.Join(out, "dem_x0_y2.tif"), filepath.Join(out, "dem_x15_y0.tif")}))
			_, err = os.Stat(filepath.Join(out, "dem_x0_y2.tif.aux.xml"))
			Expect(err).To(BeNil())
		})

		It("should not rename a single file", func() {
			res, err := fetch.Run(ctx, fetch.TilesRenamer(tiles.DegreeCodec{}, "dem", dir), "", []string{"/in/whatever.tif"})
			Expect(err).To(BeNil())
			Expect(res.Files).To(Equal([]string{"/in/whatever.tif"}))
		})

		It("should fail on malformed names", func() {
			_, err := fetch.Run(ctx, fetch.TilesRenamer(tiles.DegreeCodec{}, "dem", dir), "", []string{"/in/a.tif", "/in/b.tif"})
			Expect(err).NotTo(BeNil())
		})
	})

	Describe("Raster stages", func() {
		var west, east string

		BeforeEach(func() {
			west = filepath.Join(dir, "in", "dem_x0_y0.tif")
			east = filepath.Join(dir, "in", "dem_x1_y1.tif")
			createTile(west, 0, 1, 20)
			createTile(east, 1, 0, 20)
		})

		It("should read the crs of the first file", func() {
			res, err := fetch.Run(ctx, fetch.ReadCRS(nil), "", []string{west, east})
			Expect(err).To(BeNil())
			Expect(res.CRS).To(Equal("EPSG:4326"))
		})

		It("should not reproject files already in the target crs", func() {
			res, err := fetch.Run(ctx, fetch.Reproject(dir, "dem", "EPSG:4326", -32768), "epsg:4326", []string{west, east})
			Expect(err).To(BeNil())
			Expect(res.Files).To(Equal([]string{west, east}))
		})

		It("should merge and reproject the tiles", func() {
			res, err := fetch.Run(ctx, fetch.Reproject(dir, "dem", "EPSG:3857", -32768), "EPSG:4326", []string{west, east})
			Expect(err).To(BeNil())
			Expect(res.CRS).To(Equal("EPSG:3857"))
			Expect(res.Files).To(Equal([]string{filepath.Join(dir, "dem-EPSG_3857", "dem.tif")}))
		})

		It("should add the missing tiles of the grid", func() {
			res, err := fetch.Run(ctx, fetch.AddMissingTiles("dem", "tif", 20, 20), "", []string{west, east})
			Expect(err).To(BeNil())
			Expect(res.Files).To(ConsistOf(west, east,
				filepath.Join(dir, "in", "dem_x1_y0.tif"),
				filepath.Join(dir, "in", "dem_x0_y1.tif")))
		})

		It("should convert and publish", func() {
			up := &uploads{files: map[string]string{}}
			s := fetch.Chain(fetch.Convert(filepath.Join(dir, "png"), "png"), fetch.Publish(up, "gs://bucket/dem/"))
			res, err := fetch.Run(ctx, s, "EPSG:4326", []string{west})
			Expect(err).To(BeNil())
			Expect(res.Files).To(Equal([]string{"gs://bucket/dem/dem_x0_y0.png"}))
			Expect(up.files).To(HaveKey("gs://bucket/dem/dem_x0_y0.png"))
			Expect(strings.HasPrefix(up.files["gs://bucket/dem/dem_x0_y0.png"], "\x89PNG")).To(BeTrue())
		})

		It("should merge into one file", func() {
			res, err := fetch.Run(ctx, fetch.Merge(filepath.Join(dir, "merged"), "dem"), "EPSG:4326", []string{west, east})
			Expect(err).To(BeNil())
			Expect(res.Files).To(Equal([]string{filepath.Join(dir, "merged", "dem.tif")}))
			ds, err := godal.Open(res.Files[0])
			Expect(err).To(BeNil())
			defer ds.Close()
			Expect(ds.Structure().SizeX).To(Equal(40))
		})
	})
})
