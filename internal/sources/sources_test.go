package sources_test

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"

	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/terrainfetch/internal/download"
	"github.com/airbusgeo/terrainfetch/internal/fetch"
	"github.com/airbusgeo/terrainfetch/internal/sources"
	"github.com/airbusgeo/terrainfetch/internal/terrain"
	"github.com/airbusgeo/terrainfetch/internal/utils/affine"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func createTile(file string, epsg int, minX, minY, size float64) {
	Expect(os.MkdirAll(filepath.Dir(file), 0o755)).To(Succeed())
	ds, err := godal.Create(godal.GTiff, file, 1, godal.Float32, 10, 10)
	Expect(err).To(BeNil())
	Expect(ds.SetGeoTransform([6]float64(*affine.FromBounds(minX, minY, minX+size, minY+size, 10, 10)))).To(Succeed())
	sr, err := godal.NewSpatialRefFromEPSG(epsg)
	Expect(err).To(BeNil())
	defer sr.Close()
	Expect(ds.SetSpatialRef(sr)).To(Succeed())
	Expect(ds.Close()).To(Succeed())
}

func zipFile(archive, file string) {
	out, err := os.Create(archive)
	Expect(err).To(BeNil())
	defer out.Close()
	zw := zip.NewWriter(out)
	w, err := zw.Create(filepath.Base(file))
	Expect(err).To(BeNil())
	in, err := os.Open(file)
	Expect(err).To(BeNil())
	defer in.Close()
	_, err = io.Copy(w, in)
	Expect(err).To(BeNil())
	Expect(zw.Close()).To(Succeed())
}

var _ = Describe("Sources", func() {
	var (
		ctx      = context.Background()
		dir      string
		reported *bytes.Buffer
		b        sources.Builder
	)

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "sources")
		Expect(err).To(BeNil())
		reported = &bytes.Buffer{}
		b = sources.Builder{
			Downloader: download.New(download.NewSizeCache(filepath.Join(dir, "cache.json")), nil),
			Dirs:       sources.Dirs{Root: filepath.Join(dir, "root")},
			Reporter:   &terrain.WriterReporter{W: reported},
		}
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("should parse the source kinds", func() {
		k, err := sources.ParseKind("SwissALTI3D")
		Expect(err).To(BeNil())
		Expect(k).To(Equal(sources.SwissALTI3D))
		_, err = sources.ParseKind("srtm")
		Expect(terrain.IsError(err, terrain.ConfigurationError)).To(BeTrue())
	})

	It("should lay out the working directories", func() {
		d := sources.Dirs{Root: "/data"}
		Expect(d.Work()).To(Equal("/data/ImageDownloader"))
		Expect(d.Download()).To(Equal("/data/ImageDownloader/Download"))
		Expect(d.Stage("alps", "Reproject")).To(Equal("/data/ImageDownloader/alps-Reproject"))
	})

	Describe("Validation", func() {
		It("should report malformed viewfinder tiles before any download", func() {
			_, err := b.Viewfinder(sources.Viewfinder3, "dem", []string{"M31", "31M"}, nil)
			Expect(terrain.IsError(err, terrain.FormatError)).To(BeTrue())
			Expect(reported.String()).To(ContainSubstring("31M"))

			_, err = b.Viewfinder(sources.Viewfinder15, "dem", []string{"15-Z"}, nil)
			Expect(err).NotTo(BeNil())
		})

		It("should report an oversized RGE ALTI request", func() {
			bbox := terrain.NewBoundingBox(sources.RGEAltiCRS, 700000, 720000, 6600000, 6610000, 20000, 10000)
			_, err := b.RGEAlti("alti", bbox)
			Expect(terrain.IsError(err, terrain.ConfigurationError)).To(BeTrue())
			Expect(reported.String()).To(ContainSubstring("10000px"))
		})

		It("should report an inverted RGE ALTI bounding box", func() {
			bbox := terrain.NewBoundingBox(sources.RGEAltiCRS, 720000, 700000, 6600000, 6610000, 1000, 1000)
			_, err := b.RGEAlti("alti", bbox)
			Expect(err).NotTo(BeNil())
			Expect(reported.String()).To(ContainSubstring("MinX,MaxX,MinY,MaxY"))
		})

		It("should build a valid RGE ALTI request", func() {
			bbox := terrain.NewBoundingBox(sources.RGEAltiCRS, 700000, 720000, 6600000, 6610000, 2000, 1000)
			s, err := b.RGEAlti("alti", bbox)
			Expect(err).To(BeNil())
			Expect(s).NotTo(BeNil())
			Expect(reported.Len()).To(Equal(0))
		})

		It("should require the inputs of the list sources", func() {
			_, err := b.SwissALTI3D("dem", "")
			Expect(err).NotTo(BeNil())
			_, err = b.USGSOneThird("dem", "")
			Expect(err).NotTo(BeNil())
			_, err = b.Litto3DGuadeloupe("dem", "", false)
			Expect(err).NotTo(BeNil())
			_, err = b.Remote("dem", nil, "")
			Expect(err).NotTo(BeNil())
		})

		It("should reject an xyz extent outside the web mercator domain", func() {
			_, err := b.XYZ("dem", sources.TerrariumSource, 3, -10, 10, 80, 89)
			Expect(err).NotTo(BeNil())
		})
	})

	Describe("Pipelines", func() {
		var server *httptest.Server

		BeforeEach(func() {
			server = httptest.NewServer(http.FileServer(http.Dir(filepath.Join(dir, "www"))))
		})

		AfterEach(func() {
			server.Close()
		})

		It("should download, read the crs and rename SwissALTI3D tiles", func() {
			createTile(filepath.Join(dir, "www", "swissalti3d_2019_2501-1120_2_2056_5728.tif"), 2056, 2501000, 1120000, 1000)
			createTile(filepath.Join(dir, "www", "swissalti3d_2019_2502-1120_2_2056_5728.tif"), 2056, 2502000, 1120000, 1000)
			list := filepath.Join(dir, "links.csv")
			Expect(os.WriteFile(list, []byte(
				server.URL+"/swissalti3d_2019_2501-1120_2_2056_5728.tif\n"+
					server.URL+"/swissalti3d_2019_2502-1120_2_2056_5728.tif\n"), 0o644)).To(Succeed())

			s, err := b.SwissALTI3D("dem", list)
			Expect(err).To(BeNil())
			res, err := fetch.Run(ctx, s, "", nil)
			Expect(err).To(BeNil())
			Expect(res.CRS).To(Equal("EPSG:2056"))
			out := b.Dirs.Stage("dem", "SwissALTI3DRenamer")
			Expect(res.Files).To(Equal([]string{filepath.Join(out, "dem_x0_y0.tif"), filepath.Join(out, "dem_x1_y0.tif")}))
		})

		It("should download, unpack and rename Viewfinder 15 mega tiles", func() {
			for _, t := range []string{"15-A", "15-H"} {
				tif := filepath.Join(dir, "src", t+".tif")
				createTile(tif, 4326, 0, 0, 1)
				Expect(os.MkdirAll(filepath.Join(dir, "www"), 0o755)).To(Succeed())
				zipFile(filepath.Join(dir, "www", t+".zip"), tif)
			}
			b.Mirrors = map[sources.Kind]string{sources.Viewfinder15: server.URL + "/{tile}.zip"}

			s, err := b.Viewfinder(sources.Viewfinder15, "dem", []string{"15-A", " 15-H"}, nil)
			Expect(err).To(BeNil())
			res, err := fetch.Run(ctx, s, "", nil)
			Expect(err).To(BeNil())
			Expect(res.CRS).To(Equal("EPSG:4326"))
			out := b.Dirs.Stage("dem", "Viewfinder15Renamer")
			// 15-H is the second column of the second row
			Expect(res.Files).To(Equal([]string{filepath.Join(out, "dem_x0_y0.tif"), filepath.Join(out, "dem_x1_y1.tif")}))
		})

		It("should fail when a mega tile cannot be downloaded", func() {
			Expect(os.MkdirAll(filepath.Join(dir, "www"), 0o755)).To(Succeed())
			b.Mirrors = map[sources.Kind]string{sources.Viewfinder3: server.URL + "/{tile}.zip"}
			s, err := b.Viewfinder(sources.Viewfinder3, "dem", []string{"M31"}, &sources.DegreeExtent{MinLon: 6, MaxLon: 7, MinLat: 45, MaxLat: 46})
			Expect(err).To(BeNil())
			_, err = fetch.Run(ctx, s, "", nil)
			Expect(err).To(MatchError(fetch.ErrStageFailed))
		})

		It("should output the rasters of a local folder", func() {
			createTile(filepath.Join(dir, "local", "a.tif"), 2154, 0, 0, 100)
			s, err := b.Local(sources.LocalFolder, filepath.Join(dir, "local"), "EPSG:2154")
			Expect(err).To(BeNil())
			res, err := fetch.Run(ctx, s, "", nil)
			Expect(err).To(BeNil())
			Expect(res.Files).To(Equal([]string{filepath.Join(dir, "local", "a.tif")}))
		})
	})
})
