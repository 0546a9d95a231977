package job_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/terrainfetch/interface/storage/s3"
	"github.com/airbusgeo/terrainfetch/interface/storage/uri"
	"github.com/airbusgeo/terrainfetch/internal/download"
	"github.com/airbusgeo/terrainfetch/internal/fetch"
	"github.com/airbusgeo/terrainfetch/internal/job"
	"github.com/airbusgeo/terrainfetch/internal/sources"
	"github.com/airbusgeo/terrainfetch/internal/terrain"
	"github.com/airbusgeo/terrainfetch/internal/terrain/mocks"
	"github.com/airbusgeo/terrainfetch/internal/utils/affine"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/mock"
)

func parse(doc string) (*job.Job, error) {
	return job.Parse(strings.NewReader(doc))
}

func createTile(file string, minX, minY float64) {
	Expect(os.MkdirAll(filepath.Dir(file), 0o755)).To(Succeed())
	ds, err := godal.Create(godal.GTiff, file, 1, godal.Float32, 20, 20)
	Expect(err).To(BeNil())
	Expect(ds.SetGeoTransform([6]float64(*affine.FromBounds(minX, minY, minX+1, minY+1, 20, 20)))).To(Succeed())
	sr, err := godal.NewSpatialRefFromEPSG(4326)
	Expect(err).To(BeNil())
	defer sr.Close()
	Expect(ds.SetSpatialRef(sr)).To(Succeed())
	Expect(ds.Bands()[0].Fill(100, 0)).To(Succeed())
	Expect(ds.Close()).To(Succeed())
}

var _ = Describe("Job", func() {
	Describe("Parse", func() {
		It("should apply the defaults", func() {
			j, err := parse(`
name: alps
source:
  kind: viewfinder3
  tiles: [M31, M32]
  filter: {min_lon: 6, max_lon: 7, min_lat: 45, max_lat: 46}
`)
			Expect(err).To(BeNil())
			Expect(j.Root).To(Equal("."))
			Expect(*j.NoData).To(Equal(float64(job.DefaultNoData)))
			Expect(j.Format).To(Equal("tif"))
			Expect(j.Resolution).To(Equal(100))
			Expect(j.Source.Filter).To(Equal(&sources.DegreeExtent{MinLon: 6, MaxLon: 7, MinLat: 45, MaxLat: 46}))
			k, err := j.Kind()
			Expect(err).To(BeNil())
			Expect(k).To(Equal(sources.Viewfinder3))
		})

		It("should default the bbox crs of the RGE ALTI source", func() {
			j, err := parse(`
name: alti
source: {kind: rge_alti}
bbox: 700000,701000,6600000,6601000,1000,1000
target_crs: EPSG:4326
`)
			Expect(err).To(BeNil())
			bbox, ok, err := j.BoundingBox()
			Expect(err).To(BeNil())
			Expect(ok).To(BeTrue())
			Expect(bbox.CRS).To(Equal(sources.RGEAltiCRS))
		})

		DescribeTable("should reject inconsistent jobs",
			func(doc string) {
				_, err := parse(doc)
				Expect(terrain.IsError(err, terrain.ConfigurationError)).To(BeTrue(), "%v", err)
			},
			Entry("no name", `source: {kind: local_file, path: a.tif}`),
			Entry("unknown source", `{name: a, source: {kind: srtm}}`),
			Entry("unknown field", `{name: a, colour: red, source: {kind: local_file}}`),
			Entry("wms without bbox", `{name: a, source: {kind: rge_alti}}`),
			Entry("inverted bbox", `{name: a, bbox: "1,0,0,1", source: {kind: terrarium, zoom: 3}}`),
			Entry("mapbox without token", `{name: a, bbox: "0,1,0,1", source: {kind: mapbox, zoom: 3}}`),
			Entry("crop without bbox", `{name: a, crop: true, source: {kind: local_file}}`),
			Entry("crop in another crs", `{name: a, crop: true, bbox: "0,1,0,1", bbox_crs: "EPSG:4326", target_crs: "EPSG:3857", source: {kind: local_file}}`),
			Entry("unknown format", `{name: a, format: webp, source: {kind: local_file}}`),
			Entry("cog in png", `{name: a, format: png, cog: true, source: {kind: local_file}}`),
			Entry("missing tiles of a merge", `{name: a, merge: true, add_missing_tiles: true, source: {kind: local_file}}`),
			Entry("identity remap", `{name: a, remap: {from: 0, to: 0}, source: {kind: local_file}}`),
		)
	})

	Describe("Build", func() {
		var (
			ctx      = context.Background()
			dir      string
			reporter *mocks.Reporter
			b        sources.Builder
		)

		BeforeEach(func() {
			var err error
			dir, err = os.MkdirTemp("", "job")
			Expect(err).To(BeNil())
			reporter = &mocks.Reporter{}
			b = sources.Builder{
				Downloader: download.New(download.NewSizeCache(filepath.Join(dir, "cache.json")), nil),
				Dirs:       sources.Dirs{Root: dir},
				Reporter:   reporter,
			}
		})

		AfterEach(func() {
			os.RemoveAll(dir)
		})

		It("should report an oversized RGE ALTI request before any download", func() {
			reporter.On("ReportError", mock.MatchedBy(func(msg string) bool {
				return strings.Contains(msg, "10000px")
			})).Once()
			j, err := parse(`{name: alti, source: {kind: rge_alti}, bbox: "700000,720000,6600000,6610000,20000,10000"}`)
			Expect(err).To(BeNil())
			_, err = j.Build(b, nil)
			Expect(terrain.IsError(err, terrain.ConfigurationError)).To(BeTrue())
			reporter.AssertExpectations(GinkgoT())
		})

		It("should require a storage to publish", func() {
			reporter.On("ReportError", mock.Anything).Once()
			j, err := parse(`{name: a, publish: "gs://bucket/dem", source: {kind: local_file, path: a.tif}}`)
			Expect(err).To(BeNil())
			_, err = j.Build(b, nil)
			Expect(err).NotTo(BeNil())
			reporter.AssertExpectations(GinkgoT())
		})

		It("should merge, reproject, convert and publish local tiles", func() {
			createTile(filepath.Join(dir, "in", "west.tif"), 0, 0)
			createTile(filepath.Join(dir, "in", "east.tif"), 1, 0)
			published := filepath.Join(dir, "published")
			j, err := parse(`
name: dem
source:
  kind: local_folder
  path: ` + filepath.Join(dir, "in") + `
  crs: EPSG:4326
target_crs: EPSG:3857
format: png
publish: file://` + published + `
`)
			Expect(err).To(BeNil())
			s, err := j.Build(b, uri.NewResolver(s3.Config{}))
			Expect(err).To(BeNil())

			res, err := fetch.Run(ctx, s, "", nil)
			Expect(err).To(BeNil())
			Expect(res.CRS).To(Equal("EPSG:3857"))
			Expect(res.Files).To(Equal([]string{"file://" + published + "/dem.png"}))
			_, err = os.Stat(fetch.ReprojectedName(b.Dirs.Work(), "dem", "EPSG:3857"))
			Expect(err).To(BeNil())
			_, err = os.Stat(filepath.Join(published, "dem.png"))
			Expect(err).To(BeNil())
			reporter.AssertNotCalled(GinkgoT(), "ReportError", mock.Anything)
		})
	})
})
