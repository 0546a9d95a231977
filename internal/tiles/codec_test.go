package tiles_test

import (
	"github.com/airbusgeo/terrainfetch/internal/terrain"
	"github.com/airbusgeo/terrainfetch/internal/tiles"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
)

var _ = Describe("Codec", func() {
	DescribeTable("decoding",
		func(codec tiles.Codec, rawID string, x, y int) {
			gx, err := codec.TileToX(rawID)
			Expect(err).To(BeNil())
			gy, err := codec.TileToY(rawID)
			Expect(err).To(BeNil())
			Expect([]int{gx, gy}).To(Equal([]int{x, y}))
		},
		Entry("degree west north", tiles.DegreeCodec{}, "W010N40", -10, -40),
		Entry("degree east north", tiles.DegreeCodec{}, "E005N42", 5, -42),
		Entry("degree lat first", tiles.DegreeCodec{}, "S12E130", 130, 12),
		Entry("degree lower case", tiles.DegreeCodec{}, "n45e006", 6, -45),
		Entry("viewfinder hgt", tiles.ViewfinderCodec, "N45E006", 186, 38),
		Entry("viewfinder 15 first", tiles.Viewfinder15Codec, "15-A", 0, 0),
		Entry("viewfinder 15 second row", tiles.Viewfinder15Codec, "15-H", 1, 1),
		Entry("viewfinder 15 last", tiles.Viewfinder15Codec, "15-X", 5, 3),
		Entry("swissalti3d", tiles.SwissALTI3DCodec, "swissalti3d_2019_2501-1120_2_2056_5728", 2501, -1120),
		Entry("litto3d", tiles.Litto3DCodec, "LITTO3D_GUA_0636_1794_MNT_20160111_UTM20N_IGN88", 636, -1794),
		Entry("generic", tiles.GenericCodec, "dem_x3_y12", 3, 12),
	)

	DescribeTable("malformed identifiers",
		func(codec tiles.Codec, rawID string) {
			_, err := codec.TileToX(rawID)
			Expect(terrain.IsError(err, terrain.FormatError)).To(BeTrue())
			_, err = codec.TileToY(rawID)
			Expect(terrain.IsError(err, terrain.FormatError)).To(BeTrue())
		},
		Entry("degree", tiles.DegreeCodec{}, "X010Y40"),
		Entry("viewfinder 15 out of range", tiles.Viewfinder15Codec, "15-Y"),
		Entry("viewfinder 15 wrong prefix", tiles.Viewfinder15Codec, "16-A"),
		Entry("viewfinder 15 too long", tiles.Viewfinder15Codec, "15-AB"),
		Entry("swissalti3d", tiles.SwissALTI3DCodec, "swissalti3d_2019"),
		Entry("generic", tiles.GenericCodec, "dem.tif"),
	)

	It("should validate viewfinder mega tiles", func() {
		Expect(tiles.ValidateViewfinder15("15-K")).To(Succeed())
		Expect(tiles.ValidateViewfinder15("M31")).NotTo(Succeed())
		Expect(tiles.ValidateViewfinder("M31")).To(Succeed())
		Expect(tiles.ValidateViewfinder("SL44")).To(Succeed())
		Expect(tiles.ValidateViewfinder("15-K")).NotTo(Succeed())
	})

	It("should return signed degrees", func() {
		lon, err := tiles.DegreeCodec{}.Longitude("W010N40")
		Expect(err).To(BeNil())
		Expect(lon).To(Equal(-10))
		lat, err := tiles.DegreeCodec{}.Latitude("W010S40")
		Expect(err).To(BeNil())
		Expect(lat).To(Equal(-40))
	})
})
