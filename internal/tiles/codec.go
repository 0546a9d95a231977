// Package tiles maps source-specific tile identifiers onto a canonical integer grid
package tiles

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/airbusgeo/terrainfetch/internal/terrain"
)

// Codec decodes the grid position of a raw tile identifier.
// Grid Y grows southwards.
type Codec interface {
	TileToX(rawID string) (int, error)
	TileToY(rawID string) (int, error)
}

var (
	lonLatRe = regexp.MustCompile(`(?i)([EW])(\d{3})([NS])(\d{2})`)
	latLonRe = regexp.MustCompile(`(?i)([NS])(\d{2})([EW])(\d{3})`)
)

// DegreeCodec decodes one-degree tiles such as W010N40 or N45E006.
// West and North are negative, so that X grows eastwards and Y southwards.
// OriginX and OriginY shift the grid: X = OriginX + lon, Y = OriginY - lat.
type DegreeCodec struct {
	OriginX int
	OriginY int
}

func (c DegreeCodec) parse(rawID string) (lon, lat int, err error) {
	var lonSign, lonDigits, latSign, latDigits string
	if m := lonLatRe.FindStringSubmatch(rawID); m != nil {
		lonSign, lonDigits, latSign, latDigits = m[1], m[2], m[3], m[4]
	} else if m := latLonRe.FindStringSubmatch(rawID); m != nil {
		latSign, latDigits, lonSign, lonDigits = m[1], m[2], m[3], m[4]
	} else {
		return 0, 0, terrain.NewFormatError("tile %s does not follow the degree naming (ex: W010N40)", rawID)
	}
	lon, _ = strconv.Atoi(lonDigits)
	lat, _ = strconv.Atoi(latDigits)
	if strings.EqualFold(lonSign, "W") {
		lon = -lon
	}
	if strings.EqualFold(latSign, "S") {
		lat = -lat
	}
	return lon, lat, nil
}

func (c DegreeCodec) TileToX(rawID string) (int, error) {
	lon, _, err := c.parse(rawID)
	if err != nil {
		return 0, err
	}
	return c.OriginX + lon, nil
}

func (c DegreeCodec) TileToY(rawID string) (int, error) {
	_, lat, err := c.parse(rawID)
	if err != nil {
		return 0, err
	}
	return c.OriginY - lat, nil
}

// Longitude returns the signed longitude of the tile (west negative)
func (c DegreeCodec) Longitude(rawID string) (int, error) {
	lon, _, err := c.parse(rawID)
	return lon, err
}

// Latitude returns the signed latitude of the tile (south negative)
func (c DegreeCodec) Latitude(rawID string) (int, error) {
	_, lat, err := c.parse(rawID)
	return lat, err
}

// OrdinalCodec decodes identifiers ending with a letter whose ordinal is laid out
// row by row in a grid of GridWidth columns. Prefix, if set, must start the identifier.
type OrdinalCodec struct {
	Prefix    string
	First     byte
	Last      byte
	GridWidth int
}

func (c OrdinalCodec) ordinal(rawID string) (int, error) {
	if len(rawID) != len(c.Prefix)+1 || !strings.HasPrefix(rawID, c.Prefix) {
		return 0, terrain.NewFormatError("tile %s must be %s followed by a letter", rawID, c.Prefix)
	}
	l := rawID[len(c.Prefix)]
	if l < c.First || l > c.Last {
		return 0, terrain.NewFormatError("tile %s: %c is not between %c and %c", rawID, l, c.First, c.Last)
	}
	return int(l - c.First), nil
}

func (c OrdinalCodec) TileToX(rawID string) (int, error) {
	o, err := c.ordinal(rawID)
	if err != nil {
		return 0, err
	}
	return o % c.GridWidth, nil
}

func (c OrdinalCodec) TileToY(rawID string) (int, error) {
	o, err := c.ordinal(rawID)
	if err != nil {
		return 0, err
	}
	return o / c.GridWidth, nil
}

// RegexCodec extracts X and Y from the two first groups of Pattern.
// With NegateY, Y is negated so that a northing becomes a grid row.
type RegexCodec struct {
	Pattern *regexp.Regexp
	NegateY bool
}

func (c RegexCodec) group(rawID string, i int) (int, error) {
	m := c.Pattern.FindStringSubmatch(rawID)
	if len(m) < 3 {
		return 0, terrain.NewFormatError("tile %s does not match %s", rawID, c.Pattern.String())
	}
	v, err := strconv.Atoi(m[i])
	if err != nil {
		return 0, terrain.NewFormatError("tile %s: %s is not an integer", rawID, m[i])
	}
	return v, nil
}

func (c RegexCodec) TileToX(rawID string) (int, error) {
	return c.group(rawID, 1)
}

func (c RegexCodec) TileToY(rawID string) (int, error) {
	y, err := c.group(rawID, 2)
	if c.NegateY {
		y = -y
	}
	return y, err
}

var (
	// Viewfinder 1" and 3" .hgt files, on a grid starting at 180°W, 83°N
	ViewfinderCodec = DegreeCodec{OriginX: 180, OriginY: 83}
	// Viewfinder 15" mega tiles 15-A..15-X, 6 columns
	Viewfinder15Codec = OrdinalCodec{Prefix: "15-", First: 'A', Last: 'X', GridWidth: 6}
	// SwissALTI3D tiles, ex: swissalti3d_2019_2501-1120_2_2056_5728
	SwissALTI3DCodec = RegexCodec{Pattern: regexp.MustCompile(`_(\d+)-(\d+)_`), NegateY: true}
	// Litto3D Guadeloupe, ex: LITTO3D_GUA_0636_1794_MNT_20160111_UTM20N_IGN88
	Litto3DCodec = RegexCodec{Pattern: regexp.MustCompile(`_(\d{4})_(\d{4})_`), NegateY: true}
	// Files renamed by TileSet.Rename
	GenericCodec = RegexCodec{Pattern: regexp.MustCompile(`_x(\d+)_y(\d+)`)}
)

var viewfinderMegaTileRe = regexp.MustCompile(`^[A-Z]{1,2}\d{1,2}$`)

// ValidateViewfinder15 checks a Viewfinder 15" mega tile identifier (15-A..15-X)
func ValidateViewfinder15(megaTile string) error {
	_, err := Viewfinder15Codec.ordinal(megaTile)
	return err
}

// ValidateViewfinder checks a Viewfinder 1" or 3" mega tile identifier (M31, SL44...)
func ValidateViewfinder(megaTile string) error {
	if !viewfinderMegaTileRe.MatchString(megaTile) {
		return terrain.NewFormatError("%s is not a viewfinder mega tile (ex: M31)", megaTile)
	}
	return nil
}
