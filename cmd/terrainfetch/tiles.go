package main

import (
	"fmt"
	"path/filepath"

	"github.com/airbusgeo/terrainfetch/internal/sources"
	"github.com/airbusgeo/terrainfetch/internal/terrain"
	"github.com/airbusgeo/terrainfetch/internal/tiles"
	"github.com/spf13/cobra"
)

func newTilesCmd() *cobra.Command {
	var source, label string
	c := &cobra.Command{
		Use:   "tiles TILE...",
		Short: "Show the grid position and canonical name of source tiles",
		Example: `  terrainfetch tiles --source viewfinder3 N45E006.hgt N46E007.hgt
  terrainfetch tiles --source swissalti3d swissalti3d_2019_2501-1120_2_2056_5728.tif`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			kind, err := sources.ParseKind(source)
			if err != nil {
				return err
			}
			codec, err := codecOf(kind)
			if err != nil {
				return err
			}
			ts := tiles.NewTileSet(label, codec)
			ts.AddFiles(args...)
			if err := ts.InitializeMinMaxTiles(c.Context()); err != nil {
				return err
			}
			out := c.OutOrStdout()
			fmt.Fprintf(out, "grid: %dx%d tiles, x in [%d, %d], y in [%d, %d]\n", ts.Width(), ts.Height(), ts.FirstX, ts.LastX, ts.FirstY, ts.LastY)
			for _, t := range ts.Tiles {
				name, err := ts.Rename(t)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s\tx=%d\ty=%d\t%s%s\n", t.RawID, t.X, t.Y, name, filepath.Ext(t.Location))
			}
			missing, err := ts.Missing()
			if err != nil {
				return err
			}
			for _, m := range missing {
				fmt.Fprintf(out, "missing\t%s\n", tiles.CellName(label, m[0], m[1]))
			}
			return nil
		},
	}
	c.Flags().StringVar(&source, "source", string(sources.Viewfinder3), "source naming the tiles")
	c.Flags().StringVar(&label, "label", "tile", "prefix of the canonical names")
	return c
}

func codecOf(kind sources.Kind) (tiles.Codec, error) {
	switch kind {
	case sources.Viewfinder1:
		return sources.Viewfinder1Source.Codec, nil
	case sources.Viewfinder3:
		return sources.Viewfinder3Source.Codec, nil
	case sources.Viewfinder15:
		return sources.Viewfinder15Source.Codec, nil
	case sources.SwissALTI3D:
		return sources.SwissALTI3DSource.Codec, nil
	case sources.USGSOneThird:
		return sources.USGSSource.Codec, nil
	case sources.Litto3D:
		return sources.Litto3DSource.Codec, nil
	}
	return tiles.GenericCodec, terrain.NewConfigurationError("%s tiles have no naming scheme, use their canonical names (label_x0_y0)", kind)
}
