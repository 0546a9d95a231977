package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/airbusgeo/terrainfetch/cmd"
	"github.com/airbusgeo/terrainfetch/internal/download"
	"github.com/airbusgeo/terrainfetch/internal/log"
	"github.com/spf13/cobra"
)

var version = "dev"

type globalConfig struct {
	Root       string
	Console    bool
	GDALConfig *cmd.GDALConfig
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	download.Version = version

	err := newRootCmd().ExecuteContext(ctx)
	cancel()
	log.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &globalConfig{}
	root := &cobra.Command{
		Use:   "terrainfetch",
		Short: "Download, mosaic and reproject elevation rasters",
		Long: `terrainfetch acquires elevation tiles from remote or local sources
(Viewfinder Panoramas, SwissALTI3D, USGS, Litto3D, RGE ALTI, WMS, XYZ tiles...),
renames them on a common grid, then merges and reprojects them into a single raster.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRun: func(c *cobra.Command, args []string) {
			if cfg.Console {
				log.Console()
			}
		},
	}
	root.PersistentFlags().StringVar(&cfg.Root, "root", ".", "root of the working directories")
	root.PersistentFlags().BoolVar(&cfg.Console, "console", false, "human-friendly logs")
	cfg.GDALConfig = cmd.GDALConfigFlags(root.PersistentFlags())

	root.AddCommand(
		newFetchCmd(cfg),
		newTilesCmd(),
		newCacheCmd(cfg),
	)
	return root
}
