package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/airbusgeo/terrainfetch/cmd"
	"github.com/airbusgeo/terrainfetch/interface/storage/uri"
	"github.com/airbusgeo/terrainfetch/internal/download"
	"github.com/airbusgeo/terrainfetch/internal/fetch"
	"github.com/airbusgeo/terrainfetch/internal/job"
	"github.com/airbusgeo/terrainfetch/internal/log"
	"github.com/airbusgeo/terrainfetch/internal/sources"
	"github.com/airbusgeo/terrainfetch/internal/terrain"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newFetchCmd(cfg *globalConfig) *cobra.Command {
	var timeout time.Duration
	c := &cobra.Command{
		Use:   "fetch JOB.yaml",
		Short: "Run the pipeline described by a job file",
		Example: `  terrainfetch fetch alps.yaml --root /data
  terrainfetch fetch rge.yaml --with-gcs`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if timeout > 0 {
				ctx, cancel := context.WithTimeout(c.Context(), timeout)
				defer cancel()
				c.SetContext(ctx)
			}
			return runFetch(c.Context(), cfg, args[0], c)
		},
	}
	c.Flags().DurationVar(&timeout, "timeout", 0, "abort the pipeline after this duration (0: no limit)")
	return c
}

func runFetch(ctx context.Context, cfg *globalConfig, jobFile string, c *cobra.Command) error {
	j, err := job.Load(jobFile)
	if err != nil {
		return err
	}
	if c.Flags().Changed("root") || j.Root == "." {
		j.Root = cfg.Root
	}
	if err := cmd.InitGDAL(ctx, cfg.GDALConfig); err != nil {
		return fmt.Errorf("init gdal: %w", err)
	}

	cache, err := download.DefaultCache(j.Root)
	if err != nil {
		return err
	}
	resolver := uri.NewResolver(cfg.GDALConfig.S3)
	b := sources.Builder{
		Downloader: download.New(cache, resolver),
		Dirs:       sources.Dirs{Root: j.Root},
		Reporter:   &terrain.WriterReporter{W: os.Stderr},
	}
	stage, err := j.Build(b, resolver)
	if err != nil {
		return err
	}

	ctx = log.With(ctx, "job", j.Name)
	start := time.Now()
	res, err := fetch.Run(ctx, stage, "", nil)
	if err != nil {
		return err
	}
	log.Logger(ctx).Info("job done", zap.Duration("elapsed", time.Since(start)), zap.String("crs", res.CRS), zap.Int("files", len(res.Files)))

	out := c.OutOrStdout()
	fmt.Fprintf(out, "crs: %s\n", res.CRS)
	for _, f := range res.Files {
		fmt.Fprintln(out, f)
	}
	return nil
}
