package main

import (
	"fmt"
	"sort"

	"github.com/airbusgeo/terrainfetch/internal/download"
	"github.com/spf13/cobra"
)

func newCacheCmd(cfg *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the expected sizes of the downloaded files",
	}
	c.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the cached urls and their size",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			cache, err := download.DefaultCache(cfg.Root)
			if err != nil {
				return err
			}
			entries := cache.Entries()
			urls := make([]string, 0, len(entries))
			for u := range entries {
				urls = append(urls, u)
			}
			sort.Strings(urls)
			out := c.OutOrStdout()
			for _, u := range urls {
				fmt.Fprintf(out, "%d\t%s\n", entries[u], u)
			}
			fmt.Fprintf(out, "%d entries\n", len(urls))
			return nil
		},
	}, &cobra.Command{
		Use:   "clear",
		Short: "Forget every expected size",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			cache, err := download.DefaultCache(cfg.Root)
			if err != nil {
				return err
			}
			n := cache.Len()
			if err := cache.Clear(); err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "%d entries removed\n", n)
			return nil
		},
	})
	return c
}
