package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/khryptorgraphics/imagepipe/pkg/cache"
)

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the on-disk image caches",
	}
	cmd.AddCommand(cacheStatsCmd())
	cmd.AddCommand(cachePurgeCmd())
	return cmd
}

func cacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print entry counts and total bytes for both disk caches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheStats()
		},
	}
}

func cachePurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete every entry from both disk caches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCachePurge()
		},
	}
}

func runCacheStats() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	for _, sub := range []string{"final", "original"} {
		dc, err := cache.NewDiskCache(cfg.DiskCache.Directory+"/"+sub, cache.DiskLimits{
			SizeLimit:  cfg.DiskCache.SizeLimit,
			CountLimit: cfg.DiskCache.CountLimit,
			TrimRatio:  cfg.DiskCache.TrimRatio,
		})
		if err != nil {
			return fmt.Errorf("failed to open %s cache: %w", sub, err)
		}
		stats := dc.Stats()
		fmt.Printf("%-10s dir=%-40s entries=%-6d bytes=%d\n", sub, stats.Directory, stats.EntryCount, stats.TotalBytes)
		dc.Close()
	}
	return nil
}

func runCachePurge() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	for _, sub := range []string{"final", "original"} {
		dir := cfg.DiskCache.Directory + "/" + sub
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to purge %s cache: %w", sub, err)
		}
		fmt.Printf("purged %s\n", dir)
	}
	return nil
}
