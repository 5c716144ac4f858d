package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/khryptorgraphics/imagepipe/pkg/pipeline"
	"github.com/khryptorgraphics/imagepipe/pkg/prefetch"
)

func prefetchCmd() *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "prefetch [URL...]",
		Short: "Warm the caches for a list of URLs without returning pixels",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrefetch(args, wait)
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 30*time.Second, "how long to wait for prefetching to finish before exiting")
	return cmd
}

func runPrefetch(urls []string, wait time.Duration) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := newLogger()

	pl, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer pl.Close()

	pf := prefetch.New(pl, pipeline.PriorityLow, cfg.Queue.Prefetch)

	requests := make([]pipeline.ImageRequest, len(urls))
	for i, u := range urls {
		requests[i] = pipeline.NewImageRequest(u)
	}

	pf.StartPrefetching(requests)
	logger.Info("prefetch started", "url_count", len(urls))

	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if pf.InFlight() == 0 {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}

	logger.Info("prefetch finished", "in_flight_remaining", pf.InFlight())
	return nil
}
