// Command imagepipe runs the HTTP gateway, a one-shot prefetch driver, and
// cache-inspection utilities around the imagepipe library.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0-dev"
	configFile string
)

func main() {
	root := &cobra.Command{
		Use:     "imagepipe",
		Short:   "Task-graph image loading pipeline: fetch, decode, process, cache",
		Version: version,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "configuration file path (YAML)")

	root.AddCommand(serveCmd())
	root.AddCommand(prefetchCmd())
	root.AddCommand(cacheCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
