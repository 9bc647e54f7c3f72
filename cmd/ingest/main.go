// Command verifyr-ingest runs the offline ingestion pipeline: walk a docs
// root, extract pages, chunk, embed, and populate the lexical/vector
// indexes.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "verifyr-ingest",
		Short:         "Offline ingestion pipeline for Verifyr documentation indexes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (JSON or YAML)")

	root.AddCommand(newRunCmd(&configPath), newDeleteProductCmd(&configPath))
	return root
}
