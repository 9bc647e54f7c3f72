package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/verifyr-ai/verifyr-core"
)

// newRunCmd constructs `verifyr-ingest run`, a full ingestion pass over
// cfg.DocsRoot. Pages whose content hash is unchanged since the last run
// are skipped; changed pages have their chunks and embeddings rebuilt.
func newRunCmd(configPath *string) *cobra.Command {
	var docsRoot string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest every product's documentation under the configured docs root",
		RunE: func(cmd *cobra.Command, args []string) error {
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if docsRoot != "" {
				cfg.DocsRoot = docsRoot
			}
			if cfg.DocsRoot == "" {
				return fmt.Errorf("ingest: --docs-root or config docs_root is required")
			}

			engine, err := verifyr.New(cfg)
			if err != nil {
				return fmt.Errorf("ingest: creating engine: %w", err)
			}
			defer engine.Close()

			summary, err := engine.IngestAll(cmd.Context())
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			slog.Info("ingestion complete",
				"pages_seen", summary.PagesSeen,
				"pages_changed", summary.PagesChanged,
				"chunks_stored", summary.ChunksStored,
				"errors", len(summary.Errors),
			)
			for _, e := range summary.Errors {
				slog.Error("ingest: page failed", "error", e)
			}
			if len(summary.Errors) > 0 {
				return fmt.Errorf("ingest: %d page(s) failed", len(summary.Errors))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&docsRoot, "docs-root", "", "Root directory of per-product PDF subdirectories (overrides config)")
	return cmd
}

// newDeleteProductCmd constructs `verifyr-ingest delete-product`, removing
// every page, chunk, and embedding for one product ahead of a clean
// re-ingestion.
func newDeleteProductCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete-product <product>",
		Short: "Delete all indexed pages and chunks for a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			engine, err := verifyr.New(cfg)
			if err != nil {
				return fmt.Errorf("ingest: creating engine: %w", err)
			}
			defer engine.Close()

			if err := engine.DeleteProduct(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			slog.Info("product deleted", "product", args[0])
			return nil
		},
	}
	return cmd
}

func loadConfig(path string) (verifyr.Config, error) {
	if path == "" {
		return verifyr.DefaultConfig(), nil
	}
	return verifyr.LoadConfig(path)
}
