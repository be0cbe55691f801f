package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/codescope-dev/codescope/internal/authtoken"
	"github.com/codescope-dev/codescope/internal/chunker"
	"github.com/codescope-dev/codescope/internal/config"
	"github.com/codescope-dev/codescope/internal/embedder"
	"github.com/codescope-dev/codescope/internal/scanner"
	"github.com/codescope-dev/codescope/internal/store"
)

func shutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 35*time.Second)
}

// newIndexCommand indexes one repository from the terminal, without the
// daemon. Useful for warming the store and for debugging.
func newIndexCommand() *cobra.Command {
	var (
		dataDir string
		sync    bool
	)

	cmd := &cobra.Command{
		Use:   "index <repo-path>",
		Short: "Index a repository from the command line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repoPath, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			cfg, err := config.NewLoader(dataDir).Load()
			if err != nil {
				return err
			}
			if dataDir != "" {
				cfg.Store.DataDir = dataDir
			}
			return runIndex(cmd.Context(), cfg, repoPath, sync)
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", "", "data directory (default ~/.codescope)")
	cmd.Flags().BoolVar(&sync, "sync", false, "garbage-collect records for files no longer present")
	return cmd
}

func runIndex(ctx context.Context, cfg *config.Config, repoPath string, syncPass bool) error {
	sc, err := scanner.New(repoPath, cfg.Indexing.IgnorePatterns)
	if err != nil {
		return err
	}
	files, skipped, err := sc.Scan()
	if err != nil {
		return err
	}
	fmt.Printf("scanned %d files (%d skipped)\n", len(files), len(skipped))

	pool := chunker.NewPool(chunker.New(cfg.Indexing.ChunkCharBudget), cfg.Indexing.Workers)
	chunks, chunkSkipped, err := pool.ChunkFiles(ctx, repoPath, files)
	if err != nil {
		return err
	}
	for _, s := range chunkSkipped {
		fmt.Printf("skipped %s: %s\n", s.Path, s.Reason)
	}
	fmt.Printf("chunked into %d chunks\n", len(chunks))

	st, recreated, err := store.Open(cfg.Store.DataDir, cfg.Store.SchemaVersion, cfg.Embedding.Dimensions)
	if err != nil {
		return err
	}
	defer st.Close()
	if recreated {
		fmt.Println("store schema recreated")
	}

	broker, err := authtoken.NewBroker(cfg.Store.DataDir)
	if err != nil {
		return err
	}
	client := embedder.NewHTTPClient(
		cfg.Embedding.Endpoint,
		cfg.Embedding.Model,
		cfg.Embedding.Dimensions,
		cfg.Embedding.Timeout,
		authtoken.Source{Broker: broker, Name: "embedding"},
	)

	pipeline := embedder.NewPipeline(client, st,
		cfg.Indexing.MaxParallelTasks,
		cfg.Indexing.BatchTokenBudget,
		cfg.Indexing.RetryLimit,
	)
	if err := pipeline.Run(ctx, chunks, false, &barReporter{}); err != nil {
		return err
	}

	if syncPass {
		manifest := make(map[string]bool, len(files))
		for _, f := range files {
			manifest[f.Hash] = true
		}
		deleted, err := st.DeleteStale(ctx, manifest)
		if err != nil {
			return err
		}
		if deleted > 0 {
			fmt.Printf("removed %d stale records\n", deleted)
		}
	}

	fmt.Println("done")
	return nil
}

// barReporter renders embedding progress as a terminal progress bar.
type barReporter struct {
	bar *progressbar.ProgressBar
}

func (b *barReporter) OnStart(totalChunks int) {
	b.bar = progressbar.NewOptions(totalChunks,
		progressbar.OptionSetDescription("embedding"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

func (b *barReporter) OnProgress(completedChunks int) {
	if b.bar != nil {
		_ = b.bar.Set(completedChunks)
	}
}
