package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tutord/internal/config"
	"github.com/fyrsmithlabs/tutord/internal/embeddings"
	"github.com/fyrsmithlabs/tutord/internal/ingest"
	"github.com/fyrsmithlabs/tutord/internal/vectorstore"
)

var (
	watchMode   bool
	interactive bool
)

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().BoolVarP(&watchMode, "watch", "w", false, "re-ingest chapters as their files change")
	ingestCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "show a live progress display")
}

// ingestCmd runs the ingestion pipeline in-process, without the daemon.
var ingestCmd = &cobra.Command{
	Use:   "ingest [dir]",
	Short: "Ingest textbook content into the vector store",
	Long: `Ingest textbook markdown into the vector store.

The pipeline runs in this process: chapters are parsed, chunked, embedded,
and upserted directly. The directory argument overrides the configured
content directory. Re-running ingest replaces each chapter's chunks, so it
is safe to repeat.

With --watch, a full ingest runs first and then changed chapters are
re-ingested as their files are written. Stop with Ctrl-C.

Examples:
  # Ingest the configured content directory
  tutorctl ingest

  # Ingest a specific directory with a progress display
  tutorctl ingest ./book/chapters --interactive

  # Keep the index in sync while editing
  tutorctl ingest ./book/chapters --watch`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

// pipelineDeps holds the store and embedder an in-process pipeline needs.
type pipelineDeps struct {
	store    vectorstore.Store
	provider embeddings.Provider
}

func (d *pipelineDeps) Close(logger *zap.Logger) {
	if err := d.store.Close(); err != nil {
		logger.Warn("closing vector store", zap.Error(err))
	}
	if err := d.provider.Close(); err != nil {
		logger.Warn("closing embedding provider", zap.Error(err))
	}
}

// buildPipelineDeps constructs the embedding provider and vector store from
// config. The provider comes first so the store's vector size can default to
// the model's dimension.
func buildPipelineDeps(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*pipelineDeps, error) {
	provider, err := embeddings.NewProvider(embeddings.FromAppConfig(cfg.Embeddings))
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	vectorSize := cfg.Store.VectorSize
	if vectorSize == 0 {
		vectorSize = provider.Dimension()
	}

	store, err := vectorstore.NewStore(vectorstore.FromAppConfig(cfg.Store, vectorSize), logger)
	if err != nil {
		provider.Close()
		return nil, fmt.Errorf("creating vector store: %w", err)
	}

	if err := store.EnsureCollection(ctx); err != nil {
		store.Close()
		provider.Close()
		return nil, fmt.Errorf("ensuring collection: %w", err)
	}

	return &pipelineDeps{store: store, provider: provider}, nil
}

// runIngest handles the ingest command
func runIngest(cmd *cobra.Command, args []string) error {
	if watchMode && interactive {
		return fmt.Errorf("--watch and --interactive cannot be combined")
	}

	var dir string
	if len(args) > 0 {
		dir = args[0]
	}

	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if interactive {
		return runIngestInteractive(ctx, cfg, dir)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	deps, err := buildPipelineDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close(logger)

	pipeline, err := ingest.New(deps.store, deps.provider, ingest.FromAppConfig(cfg.Ingestion), logger)
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}

	report, err := pipeline.Run(ctx, dir)
	printReport(os.Stdout, report)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	if watchMode {
		fmt.Fprintf(os.Stderr, "[tutorctl] watching for changes (Ctrl-C to stop)\n")
		if err := pipeline.Watch(ctx, dir); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("watch failed: %w", err)
		}
	}

	return nil
}

// runIngestInteractive drives the pipeline under a bubbletea progress view.
// The program is created before the pipeline so progress callbacks always
// have somewhere to send.
func runIngestInteractive(ctx context.Context, cfg *config.Config, dir string) error {
	// The terminal belongs to the progress view, so pipeline logs are
	// dropped rather than interleaved with it.
	logger := zap.NewNop()

	deps, err := buildPipelineDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close(logger)

	p := tea.NewProgram(newIngestModel())

	pipeline, err := ingest.New(deps.store, deps.provider, ingest.FromAppConfig(cfg.Ingestion), logger,
		ingest.WithProgress(func(ev ingest.ProgressEvent) {
			p.Send(progressMsg(ev))
		}))
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		report, err := pipeline.Run(runCtx, dir)
		p.Send(doneMsg{report: report, err: err})
	}()

	finalModel, err := p.Run()
	// Quitting the view cancels the pipeline; the goroutine's Send into a
	// finished program is a no-op.
	cancel()
	wg.Wait()
	if err != nil {
		return fmt.Errorf("progress display failed: %w", err)
	}

	m, ok := finalModel.(ingestModel)
	if !ok {
		return fmt.Errorf("unexpected model type %T", finalModel)
	}

	if m.err != nil {
		return fmt.Errorf("ingest failed: %w", m.err)
	}
	if m.report == nil {
		fmt.Fprintln(os.Stderr, "[tutorctl] ingest aborted")
		return nil
	}

	printReport(os.Stdout, *m.report)
	return nil
}

// printReport writes an ingest report in a stable, greppable layout.
func printReport(w io.Writer, report ingest.Report) {
	fmt.Fprintf(w, "Chapters: %d total, %d failed\n", report.ChaptersTotal, report.ChaptersFailed)
	fmt.Fprintf(w, "Chunks:   %d embedded, %d failed\n", report.EmbeddedCount, report.FailedCount)
	if report.Rev != "" {
		fmt.Fprintf(w, "Revision: %s\n", report.Rev)
	}
	fmt.Fprintf(w, "Duration: %s\n", report.Duration.Round(time.Millisecond))

	if len(report.Failures) > 0 {
		fmt.Fprintln(w, "Failures:")
		for _, f := range report.Failures {
			fmt.Fprintf(w, "  %s (%s): %s\n", f.ChapterID, f.Path, f.Err)
		}
	}
}
