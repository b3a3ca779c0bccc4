package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tutord/internal/chunker"
	"github.com/fyrsmithlabs/tutord/internal/config"
	"github.com/fyrsmithlabs/tutord/internal/embeddings"
	"github.com/fyrsmithlabs/tutord/internal/secrets"
	"github.com/fyrsmithlabs/tutord/internal/textbook"
	"github.com/fyrsmithlabs/tutord/internal/vectorstore"
)

var tracer = otel.Tracer("tutord.ingest")

const (
	defaultBatchSize     = 100
	defaultWatchDebounce = 2 * time.Second
)

// Config holds pipeline settings. Zero values fall back to the documented
// defaults; redaction stays off unless RedactSecrets is set.
type Config struct {
	// ContentDir is the corpus root used when Run or Watch is called with an
	// empty dir.
	ContentDir string

	// BatchSize caps how many chunks are embedded and upserted per request.
	BatchSize int

	// RedactSecrets scans chunk text and replaces detected secrets before
	// anything is embedded or stored.
	RedactSecrets bool

	// AllowlistPath points at an optional allowlist file for the secret
	// scanner. A missing file is not an error.
	AllowlistPath string

	// ChunkSize and ChunkOverlap are passed to the chunker when non-zero.
	ChunkSize    int
	ChunkOverlap int

	// WatchDebounce is how long Watch waits after the last filesystem event
	// before re-ingesting the changed chapters.
	WatchDebounce time.Duration
}

// FromAppConfig builds a pipeline Config from the top-level application
// settings.
func FromAppConfig(app config.IngestionConfig) Config {
	return Config{
		ContentDir:    app.ContentDir,
		BatchSize:     app.BatchSize,
		RedactSecrets: app.RedactSecrets,
		AllowlistPath: app.AllowlistPath,
		ChunkSize:     app.ChunkSize,
		ChunkOverlap:  app.ChunkOverlap,
		WatchDebounce: app.WatchDebounce.Duration(),
	}
}

// Report summarizes one ingestion run.
type Report struct {
	ChaptersTotal  int
	ChaptersFailed int
	EmbeddedCount  int
	FailedCount    int
	Rev            string
	Duration       time.Duration
	Failures       []Failure
}

// Failure records a chapter that could not be ingested.
type Failure struct {
	ChapterID string
	Path      string
	Err       string
}

// ProgressEvent is emitted after each chapter is processed.
type ProgressEvent struct {
	ChapterID    string
	ChapterTitle string
	Seq          int // 1-based position in the run
	Total        int
	Chunks       int // chunks upserted for this chapter
	Err          error
}

// ProgressFunc receives progress events during Run. It is called from the
// ingestion goroutine and must not block.
type ProgressFunc func(ProgressEvent)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithProgress registers a callback invoked after each chapter during Run.
func WithProgress(fn ProgressFunc) Option {
	return func(p *Pipeline) { p.progress = fn }
}

// Pipeline ingests textbook content into the vector store.
type Pipeline struct {
	store    vectorstore.Store
	provider embeddings.Provider
	config   Config
	logger   *zap.Logger
	chunker  *chunker.Chunker
	scanner  *secrets.Scanner // nil when redaction is disabled
	progress ProgressFunc
}

// New builds a Pipeline. The chunker and, when enabled, the secret scanner
// are constructed once here so Run and Watch share them.
func New(store vectorstore.Store, provider embeddings.Provider, cfg Config, logger *zap.Logger, opts ...Option) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.WatchDebounce <= 0 {
		cfg.WatchDebounce = defaultWatchDebounce
	}

	var chunkOpts []chunker.Option
	if cfg.ChunkSize > 0 {
		chunkOpts = append(chunkOpts, chunker.WithChunkSize(cfg.ChunkSize))
	}
	if cfg.ChunkOverlap > 0 {
		chunkOpts = append(chunkOpts, chunker.WithOverlap(cfg.ChunkOverlap))
	}
	ck, err := chunker.New(chunkOpts...)
	if err != nil {
		return nil, fmt.Errorf("configuring chunker: %w", err)
	}

	var scanner *secrets.Scanner
	if cfg.RedactSecrets {
		allowlist, err := secrets.LoadAllowlist(cfg.AllowlistPath)
		if err != nil {
			return nil, fmt.Errorf("loading allowlist: %w", err)
		}
		scanner, err = secrets.NewScanner(allowlist)
		if err != nil {
			return nil, fmt.Errorf("building secret scanner: %w", err)
		}
	}

	p := &Pipeline{
		store:    store,
		provider: provider,
		config:   cfg,
		logger:   logger,
		chunker:  ck,
		scanner:  scanner,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run ingests every chapter under dir, or under the configured content dir
// when dir is empty. Chapter failures are recorded in the report and do not
// stop the run; Run itself returns an error only when the corpus cannot be
// read, the collection cannot be ensured, or the context is cancelled. On
// cancellation the partial report is returned alongside ctx.Err().
func (p *Pipeline) Run(ctx context.Context, dir string) (Report, error) {
	if dir == "" {
		dir = p.config.ContentDir
	}

	ctx, span := tracer.Start(ctx, "ingest.Run",
		trace.WithAttributes(attribute.String("content.dir", dir)))
	defer span.End()

	start := time.Now()
	var report Report

	chapters, skipped, err := textbook.LoadDir(ctx, dir)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "loading content")
		report.Duration = time.Since(start)
		return report, fmt.Errorf("loading content from %s: %w", dir, err)
	}
	for _, s := range skipped {
		p.logger.Warn("skipping file",
			zap.String("path", s.Path),
			zap.String("reason", s.Reason))
	}

	report.ChaptersTotal = len(chapters)
	report.Rev = textbook.Revision(dir)

	if len(chapters) == 0 {
		report.Duration = time.Since(start)
		p.logger.Info("no chapters found", zap.String("dir", dir))
		return report, nil
	}

	if err := p.store.EnsureCollection(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ensuring collection")
		report.Duration = time.Since(start)
		return report, fmt.Errorf("ensuring collection: %w", err)
	}

	p.logger.Info("starting ingestion",
		zap.String("dir", dir),
		zap.Int("chapters", len(chapters)),
		zap.String("rev", report.Rev))

	for i, ch := range chapters {
		select {
		case <-ctx.Done():
			report.Duration = time.Since(start)
			return report, ctx.Err()
		default:
		}

		ch.Rev = report.Rev

		upserted, total, cerr := p.ingestChapter(ctx, ch)
		report.EmbeddedCount += upserted
		if cerr != nil {
			if ctx.Err() != nil {
				report.Duration = time.Since(start)
				return report, ctx.Err()
			}
			report.ChaptersFailed++
			report.FailedCount += total - upserted
			report.Failures = append(report.Failures, Failure{
				ChapterID: ch.ID,
				Path:      ch.Path,
				Err:       cerr.Error(),
			})
			p.logger.Error("chapter ingestion failed",
				zap.String("chapter", ch.ID),
				zap.Error(cerr))
		} else {
			p.logger.Info("chapter ingested",
				zap.String("chapter", ch.ID),
				zap.Int("chunks", upserted))
		}

		if p.progress != nil {
			p.progress(ProgressEvent{
				ChapterID:    ch.ID,
				ChapterTitle: ch.Title,
				Seq:          i + 1,
				Total:        len(chapters),
				Chunks:       upserted,
				Err:          cerr,
			})
		}
	}

	report.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("chapters.total", report.ChaptersTotal),
		attribute.Int("chapters.failed", report.ChaptersFailed),
		attribute.Int("chunks.embedded", report.EmbeddedCount),
	)
	p.logger.Info("ingestion complete",
		zap.Int("chapters", report.ChaptersTotal),
		zap.Int("failed", report.ChaptersFailed),
		zap.Int("chunks", report.EmbeddedCount),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// ingestChapter replaces one chapter's points in the store. Chunking happens
// before the delete so a chapter that cannot be chunked leaves its existing
// points untouched. Returns how many chunks were upserted and how many the
// chapter produced in total.
func (p *Pipeline) ingestChapter(ctx context.Context, ch *textbook.Chapter) (upserted, total int, err error) {
	records, err := p.chunkChapter(ch)
	if err != nil {
		return 0, 0, err
	}
	total = len(records)
	if total == 0 {
		return 0, 0, fmt.Errorf("chapter %s has no chunkable content", ch.ID)
	}

	if err := p.store.DeleteByChapter(ctx, ch.ID); err != nil {
		return 0, total, fmt.Errorf("deleting stale points for %s: %w", ch.ID, err)
	}

	for lo := 0; lo < total; lo += p.config.BatchSize {
		hi := min(lo+p.config.BatchSize, total)
		batch := records[lo:hi]

		texts := make([]string, len(batch))
		for i, r := range batch {
			texts[i] = r.Text
		}

		vectors, err := p.provider.EmbedDocuments(ctx, texts)
		if err != nil {
			return upserted, total, fmt.Errorf("embedding chunks %d-%d of %s: %w", lo, hi-1, ch.ID, err)
		}
		if len(vectors) != len(batch) {
			return upserted, total, fmt.Errorf("embedding chunks %d-%d of %s: got %d vectors for %d texts", lo, hi-1, ch.ID, len(vectors), len(batch))
		}
		for i := range batch {
			batch[i].Vector = vectors[i]
		}

		n, err := p.store.Upsert(ctx, batch)
		if err != nil {
			return upserted, total, fmt.Errorf("upserting chunks %d-%d of %s: %w", lo, hi-1, ch.ID, err)
		}
		upserted += n
	}

	return upserted, total, nil
}

// chunkChapter splits a chapter's sections into chunk records with dense
// chapter-wide indices, redacting secrets when a scanner is configured.
func (p *Pipeline) chunkChapter(ch *textbook.Chapter) ([]vectorstore.ChunkRecord, error) {
	var records []vectorstore.ChunkRecord
	index := 0
	for _, section := range ch.Sections {
		chunks, err := p.chunker.Split(section.Content)
		if err != nil {
			if errors.Is(err, chunker.ErrInvalidInput) {
				continue
			}
			return nil, fmt.Errorf("chunking section %q of %s: %w", section.Heading, ch.ID, err)
		}
		for _, c := range chunks {
			text := c.Text
			if p.scanner != nil {
				res := p.scanner.Redact(text)
				if res.Audit.HasRedactions() {
					p.logger.Warn("redacted secrets from chunk",
						zap.String("chapter", ch.ID),
						zap.Int("chunk", index),
						zap.Int("secrets", res.Audit.Summary.TotalSecrets))
					text = res.Content
				}
			}
			records = append(records, vectorstore.ChunkRecord{
				ChunkPayload: vectorstore.ChunkPayload{
					ChapterID:      ch.ID,
					ChapterTitle:   ch.Title,
					ModuleID:       ch.ModuleID,
					SectionType:    string(section.Type),
					Index:          index,
					Text:           text,
					WordCount:      c.WordCount,
					ContainsCode:   c.ContainsCode,
					ContainsHeader: c.ContainsHeader,
					FilePath:       ch.Path,
					Rev:            ch.Rev,
				},
			})
			index++
		}
	}
	return records, nil
}
