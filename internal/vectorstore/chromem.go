package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tutord/internal/sanitize"
)

// ChromemConfig holds configuration for the embedded chromem backend.
type ChromemConfig struct {
	// Path is the on-disk database directory. A leading "~" expands to
	// the user's home directory.
	// Default: "~/.config/tutord/vectorstore"
	Path string

	// Compress enables gzip compression of persisted documents.
	Compress bool

	// Collection is the collection all operations target.
	// Default: "textbook_chapters"
	Collection string
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.config/tutord/vectorstore"
	}
	if c.Collection == "" {
		c.Collection = DefaultCollection
	}
}

// Validate validates the configuration.
func (c ChromemConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: path required", ErrInvalidConfig)
	}
	if err := sanitize.ValidateCollectionName(c.Collection); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ChromemStore is a Store backed by an embedded chromem-go database.
//
// No external server is required: documents persist under a local
// directory, which makes this backend suitable for local development and
// integration tests. All vectors are precomputed by the caller.
type ChromemStore struct {
	db     *chromem.DB
	config ChromemConfig
	logger *zap.Logger
}

// errNoEmbedder rejects text embedding requests. Chromem falls back to an
// OpenAI embedder when handed a nil embedding func, which must never happen
// here: every document and query carries a precomputed vector.
func errNoEmbedder(_ context.Context, _ string) ([]float32, error) {
	return nil, fmt.Errorf("embedding requested from precomputed store")
}

// NewChromemStore creates a new ChromemStore, opening (or creating) the
// persistent database under the configured path.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	path, err := expandPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := chromem.NewPersistentDB(path, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("opening chromem database: %w", err)
	}

	logger.Info("chromem store opened",
		zap.String("path", path),
		zap.String("collection", config.Collection),
		zap.Bool("compress", config.Compress),
	)

	return &ChromemStore{
		db:     db,
		config: config,
		logger: logger,
	}, nil
}

// Close is a no-op: chromem persists every write to disk immediately.
func (s *ChromemStore) Close() error {
	return nil
}

// EnsureCollection creates the configured collection when it does not exist.
func (s *ChromemStore) EnsureCollection(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { observeOp("ensure_collection", start, err) }()

	_, err = s.collection()
	return err
}

// Upsert writes records as documents with precomputed embeddings. Document
// IDs derive from (chapter ID, chunk index), so existing documents are
// replaced.
func (s *ChromemStore) Upsert(ctx context.Context, records []ChunkRecord) (written int, err error) {
	start := time.Now()
	defer func() { observeOp("upsert", start, err) }()

	if len(records) == 0 {
		err = ErrEmptyBatch
		return 0, err
	}

	col, err := s.collection()
	if err != nil {
		return 0, err
	}

	docs := make([]chromem.Document, len(records))
	for i, rec := range records {
		docs[i] = chromem.Document{
			ID:        PointID(rec.ChapterID, rec.Index),
			Content:   rec.Text,
			Metadata:  metadataFromPayload(rec.ChunkPayload),
			Embedding: rec.Vector,
		}
	}

	if err = col.AddDocuments(ctx, docs, 1); err != nil {
		return 0, fmt.Errorf("adding documents to collection %s: %w", s.config.Collection, err)
	}

	s.logger.Debug("upserted chunks", zap.Int("count", len(docs)))
	PointsUpserted.Add(float64(len(docs)))
	return len(docs), nil
}

// Search returns up to k documents most similar to vector.
func (s *ChromemStore) Search(ctx context.Context, vector []float32, k int, filter Filter) (hits []SearchResult, err error) {
	start := time.Now()
	defer func() { observeOp("search", start, err) }()

	if k <= 0 {
		err = fmt.Errorf("k must be positive, got %d", k)
		return nil, err
	}
	if len(vector) == 0 {
		err = fmt.Errorf("query vector cannot be empty")
		return nil, err
	}

	col, err := s.collection()
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults greater than the number of stored documents.
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := col.QueryEmbedding(ctx, vector, k, whereFromFilter(filter), nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", s.config.Collection, err)
	}

	hits = make([]SearchResult, len(results))
	for i, r := range results {
		hits[i] = SearchResult{
			ID:      r.ID,
			Score:   r.Similarity,
			Payload: payloadFromMetadata(r.Metadata, r.Content),
		}
	}
	return hits, nil
}

// DeleteByChapter removes every document whose chapter_id metadata matches.
func (s *ChromemStore) DeleteByChapter(ctx context.Context, chapterID string) (err error) {
	start := time.Now()
	defer func() { observeOp("delete_by_chapter", start, err) }()

	if chapterID == "" {
		err = fmt.Errorf("chapter ID cannot be empty")
		return err
	}

	col, err := s.collection()
	if err != nil {
		return err
	}
	if col.Count() == 0 {
		return nil
	}

	if err = col.Delete(ctx, map[string]string{KeyChapterID: chapterID}, nil); err != nil {
		return fmt.Errorf("deleting chapter %s: %w", chapterID, err)
	}

	s.logger.Debug("deleted chapter points", zap.String("chapter_id", chapterID))
	return nil
}

// Count returns the number of documents in the collection.
func (s *ChromemStore) Count(_ context.Context) (count uint64, err error) {
	start := time.Now()
	defer func() { observeOp("count", start, err) }()

	col, err := s.collection()
	if err != nil {
		return 0, err
	}
	return uint64(col.Count()), nil
}

// Healthy reports nil as long as the database handle is open. The embedded
// backend has no server to probe.
func (s *ChromemStore) Healthy(_ context.Context) error {
	if s.db == nil {
		RecordHealthStatus(false)
		return fmt.Errorf("%w: database not open", ErrUnavailable)
	}
	RecordHealthStatus(true)
	return nil
}

// collection returns the configured collection, creating it on first use.
func (s *ChromemStore) collection() (*chromem.Collection, error) {
	col, err := s.db.GetOrCreateCollection(s.config.Collection, nil, errNoEmbedder)
	if err != nil {
		return nil, fmt.Errorf("opening collection %s: %w", s.config.Collection, err)
	}
	return col, nil
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}

// metadataFromPayload flattens a chunk payload into chromem's string
// metadata. The chunk text itself lives in Document.Content.
func metadataFromPayload(p ChunkPayload) map[string]string {
	return map[string]string{
		KeyChapterID:      p.ChapterID,
		KeyChapterTitle:   p.ChapterTitle,
		KeyModuleID:       p.ModuleID,
		KeySectionType:    p.SectionType,
		KeyChunkIndex:     strconv.Itoa(p.Index),
		KeyWordCount:      strconv.Itoa(p.WordCount),
		KeyFilePath:       p.FilePath,
		KeyContainsCode:   strconv.FormatBool(p.ContainsCode),
		KeyContainsHeader: strconv.FormatBool(p.ContainsHeader),
		KeyRev:            p.Rev,
	}
}

// payloadFromMetadata rebuilds a chunk payload from stored metadata plus
// the document content.
func payloadFromMetadata(md map[string]string, content string) ChunkPayload {
	index, _ := strconv.Atoi(md[KeyChunkIndex])
	words, _ := strconv.Atoi(md[KeyWordCount])
	code, _ := strconv.ParseBool(md[KeyContainsCode])
	header, _ := strconv.ParseBool(md[KeyContainsHeader])
	return ChunkPayload{
		ChapterID:      md[KeyChapterID],
		ChapterTitle:   md[KeyChapterTitle],
		ModuleID:       md[KeyModuleID],
		SectionType:    md[KeySectionType],
		Index:          index,
		Text:           content,
		WordCount:      words,
		ContainsCode:   code,
		ContainsHeader: header,
		FilePath:       md[KeyFilePath],
		Rev:            md[KeyRev],
	}
}

// whereFromFilter converts the equality filter to chromem's where map.
func whereFromFilter(f Filter) map[string]string {
	if f.IsZero() {
		return nil
	}
	where := make(map[string]string)
	if f.ChapterID != "" {
		where[KeyChapterID] = f.ChapterID
	}
	if f.ModuleID != "" {
		where[KeyModuleID] = f.ModuleID
	}
	if f.SectionType != "" {
		where[KeySectionType] = f.SectionType
	}
	return where
}
