package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// DefaultCollection is the collection chunk points are stored in.
const DefaultCollection = "textbook_chapters"

// Sentinel errors for vector store operations.
var (
	// ErrUnavailable indicates the backend could not be reached. The
	// condition is retryable; the query path maps it to 503.
	ErrUnavailable = errors.New("vector store unavailable")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyBatch indicates empty or nil records.
	ErrEmptyBatch = errors.New("empty or nil records")

	// ErrCollectionNotFound is returned when the collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")
)

// Payload keys stored with every point.
const (
	KeyChapterID      = "chapter_id"
	KeyChapterTitle   = "chapter_title"
	KeyModuleID       = "module_id"
	KeySectionType    = "section_type"
	KeyChunkIndex     = "chunk_index"
	KeyChunkText      = "chunk_text"
	KeyWordCount      = "word_count"
	KeyFilePath       = "file_path"
	KeyContainsCode   = "contains_code"
	KeyContainsHeader = "contains_header"
	KeyRev            = "rev"
)

// pointNamespace seeds deterministic point IDs. Fixed so the same chunk maps
// to the same point across runs and hosts.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("tutord.fyrsmithlabs.com"))

// PointID returns the stable point ID for a chunk. Re-ingesting the same
// (chapter, index) pair produces the same ID, so upserts overwrite the
// previous point instead of accumulating duplicates.
func PointID(chapterID string, index int) string {
	return uuid.NewSHA1(pointNamespace, []byte(fmt.Sprintf("%s:%d", chapterID, index))).String()
}

// ChunkPayload is the metadata stored alongside each vector.
type ChunkPayload struct {
	ChapterID      string
	ChapterTitle   string
	ModuleID       string
	SectionType    string
	Index          int
	Text           string
	WordCount      int
	ContainsCode   bool
	ContainsHeader bool
	FilePath       string
	Rev            string
}

// ChunkRecord is a chunk ready for storage: its payload plus the embedding
// computed from its text.
type ChunkRecord struct {
	ChunkPayload

	// Vector is the precomputed embedding. Its length must match the
	// collection's vector size.
	Vector []float32
}

// SearchResult is a single hit from a similarity search.
type SearchResult struct {
	// ID is the point identifier (see PointID).
	ID string

	// Score is the cosine similarity (higher = more similar).
	Score float32

	// Payload is the stored chunk metadata.
	Payload ChunkPayload
}

// Filter narrows a search to points whose payload matches every set field.
type Filter struct {
	ChapterID   string
	ModuleID    string
	SectionType string
}

// IsZero reports whether no filter fields are set.
func (f Filter) IsZero() bool {
	return f == Filter{}
}

// Store is the interface for chunk vector storage.
//
// Implementations:
//   - QdrantStore: external Qdrant server over gRPC (default)
//   - ChromemStore: embedded chromem-go database
type Store interface {
	// EnsureCollection creates the configured collection when it does not
	// exist. Idempotent.
	EnsureCollection(ctx context.Context) error

	// Upsert writes records to the store in batches. Point IDs derive from
	// (chapter ID, chunk index), so re-upserting the same chunk overwrites
	// the previous point. Returns the number of points written.
	Upsert(ctx context.Context, records []ChunkRecord) (int, error)

	// Search returns up to k points most similar to vector, ordered by
	// descending score. A zero filter matches everything.
	Search(ctx context.Context, vector []float32, k int, filter Filter) ([]SearchResult, error)

	// DeleteByChapter removes every point belonging to the chapter.
	// A chapter with no stored points is a no-op.
	DeleteByChapter(ctx context.Context, chapterID string) error

	// Count returns the number of points in the collection.
	Count(ctx context.Context) (uint64, error)

	// Healthy reports whether the backend is reachable.
	Healthy(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}
