package vectorstore_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tutord/internal/vectorstore"
)

func newTestChromemStore(t *testing.T) *vectorstore.ChromemStore {
	t.Helper()

	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{
		Path:       t.TempDir(),
		Compress:   false,
		Collection: "test_chapters",
	}, zap.NewNop())
	require.NoError(t, err)

	return store
}

// chunkRec builds a record with a hand-picked unit vector so similarity
// ordering in tests is exact.
func chunkRec(chapterID string, index int, text string, vec []float32) vectorstore.ChunkRecord {
	return vectorstore.ChunkRecord{
		ChunkPayload: vectorstore.ChunkPayload{
			ChapterID:    chapterID,
			ChapterTitle: "Test Chapter",
			ModuleID:     "module-1",
			SectionType:  "concepts",
			Index:        index,
			Text:         text,
			WordCount:    len(strings.Fields(text)),
			FilePath:     chapterID + ".md",
			Rev:          "abc1234",
		},
		Vector: vec,
	}
}

func TestChromemConfig_ApplyDefaults(t *testing.T) {
	config := vectorstore.ChromemConfig{}
	config.ApplyDefaults()

	assert.Equal(t, "~/.config/tutord/vectorstore", config.Path)
	assert.Equal(t, "textbook_chapters", config.Collection)
}

func TestChromemConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		config    vectorstore.ChromemConfig
		wantError bool
	}{
		{
			name: "valid config",
			config: vectorstore.ChromemConfig{
				Path:       "/tmp/test",
				Collection: "test_chapters",
			},
			wantError: false,
		},
		{
			name: "missing path",
			config: vectorstore.ChromemConfig{
				Collection: "test_chapters",
			},
			wantError: true,
		},
		{
			name: "invalid collection name",
			config: vectorstore.ChromemConfig{
				Path:       "/tmp/test",
				Collection: "Test-Chapters",
			},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantError {
				require.Error(t, err)
				assert.ErrorIs(t, err, vectorstore.ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChromemStore_UpsertAndCount(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := context.Background()

	require.NoError(t, store.EnsureCollection(ctx))

	written, err := store.Upsert(ctx, []vectorstore.ChunkRecord{
		chunkRec("module-1/chapter-1", 0, "first chunk", []float32{1, 0, 0}),
		chunkRec("module-1/chapter-1", 1, "second chunk", []float32{0, 1, 0}),
		chunkRec("module-1/chapter-2", 0, "third chunk", []float32{0, 0, 1}),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, written)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)
}

func TestChromemStore_Upsert_Idempotent(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := context.Background()

	records := []vectorstore.ChunkRecord{
		chunkRec("module-1/chapter-1", 0, "original text", []float32{1, 0, 0}),
		chunkRec("module-1/chapter-1", 1, "more text", []float32{0, 1, 0}),
	}

	_, err := store.Upsert(ctx, records)
	require.NoError(t, err)

	// Same (chapter, index) pairs: the points are replaced, not duplicated.
	records[0].Text = "revised text"
	_, err = store.Upsert(ctx, records)
	require.NoError(t, err)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)

	hits, err := store.Search(ctx, []float32{1, 0, 0}, 1, vectorstore.Filter{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "revised text", hits[0].Payload.Text)
}

func TestChromemStore_Upsert_EmptyBatch(t *testing.T) {
	store := newTestChromemStore(t)

	_, err := store.Upsert(context.Background(), nil)
	assert.ErrorIs(t, err, vectorstore.ErrEmptyBatch)
}

func TestChromemStore_Search_Ordering(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := context.Background()

	// Cosine similarity against the query [1,0,0]: 1.0, 0.8, 0.6, 0.0.
	_, err := store.Upsert(ctx, []vectorstore.ChunkRecord{
		chunkRec("module-1/chapter-3", 0, "far", []float32{0, 1, 0}),
		chunkRec("module-1/chapter-2", 0, "near", []float32{0.8, 0.6, 0}),
		chunkRec("module-1/chapter-1", 0, "exact", []float32{1, 0, 0}),
		chunkRec("module-1/chapter-4", 0, "middling", []float32{0.6, 0.8, 0}),
	})
	require.NoError(t, err)

	hits, err := store.Search(ctx, []float32{1, 0, 0}, 4, vectorstore.Filter{})
	require.NoError(t, err)
	require.Len(t, hits, 4)

	assert.Equal(t, "exact", hits[0].Payload.Text)
	assert.Equal(t, "near", hits[1].Payload.Text)
	assert.Equal(t, "middling", hits[2].Payload.Text)
	assert.Equal(t, "far", hits[3].Payload.Text)

	assert.InDelta(t, 1.0, hits[0].Score, 0.01)
	assert.InDelta(t, 0.8, hits[1].Score, 0.01)
	assert.InDelta(t, 0.6, hits[2].Score, 0.01)
	assert.InDelta(t, 0.0, hits[3].Score, 0.01)

	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score, "results must be ordered by descending score")
	}
}

func TestChromemStore_Search_Filter(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, []vectorstore.ChunkRecord{
		chunkRec("module-1/chapter-1", 0, "wanted a", []float32{1, 0, 0}),
		chunkRec("module-1/chapter-1", 1, "wanted b", []float32{0.8, 0.6, 0}),
		chunkRec("module-1/chapter-2", 0, "other chapter", []float32{0.9, 0.4359, 0}),
	})
	require.NoError(t, err)

	hits, err := store.Search(ctx, []float32{1, 0, 0}, 3, vectorstore.Filter{
		ChapterID: "module-1/chapter-1",
	})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Equal(t, "module-1/chapter-1", h.Payload.ChapterID)
	}
}

func TestChromemStore_Search_EmptyCollection(t *testing.T) {
	store := newTestChromemStore(t)

	hits, err := store.Search(context.Background(), []float32{1, 0, 0}, 5, vectorstore.Filter{})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestChromemStore_Search_KLargerThanCount(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, []vectorstore.ChunkRecord{
		chunkRec("module-1/chapter-1", 0, "only one", []float32{1, 0, 0}),
		chunkRec("module-1/chapter-1", 1, "only two", []float32{0, 1, 0}),
	})
	require.NoError(t, err)

	hits, err := store.Search(ctx, []float32{1, 0, 0}, 50, vectorstore.Filter{})
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestChromemStore_Search_InvalidArgs(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := context.Background()

	_, err := store.Search(ctx, []float32{1, 0, 0}, 0, vectorstore.Filter{})
	assert.Error(t, err)

	_, err = store.Search(ctx, nil, 5, vectorstore.Filter{})
	assert.Error(t, err)
}

func TestChromemStore_DeleteByChapter(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, []vectorstore.ChunkRecord{
		chunkRec("module-1/chapter-1", 0, "doomed a", []float32{1, 0, 0}),
		chunkRec("module-1/chapter-1", 1, "doomed b", []float32{0, 1, 0}),
		chunkRec("module-1/chapter-2", 0, "survivor", []float32{0, 0, 1}),
	})
	require.NoError(t, err)

	require.NoError(t, store.DeleteByChapter(ctx, "module-1/chapter-1"))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	hits, err := store.Search(ctx, []float32{0, 0, 1}, 1, vectorstore.Filter{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "survivor", hits[0].Payload.Text)
}

func TestChromemStore_DeleteByChapter_Missing(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := context.Background()

	// Empty collection: nothing to delete, no error.
	require.NoError(t, store.DeleteByChapter(ctx, "module-9/chapter-9"))

	_, err := store.Upsert(ctx, []vectorstore.ChunkRecord{
		chunkRec("module-1/chapter-1", 0, "kept", []float32{1, 0, 0}),
	})
	require.NoError(t, err)

	// Unknown chapter: still a no-op.
	require.NoError(t, store.DeleteByChapter(ctx, "module-9/chapter-9"))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestChromemStore_PayloadRoundTrip(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := context.Background()

	rec := vectorstore.ChunkRecord{
		ChunkPayload: vectorstore.ChunkPayload{
			ChapterID:      "module-02-nav/chapter-1",
			ChapterTitle:   "Path Planning",
			ModuleID:       "module-02-nav",
			SectionType:    "algorithms",
			Index:          3,
			Text:           "A* expands nodes in order of estimated total cost.",
			WordCount:      9,
			ContainsCode:   true,
			ContainsHeader: true,
			FilePath:       "module-02-nav/chapter-1.md",
			Rev:            "deadbee",
		},
		Vector: []float32{1, 0, 0},
	}

	_, err := store.Upsert(ctx, []vectorstore.ChunkRecord{rec})
	require.NoError(t, err)

	hits, err := store.Search(ctx, []float32{1, 0, 0}, 1, vectorstore.Filter{})
	require.NoError(t, err)
	require.Len(t, hits, 1)

	assert.Equal(t, vectorstore.PointID(rec.ChapterID, rec.Index), hits[0].ID)
	assert.Equal(t, rec.ChunkPayload, hits[0].Payload)
}

func TestChromemStore_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{
		Path:       dir,
		Collection: "test_chapters",
	}, zap.NewNop())
	require.NoError(t, err)

	_, err = store.Upsert(ctx, []vectorstore.ChunkRecord{
		chunkRec("module-1/chapter-1", 0, "durable", []float32{1, 0, 0}),
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Reopen from the same directory: the document must still be there.
	reopened, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{
		Path:       dir,
		Collection: "test_chapters",
	}, zap.NewNop())
	require.NoError(t, err)

	count, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestChromemStore_Healthy(t *testing.T) {
	store := newTestChromemStore(t)
	assert.NoError(t, store.Healthy(context.Background()))
}
