// Package vectorstore provides chunk vector storage behind a single interface.
//
// The package stores embedded textbook chunks and serves similarity search
// for the retrieval pipeline. Two backends implement the Store interface:
//
// QdrantStore (default):
//   - External Qdrant server via native gRPC (port 6334, not the REST port)
//   - Binary protobuf encoding, no HTTP payload size limits
//   - Server-side payload filters for chapter-scoped search and deletion
//   - Recommended for production deployments
//
// ChromemStore:
//   - Embedded chromem-go database persisted under a local directory
//   - No external dependencies, suitable for local development and tests
//
// # Point Identity
//
// Every chunk maps to a deterministic point ID derived from its chapter ID
// and chunk index (see PointID). Re-ingesting a chapter therefore overwrites
// its points instead of accumulating duplicates, and DeleteByChapter plus
// Upsert together give ingestion its replace semantics.
//
// # Failure Model
//
// An unreachable backend is never fatal: constructors do not probe the
// server, and operations surface errors wrapping ErrUnavailable after
// bounded retries with exponential backoff. gRPC codes Unavailable,
// DeadlineExceeded, Aborted and ResourceExhausted classify as transient;
// everything else fails immediately. A circuit breaker stops hammering a
// down server after repeated failures.
//
// # Usage
//
//	store, err := vectorstore.NewStore(vectorstore.Config{
//	    Backend: "qdrant",
//	    Qdrant: vectorstore.QdrantConfig{
//	        Host:       "localhost",
//	        Port:       6334,
//	        Collection: "textbook_chapters",
//	        VectorSize: 1536,
//	    },
//	}, logger)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	if err := store.EnsureCollection(ctx); err != nil { ... }
//	written, err := store.Upsert(ctx, records)
//	hits, err := store.Search(ctx, queryVector, 5, vectorstore.Filter{})
//
// Backend selection via config:
//
//	store:
//	  backend: qdrant  # "qdrant" (default) or "chromem"
package vectorstore
