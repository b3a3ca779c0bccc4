// Package ingest runs the content pipeline: markdown chapters in, embedded
// chunk points out.
//
// Run processes chapters sequentially. Each chapter is chunked, optionally
// scanned for secrets, then atomically replaced in the vector store by
// deleting its stale points before upserting the new ones. A chapter that
// fails is recorded in the report and does not abort the run, so one broken
// file cannot block the rest of the corpus.
//
// Watch keeps the store in sync after the initial run: filesystem events on
// markdown files re-ingest the changed chapter after a debounce window, and
// deletions remove its points.
package ingest
