package vectorstore

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/tutord/internal/sanitize"
)

// Tracer for OpenTelemetry instrumentation.
var tracer = otel.Tracer("tutord.vectorstore")

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	// Default: "localhost"
	Host string

	// Port is the Qdrant gRPC port (NOT the HTTP REST port).
	// Default: 6334 (gRPC), not 6333 (HTTP)
	Port int

	// APIKey authenticates against a secured deployment. Empty for local
	// unauthenticated servers.
	APIKey string

	// UseTLS enables TLS encryption for the gRPC connection.
	UseTLS bool

	// Collection is the collection all operations target.
	// Default: "textbook_chapters"
	Collection string

	// VectorSize is the dimensionality of stored embeddings.
	// MUST match the embedding provider's output dimensions.
	VectorSize uint64

	// MaxRetries is the maximum number of retry attempts for transient
	// failures. Default: 3
	MaxRetries int

	// RetryBackoff is the initial backoff duration for retries.
	// Doubles on each retry. Default: 1 second
	RetryBackoff time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB (large chunk batches exceed the 4MB gRPC default)
	MaxMessageSize int

	// BatchSize is the number of points per upsert request.
	// Default: 100
	BatchSize int

	// CircuitBreakerThreshold is the number of failures before opening
	// the circuit. Default: 5
	CircuitBreakerThreshold int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = DefaultCollection
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024 // 50MB
	}
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if err := sanitize.ValidateCollectionName(c.Collection); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return nil
}

// IsTransientError checks if an error is transient (should retry).
// Returns true for timeouts and temporary unavailability.
// Returns false for invalid arguments, not found, permission denied.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	st, ok := status.FromError(err)
	if !ok {
		return false
	}

	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantStore is a Store backed by Qdrant's native gRPC client.
//
// gRPC (port 6334) bypasses Qdrant's HTTP layer and its 256kB payload
// limit, which chunk batches with 1536-dim vectors exceed easily. It also
// exposes the server-side payload filters used by DeleteByChapter and
// scoped search.
type QdrantStore struct {
	// client is the official Qdrant Go gRPC client
	client *qdrant.Client

	// config holds the store configuration
	config QdrantConfig

	// circuitBreaker tracks failures for the circuit breaker pattern
	circuitBreaker struct {
		failures int
		lastFail time.Time
		mu       sync.Mutex
	}
}

// NewQdrantStore creates a new QdrantStore with the given configuration.
//
// The constructor does not probe the server: an unreachable store must not
// prevent startup. Operations fail with ErrUnavailable until the server
// comes back, and Healthy serves liveness probes.
func NewQdrantStore(config QdrantConfig) (*QdrantStore, error) {
	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if !config.UseTLS {
		fmt.Fprintf(os.Stderr, "WARNING: Qdrant gRPC using plaintext (TLS disabled). Insecure for production.\n")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}

	return &QdrantStore{
		client: client,
		config: config,
	}, nil
}

// Close closes the Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// EnsureCollection creates the configured collection when it does not exist.
func (s *QdrantStore) EnsureCollection(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { observeOp("ensure_collection", start, err) }()

	ctx, span := tracer.Start(ctx, "QdrantStore.EnsureCollection")
	defer span.End()

	span.SetAttributes(attribute.String("collection", s.config.Collection))

	err = s.retryOperation(ctx, "ensure_collection", func() error {
		exists, err := s.collectionExists(ctx)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.config.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.config.VectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("ensuring collection %s: %w", s.config.Collection, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Upsert writes records as points, batched per config.BatchSize.
func (s *QdrantStore) Upsert(ctx context.Context, records []ChunkRecord) (written int, err error) {
	start := time.Now()
	defer func() { observeOp("upsert", start, err) }()

	ctx, span := tracer.Start(ctx, "QdrantStore.Upsert")
	defer span.End()

	span.SetAttributes(
		attribute.Int("record_count", len(records)),
		attribute.String("collection", s.config.Collection),
	)

	if len(records) == 0 {
		err = ErrEmptyBatch
		return 0, err
	}

	for lo := 0; lo < len(records); lo += s.config.BatchSize {
		hi := min(lo+s.config.BatchSize, len(records))
		batch := records[lo:hi]

		points := make([]*qdrant.PointStruct, len(batch))
		for i, rec := range batch {
			points[i] = &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(PointID(rec.ChapterID, rec.Index)),
				Vectors: qdrant.NewVectors(rec.Vector...),
				Payload: payloadValues(rec.ChunkPayload),
			}
		}

		err = s.retryOperation(ctx, "upsert", func() error {
			_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
				CollectionName: s.config.Collection,
				Points:         points,
				Wait:           qdrant.PtrOf(true),
			})
			return err
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return written, fmt.Errorf("upserting %d points to collection %s: %w", len(batch), s.config.Collection, err)
		}
		written += len(batch)
	}

	PointsUpserted.Add(float64(written))
	span.SetAttributes(attribute.Int("points_written", written))
	span.SetStatus(codes.Ok, "success")
	return written, nil
}

// Search returns up to k points most similar to vector.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, k int, filter Filter) (hits []SearchResult, err error) {
	start := time.Now()
	defer func() { observeOp("search", start, err) }()

	ctx, span := tracer.Start(ctx, "QdrantStore.Search")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", s.config.Collection),
		attribute.Int("k", k),
	)

	if k <= 0 {
		err = fmt.Errorf("k must be positive, got %d", k)
		return nil, err
	}
	if len(vector) == 0 {
		err = fmt.Errorf("query vector cannot be empty")
		return nil, err
	}

	var results []*qdrant.ScoredPoint
	err = s.retryOperation(ctx, "search", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.config.Collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         qdrantFilter(filter),
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", s.config.Collection, err)
	}

	hits = make([]SearchResult, len(results))
	for i, point := range results {
		hits[i] = SearchResult{
			ID:      pointIDString(point.Id),
			Score:   point.Score,
			Payload: payloadFromValues(point.Payload),
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

// DeleteByChapter removes every point whose payload chapter_id matches.
func (s *QdrantStore) DeleteByChapter(ctx context.Context, chapterID string) (err error) {
	start := time.Now()
	defer func() { observeOp("delete_by_chapter", start, err) }()

	ctx, span := tracer.Start(ctx, "QdrantStore.DeleteByChapter")
	defer span.End()

	span.SetAttributes(
		attribute.String("chapter_id", chapterID),
		attribute.String("collection", s.config.Collection),
	)

	if chapterID == "" {
		err = fmt.Errorf("chapter ID cannot be empty")
		return err
	}

	err = s.retryOperation(ctx, "delete_by_chapter", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.config.Collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
					Filter: &qdrant.Filter{
						Must: []*qdrant.Condition{keywordCondition(KeyChapterID, chapterID)},
					},
				},
			},
			Wait: qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting chapter %s: %w", chapterID, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Count returns the number of points in the collection.
func (s *QdrantStore) Count(ctx context.Context) (count uint64, err error) {
	start := time.Now()
	defer func() { observeOp("count", start, err) }()

	ctx, span := tracer.Start(ctx, "QdrantStore.Count")
	defer span.End()

	span.SetAttributes(attribute.String("collection", s.config.Collection))

	err = s.retryOperation(ctx, "count", func() error {
		info, err := s.client.GetCollectionInfo(ctx, s.config.Collection)
		if err != nil {
			if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
				return ErrCollectionNotFound
			}
			return err
		}
		if info.PointsCount != nil {
			count = *info.PointsCount
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("counting collection %s: %w", s.config.Collection, err)
	}

	span.SetStatus(codes.Ok, "success")
	return count, nil
}

// Healthy probes the Qdrant server.
func (s *QdrantStore) Healthy(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.Healthy")
	defer span.End()

	_, err := s.client.HealthCheck(ctx)
	RecordHealthStatus(err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	span.SetStatus(codes.Ok, "healthy")
	return nil
}

// collectionExists checks whether the configured collection exists.
func (s *QdrantStore) collectionExists(ctx context.Context) (bool, error) {
	info, err := s.client.GetCollectionInfo(ctx, s.config.Collection)
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
			return false, nil
		}
		return false, err
	}
	return info != nil, nil
}

// retryOperation retries an operation with exponential backoff. Transient
// failures are retried up to MaxRetries; exhaustion and an open circuit
// surface ErrUnavailable so callers can classify the failure as retryable.
func (s *QdrantStore) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	backoff := s.config.RetryBackoff

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			s.resetCircuitBreaker()
			return nil
		}

		// Check circuit breaker
		if s.isCircuitOpen() {
			return fmt.Errorf("%s: circuit breaker open: %w", operationName, ErrUnavailable)
		}

		// Check if error is transient
		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", operationName, err)
		}

		// Record failure for circuit breaker
		s.recordFailure()

		// Last attempt, return error
		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w: %w", operationName, s.config.MaxRetries, ErrUnavailable, err)
		}

		// Wait before retry (exponential backoff)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

func (s *QdrantStore) recordFailure() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures++
	s.circuitBreaker.lastFail = time.Now()
}

func (s *QdrantStore) resetCircuitBreaker() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures = 0
}

func (s *QdrantStore) isCircuitOpen() bool {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()

	// Circuit is open if too many failures recently
	if s.circuitBreaker.failures >= s.config.CircuitBreakerThreshold {
		// Allow retry after 30 seconds
		if time.Since(s.circuitBreaker.lastFail) > 30*time.Second {
			s.circuitBreaker.failures = 0
			return false
		}
		return true
	}
	return false
}

// payloadValues converts a chunk payload to Qdrant's value map.
func payloadValues(p ChunkPayload) map[string]*qdrant.Value {
	return map[string]*qdrant.Value{
		KeyChapterID:      {Kind: &qdrant.Value_StringValue{StringValue: p.ChapterID}},
		KeyChapterTitle:   {Kind: &qdrant.Value_StringValue{StringValue: p.ChapterTitle}},
		KeyModuleID:       {Kind: &qdrant.Value_StringValue{StringValue: p.ModuleID}},
		KeySectionType:    {Kind: &qdrant.Value_StringValue{StringValue: p.SectionType}},
		KeyChunkIndex:     {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(p.Index)}},
		KeyChunkText:      {Kind: &qdrant.Value_StringValue{StringValue: p.Text}},
		KeyWordCount:      {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(p.WordCount)}},
		KeyFilePath:       {Kind: &qdrant.Value_StringValue{StringValue: p.FilePath}},
		KeyContainsCode:   {Kind: &qdrant.Value_BoolValue{BoolValue: p.ContainsCode}},
		KeyContainsHeader: {Kind: &qdrant.Value_BoolValue{BoolValue: p.ContainsHeader}},
		KeyRev:            {Kind: &qdrant.Value_StringValue{StringValue: p.Rev}},
	}
}

// payloadFromValues reads a chunk payload back from Qdrant's value map.
// Missing keys yield zero values.
func payloadFromValues(values map[string]*qdrant.Value) ChunkPayload {
	return ChunkPayload{
		ChapterID:      values[KeyChapterID].GetStringValue(),
		ChapterTitle:   values[KeyChapterTitle].GetStringValue(),
		ModuleID:       values[KeyModuleID].GetStringValue(),
		SectionType:    values[KeySectionType].GetStringValue(),
		Index:          int(values[KeyChunkIndex].GetIntegerValue()),
		Text:           values[KeyChunkText].GetStringValue(),
		WordCount:      int(values[KeyWordCount].GetIntegerValue()),
		ContainsCode:   values[KeyContainsCode].GetBoolValue(),
		ContainsHeader: values[KeyContainsHeader].GetBoolValue(),
		FilePath:       values[KeyFilePath].GetStringValue(),
		Rev:            values[KeyRev].GetStringValue(),
	}
}

// qdrantFilter builds a server-side filter from the set fields of f.
func qdrantFilter(f Filter) *qdrant.Filter {
	if f.IsZero() {
		return nil
	}
	var must []*qdrant.Condition
	if f.ChapterID != "" {
		must = append(must, keywordCondition(KeyChapterID, f.ChapterID))
	}
	if f.ModuleID != "" {
		must = append(must, keywordCondition(KeyModuleID, f.ModuleID))
	}
	if f.SectionType != "" {
		must = append(must, keywordCondition(KeySectionType, f.SectionType))
	}
	return &qdrant.Filter{Must: must}
}

// keywordCondition matches a payload field against an exact keyword.
func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

// pointIDString renders a Qdrant point ID as a string.
func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprintf("%d", id.GetNum())
}
