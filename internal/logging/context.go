// internal/logging/context.go
package logging

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 8)

	// Trace correlation (from OpenTelemetry)
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	// Session context
	if sessionID := SessionIDFromContext(ctx); sessionID != "" {
		fields = append(fields, zap.String("session.id", sessionID))
	}

	// Request ID
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	// Chapter context (set while ingesting a chapter)
	if chapterID := ChapterIDFromContext(ctx); chapterID != "" {
		fields = append(fields, zap.String("chapter.id", chapterID))
	}

	return fields
}

// Context key types
type sessionCtxKey struct{}
type requestCtxKey struct{}
type chapterCtxKey struct{}

// Validation constants
const (
	maxIDLen        = 128
	maxChapterIDLen = 256
)

var (
	// idPattern allows alphanumeric, hyphen, underscore
	idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	// chapterIDPattern additionally allows slashes and dots, chapter IDs
	// are derived from content file paths
	chapterIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_./-]+$`)
)

// validateID validates a session or request ID.
func validateID(id, name string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%s contains invalid UTF-8", name)
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("%s exceeds max length %d", name, maxIDLen)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (must be alphanumeric, hyphen, underscore)", name)
	}
	return nil
}

// validateChapterID validates a chapter ID.
func validateChapterID(id string) error {
	if id == "" {
		return fmt.Errorf("chapterID cannot be empty")
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("chapterID contains invalid UTF-8")
	}
	if len(id) > maxChapterIDLen {
		return fmt.Errorf("chapterID exceeds max length %d", maxChapterIDLen)
	}
	if !chapterIDPattern.MatchString(id) {
		return fmt.Errorf("chapterID contains invalid characters")
	}
	return nil
}

// SessionIDFromContext extracts session ID from context.
func SessionIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(sessionCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithSessionID adds session ID to context.
// Panics if sessionID is empty or contains invalid characters.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	if err := validateID(sessionID, "sessionID"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, sessionCtxKey{}, sessionID)
}

// RequestIDFromContext extracts request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithRequestID adds request ID to context.
// Panics if requestID is empty or contains invalid characters.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if err := validateID(requestID, "requestID"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// ChapterIDFromContext extracts chapter ID from context.
func ChapterIDFromContext(ctx context.Context) string {
	if c, ok := ctx.Value(chapterCtxKey{}).(string); ok {
		return c
	}
	return ""
}

// WithChapterID adds chapter ID to context.
// Panics if chapterID is empty or contains invalid characters.
func WithChapterID(ctx context.Context, chapterID string) context.Context {
	if err := validateChapterID(chapterID); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, chapterCtxKey{}, chapterID)
}

// loggerCtxKey is the context key for Logger.
type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a default nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zap: zap.NewNop(), config: NewDefaultConfig()}
}
