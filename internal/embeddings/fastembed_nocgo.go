//go:build !cgo

package embeddings

import "context"

// FastEmbedProvider is the stub used in binaries built without CGO, where
// the ONNX runtime cannot be loaded. Every method reports
// ErrFastEmbedNotAvailable.
type FastEmbedProvider struct{}

// NewFastEmbedProvider always fails in non-CGO builds.
func NewFastEmbedProvider(_ Config) (*FastEmbedProvider, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (p *FastEmbedProvider) EmbedDocuments(_ context.Context, _ []string) ([][]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (p *FastEmbedProvider) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (p *FastEmbedProvider) Dimension() int {
	return 0
}

func (p *FastEmbedProvider) Close() error {
	return nil
}
