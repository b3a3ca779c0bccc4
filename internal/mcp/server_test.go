package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tutord/internal/ingest"
	"github.com/fyrsmithlabs/tutord/internal/orchestrator"
)

type stubQuerier struct {
	resp  orchestrator.Response
	err   error
	calls int
	got   orchestrator.Request
}

var _ Querier = (*stubQuerier)(nil)

func (q *stubQuerier) Query(_ context.Context, req orchestrator.Request) (orchestrator.Response, error) {
	q.calls++
	q.got = req
	if q.err != nil {
		return orchestrator.Response{}, q.err
	}
	return q.resp, nil
}

type stubIngestor struct {
	report ingest.Report
	err    error
	calls  int
	gotDir string
}

var _ Ingestor = (*stubIngestor)(nil)

func (i *stubIngestor) Run(_ context.Context, dir string) (ingest.Report, error) {
	i.calls++
	i.gotDir = dir
	if i.err != nil {
		return ingest.Report{}, i.err
	}
	return i.report, nil
}

func TestNewServer(t *testing.T) {
	t.Run("successful creation", func(t *testing.T) {
		cfg := &Config{
			Name:    "tutord-test",
			Version: "0.1.0",
			Logger:  zap.NewNop(),
		}

		server, err := NewServer(cfg, &stubQuerier{}, &stubIngestor{})
		require.NoError(t, err)
		assert.NotNil(t, server)
		assert.NotNil(t, server.mcp)
		assert.NotNil(t, server.metrics)
	})

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(nil, &stubQuerier{}, &stubIngestor{})
		require.NoError(t, err)
		assert.NotNil(t, server)
		assert.NotNil(t, server.logger)
	})

	t.Run("returns error when querier is nil", func(t *testing.T) {
		_, err := NewServer(nil, nil, &stubIngestor{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "querier is required")
	})

	t.Run("returns error when ingestor is nil", func(t *testing.T) {
		_, err := NewServer(nil, &stubQuerier{}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ingestor is required")
	})
}
