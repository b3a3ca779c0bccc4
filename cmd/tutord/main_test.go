package main

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tutord/internal/config"
	"github.com/fyrsmithlabs/tutord/internal/vectorstore"
)

func TestServerConfig(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Host:            "127.0.0.1",
			Port:            9090,
			ShutdownTimeout: config.Duration(10 * time.Second),
			CORSOrigins:     []string{"http://localhost:3000"},
			QueryRateLimit:  8,
			QueryRateBurst:  16,
		},
	}

	got := serverConfig(cfg)

	if got.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want %q", got.Host, "127.0.0.1")
	}
	if got.Port != 9090 {
		t.Errorf("Port = %d, want 9090", got.Port)
	}
	if len(got.CORSOrigins) != 1 || got.CORSOrigins[0] != "http://localhost:3000" {
		t.Errorf("CORSOrigins = %v, want [http://localhost:3000]", got.CORSOrigins)
	}
	if got.RateLimit != 8 {
		t.Errorf("RateLimit = %v, want 8", got.RateLimit)
	}
	if got.RateBurst != 16 {
		t.Errorf("RateBurst = %d, want 16", got.RateBurst)
	}
	if got.Version != version {
		t.Errorf("Version = %q, want %q", got.Version, version)
	}
}

func TestHealthChecks(t *testing.T) {
	cfg := &config.Config{
		Store: config.StoreConfig{Backend: "chromem"},
	}
	deps := testDependencies(t)

	checks := healthChecks(cfg, deps)

	if len(checks) != 2 {
		t.Fatalf("len(checks) = %d, want 2", len(checks))
	}
	if checks[0].Name != "chromem" {
		t.Errorf("checks[0].Name = %q, want the store backend name", checks[0].Name)
	}
	if !checks[0].Critical {
		t.Error("store check should be critical")
	}
	if checks[1].Name != "embedder" {
		t.Errorf("checks[1].Name = %q, want embedder", checks[1].Name)
	}
	if checks[1].Critical {
		t.Error("embedder check should not be critical")
	}

	for _, check := range checks {
		if err := check.Probe(context.Background()); err != nil {
			t.Errorf("check %q probe failed: %v", check.Name, err)
		}
	}
}

// fakeProvider is a fixed-vector embedding provider for wiring tests.
type fakeProvider struct{}

func (fakeProvider) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return nil, nil
}

func (fakeProvider) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{0.1}, nil
}

func (fakeProvider) Dimension() int { return 384 }

func (fakeProvider) Close() error { return nil }

func testDependencies(t *testing.T) *dependencies {
	t.Helper()

	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{Path: t.TempDir()}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewChromemStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return &dependencies{
		store:    store,
		provider: fakeProvider{},
		logger:   zap.NewNop(),
	}
}
