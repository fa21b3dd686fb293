package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/floegence/nl2sql-agent/internal/config"
)

func TestNew_NilConfig(t *testing.T) {
	t.Parallel()

	if _, err := New(context.Background(), Options{}); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{} // no providers, no database
	if _, err := New(context.Background(), Options{Config: cfg}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestNew_WiresSQLiteEndToEnd(t *testing.T) {
	t.Setenv("AGENT_TEST_API_KEY", "test-key")

	cfg := &config.Config{
		Providers: []config.Provider{{
			ID:        "test",
			Type:      "openai",
			Model:     "gpt-4o-mini",
			APIKeyEnv: "AGENT_TEST_API_KEY",
			IsDefault: true,
		}},
		Database: config.Database{Engine: "sqlite", DSN: "file:" + t.TempDir() + "/app.db"},
		StateDir: t.TempDir(),
	}

	a, err := New(context.Background(), Options{Config: cfg, Version: "test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if a.Engine() == nil {
		t.Fatalf("engine not wired")
	}
	if a.Version() != "test" {
		t.Fatalf("version = %q", a.Version())
	}
	if cat := a.Catalog(); cat == nil {
		t.Fatalf("catalog not loaded")
	}
	if err := a.ReloadSchema(context.Background()); err != nil {
		t.Fatalf("ReloadSchema: %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		format, level string
		wantErr       string
	}{
		{format: "json", level: "info"},
		{format: "text", level: "debug"},
		{format: "", level: ""},
		{format: "xml", level: "info", wantErr: "unknown log format"},
		{format: "json", level: "loud", wantErr: "unknown log level"},
	} {
		l, err := newLogger(tc.format, tc.level)
		if tc.wantErr == "" {
			if err != nil {
				t.Fatalf("newLogger(%q, %q): %v", tc.format, tc.level, err)
			}
			if l == nil {
				t.Fatalf("newLogger(%q, %q): nil logger", tc.format, tc.level)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
			t.Fatalf("newLogger(%q, %q): err = %v, want %q", tc.format, tc.level, err, tc.wantErr)
		}
	}
}
