package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashita-ai/omomi/internal/brain"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	// TEST_INT_MISSING is not set.
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvBoolValid(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	v, err := envBool("TEST_BOOL", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v {
		t.Fatal("expected true")
	}
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	if err == nil {
		t.Fatal("expected error for non-boolean value, got nil")
	}
	if got := err.Error(); got != `TEST_BOOL_BAD="maybe" is not a valid boolean` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvFloat(t *testing.T) {
	t.Setenv("TEST_FLOAT", "0.25")
	v, err := envFloat("TEST_FLOAT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 0.25 {
		t.Fatalf("expected 0.25, got %g", v)
	}

	t.Setenv("TEST_FLOAT_BAD", "quarter")
	if _, err := envFloat("TEST_FLOAT_BAD", 0); err == nil {
		t.Fatal("expected error for invalid float, got nil")
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Seconds() != 5 {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestEnvDurationInvalid(t *testing.T) {
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	_, err := envDuration("TEST_DUR_BAD", 0)
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if got := err.Error(); got != `TEST_DUR_BAD="five-seconds" is not a valid duration` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestLoadFailsOnInvalidPort(t *testing.T) {
	t.Setenv("OMOMI_PORT", "abc")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with invalid OMOMI_PORT")
	}
	// Error should mention the variable name and value.
	if got := err.Error(); !strings.Contains(got, "OMOMI_PORT") || !strings.Contains(got, "abc") {
		t.Fatalf("error should mention OMOMI_PORT and value 'abc', got: %s", got)
	}
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("OMOMI_PORT", "abc")
	t.Setenv("OMOMI_DUTY_CYCLE", "most")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with multiple invalid vars")
	}
	got := err.Error()
	if !strings.Contains(got, "OMOMI_PORT") {
		t.Fatalf("error should mention OMOMI_PORT, got: %s", got)
	}
	if !strings.Contains(got, "OMOMI_DUTY_CYCLE") {
		t.Fatalf("error should mention OMOMI_DUTY_CYCLE, got: %s", got)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	// With no env vars set, Load should succeed using all defaults.
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Port != 8088 {
		t.Fatalf("expected default port 8088, got %d", cfg.Port)
	}
	if cfg.QueueBackend != QueueSQLite {
		t.Fatalf("expected sqlite queue by default, got %q", cfg.QueueBackend)
	}
	if cfg.QueuePath != filepath.Join("data", "queue.db") {
		t.Fatalf("unexpected default queue path %q", cfg.QueuePath)
	}
	b := cfg.Brain()
	if b.Interval != 10*time.Second || b.DutyCycle != 0.3 {
		t.Fatalf("unexpected brain defaults: %+v", b)
	}
}

func TestLoadWALDefaultsToDirectory(t *testing.T) {
	t.Setenv("OMOMI_QUEUE", "WAL")
	t.Setenv("OMOMI_DATA_DIR", "/var/lib/omomi")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.QueueBackend != QueueWAL || cfg.QueuePath != "/var/lib/omomi/queue" {
		t.Fatalf("unexpected queue settings: %q %q", cfg.QueueBackend, cfg.QueuePath)
	}
}

func TestValidate(t *testing.T) {
	base, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := map[string]func(c *Config){
		"unknown queue":       func(c *Config) { c.QueueBackend = "kafka" },
		"postgres without db": func(c *Config) { c.QueueBackend = QueuePostgres; c.DatabaseURL = "" },
		"unknown index":       func(c *Config) { c.IndexBackend = "lucene" },
		"qdrant dims":         func(c *Config) { c.IndexBackend = IndexQdrant; c.QdrantDims = 0 },
		"postgres index dsn":  func(c *Config) { c.IndexBackend = IndexPostgres; c.DatabaseURL = "" },
		"weight range":        func(c *Config) { c.Weights.VipScore = 1.5 },
		"direct weight":       func(c *Config) { c.Weights.DirectAddressWeight = -0.1 },
		"duty cycle":          func(c *Config) { c.DutyCycle = 0 },
		"timezone":            func(c *Config) { c.Timezone = "Mars/Olympus_Mons" },
		"body size":           func(c *Config) { c.MaxRequestBodyBytes = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base
			mutate(&c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	ok := base
	ok.QueueBackend = QueuePostgres
	ok.DatabaseURL = "postgres://omomi@localhost/omomi"
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseSources(t *testing.T) {
	doc := []byte(`
sources:
  index contacts:
    weight: 0
  quick score messages:
    weight: 4
    chunk: 20
`)
	got, err := ParseSources(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[brain.SourceIndexContacts] != (brain.SourceConfig{}) {
		t.Fatalf("expected disabled index contacts, got %+v", got[brain.SourceIndexContacts])
	}
	if got[brain.SourceQuickScore] != (brain.SourceConfig{Weight: 4, Chunk: 20}) {
		t.Fatalf("unexpected quick score override: %+v", got[brain.SourceQuickScore])
	}

	if _, err := ParseSources([]byte("sources:\n  analyze messages:\n    wieght: 2\n")); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}

func TestLoadReadsSourcesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	if err := os.WriteFile(path, []byte("sources:\n  analyze messages:\n    weight: 3\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OMOMI_SOURCES_FILE", path)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Brain().Sources[brain.SourceAnalyzeMessages].Weight != 3 {
		t.Fatalf("sources file not applied: %+v", cfg.Sources)
	}

	t.Setenv("OMOMI_SOURCES_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing sources file")
	}
}
