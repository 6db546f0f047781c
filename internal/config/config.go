// Package config loads and validates application configuration from environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/omomi/internal/brain"
	"github.com/ashita-ai/omomi/internal/queue"
	"github.com/ashita-ai/omomi/internal/scoring"
)

// Queue backends.
const (
	QueueSQLite   = "sqlite"
	QueueWAL      = "wal"
	QueuePostgres = "postgres"
	QueueMemory   = "memory"
)

// Index backends.
const (
	IndexMemory   = "memory"
	IndexQdrant   = "qdrant"
	IndexPostgres = "postgres"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64

	// Object store.
	DataDir   string
	StorePath string

	// Durable queue settings.
	QueueBackend      string // sqlite, wal, postgres or memory
	QueuePath         string // sqlite file or WAL directory
	WALSyncMode       string
	WALSyncInterval   time.Duration
	WALMaxSegmentRecs int
	DatabaseURL       string // Postgres queue and index: pooled connection.
	NotifyURL         string // Postgres queue: direct connection for LISTEN/NOTIFY.

	// Index settings.
	IndexBackend     string // memory, qdrant or postgres
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string
	QdrantDims       int

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Dispatcher settings.
	Interval             time.Duration
	DutyCycle            float64
	DurableBatch         int
	NotifyInterval       time.Duration
	GleanCount           int
	VarianceRestartBatch int
	VarianceRestartPause time.Duration
	SourcesFile          string
	Sources              map[string]brain.SourceConfig
	Weights              scoring.Weights

	// Operational settings.
	LogLevel    string
	Timezone    string
	ShutdownTTL time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// Every malformed variable is reported, not just the first.
func Load() (Config, error) {
	var errs []error
	str := envStr
	num := func(key string, def int) int {
		v, err := envInt(key, def)
		errs = appendErr(errs, err)
		return v
	}
	flt := func(key string, def float64) float64 {
		v, err := envFloat(key, def)
		errs = appendErr(errs, err)
		return v
	}
	flag := func(key string, def bool) bool {
		v, err := envBool(key, def)
		errs = appendErr(errs, err)
		return v
	}
	dur := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		errs = appendErr(errs, err)
		return v
	}

	dataDir := str("OMOMI_DATA_DIR", "data")
	def := brain.DefaultConfig()
	cfg := Config{
		Port:                 num("OMOMI_PORT", 8088),
		ReadTimeout:          dur("OMOMI_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:         dur("OMOMI_WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBodyBytes:  int64(num("OMOMI_MAX_REQUEST_BODY_BYTES", 1*1024*1024)), // 1 MB default
		DataDir:              dataDir,
		StorePath:            str("OMOMI_STORE_PATH", filepath.Join(dataDir, "omomi.db")),
		QueueBackend:         strings.ToLower(str("OMOMI_QUEUE", QueueSQLite)),
		QueuePath:            str("OMOMI_QUEUE_PATH", ""),
		WALSyncMode:          str("OMOMI_WAL_SYNC_MODE", queue.SyncFull),
		WALSyncInterval:      dur("OMOMI_WAL_SYNC_INTERVAL", 10*time.Millisecond),
		WALMaxSegmentRecs:    num("OMOMI_WAL_MAX_SEGMENT_RECORDS", 10_000),
		DatabaseURL:          str("DATABASE_URL", ""),
		NotifyURL:            str("NOTIFY_URL", ""),
		IndexBackend:         strings.ToLower(str("OMOMI_INDEX", IndexMemory)),
		QdrantURL:            str("QDRANT_URL", "http://localhost:6334"),
		QdrantAPIKey:         str("QDRANT_API_KEY", ""),
		QdrantCollection:     str("OMOMI_QDRANT_COLLECTION", "omomi_documents"),
		QdrantDims:           num("OMOMI_QDRANT_DIMS", 256),
		OTELEndpoint:         str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:         flag("OMOMI_OTEL_INSECURE", false),
		ServiceName:          str("OTEL_SERVICE_NAME", "omomi"),
		Interval:             dur("OMOMI_INTERVAL", def.Interval),
		DutyCycle:            flt("OMOMI_DUTY_CYCLE", def.DutyCycle),
		DurableBatch:         num("OMOMI_DURABLE_BATCH", def.DurableBatch),
		NotifyInterval:       dur("OMOMI_NOTIFY_INTERVAL", def.NotifyInterval),
		GleanCount:           num("OMOMI_GLEAN_COUNT", def.GleanCount),
		VarianceRestartBatch: num("OMOMI_VARIANCE_RESTART_BATCH", def.VarianceRestartBatch),
		VarianceRestartPause: dur("OMOMI_VARIANCE_RESTART_PAUSE", def.VarianceRestartPause),
		SourcesFile:          str("OMOMI_SOURCES_FILE", ""),
		Weights: scoring.Weights{
			VipScore:                flt("OMOMI_WEIGHT_VIP", scoring.DefaultWeights.VipScore),
			MarkedHotWeight:         flt("OMOMI_WEIGHT_MARKED_HOT", scoring.DefaultWeights.MarkedHotWeight),
			MarkedNotHotPenalty:     flt("OMOMI_PENALTY_MARKED_NOT_HOT", scoring.DefaultWeights.MarkedNotHotPenalty),
			HeadersFilteringPenalty: flt("OMOMI_PENALTY_HEADERS", scoring.DefaultWeights.HeadersFilteringPenalty),
			DirectAddressWeight:     flt("OMOMI_WEIGHT_DIRECT_ADDRESS", scoring.DefaultWeights.DirectAddressWeight),
		},
		LogLevel:    str("OMOMI_LOG_LEVEL", "info"),
		Timezone:    str("OMOMI_TIMEZONE", "Local"),
		ShutdownTTL: dur("OMOMI_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}

	if cfg.QueuePath == "" {
		switch cfg.QueueBackend {
		case QueueWAL:
			cfg.QueuePath = filepath.Join(dataDir, "queue")
		default:
			cfg.QueuePath = filepath.Join(dataDir, "queue.db")
		}
	}

	if cfg.SourcesFile != "" {
		sources, err := LoadSources(cfg.SourcesFile)
		if err != nil {
			return Config{}, err
		}
		cfg.Sources = sources
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func appendErr(errs []error, err error) []error {
	if err != nil {
		return append(errs, err)
	}
	return errs
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	switch c.QueueBackend {
	case QueueSQLite, QueueWAL, QueueMemory:
	case QueuePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required for the postgres queue")
		}
	default:
		return fmt.Errorf("config: unknown OMOMI_QUEUE %q", c.QueueBackend)
	}
	switch c.IndexBackend {
	case IndexMemory:
	case IndexQdrant:
		if c.QdrantURL == "" {
			return fmt.Errorf("config: QDRANT_URL is required for the qdrant index")
		}
		if c.QdrantDims <= 0 {
			return fmt.Errorf("config: OMOMI_QDRANT_DIMS must be positive")
		}
	case IndexPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required for the postgres index")
		}
	default:
		return fmt.Errorf("config: unknown OMOMI_INDEX %q", c.IndexBackend)
	}
	if c.StorePath == "" {
		return fmt.Errorf("config: OMOMI_STORE_PATH is required")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: OMOMI_MAX_REQUEST_BODY_BYTES must be positive")
	}
	for name, v := range map[string]float64{
		"OMOMI_WEIGHT_VIP":             c.Weights.VipScore,
		"OMOMI_WEIGHT_MARKED_HOT":      c.Weights.MarkedHotWeight,
		"OMOMI_PENALTY_MARKED_NOT_HOT": c.Weights.MarkedNotHotPenalty,
		"OMOMI_PENALTY_HEADERS":        c.Weights.HeadersFilteringPenalty,
		"OMOMI_WEIGHT_DIRECT_ADDRESS":  c.Weights.DirectAddressWeight,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("config: %s must be in [0, 1], got %g", name, v)
		}
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if err := c.Brain().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Brain returns the dispatcher settings.
func (c Config) Brain() brain.Config {
	return brain.Config{
		Interval:             c.Interval,
		DutyCycle:            c.DutyCycle,
		DurableBatch:         c.DurableBatch,
		NotifyInterval:       c.NotifyInterval,
		VarianceRestartBatch: c.VarianceRestartBatch,
		VarianceRestartPause: c.VarianceRestartPause,
		GleanCount:           c.GleanCount,
		Sources:              c.Sources,
		Weights:              c.Weights,
	}
}

// Location resolves Timezone for deferral times.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: OMOMI_TIMEZONE: %w", err)
	}
	return loc, nil
}

type sourcesFile struct {
	Sources map[string]brain.SourceConfig `yaml:"sources"`
}

// LoadSources reads per-source weight and chunk overrides:
//
//	sources:
//	  index contacts:
//	    weight: 0
//	  quick score messages:
//	    weight: 4
//	    chunk: 20
func LoadSources(path string) (map[string]brain.SourceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read sources file: %w", err)
	}
	return ParseSources(data)
}

// ParseSources decodes a sources document. Unknown fields are rejected.
func ParseSources(data []byte) (map[string]brain.SourceConfig, error) {
	var f sourcesFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("config: parse sources file: %w", err)
	}
	return f.Sources, nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
