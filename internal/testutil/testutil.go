// Package testutil holds shared test helpers: a quiet logger and a
// throwaway PostgreSQL container for the Postgres queue and index.
//
// Container tests skip themselves when Docker is unavailable:
//
//	func TestMain(m *testing.M) {
//	    pg, err := testutil.StartPostgres(context.Background())
//	    if err != nil { ... run without it ... }
//	    defer pg.Terminate()
//	    os.Exit(m.Run())
//	}
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ashita-ai/omomi/internal/storage"
	"github.com/ashita-ai/omomi/migrations"
)

// Postgres is a running PostgreSQL test container.
type Postgres struct {
	Container testcontainers.Container
	DSN       string
}

// StartPostgres launches PostgreSQL 17 with the pgvector extension
// available and waits for it to accept connections.
func StartPostgres(ctx context.Context) (*Postgres, error) {
	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg17",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "omomi",
			"POSTGRES_PASSWORD": "omomi",
			"POSTGRES_DB":       "omomi",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("testutil: start container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("testutil: container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("testutil: container port: %w", err)
	}

	dsn := fmt.Sprintf("postgres://omomi:omomi@%s:%s/omomi?sslmode=disable", host, port.Port())
	return &Postgres{Container: container, DSN: dsn}, nil
}

// NewDB connects to the container, with a listen connection, and applies
// the migrations.
func (p *Postgres) NewDB(ctx context.Context, logger *slog.Logger) (*storage.DB, error) {
	db, err := storage.New(ctx, p.DSN, p.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("testutil: create DB: %w", err)
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("testutil: run migrations: %w", err)
	}
	return db, nil
}

// Terminate stops and removes the container.
func (p *Postgres) Terminate() {
	_ = p.Container.Terminate(context.Background())
}

// TestLogger returns a logger for test output (warn and above).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
