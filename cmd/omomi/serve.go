package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/omomi/internal/abatement"
	"github.com/ashita-ai/omomi/internal/brain"
	"github.com/ashita-ai/omomi/internal/config"
	"github.com/ashita-ai/omomi/internal/index"
	"github.com/ashita-ai/omomi/internal/mcp"
	"github.com/ashita-ai/omomi/internal/queue"
	"github.com/ashita-ai/omomi/internal/server"
	"github.com/ashita-ai/omomi/internal/storage"
	"github.com/ashita-ai/omomi/internal/store"
	"github.com/ashita-ai/omomi/internal/telemetry"
	"github.com/ashita-ai/omomi/migrations"
)

func newServeCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine and its HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

// closer collects cleanup funcs and runs them in reverse order.
type closer []func()

func (c *closer) add(fn func()) { *c = append(*c, fn) }

func (c closer) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("omomi starting", "version", version, "port", cfg.Port,
		"queue", cfg.QueueBackend, "index", cfg.IndexBackend)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	var cleanup closer
	defer cleanup.run()

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	cleanup.add(func() { _ = otelShutdown(context.Background()) })

	db, err := store.Open(cfg.StorePath)
	if err != nil {
		return err
	}
	cleanup.add(func() { _ = db.Close() })
	checks := map[string]server.HealthCheck{
		"store": func(ctx context.Context) error { return db.PingContext(ctx) },
	}

	pg := &postgresConn{cfg: cfg, logger: logger, checks: checks, cleanup: &cleanup}
	q, watch, err := openQueue(ctx, cfg, logger, pg, &cleanup)
	if err != nil {
		return err
	}
	idx, searcher, err := openIndex(ctx, cfg, logger, pg, checks, &cleanup)
	if err != nil {
		return err
	}

	abate := &abatement.Flag{}
	broker := server.NewBroker(logger)
	svc, err := brain.New(cfg.Brain(), brain.Deps{
		Store:     store.New(db),
		Queue:     q,
		Index:     idx,
		Abatement: abate,
		Sink:      broker,
	}, logger)
	if err != nil {
		return err
	}

	mcpSrv := mcp.New(mcp.Config{
		Engine:    svc,
		Abatement: abate,
		Searcher:  searcher,
		Location:  loc,
		Logger:    logger,
		Version:   version,
	})

	srv := server.New(server.ServerConfig{
		Engine:              svc,
		Abatement:           abate,
		Broker:              broker,
		MCPServer:           mcpSrv.MCPServer(),
		Checks:              checks,
		Location:            loc,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Shutdown goes through Drain, not cancellation.
	svc.Start(context.WithoutCancel(ctx))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if watch != nil {
		g.Go(func() error { return watch(gctx) })
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-svc.Done():
			return errors.New("brain: dispatcher exited")
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		// Stop accepting requests first; in-flight ones may still enqueue.
		logger.Info("omomi shutting down")
		httpCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTTL)
		defer cancel()
		if err := srv.Shutdown(httpCtx); err != nil {
			logger.Error("http shutdown error", "error", err)
		}
		return nil
	})

	runErr := g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTTL)
	svc.Drain(drainCtx)
	cancel()

	logger.Info("omomi stopped")
	return runErr
}

// openQueue opens the configured durable queue. The returned watch func is
// non-nil for backends that observe enqueues from other processes.
func openQueue(ctx context.Context, cfg config.Config, logger *slog.Logger,
	pg *postgresConn, cleanup *closer,
) (queue.Queue, func(context.Context) error, error) {
	switch cfg.QueueBackend {
	case config.QueueMemory:
		logger.Warn("queue: memory backend, durable events will not survive a restart")
		return queue.NewMemory(), nil, nil

	case config.QueueWAL:
		w, err := queue.OpenWAL(logger, queue.WALConfig{
			Dir:            cfg.QueuePath,
			SyncMode:       cfg.WALSyncMode,
			SyncInterval:   cfg.WALSyncInterval,
			MaxSegmentRecs: cfg.WALMaxSegmentRecs,
		})
		if err != nil {
			return nil, nil, err
		}
		cleanup.add(func() { _ = w.Close() })
		logger.Info("queue: wal", "dir", cfg.QueuePath, "sync", cfg.WALSyncMode)
		return w, nil, nil

	case config.QueuePostgres:
		db, err := pg.open(ctx)
		if err != nil {
			return nil, nil, err
		}
		q := queue.NewPostgres(db, logger)
		cleanup.add(func() { _ = q.Close() })
		logger.Info("queue: postgres")
		return q, q.Watch, nil

	default:
		s, err := queue.OpenSQLite(cfg.QueuePath)
		if err != nil {
			return nil, nil, err
		}
		cleanup.add(func() { _ = s.Close() })
		logger.Info("queue: sqlite", "path", cfg.QueuePath)
		return s, nil, nil
	}
}

// openIndex opens the configured index backend. The returned Searcher is
// nil for backends without ranked search.
func openIndex(ctx context.Context, cfg config.Config, logger *slog.Logger,
	pg *postgresConn, checks map[string]server.HealthCheck, cleanup *closer,
) (index.Writer, index.Searcher, error) {
	switch cfg.IndexBackend {
	case config.IndexQdrant:
		qi, err := index.NewQdrant(index.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.QdrantDims), //nolint:gosec // validated positive in config.Validate
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("qdrant: %w", err)
		}
		cleanup.add(func() { _ = qi.Close() })
		if err := qi.EnsureCollection(ctx); err != nil {
			return nil, nil, fmt.Errorf("qdrant ensure collection: %w", err)
		}
		checks["qdrant"] = qi.Healthy
		logger.Info("index: qdrant", "collection", cfg.QdrantCollection)
		return qi, nil, nil

	case config.IndexPostgres:
		db, err := pg.open(ctx)
		if err != nil {
			return nil, nil, err
		}
		if err := db.RunMigrations(ctx, migrations.VectorFS); err != nil {
			return nil, nil, fmt.Errorf("storage: vector migrations: %w", err)
		}
		pi := index.NewPostgres(db, logger)
		logger.Info("index: postgres")
		return pi, pi, nil

	default:
		logger.Info("index: in-memory")
		return index.NewMemory(), nil, nil
	}
}

// postgresConn opens one storage.DB on first use, shared by the Postgres
// queue and index.
type postgresConn struct {
	cfg     config.Config
	logger  *slog.Logger
	checks  map[string]server.HealthCheck
	cleanup *closer
	db      *storage.DB
}

func (p *postgresConn) open(ctx context.Context) (*storage.DB, error) {
	if p.db != nil {
		return p.db, nil
	}
	notifyURL := p.cfg.NotifyURL
	if notifyURL == "" {
		notifyURL = p.cfg.DatabaseURL
	}
	db, err := storage.New(ctx, p.cfg.DatabaseURL, notifyURL, p.logger)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	p.cleanup.add(func() { db.Close(context.Background()) })
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return nil, fmt.Errorf("storage: migrations: %w", err)
	}
	p.checks["postgres"] = db.Ping
	p.db = db
	return db, nil
}
