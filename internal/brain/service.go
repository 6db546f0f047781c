// Package brain is the relevance engine: a single dispatcher goroutine that
// consumes events, drains the durable queue, and spends a bounded budget of
// each periodic cycle on weighted background work (analysis, rescoring and
// indexing).
package brain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/omomi/internal/abatement"
	"github.com/ashita-ai/omomi/internal/event"
	"github.com/ashita-ai/omomi/internal/index"
	"github.com/ashita-ai/omomi/internal/notify"
	"github.com/ashita-ai/omomi/internal/queue"
	"github.com/ashita-ai/omomi/internal/scheduler"
	"github.com/ashita-ai/omomi/internal/scoring"
	"github.com/ashita-ai/omomi/internal/store"
	"github.com/ashita-ai/omomi/internal/telemetry"
	"github.com/ashita-ai/omomi/internal/timevariance"
)

// SourceConfig overrides the weight and chunk size of one work source.
type SourceConfig struct {
	Weight int `yaml:"weight"`
	Chunk  int `yaml:"chunk"`
}

// Config tunes the dispatcher.
type Config struct {
	// Interval between periodic ticks.
	Interval time.Duration
	// DutyCycle is the fraction of Interval a periodic cycle may spend on
	// scheduled work.
	DutyCycle float64
	// DurableBatch bounds how many durable records are handled per batch.
	DurableBatch int
	// NotifyInterval is the minimum gap between notifications of one kind.
	NotifyInterval time.Duration
	// VarianceRestartBatch messages are restarted per VarianceRestartPause
	// when the service starts.
	VarianceRestartBatch int
	VarianceRestartPause time.Duration
	// GleanCount is used by state machine nudges that carry no count.
	GleanCount int
	// Sources overrides the built-in source table by name.
	Sources map[string]SourceConfig
	Weights scoring.Weights
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:             10 * time.Second,
		DutyCycle:            0.3,
		DurableBatch:         32,
		NotifyInterval:       notify.DefaultInterval,
		VarianceRestartBatch: 8,
		VarianceRestartPause: 500 * time.Millisecond,
		GleanCount:           100,
		Weights:              scoring.DefaultWeights,
	}
}

// Validate checks the config for values the dispatcher cannot run with.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("brain: interval must be positive, got %s", c.Interval)
	}
	if c.DutyCycle <= 0 || c.DutyCycle > 1 {
		return fmt.Errorf("brain: duty cycle must be in (0, 1], got %g", c.DutyCycle)
	}
	if c.DurableBatch <= 0 {
		return fmt.Errorf("brain: durable batch must be positive, got %d", c.DurableBatch)
	}
	for name, sc := range c.Sources {
		if sc.Weight < 0 || sc.Chunk < 0 {
			return fmt.Errorf("brain: source %q has negative weight or chunk", name)
		}
	}
	return nil
}

// Budget is the time a periodic cycle may spend on scheduled work.
func (c Config) Budget() time.Duration {
	return time.Duration(float64(c.Interval) * c.DutyCycle)
}

// Deps are the collaborators of a Service. Store, Queue and Index are
// required.
type Deps struct {
	Store     *store.Store
	Queue     queue.Queue
	Index     index.Writer
	Abatement abatement.Signal
	Sink      notify.Sink
	Clock     timevariance.Clock
}

// Stats is a point-in-time view of the dispatcher for the status endpoint.
type Stats struct {
	Running        bool              `json:"running"`
	InboxDepth     int               `json:"inbox_depth"`
	DurableDepth   int               `json:"durable_depth"`
	Machines       int               `json:"time_variance_machines"`
	VarianceGroups int               `json:"time_variance_groups"`
	Processed      int64             `json:"events_processed"`
	Failed         int64             `json:"events_failed"`
	Dropped        int64             `json:"durable_dropped"`
	LastCycle      time.Time         `json:"last_cycle,omitempty"`
	Sources        []scheduler.Stats `json:"sources"`
}

// Service owns the dispatcher goroutine and everything it drives.
type Service struct {
	cfg     Config
	logger  *slog.Logger
	store   *store.Store
	durable queue.Queue
	index   index.Writer
	abate   abatement.Signal
	clock   timevariance.Clock

	variance *timevariance.Registry
	notifier *notify.Limiter
	inbox    *inbox
	metrics  *metrics
	tracer   trace.Tracer

	// schedMu guards sched against Stats readers. Only the dispatcher
	// goroutine mutates it.
	schedMu sync.Mutex
	sched   *scheduler.Scheduler

	// opened is non-nil for the length of a periodic cycle.
	opened *index.OpenedSet

	barrierMu sync.Mutex
	barriers  map[string]chan struct{}

	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	lastCycle atomic.Int64
	started   atomic.Bool
	running   atomic.Bool

	cancelLoop context.CancelFunc
	done       chan struct{}
	wg         sync.WaitGroup
}

// New builds a Service and registers its work sources.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Store == nil || deps.Queue == nil || deps.Index == nil {
		return nil, fmt.Errorf("brain: store, queue and index are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Abatement == nil {
		deps.Abatement = abatement.Never{}
	}
	if deps.Clock == nil {
		deps.Clock = timevariance.SystemClock{}
	}

	s := &Service{
		cfg:      cfg,
		logger:   logger,
		store:    deps.Store,
		durable:  deps.Queue,
		index:    deps.Index,
		abate:    deps.Abatement,
		clock:    deps.Clock,
		variance: timevariance.NewRegistry(deps.Clock, logger),
		notifier: notify.NewLimiter(cfg.NotifyInterval, deps.Sink, logger),
		inbox:    newInbox(),
		metrics:  newMetrics(),
		tracer:   telemetry.Tracer("omomi/brain"),
		sched:    scheduler.New(logger),
		barriers: make(map[string]chan struct{}),
		done:     make(chan struct{}),
	}
	if err := s.registerSources(); err != nil {
		return nil, err
	}
	return s, nil
}

// Start launches the dispatcher, the periodic ticker, the durable queue
// watcher and the time variance restart. Stale terminate events left at the
// head of the inbox are discarded first. Call Drain to stop.
func (s *Service) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	if n := s.inbox.dropLeading(event.KindTerminate); n > 0 {
		s.logger.Info("brain: dropped stale terminate events", "count", n)
	}
	s.registerGauges()

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancelLoop = cancel
	s.running.Store(true)
	go s.run(loopCtx)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.tick(loopCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.restartVariance(loopCtx)
	}()
	if w, ok := s.durable.(queue.Waker); ok {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.watch(loopCtx, w)
		}()
	}
	s.logger.Info("brain: started", "interval", s.cfg.Interval, "budget", s.cfg.Budget())
}

// Drain asks the dispatcher to terminate after the event it is handling,
// waits for it within ctx, then stops the helpers and every time variance
// timer.
func (s *Service) Drain(ctx context.Context) {
	if !s.started.Load() {
		return
	}
	s.inbox.pushFront(event.Terminate{})
	select {
	case <-s.done:
	case <-ctx.Done():
		s.logger.Warn("brain: drain timed out waiting for dispatcher")
	}
	if s.cancelLoop != nil {
		s.cancelLoop()
	}
	s.wg.Wait()
	s.variance.DisposeAll()
}

// Done is closed when the dispatcher goroutine exits.
func (s *Service) Done() <-chan struct{} { return s.done }

func (s *Service) run(ctx context.Context) {
	defer close(s.done)
	defer s.running.Store(false)
	for {
		ev, err := s.inbox.pop(ctx)
		if err != nil {
			return
		}
		if _, ok := ev.(event.Terminate); ok {
			s.logger.Info("brain: terminated")
			return
		}
		s.process(ctx, ev)
	}
}

func (s *Service) tick(ctx context.Context) {
	s.inbox.pushIfNotTail(event.Periodic{})
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.inbox.pushIfNotTail(event.Periodic{})
		}
	}
}

func (s *Service) watch(ctx context.Context, w queue.Waker) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.Wake():
			s.inbox.pushIfNotTail(event.Periodic{})
		}
	}
}

// Enqueue appends ev to the inbox.
func (s *Service) Enqueue(ev event.Event) {
	s.inbox.push(ev)
}

// EnqueueIfAbsent appends ev unless an equal event is already waiting.
func (s *Service) EnqueueIfAbsent(ev event.Event) bool {
	return s.inbox.pushIfAbsent(ev)
}

// EnqueueIfNotTail appends ev unless the last waiting event has its kind.
func (s *Service) EnqueueIfNotTail(ev event.Event) bool {
	return s.inbox.pushIfNotTail(ev)
}

// EnqueueDurable stores ev in the durable queue and schedules a periodic
// cycle to drain it.
func (s *Service) EnqueueDurable(ctx context.Context, ev event.Event) (queue.Record, error) {
	rec, err := s.durable.Enqueue(ctx, ev)
	if err != nil {
		return queue.Record{}, fmt.Errorf("brain: enqueue durable %s: %w", ev.Kind(), err)
	}
	s.inbox.pushIfNotTail(event.Periodic{})
	return rec, nil
}

// Barrier blocks until every event enqueued before the call was handled.
func (s *Service) Barrier(ctx context.Context) error {
	token := uuid.NewString()
	ch := make(chan struct{})
	s.barrierMu.Lock()
	s.barriers[token] = ch
	s.barrierMu.Unlock()

	s.inbox.push(event.Test{Token: token})
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		s.barrierMu.Lock()
		delete(s.barriers, token)
		s.barrierMu.Unlock()
		return ctx.Err()
	}
}

func (s *Service) releaseBarrier(token string) {
	s.barrierMu.Lock()
	ch, ok := s.barriers[token]
	delete(s.barriers, token)
	s.barrierMu.Unlock()
	if ok {
		close(ch)
	}
}

// Stats snapshots the dispatcher.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	depth, err := s.durable.Len(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("brain: stats: %w", err)
	}
	s.schedMu.Lock()
	sources := s.sched.Stats()
	s.schedMu.Unlock()

	st := Stats{
		Running:        s.running.Load(),
		InboxDepth:     s.inbox.len(),
		DurableDepth:   depth,
		Machines:       s.variance.Count(),
		VarianceGroups: s.variance.Groups(),
		Processed:      s.processed.Load(),
		Failed:         s.failed.Load(),
		Dropped:        s.dropped.Load(),
		Sources:        sources,
	}
	if ms := s.lastCycle.Load(); ms > 0 {
		st.LastCycle = time.UnixMilli(ms).UTC()
	}
	return st, nil
}
