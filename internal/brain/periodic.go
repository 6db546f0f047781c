package brain

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ashita-ai/omomi/internal/index"
)

// periodic runs one duty cycle. Notifications are held for the length of
// the cycle and index write transactions opened during it are released on
// the way out, panics included.
func (s *Service) periodic(ctx context.Context) {
	start := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, "brain.periodic")
	defer span.End()

	s.notifier.SetRunning(false)
	defer s.notifier.SetRunning(true)

	opened := index.NewOpenedSet(s.index, s.logger)
	s.opened = opened
	defer func() {
		s.opened = nil
		if err := opened.Cleanup(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("brain: release index transactions", "error", err)
		}
	}()

	s.schedMu.Lock()
	s.sched.Rearm()
	s.sched.Initialize()
	s.schedMu.Unlock()

	durable := s.drainDurable(ctx)
	deadline := start.Add(s.cfg.Budget())
	units := 0
	for ctx.Err() == nil && s.clock.Now().Before(deadline) && !s.abate.IsAbatementRequired() {
		// Durable records that arrived meanwhile go ahead of scheduled work.
		if n := s.processDurable(ctx, s.cfg.DurableBatch); n > 0 {
			durable += n
			continue
		}
		if !s.runOne(ctx) {
			break
		}
		units++
	}

	elapsed := s.clock.Now().Sub(start)
	s.lastCycle.Store(s.clock.Now().UnixMilli())
	s.metrics.cycleDuration.Record(ctx, float64(elapsed.Milliseconds()))
	span.SetAttributes(attribute.Int("durable", durable), attribute.Int("units", units))
	s.logger.Debug("brain: periodic cycle", "durable", durable, "units", units, "elapsed_ms", elapsed.Milliseconds())
}

func (s *Service) runOne(ctx context.Context) bool {
	s.schedMu.Lock()
	defer s.schedMu.Unlock()
	if !s.sched.RunOne(ctx) {
		return false
	}
	s.metrics.sourceRuns.Add(ctx, 1)
	return true
}

// withIndex runs fn with the cycle's opened set, or with a set of its own
// when called outside a periodic cycle.
func (s *Service) withIndex(ctx context.Context, fn func(set *index.OpenedSet) error) error {
	if s.opened != nil {
		return fn(s.opened)
	}
	set := index.NewOpenedSet(s.index, s.logger)
	defer func() {
		if err := set.Cleanup(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("brain: release index transactions", "error", err)
		}
	}()
	return fn(set)
}
