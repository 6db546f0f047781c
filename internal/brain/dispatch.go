package brain

import (
	"context"
	"errors"
	"runtime/debug"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/omomi/internal/event"
	"github.com/ashita-ai/omomi/internal/queue"
	"github.com/ashita-ai/omomi/internal/store"
	"github.com/ashita-ai/omomi/internal/timevariance"
)

// isFatal reports whether a recovered panic is a programming error that
// must crash the process.
func isFatal(r any) bool {
	err, ok := r.(error)
	if !ok {
		return false
	}
	var unknown *event.UnknownKindError
	var outOfRange *timevariance.StateRangeError
	return errors.As(err, &unknown) || errors.As(err, &outOfRange)
}

// process handles one event on the dispatcher goroutine. Handler errors are
// logged and counted; panics are recovered per event except the fatal
// kinds, which are re-raised.
func (s *Service) process(ctx context.Context, ev event.Event) {
	kind := ev.Kind().String()
	ctx, span := s.tracer.Start(ctx, "brain.process", trace.WithAttributes(
		attribute.String("event.kind", kind),
		attribute.Int64("account_id", event.AccountID(ev)),
	))
	defer span.End()
	attrs := metric.WithAttributes(attribute.String("kind", kind))

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if isFatal(r) {
			panic(r)
		}
		s.failed.Add(1)
		s.metrics.failed.Add(ctx, 1, attrs)
		span.SetStatus(codes.Error, "panic")
		s.logger.Error("brain: event handler panicked",
			"kind", kind, "panic", r, "stack", string(debug.Stack()))
	}()

	err := s.dispatch(ctx, ev)
	s.processed.Add(1)
	s.metrics.processed.Add(ctx, 1, attrs)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		s.logger.Debug("brain: event target gone", "kind", kind, "error", err)
	default:
		s.failed.Add(1)
		s.metrics.failed.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("brain: event failed", "kind", kind, "error", err)
	}
}

func (s *Service) dispatch(ctx context.Context, ev event.Event) error {
	switch e := ev.(type) {
	case event.Periodic:
		s.periodic(ctx)
		return nil
	case event.StateMachine:
		return s.gleanAccount(ctx, e)
	case event.UIHint:
		s.logger.Debug("brain: ui hint", "account_id", e.AccountID, "type", int(e.Type), "message_id", e.MessageID)
		return nil
	case event.MessageFlags:
		return s.messageFlags(ctx, e)
	case event.InitialRIC:
		return s.initialRIC(ctx, e)
	case event.UpdateAddressScore:
		return s.updateAddressScoreEvent(ctx, e)
	case event.UpdateMessageScore:
		return s.updateMessageScoreEvent(ctx, e)
	case event.Unindex:
		return s.unindex(ctx, e)
	case event.Reindex:
		return s.reindex(ctx, e)
	case event.Test:
		s.releaseBarrier(e.Token)
		return nil
	case event.Terminate:
		// Only the run loop acts on terminate.
		return nil
	default:
		panic(&event.UnknownKindError{Kind: ev.Kind()})
	}
}

// processDurable handles up to limit durable records and returns how many it
// took off the queue. A record is deleted once handled, even when its
// handler failed. Records with a malformed payload are deleted unhandled;
// a record with an unknown kind is fatal.
func (s *Service) processDurable(ctx context.Context, limit int) int {
	n := 0
	for n < limit && ctx.Err() == nil {
		rec, ok, err := s.durable.Next(ctx)
		var decodeErr *queue.DecodeError
		switch {
		case errors.As(err, &decodeErr):
			var unknown *event.UnknownKindError
			if errors.As(err, &unknown) {
				panic(unknown)
			}
			rec = decodeErr.Record
			s.dropped.Add(1)
			s.failed.Add(1)
			s.logger.Error("brain: dropping malformed durable record", "id", rec.ID, "error", err)
		case err != nil:
			s.logger.Warn("brain: read durable queue", "error", err)
			return n
		case !ok:
			return n
		default:
			s.process(ctx, rec.Event)
		}
		if err := s.durable.Delete(ctx, rec); err != nil {
			s.logger.Warn("brain: delete durable record", "id", rec.ID, "error", err)
			return n
		}
		n++
	}
	return n
}

// drainDurable empties the durable queue in bounded batches while
// abatement is clear.
func (s *Service) drainDurable(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil && !s.abate.IsAbatementRequired() {
		n := s.processDurable(ctx, s.cfg.DurableBatch)
		total += n
		if n < s.cfg.DurableBatch {
			break
		}
	}
	return total
}
