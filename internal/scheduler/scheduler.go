// Package scheduler implements a weighted round-robin over demand-pull work
// sources.
//
// Each registered source receives weight slots per round, spread at
// fractional positions n/weight so that heavier sources interleave with
// lighter ones instead of running back to back. RunOne performs a single
// unit of work and never blocks on anything but the source itself.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

var (
	ErrInvalidWeight = errors.New("scheduler: weight must be positive")
	ErrDuplicate     = errors.New("scheduler: source already registered")
	ErrUnknownSource = errors.New("scheduler: unknown source")
)

type slot struct {
	order    float64
	sourceID int
}

type registration struct {
	id          int
	description string
	weight      int
	src         Source
	exhausted   bool
	runs        int64
	failures    int64
}

// Stats is a point-in-time view of one source.
type Stats struct {
	Description string `json:"description"`
	Weight      int    `json:"weight"`
	Buffered    int    `json:"buffered"`
	Exhausted   bool   `json:"exhausted"`
	Runs        int64  `json:"runs"`
	Failures    int64  `json:"failures"`
}

// Scheduler is not safe for concurrent use. The dispatcher goroutine owns it.
type Scheduler struct {
	logger  *slog.Logger
	sources []*registration
	byName  map[string]*registration
	slots   []slot
	cursor  int
}

// New creates an empty scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{logger: logger, byName: make(map[string]*registration)}
}

// Register adds a source. Registration order breaks ties between slots with
// equal fractional order.
func (s *Scheduler) Register(description string, src Source, weight int) error {
	if weight <= 0 {
		return fmt.Errorf("%w: %s has weight %d", ErrInvalidWeight, description, weight)
	}
	if _, ok := s.byName[description]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, description)
	}
	r := &registration{
		id:          len(s.sources),
		description: description,
		weight:      weight,
		src:         src,
	}
	s.sources = append(s.sources, r)
	s.byName[description] = r
	return nil
}

// Initialize rebuilds the slot table from every source not marked exhausted
// and rewinds the cursor.
func (s *Scheduler) Initialize() {
	s.slots = s.slots[:0]
	for _, r := range s.sources {
		if r.exhausted {
			continue
		}
		for n := 0; n < r.weight; n++ {
			s.slots = append(s.slots, slot{order: float64(n) / float64(r.weight), sourceID: r.id})
		}
	}
	sort.SliceStable(s.slots, func(i, j int) bool {
		if s.slots[i].order != s.slots[j].order {
			return s.slots[i].order < s.slots[j].order
		}
		return s.slots[i].sourceID < s.slots[j].sourceID
	})
	s.cursor = 0
}

// RunOne performs one unit of work from the source under the cursor,
// refilling it on demand. Sources that come back empty are dropped from the
// table until reset. Returns false once no source has work.
//
// A panic inside a processor propagates to the caller; the cursor is left on
// the panicking source's slot.
func (s *Scheduler) RunOne(ctx context.Context) bool {
	for len(s.slots) > 0 {
		r := s.sources[s.slots[s.cursor].sourceID]
		if r.src.Buffered() == 0 {
			n, err := r.src.Refill(ctx)
			if err != nil {
				s.logger.Warn("scheduler: refill failed", "source", r.description, "error", err)
				n = 0
			}
			if n == 0 {
				s.exhaust(r)
				continue
			}
		}

		ok := r.src.ProcessNext(ctx)
		r.runs++
		if !ok {
			r.failures++
			r.src.Clear()
		}
		s.cursor = (s.cursor + 1) % len(s.slots)
		return true
	}
	return false
}

func (s *Scheduler) exhaust(r *registration) {
	r.exhausted = true
	kept := s.slots[:0]
	for _, sl := range s.slots {
		if sl.sourceID != r.id {
			kept = append(kept, sl)
		}
	}
	s.slots = kept
	if len(s.slots) == 0 {
		s.cursor = 0
		return
	}
	s.cursor %= len(s.slots)
}

// Reset clears a source's buffer and exhausted mark. It takes part in the
// schedule again after the next Initialize.
func (s *Scheduler) Reset(description string) error {
	r, ok := s.byName[description]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSource, description)
	}
	r.src.Clear()
	r.exhausted = false
	return nil
}

// ResetAll resets every source.
func (s *Scheduler) ResetAll() {
	for _, r := range s.sources {
		r.src.Clear()
		r.exhausted = false
	}
}

// Rearm clears exhausted marks but keeps buffered items. The dispatcher
// calls it at the start of every periodic cycle so sources that ran dry are
// queried again.
func (s *Scheduler) Rearm() {
	for _, r := range s.sources {
		r.exhausted = false
	}
}

// Pending reports whether any slot is left in the current table.
func (s *Scheduler) Pending() bool { return len(s.slots) > 0 }

// RunCount returns how many units a source has run since registration.
func (s *Scheduler) RunCount(description string) int64 {
	if r, ok := s.byName[description]; ok {
		return r.runs
	}
	return 0
}

// Stats lists sources in registration order.
func (s *Scheduler) Stats() []Stats {
	out := make([]Stats, 0, len(s.sources))
	for _, r := range s.sources {
		out = append(out, Stats{
			Description: r.description,
			Weight:      r.weight,
			Buffered:    r.src.Buffered(),
			Exhausted:   r.exhausted,
			Runs:        r.runs,
			Failures:    r.failures,
		})
	}
	return out
}
