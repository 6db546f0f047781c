package scheduler

import "context"

// QueryFunc returns up to count items that still need work. An empty result
// means the source has nothing left for now.
type QueryFunc[T any] func(ctx context.Context, count int) ([]T, error)

// ProcessFunc handles one item. Returning false abandons the rest of the
// current chunk so the next refill re-reads fresh state.
type ProcessFunc[T any] func(ctx context.Context, item T) bool

// Source is a demand-pull work source. The scheduler only talks to sources
// through this interface so sources over different item types can share
// one schedule.
type Source interface {
	// Buffered reports how many fetched items are waiting.
	Buffered() int
	// Refill queries the next chunk and returns how many items arrived.
	Refill(ctx context.Context) (int, error)
	// ProcessNext pops one buffered item and processes it.
	ProcessNext(ctx context.Context) bool
	// Clear drops all buffered items.
	Clear()
}

// DefaultChunkSize is the refill batch size used when none is given.
const DefaultChunkSize = 5

// Batched is the generic Source implementation: a query, a processor, and a
// FIFO buffer filled lazily one chunk at a time.
type Batched[T any] struct {
	query   QueryFunc[T]
	process ProcessFunc[T]
	chunk   int
	buf     []T
}

// NewSource builds a Batched source. chunk <= 0 selects DefaultChunkSize.
func NewSource[T any](query QueryFunc[T], process ProcessFunc[T], chunk int) *Batched[T] {
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	return &Batched[T]{query: query, process: process, chunk: chunk}
}

func (b *Batched[T]) Buffered() int { return len(b.buf) }

func (b *Batched[T]) Refill(ctx context.Context) (int, error) {
	items, err := b.query(ctx, b.chunk)
	if err != nil {
		return 0, err
	}
	b.buf = append(b.buf[:0], items...)
	return len(b.buf), nil
}

func (b *Batched[T]) ProcessNext(ctx context.Context) bool {
	if len(b.buf) == 0 {
		return false
	}
	item := b.buf[0]
	var zero T
	b.buf[0] = zero
	b.buf = b.buf[1:]
	return b.process(ctx, item)
}

func (b *Batched[T]) Clear() { b.buf = nil }
