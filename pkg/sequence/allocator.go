package sequence

import "context"

// Allocator hands out counter values for (model, field) targets.
// This is the domain contract; the MongoDB implementation lives in the
// counters subpackage.
type Allocator interface {
	// Allocate atomically advances the counter and returns the allocated
	// value. The first allocation for a target returns startAt; every later
	// one returns the previous value plus incrementBy. Concurrent callers,
	// in any number of processes, each receive a distinct value.
	Allocate(ctx context.Context, model, field string, startAt, incrementBy int64) (int64, error)

	// Peek returns the value the next Allocate would return, without
	// advancing the counter.
	Peek(ctx context.Context, model, field string, startAt, incrementBy int64) (int64, error)

	// Reset rewinds the counter so the next Allocate returns startAt again.
	Reset(ctx context.Context, model, field string, startAt, incrementBy int64) error
}
