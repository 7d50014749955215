package sequence

import (
	"context"
	"sync"
)

// MockAllocator is a test implementation of Allocator.
// The zero value behaves as an in-memory counter store with the same
// allocation semantics as the real one; set the Func fields to override
// individual operations.
type MockAllocator struct {
	AllocateFunc func(ctx context.Context, model, field string, startAt, incrementBy int64) (int64, error)
	PeekFunc     func(ctx context.Context, model, field string, startAt, incrementBy int64) (int64, error)
	ResetFunc    func(ctx context.Context, model, field string, startAt, incrementBy int64) error

	mu     sync.Mutex
	counts map[string]int64
}

// Allocate implements Allocator.
func (m *MockAllocator) Allocate(ctx context.Context, model, field string, startAt, incrementBy int64) (int64, error) {
	if m.AllocateFunc != nil {
		return m.AllocateFunc(ctx, model, field, startAt, incrementBy)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]int64)
	}
	key := mockKey(model, field)
	if current, ok := m.counts[key]; ok {
		m.counts[key] = current + incrementBy
	} else {
		m.counts[key] = startAt
	}
	return m.counts[key], nil
}

// Peek implements Allocator.
func (m *MockAllocator) Peek(ctx context.Context, model, field string, startAt, incrementBy int64) (int64, error) {
	if m.PeekFunc != nil {
		return m.PeekFunc(ctx, model, field, startAt, incrementBy)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.counts[mockKey(model, field)]; ok {
		return current + incrementBy, nil
	}
	return startAt, nil
}

// Reset implements Allocator.
func (m *MockAllocator) Reset(ctx context.Context, model, field string, startAt, incrementBy int64) error {
	if m.ResetFunc != nil {
		return m.ResetFunc(ctx, model, field, startAt, incrementBy)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]int64)
	}
	m.counts[mockKey(model, field)] = startAt - incrementBy
	return nil
}

func mockKey(model, field string) string {
	return model + "/" + field
}

// Ensure compile-time interface compliance.
var _ Allocator = (*MockAllocator)(nil)
