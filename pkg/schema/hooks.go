package schema

import "context"

// HookEvent represents lifecycle event type.
type HookEvent string

const (
	BeforeCreate HookEvent = "before_create"
	AfterCreate  HookEvent = "after_create"
	BeforeUpdate HookEvent = "before_update"
	AfterUpdate  HookEvent = "after_update"
	BeforeDelete HookEvent = "before_delete"
	AfterDelete  HookEvent = "after_delete"
)

// Hook is a function that runs at specific lifecycle points.
// Before-hooks may mutate the document; an error aborts the operation.
type Hook func(ctx context.Context, doc *Document) error

// HookRegistry stores lifecycle hooks for a schema.
type HookRegistry struct {
	hooks map[HookEvent][]Hook
}

// NewHookRegistry creates an empty hook registry.
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{
		hooks: make(map[HookEvent][]Hook),
	}
}

// On registers a hook for the specified event.
func (r *HookRegistry) On(event HookEvent, hook Hook) {
	r.hooks[event] = append(r.hooks[event], hook)
}

// Run executes all hooks for the specified event in registration order.
// The first error stops the chain and is returned.
func (r *HookRegistry) Run(ctx context.Context, event HookEvent, doc *Document) error {
	for _, hook := range r.hooks[event] {
		if err := hook(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}
