// Package sequence implements atomic, collision-free sequential values for a
// document field. A sequence binds to a schema at startup, allocates each
// value through a shared counter store when a document is first saved, and
// guards the assigned field against later modification. Correctness under
// concurrency rests entirely on the store's atomic allocation; the package
// itself holds no locks and no counter state.
package sequence

import (
	"context"

	"mongoseq/pkg/apperror"
	"mongoseq/pkg/logger"
	"mongoseq/pkg/schema"
)

// Sequence is a bound sequence: validated settings plus the counter store
// serving them. Immutable after Attach and safe for concurrent use.
type Sequence struct {
	settings settings
	alloc    Allocator
}

// Attach binds a sequence to a schema field and registers the lifecycle
// hooks that assign and guard it. The counter store must be prepared before
// any sequence is attached. On error the schema is left untouched; in
// particular a second binding to the same field fails without disturbing
// the first.
func Attach(sch *schema.Schema, alloc Allocator, opts Options) (*Sequence, error) {
	if sch == nil {
		return nil, apperror.NewConfiguration("schema is required")
	}
	if alloc == nil {
		return nil, apperror.NewNotInitialized("counter store is not prepared; prepare it before attaching sequences")
	}
	st, err := newSettings(opts)
	if err != nil {
		return nil, err
	}
	if err := sch.AddField(schema.FieldDef{
		Name:   st.field,
		Type:   schema.TypeString,
		Unique: true,
	}); err != nil {
		return nil, err
	}

	seq := &Sequence{settings: st, alloc: alloc}
	sch.Hooks().On(schema.BeforeCreate, seq.assignOnCreate)
	sch.Hooks().On(schema.BeforeUpdate, seq.guardImmutable)
	return seq, nil
}

// Model returns the counter owner name.
func (s *Sequence) Model() string {
	return s.settings.model
}

// Field returns the bound document field.
func (s *Sequence) Field() string {
	return s.settings.field
}

// NextCount returns the value the next created document would receive,
// without advancing the counter.
func (s *Sequence) NextCount(ctx context.Context) (int64, error) {
	return s.alloc.Peek(ctx, s.settings.model, s.settings.field, s.settings.startAt, s.settings.incrementBy)
}

// Reset rewinds the counter so the next created document starts at StartAt
// again. Existing documents keep their values.
func (s *Sequence) Reset(ctx context.Context) error {
	return s.alloc.Reset(ctx, s.settings.model, s.settings.field, s.settings.startAt, s.settings.incrementBy)
}

// assignOnCreate allocates and assigns the field value for new documents.
// It runs to completion before the document is persisted; on any failure
// the save aborts with no value assigned. A value the caller placed on the
// field of a new document is overwritten by the allocation.
func (s *Sequence) assignOnCreate(ctx context.Context, doc *schema.Document) error {
	if !doc.IsNew() {
		return nil
	}
	count, err := s.alloc.Allocate(ctx, s.settings.model, s.settings.field, s.settings.startAt, s.settings.incrementBy)
	if err != nil {
		return err
	}
	value, err := s.settings.formatValue(ctx, doc, count)
	if err != nil {
		return err
	}
	doc.Set(s.settings.field, value)
	logger.Debug(ctx, "sequence value assigned",
		"model", s.settings.model, "field", s.settings.field, "count", count)
	return nil
}

// guardImmutable rejects modification of the assigned field on re-save.
// The error precedes persistence, so the stored value never changes.
func (s *Sequence) guardImmutable(ctx context.Context, doc *schema.Document) error {
	if doc.IsNew() {
		return nil
	}
	if doc.Modified(s.settings.field) {
		return apperror.NewImmutableField(s.settings.field)
	}
	return nil
}
