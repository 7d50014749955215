package sequence

import (
	"mongoseq/pkg/apperror"
	"mongoseq/pkg/schema"
)

// Options configures a sequence binding.
type Options struct {
	// Model is the counter owner, usually the model or collection name.
	Model string

	// Field is the document field that receives the sequence value.
	Field string

	// StartAt is the first value to allocate.
	StartAt int64

	// IncrementBy is the step between values. Zero means 1.
	IncrementBy int64

	// Prefix and Suffix decorate the numeric value.
	Prefix Value
	Suffix Value
}

// settings is the validated, immutable form of Options. Once built it is
// never mutated, so a bound sequence is safe for concurrent use.
type settings struct {
	model       string
	field       string
	startAt     int64
	incrementBy int64
	prefix      Value
	suffix      Value
}

// newSettings validates options and fills defaults. Every failure is a
// configuration error, raised before anything else happens.
func newSettings(opts Options) (settings, error) {
	if opts.Model == "" {
		return settings{}, apperror.NewConfiguration("model is required")
	}
	if opts.Field == "" {
		return settings{}, apperror.NewConfiguration("field is required")
	}
	if opts.Field == schema.IdentityField {
		return settings{}, apperror.NewConfiguration("field \"_id\" is managed by MongoDB and cannot carry a sequence")
	}
	if opts.IncrementBy < 0 {
		return settings{}, apperror.NewConfiguration("incrementBy must be positive")
	}
	st := settings{
		model:       opts.Model,
		field:       opts.Field,
		startAt:     opts.StartAt,
		incrementBy: opts.IncrementBy,
		prefix:      opts.Prefix,
		suffix:      opts.Suffix,
	}
	if st.incrementBy == 0 {
		st.incrementBy = 1
	}
	return st, nil
}
