package sequence

import (
	"context"

	"mongoseq/pkg/schema"
)

// ComputeFunc derives a decoration from the document being created.
type ComputeFunc func(ctx context.Context, doc *schema.Document) (string, error)

// Value is either a static string or a per-document computation. The zero
// value is the empty static string.
type Value struct {
	static  string
	compute ComputeFunc
}

// Static returns a fixed decoration.
func Static(s string) Value {
	return Value{static: s}
}

// Computed returns a decoration derived from each document at assignment time.
func Computed(fn ComputeFunc) Value {
	return Value{compute: fn}
}

// IsStatic reports whether the value resolves without a document.
func (v Value) IsStatic() bool {
	return v.compute == nil
}

// Resolve produces the decoration for the given document.
func (v Value) Resolve(ctx context.Context, doc *schema.Document) (string, error) {
	if v.compute != nil {
		return v.compute(ctx, doc)
	}
	return v.static, nil
}
