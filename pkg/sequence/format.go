package sequence

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"mongoseq/pkg/schema"
)

// formatValue renders the full field value for an allocated count.
// Prefix and suffix resolve independently of each other, so computed
// decorations run concurrently; both complete before the value is built.
func (s settings) formatValue(ctx context.Context, doc *schema.Document, count int64) (string, error) {
	var prefix, suffix string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if prefix, err = s.prefix.Resolve(gctx, doc); err != nil {
			return fmt.Errorf("resolve prefix: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if suffix, err = s.suffix.Resolve(gctx, doc); err != nil {
			return fmt.Errorf("resolve suffix: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", err
	}

	return prefix + strconv.FormatInt(count, 10) + suffix, nil
}

// ParseCount extracts the numeric count from a formatted field value.
// It is the inverse of formatting and works only while both decorations
// are static; a computed prefix or suffix is not reversible.
func (s *Sequence) ParseCount(formatted string) (int64, error) {
	if !s.settings.prefix.IsStatic() || !s.settings.suffix.IsStatic() {
		return 0, fmt.Errorf("parse %q: computed prefix or suffix is not reversible", formatted)
	}
	prefix := s.settings.prefix.static
	suffix := s.settings.suffix.static
	if !strings.HasPrefix(formatted, prefix) || !strings.HasSuffix(formatted, suffix) {
		return 0, fmt.Errorf("parse %q: value does not match %q...%q", formatted, prefix, suffix)
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(formatted, prefix), suffix)
	count, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", formatted, err)
	}
	return count, nil
}
