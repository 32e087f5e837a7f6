// Package fanout runs one operation per item concurrently and collects every
// result. A failure for one item never cancels or delays the others.
package fanout

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// Each calls fn for every item and returns the per-item errors, index-aligned
// with items (nil where fn succeeded).
func Each[T any](ctx context.Context, items []T, fn func(context.Context, T) error) []error {
	errs := make([]error, len(items))

	// plain Group: no shared cancellation between items
	var g errgroup.Group
	for i, item := range items {
		g.Go(func() error {
			errs[i] = fn(ctx, item)
			return nil
		})
	}
	g.Wait()
	return errs
}

// Failed counts the non-nil errors
func Failed(errs []error) int {
	n := 0
	for _, err := range errs {
		if err != nil {
			n++
		}
	}
	return n
}

// Join combines the non-nil errors, or returns nil
func Join(errs []error) error {
	return errors.Join(errs...)
}
