// Package store defines the tree-store contract the reconciliation pipelines
// are written against: a multi-path atomic read (one subtree snapshot) and a
// multi-path atomic write (sparse path→value delta, nil meaning delete).
// The production implementation lives in store/postgres; an in-memory
// implementation with the same semantics backs the tests.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrEmptyPath is returned when an empty path is used in a read or delta.
	ErrEmptyPath = errors.New("store: path cannot be empty")

	// ErrClosed is returned when the store has been closed.
	ErrClosed = errors.New("store: closed")
)

// Store is the only persistence primitive the pipelines use.
type Store interface {
	// ReadSubtree returns a JSON snapshot of the subtree rooted at path,
	// or nil when the subtree does not exist.
	ReadSubtree(ctx context.Context, path string) (json.RawMessage, error)

	// ApplyDelta applies all entries of the delta as a single atomic
	// multi-path write: either every path lands, or none do.
	ApplyDelta(ctx context.Context, delta *Delta) error
}

// Join builds a fully-qualified slash-separated path from segments.
func Join(parts ...string) string {
	return strings.Join(parts, "/")
}

// Split breaks a path into its segments, dropping empty ones.
func Split(path string) []string {
	raw := strings.Split(path, "/")
	parts := raw[:0]
	for _, p := range raw {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// ══════════════════════════════════════════════════════════════════════════════
// DELTA BUILDER
// ══════════════════════════════════════════════════════════════════════════════

// Delta accumulates a sparse set of field-level writes across one invocation.
// Paths are fully qualified ("leaderboard/<uid>/weekHours"); a nil value marks
// a delete. Re-setting a path overwrites the pending value (last write wins);
// the pipelines are arranged so no two components write the same path.
type Delta struct {
	order  []string
	values map[string]any
}

// NewDelta creates an empty delta.
func NewDelta() *Delta {
	return &Delta{values: make(map[string]any)}
}

// Set records a write of value at path.
func (d *Delta) Set(path string, value any) {
	if _, seen := d.values[path]; !seen {
		d.order = append(d.order, path)
	}
	d.values[path] = value
}

// Delete records a delete at path.
func (d *Delta) Delete(path string) {
	d.Set(path, nil)
}

// Len returns the number of distinct paths in the delta.
func (d *Delta) Len() int {
	return len(d.values)
}

// IsEmpty reports whether the delta holds no writes.
func (d *Delta) IsEmpty() bool {
	return len(d.values) == 0
}

// Paths returns the delta paths in first-insertion order.
func (d *Delta) Paths() []string {
	return d.order
}

// Value returns the pending value for path.
func (d *Delta) Value(path string) (any, bool) {
	v, ok := d.values[path]
	return v, ok
}

// Has reports whether the delta contains a write for path.
func (d *Delta) Has(path string) bool {
	_, ok := d.values[path]
	return ok
}

// Each visits every entry in first-insertion order.
func (d *Delta) Each(fn func(path string, value any) error) error {
	for _, p := range d.order {
		if err := fn(p, d.values[p]); err != nil {
			return err
		}
	}
	return nil
}
