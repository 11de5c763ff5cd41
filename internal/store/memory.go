package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore is an in-process tree store implementing the Store contract.
// It backs the test suites and local development runs. Values are normalized
// through JSON so reads behave exactly like the production store.
type MemoryStore struct {
	mu   sync.RWMutex
	root map[string]any
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{root: make(map[string]any)}
}

// Seed loads an initial tree under path, replacing whatever was there.
// Intended for test setup.
func (s *MemoryStore) Seed(path string, value any) error {
	normalized, err := normalize(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	setNode(s.root, Split(path), normalized)
	return nil
}

// ReadSubtree returns a JSON snapshot of the subtree at path, or nil when
// the subtree does not exist.
func (s *MemoryStore) ReadSubtree(ctx context.Context, path string) (json.RawMessage, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	node, ok := getNode(s.root, Split(path))
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	return json.Marshal(node)
}

// ApplyDelta applies every entry against a copy of the tree and swaps the
// copy in only when all entries applied cleanly, so a failed delta leaves
// the store untouched.
func (s *MemoryStore) ApplyDelta(ctx context.Context, delta *Delta) error {
	if delta == nil || delta.IsEmpty() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := deepCopy(s.root).(map[string]any)
	err := delta.Each(func(path string, value any) error {
		parts := Split(path)
		if len(parts) == 0 {
			return ErrEmptyPath
		}
		if value == nil {
			deleteNode(next, parts)
			return nil
		}
		normalized, err := normalize(value)
		if err != nil {
			return fmt.Errorf("store: normalize %q: %w", path, err)
		}
		setNode(next, parts, normalized)
		return nil
	})
	if err != nil {
		return err
	}

	s.root = next
	return nil
}

// normalize round-trips a value through JSON so the tree holds only
// json-generic values.
func normalize(value any) (any, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func deepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[k] = deepCopy(child)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = deepCopy(child)
		}
		return out
	default:
		return v
	}
}

func getNode(root map[string]any, parts []string) (any, bool) {
	var node any = root
	for _, p := range parts {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

// setNode writes value at the node addressed by parts, materializing
// intermediate objects and overwriting scalars on the way down.
func setNode(root map[string]any, parts []string, value any) {
	node := root
	for _, p := range parts[:len(parts)-1] {
		child, ok := node[p].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[p] = child
		}
		node = child
	}
	node[parts[len(parts)-1]] = value
}

// deleteNode removes the node at parts and prunes parents left empty,
// matching how the production store treats empty subtrees as absent.
func deleteNode(root map[string]any, parts []string) {
	if len(parts) == 0 {
		return
	}

	node := root
	parents := make([]map[string]any, 0, len(parts))
	for _, p := range parts[:len(parts)-1] {
		child, ok := node[p].(map[string]any)
		if !ok {
			return
		}
		parents = append(parents, node)
		node = child
	}

	delete(node, parts[len(parts)-1])

	// Prune empty intermediate objects bottom-up.
	for i := len(parents) - 1; i >= 0; i-- {
		if len(node) > 0 {
			break
		}
		delete(parents[i], parts[i])
		node = parents[i]
	}
}
