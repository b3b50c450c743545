// Package contracts holds the versioned request/response schema registry and
// the migration engine that moves envelope values between adjacent versions.
package contracts

import (
	"fmt"
	"sync"

	goversion "github.com/hashicorp/go-version"

	"github.com/makaronz/animatize/internal/core/domain"
)

// Migration transforms a value from one schema version to an adjacent one.
// Migrations must be pure and total over any value that validated under their
// source version.
type Migration[T any] func(T) (T, error)

type edge[T any] struct {
	to      string
	forward Migration[T]
}

// Registry is a directed graph of migrations between schema versions. Edges
// connect exactly two adjacent versions; paths are composed with BFS. Inverse
// edges are optional, so a downgrade without one fails explicitly instead of
// silently losing data.
type Registry[T any] struct {
	mu      sync.RWMutex
	current string
	edges   map[string][]edge[T]
}

// NewRegistry creates a registry whose latest version is current.
func NewRegistry[T any](current string) (*Registry[T], error) {
	if _, err := goversion.NewVersion(current); err != nil {
		return nil, fmt.Errorf("invalid current schema version %q: %w", current, err)
	}
	return &Registry[T]{
		current: current,
		edges:   map[string][]edge[T]{current: nil},
	}, nil
}

// Current returns the latest schema version this registry migrates to.
func (r *Registry[T]) Current() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Register adds a forward-only edge between two adjacent versions.
func (r *Registry[T]) Register(from, to string, forward Migration[T]) error {
	return r.register(from, to, forward, nil)
}

// RegisterWithInverse adds a forward edge plus its inverse, enabling downgrades
// across this pair.
func (r *Registry[T]) RegisterWithInverse(from, to string, forward, inverse Migration[T]) error {
	return r.register(from, to, forward, inverse)
}

func (r *Registry[T]) register(from, to string, forward, inverse Migration[T]) error {
	fromV, err := goversion.NewVersion(from)
	if err != nil {
		return fmt.Errorf("invalid schema version %q: %w", from, err)
	}
	toV, err := goversion.NewVersion(to)
	if err != nil {
		return fmt.Errorf("invalid schema version %q: %w", to, err)
	}
	if !fromV.LessThan(toV) {
		return fmt.Errorf("migration edge must move forward: %q -> %q", from, to)
	}
	if forward == nil {
		return fmt.Errorf("migration %q -> %q has no forward function", from, to)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.edges[from] = append(r.edges[from], edge[T]{to: to, forward: forward})
	if inverse != nil {
		r.edges[to] = append(r.edges[to], edge[T]{to: from, forward: inverse})
	}
	if _, ok := r.edges[to]; !ok {
		r.edges[to] = nil
	}
	return nil
}

// Supports reports whether the version participates in the migration graph.
func (r *Registry[T]) Supports(ver string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.edges[ver]
	return ok
}

// Migrate moves a value from one version to another, applying each edge's
// transform in path order. It returns the applied path so callers can record a
// manifest of which migrations produced a given value. A missing path fails
// with UnsupportedVersion.
func (r *Registry[T]) Migrate(value T, from, to string) (T, []string, error) {
	if from == to {
		return value, []string{from}, nil
	}

	path, ok := r.path(from, to)
	if !ok {
		var zero T
		return zero, nil, domain.UnsupportedVersion(from, to)
	}

	out := value
	for i := 0; i < len(path)-1; i++ {
		step, ok := r.step(path[i], path[i+1])
		if !ok {
			var zero T
			return zero, nil, domain.UnsupportedVersion(path[i], path[i+1])
		}
		var err error
		out, err = step(out)
		if err != nil {
			var zero T
			return zero, nil, fmt.Errorf("migration %s -> %s: %w", path[i], path[i+1], err)
		}
	}
	return out, path, nil
}

// MigrateToCurrent is shorthand for migrating to the registry's latest version.
func (r *Registry[T]) MigrateToCurrent(value T, from string) (T, []string, error) {
	return r.Migrate(value, from, r.Current())
}

// path runs BFS over the version graph. The graph rarely has more than a
// handful of nodes, so plain BFS is enough.
func (r *Registry[T]) path(from, to string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.edges[from]; !ok {
		return nil, false
	}

	parents := map[string]string{from: ""}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == to {
			var path []string
			for v := to; v != ""; v = parents[v] {
				path = append([]string{v}, path...)
			}
			return path, true
		}
		for _, e := range r.edges[cur] {
			if _, seen := parents[e.to]; seen {
				continue
			}
			parents[e.to] = cur
			queue = append(queue, e.to)
		}
	}
	return nil, false
}

func (r *Registry[T]) step(from, to string) (Migration[T], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.edges[from] {
		if e.to == to {
			return e.forward, true
		}
	}
	return nil, false
}
