// Package releasable provides opt-in leak tracking for scoped resources
// (snapshot references). Tracking for a given kind is a no-op
// until a test calls EnableTracking, so it costs nothing in production.
package releasable

import (
	"fmt"
	"sync"
)

// ItemKind identifies a class of tracked resource, e.g. "snapshotref.SnapshotReference".
type ItemKind string

var (
	mu      sync.Mutex
	tracked = map[ItemKind]map[any]struct{}{}
)

// EnableTracking starts tracking creations/releases of the given kind.
func EnableTracking(kind string) {
	mu.Lock()
	defer mu.Unlock()

	k := ItemKind(kind)
	if _, ok := tracked[k]; !ok {
		tracked[k] = map[any]struct{}{}
	}
}

// DisableTracking stops tracking the given kind and forgets its history.
func DisableTracking(kind string) {
	mu.Lock()
	defer mu.Unlock()

	delete(tracked, ItemKind(kind))
}

// Created records that a resource of the given kind and id was created.
// No-op unless tracking is enabled for kind.
func Created(kind string, id any) {
	mu.Lock()
	defer mu.Unlock()

	m, ok := tracked[ItemKind(kind)]
	if !ok {
		return
	}

	m[id] = struct{}{}
}

// Released records that a resource was released. Idempotent.
func Released(kind string, id any) {
	mu.Lock()
	defer mu.Unlock()

	m, ok := tracked[ItemKind(kind)]
	if !ok {
		return
	}

	delete(m, id)
}

// Active returns a snapshot of all currently-tracked, unreleased resources.
func Active() map[ItemKind]map[any]struct{} {
	mu.Lock()
	defer mu.Unlock()

	out := make(map[ItemKind]map[any]struct{}, len(tracked))

	for k, m := range tracked {
		cp := make(map[any]struct{}, len(m))
		for id := range m {
			cp[id] = struct{}{}
		}

		out[k] = cp
	}

	return out
}

// Verify returns an error naming the first kind with unreleased resources.
func Verify() error {
	mu.Lock()
	defer mu.Unlock()

	for k, m := range tracked {
		if len(m) > 0 {
			return fmt.Errorf("found %d %q resources that have not been released", len(m), string(k))
		}
	}

	return nil
}
