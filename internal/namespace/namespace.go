// Package namespace maps namespace strings to their display metadata,
// feature switches and the resolver that enumerates their users.
package namespace

import (
	"errors"
	"sync"
)

// FeatureDigests enables digest emails for a namespace.
const FeatureDigests = "digests"

// Info describes a registered namespace.
type Info struct {
	Namespace           string
	DisplayName         string
	Features            map[string]bool
	DefaultUserResolver UserResolver
}

// DigestsEnabled reports whether the digests feature is switched on.
func (i Info) DigestsEnabled() bool {
	return i.Features[FeatureDigests]
}

// Registry is populated at startup and read-only afterwards.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Info
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Info)}
}

// Register adds or replaces the entry for info.Namespace.
func (r *Registry) Register(info Info) error {
	if info.Namespace == "" {
		return errors.New("namespace is required")
	}
	if info.DisplayName == "" {
		info.DisplayName = info.Namespace
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[info.Namespace] = info
	return nil
}

// Lookup returns the entry for ns. Unknown namespaces return false.
func (r *Registry) Lookup(ns string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.entries[ns]
	return info, ok
}

// Len returns the number of registered namespaces.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
