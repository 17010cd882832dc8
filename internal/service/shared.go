package service

import (
	"sort"
	"sync"

	"github.com/bytedance/gg/gmap"
)

// Registry holds handles that one service produces and another consumes,
// such as the chat client started by the telegram service and used by
// scheduled deliveries. Values are looked up through typed keys.
type Registry struct {
	mu     sync.RWMutex
	values map[string]any
}

func NewRegistry() *Registry {
	return &Registry{values: make(map[string]any)}
}

// Key names a shared value of type T.
type Key[T any] struct {
	name string
}

func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

func (k Key[T]) Name() string { return k.name }

// Set stores v under k, replacing any previous value.
func Set[T any](r *Registry, k Key[T], v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[k.name] = v
}

// Lookup returns the value stored under k. It reports false when nothing is
// stored or the stored value is not a T.
func Lookup[T any](r *Registry, k Key[T]) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[k.name].(T)
	return v, ok
}

// Delete removes the value stored under k.
func Delete[T any](r *Registry, k Key[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.values, k.name)
}

// Names lists the keys that currently hold a value, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := gmap.ToSlice(r.values, func(k string, _ any) string { return k })
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}
