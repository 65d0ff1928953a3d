package rpctransport

import (
	"fmt"
	"reflect"
	"sync"
)

// ClassResolver lets a connection register concrete Go types at runtime so
// that incoming messages declaring those types by name can be constructed
// and decoded, without requiring every participant to statically import
// every possible payload type (gob.Register is global and write-once; this
// wraps it with a per-connection name table instead so that two otherwise
// unrelated services sharing a process don't collide on class names).
type ClassResolver struct {
	mu      sync.RWMutex
	classes map[string]reflect.Type
}

// NewClassResolver creates an empty resolver.
func NewClassResolver() *ClassResolver {
	return &ClassResolver{classes: make(map[string]reflect.Type)}
}

// Register associates name with the concrete type of sample. sample must be
// a non-nil pointer; name is typically the Go package-qualified type name,
// but callers are free to choose a stable alias instead.
func (r *ClassResolver) Register(name string, sample interface{}) error {
	t := reflect.TypeOf(sample)
	if t == nil {
		return fmt.Errorf("sample for class %q is nil", name)
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.classes[name]; ok {
		return fmt.Errorf("class %q already registered", name)
	}
	r.classes[name] = t
	return nil
}

// New allocates a new zero value of the type registered under name and
// returns a pointer to it, suitable for passing to Stream.Receive.
func (r *ClassResolver) New(name string) (interface{}, error) {
	r.mu.RLock()
	t, ok := r.classes[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no class registered for name %q", name)
	}
	return reflect.New(t).Interface(), nil
}

// NameOf returns the registered name for the concrete type of value, if any
// class was registered for it.
func (r *ClassResolver) NameOf(value interface{}) (string, bool) {
	t := reflect.TypeOf(value)
	if t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, registered := range r.classes {
		if registered == t {
			return name, true
		}
	}
	return "", false
}
