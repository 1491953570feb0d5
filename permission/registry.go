package permission

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrInvalidName is returned for names not of the form resource:action.
	ErrInvalidName = errors.New("invalid permission name")
	// ErrUnknownPermission is returned when a frozen registry does not
	// contain a name.
	ErrUnknownPermission = errors.New("unknown permission")
)

// ValidateName checks that name is a canonical "resource:action" string.
func ValidateName(name string) error {
	resource, action, ok := strings.Cut(name, ":")
	if !ok || resource == "" || action == "" || strings.Contains(action, ":") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-', r == '.', r == ':':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	return nil
}

// Registry is the catalog of permission names an application declares.
// It is optional; when present and frozen, role permission sets and route
// requirements are checked against it.
type Registry struct {
	mu     sync.RWMutex
	names  map[string]struct{}
	frozen bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]struct{})}
}

// Register adds name. Must be called before Freeze.
func (r *Registry) Register(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return errors.New("registry frozen")
	}
	if _, exists := r.names[name]; exists {
		return errors.New("permission already registered")
	}
	r.names[name] = struct{}{}
	return nil
}

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.names[name]
	return ok
}

// Check validates every name and, for a non-nil registry, requires each to
// be registered.
func (r *Registry) Check(names ...string) error {
	for _, name := range names {
		if err := ValidateName(name); err != nil {
			return err
		}
		if r != nil && !r.Has(name) {
			return fmt.Errorf("%w: %q", ErrUnknownPermission, name)
		}
	}
	return nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.names))
	for name := range r.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of registered permissions.
func (r *Registry) Count() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}
