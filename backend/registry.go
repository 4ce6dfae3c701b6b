package backend

import (
	"fmt"
	"sort"
	"sync"
)

// Factory opens a new device.
type Factory func() (Device, error)

var (
	registryMu sync.RWMutex
	backends   = make(map[string]Factory)

	// defaultOrder is tried by OpenDefault before falling back to names in
	// sorted order.
	defaultOrder = []string{"sim"}
)

// Register makes a backend available under name, replacing any factory
// already registered there. Backend packages call it from init.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Unregister removes name from the registry.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns the registered backend names in sorted order.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered reports whether name has a factory.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// Open opens a device of the named backend.
func Open(name string) (Device, error) {
	registryMu.RLock()
	factory, ok := backends[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotAvailable, name)
	}
	d, err := factory()
	if err != nil {
		return nil, fmt.Errorf("backend: open %s: %w", name, err)
	}
	return d, nil
}

// OpenDefault opens the first registered backend of the default order, or
// the first name Available returns when none of them is registered.
func OpenDefault() (Device, error) {
	for _, name := range defaultOrder {
		if IsRegistered(name) {
			return Open(name)
		}
	}
	if names := Available(); len(names) > 0 {
		return Open(names[0])
	}
	return nil, ErrBackendNotAvailable
}
