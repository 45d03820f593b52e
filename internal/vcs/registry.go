package vcs

import (
	"fmt"
	"sort"
	"sync"
)

// Constructor creates a Repo for a working tree root.
// Implementations register themselves with the registry using Register().
type Constructor func(root string, opts Options) (Repo, error)

// registry maps backends to their constructors
var (
	registry      = make(map[Backend]Constructor)
	registryMutex sync.RWMutex
)

// Register registers a backend constructor.
// This is called from init() functions in implementation packages.
//
// Example:
//
//	func init() {
//	    vcs.Register(vcs.BackendCLI, Open)
//	}
func Register(b Backend, constructor Constructor) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if constructor == nil {
		panic(fmt.Sprintf("vcs: Register constructor is nil for backend %s", b))
	}

	if _, exists := registry[b]; exists {
		panic(fmt.Sprintf("vcs: Register called twice for backend %s", b))
	}

	registry[b] = constructor
}

// Open creates a Repo for root using the named backend.
func Open(b Backend, root string, opts Options) (Repo, error) {
	registryMutex.RLock()
	constructor := registry[b]
	registryMutex.RUnlock()

	if constructor == nil {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownBackend, b, RegisteredBackends())
	}
	return constructor(root, opts)
}

// IsRegistered returns true if a constructor is registered for the backend.
func IsRegistered(b Backend) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, exists := registry[b]
	return exists
}

// RegisteredBackends returns all registered backends, sorted.
func RegisteredBackends() []Backend {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	backends := make([]Backend, 0, len(registry))
	for b := range registry {
		backends = append(backends, b)
	}
	sort.Slice(backends, func(i, j int) bool { return backends[i] < backends[j] })
	return backends
}
