package factory

import (
	"context"
	"sync"

	"github.com/aurora-is-near/aurora-forwarder/internal/models"
)

// MemoryRegistry is an in-memory Registry used by tests and by the
// simulation backend.
type MemoryRegistry struct {
	mu      sync.RWMutex
	entries map[string]string // bindingKey -> accountID
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{entries: make(map[string]string)}
}

// Get implements Registry.
func (r *MemoryRegistry) Get(_ context.Context, bindingKey string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	accountID, ok := r.entries[bindingKey]
	return accountID, ok, nil
}

// Put implements Registry. Entries are append-only.
func (r *MemoryRegistry) Put(_ context.Context, entry models.RegistryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[entry.BindingKey]; exists {
		return ErrDuplicateDeployment
	}
	r.entries[entry.BindingKey] = entry.AccountID
	return nil
}

// Len returns the number of registered forwarders.
func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
