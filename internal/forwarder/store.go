package forwarder

import (
	"context"
	"errors"
	"sync"

	"github.com/aurora-is-near/aurora-forwarder/internal/models"
)

// ErrAlreadyDeployed is returned when creating a record for an account that
// already holds one.
var ErrAlreadyDeployed = errors.New("forwarder already deployed")

// Store persists forwarder records. Each forwarder owns exactly one record;
// no state is shared between instances.
type Store interface {
	Get(ctx context.Context, accountID string) (models.ForwarderRecord, bool, error)
	// GetByTransfer finds the forwarder whose in-flight bridge transfer has
	// the given id.
	GetByTransfer(ctx context.Context, transferID string) (models.ForwarderRecord, bool, error)
	// Create inserts a fresh record, failing with ErrAlreadyDeployed on conflict.
	Create(ctx context.Context, rec models.ForwarderRecord) error
	// Save overwrites an existing record.
	Save(ctx context.Context, rec models.ForwarderRecord) error
	ListByState(ctx context.Context, state models.ForwarderState) ([]models.ForwarderRecord, error)
}

// MemoryStore is an in-memory Store used by tests and the simulation backend.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]models.ForwarderRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]models.ForwarderRecord)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, accountID string) (models.ForwarderRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[accountID]
	return rec, ok, nil
}

// GetByTransfer implements Store.
func (s *MemoryStore) GetByTransfer(_ context.Context, transferID string) (models.ForwarderRecord, bool, error) {
	if transferID == "" {
		return models.ForwarderRecord{}, false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records {
		if rec.PendingTransferID == transferID {
			return rec, true, nil
		}
	}
	return models.ForwarderRecord{}, false, nil
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, rec models.ForwarderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.AccountID]; exists {
		return ErrAlreadyDeployed
	}
	s.records[rec.AccountID] = rec
	return nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, rec models.ForwarderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.AccountID] = rec
	return nil
}

// ListByState implements Store.
func (s *MemoryStore) ListByState(_ context.Context, state models.ForwarderState) ([]models.ForwarderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ForwarderRecord
	for _, rec := range s.records {
		if rec.State == state {
			out = append(out, rec)
		}
	}
	return out, nil
}
