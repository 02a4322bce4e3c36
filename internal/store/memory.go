package store

import (
	"context"
	"encoding/json"
	"maps"
	"sync"

	"github.com/punchamoorthee/a2urelay/internal/domain"
)

// MemoryStore keeps records in process memory (STORE_DRIVER=memory). It offers the same
// insert-if-absent and compare-and-set guarantees as the Postgres store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*domain.PaymentRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*domain.PaymentRecord)}
}

func (m *MemoryStore) FindByIdentifier(ctx context.Context, identifier string) (*domain.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[identifier]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(rec), nil
}

func (m *MemoryStore) InsertIfAbsent(ctx context.Context, rec *domain.PaymentRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.Identifier]; ok {
		return false, nil
	}
	m.records[rec.Identifier] = clone(rec)
	return true, nil
}

func (m *MemoryStore) Update(ctx context.Context, identifier string, expected domain.Status, u domain.RecordUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[identifier]
	if !ok {
		return domain.ErrNotFound
	}
	if rec.Status != expected {
		return domain.ErrStaleRecord
	}
	next := clone(rec)
	if next.TransactionHash != "" {
		u.TransactionHash = ""
	}
	if err := next.Apply(u); err != nil {
		return err
	}
	m.records[identifier] = next
	return nil
}

func clone(rec *domain.PaymentRecord) *domain.PaymentRecord {
	cp := *rec
	cp.Metadata = maps.Clone(rec.Metadata)
	if rec.RawResponse != nil {
		cp.RawResponse = append(json.RawMessage(nil), rec.RawResponse...)
	}
	return &cp
}
