// Package history stores the backend's authoritative log history: the
// snapshot source the console loads on enable, and the state purged by a
// remote clear.
package history

import (
	"context"
	"sync"

	"github.com/coldharbour/proxy-console/pkg/logbuffer"
)

// Store is the authoritative history behind the snapshot and clear commands.
type Store interface {
	// Append records one log line.
	Append(ctx context.Context, record logbuffer.Record) error
	// Snapshot returns up to limit most recent records in insertion order.
	Snapshot(ctx context.Context, limit int) ([]logbuffer.Record, error)
	// Clear purges the history.
	Clear(ctx context.Context) error
}

// MemoryStore is the default in-process history, bounded like the console
// buffer so a snapshot never exceeds what the console can hold.
type MemoryStore struct {
	mu       sync.Mutex
	records  []logbuffer.Record
	capacity int
}

// NewMemoryStore creates a MemoryStore. A capacity of zero or less uses the
// console's default capacity.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = logbuffer.DefaultCapacity
	}
	return &MemoryStore{capacity: capacity}
}

// Append records one log line, evicting the oldest past capacity.
func (s *MemoryStore) Append(_ context.Context, record logbuffer.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, record)
	if over := len(s.records) - s.capacity; over > 0 {
		s.records = append(s.records[:0], s.records[over:]...)
	}
	return nil
}

// Snapshot returns up to limit most recent records in insertion order. A
// limit of zero or less returns everything held.
func (s *MemoryStore) Snapshot(_ context.Context, limit int) ([]logbuffer.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.records
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return append([]logbuffer.Record(nil), records...), nil
}

// Clear purges the history.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	return nil
}
