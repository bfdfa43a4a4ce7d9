// Package logbuffer provides the bounded, insertion-ordered record buffer
// backing the live log console.
package logbuffer

import "sync"

// DefaultCapacity is the number of records the console retains.
const DefaultCapacity = 5000

// Log levels carried by records, most to least severe.
const (
	LevelError = "ERROR"
	LevelWarn  = "WARN"
	LevelInfo  = "INFO"
	LevelDebug = "DEBUG"
	LevelTrace = "TRACE"
)

// Record is a single log line as delivered over the push channel.
// Records are immutable once created.
type Record struct {
	ID        int64             `json:"id"`
	Timestamp int64             `json:"timestamp"`
	Level     string            `json:"level"`
	Target    string            `json:"target"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Buffer is a fixed-capacity record sequence with FIFO eviction. Appends
// past capacity drop the oldest entries; relative order of survivors is
// preserved. Safe for concurrent use.
type Buffer struct {
	mu       sync.RWMutex
	records  []Record
	capacity int
}

// New creates a Buffer with the given capacity. A capacity of zero or less
// uses DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{capacity: capacity}
}

// Append adds a record, evicting from the front when the buffer is full.
func (b *Buffer) Append(r Record) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.records = append(b.records, r)
	if over := len(b.records) - b.capacity; over > 0 {
		b.records = append(b.records[:0], b.records[over:]...)
	}
}

// Replace discards all held records and installs the given snapshot,
// trimming from the front if it exceeds capacity.
func (b *Buffer) Replace(records []Record) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if over := len(records) - b.capacity; over > 0 {
		records = records[over:]
	}
	b.records = append(b.records[:0:0], records...)
}

// Clear empties the buffer. Callers that also need the backend history
// purged go through the stream manager, which issues the remote clear first.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = nil
}

// Snapshot returns a copy of the current records, oldest first. The copy is
// safe to read without further locking.
func (b *Buffer) Snapshot() []Record {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Record(nil), b.records...)
}

// Len returns the number of held records.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records)
}

// Capacity returns the fixed capacity.
func (b *Buffer) Capacity() int {
	return b.capacity
}
