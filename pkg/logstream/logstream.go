// Package logstream manages the console's single live subscription to the
// log push channel, feeding received records into the bounded buffer.
package logstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coldharbour/proxy-console/pkg/command"
	"github.com/coldharbour/proxy-console/pkg/dispatch"
	"github.com/coldharbour/proxy-console/pkg/logbuffer"
)

const logPrefix = "logstream:manager"

// Commands the manager dispatches through the gateway.
const (
	cmdEnable   = command.EnableLogStream
	cmdDisable  = command.DisableLogStream
	cmdStatus   = command.LogStreamStatus
	cmdSnapshot = command.GetLogSnapshot
	cmdClear    = command.ClearLogs
)

// Handle represents one live push-channel registration.
type Handle interface {
	Unsubscribe() error
}

// Subscriber opens a live subscription to the push channel. Records are
// delivered one at a time, in arrival order, for the lifetime of the handle.
type Subscriber interface {
	Subscribe(ctx context.Context, deliver func(logbuffer.Record)) (Handle, error)
}

// Manager owns at most one live subscription handle. Enable and Disable are
// idempotent; the presence check doubles as the exclusivity guard under the
// mutex.
type Manager struct {
	client     *dispatch.Client
	subscriber Subscriber
	buffer     *logbuffer.Buffer

	mu     sync.Mutex
	handle Handle
}

// NewManager creates a Manager over the given gateway client, subscriber,
// and buffer.
func NewManager(client *dispatch.Client, subscriber Subscriber, buffer *logbuffer.Buffer) *Manager {
	return &Manager{client: client, subscriber: subscriber, buffer: buffer}
}

// Buffer returns the bounded buffer the manager feeds.
func (m *Manager) Buffer() *logbuffer.Buffer {
	return m.buffer
}

// Listening reports whether a live subscription handle exists.
func (m *Manager) Listening() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle != nil
}

// Enable turns on streaming. A no-op when already listening. On any failure
// no handle is created and the previous state is kept; the failure is logged
// for diagnostics and returned.
func (m *Manager) Enable(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handle != nil {
		return nil
	}

	if _, err := m.client.Execute(ctx, cmdEnable, nil); err != nil {
		return fmt.Errorf("%s - enable command: %w", logPrefix, err)
	}
	return m.syncLocked(ctx)
}

// Disable turns off streaming: the remote disable command is issued first,
// then the local handle (if any) is released. Releasing an absent handle
// is a no-op.
func (m *Manager) Disable(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, cmdErr := m.client.Execute(ctx, cmdDisable, nil)

	if m.handle != nil {
		if err := m.handle.Unsubscribe(); err != nil {
			slog.Warn(fmt.Sprintf("%s - unsubscribe: %v", logPrefix, err))
		}
		m.handle = nil
	}

	if cmdErr != nil {
		return fmt.Errorf("%s - disable command: %w", logPrefix, cmdErr)
	}
	return nil
}

// CheckStatus queries the authoritative remote flag. When the backend says
// enabled but no local handle exists (e.g. after a reload), it re-syncs by
// loading the snapshot and opening a subscription.
func (m *Manager) CheckStatus(ctx context.Context) (bool, error) {
	result, err := m.client.Execute(ctx, cmdStatus, nil)
	if err != nil {
		return false, fmt.Errorf("%s - status command: %w", logPrefix, err)
	}

	enabled := decodeEnabled(result)

	m.mu.Lock()
	defer m.mu.Unlock()
	if enabled && m.handle == nil {
		if err := m.syncLocked(ctx); err != nil {
			return enabled, err
		}
	}
	return enabled, nil
}

// Clear purges the backend's authoritative history first, then empties the
// local buffer. A local clear alone would resurrect old entries on the next
// snapshot load.
func (m *Manager) Clear(ctx context.Context) error {
	if _, err := m.client.Execute(ctx, cmdClear, nil); err != nil {
		return fmt.Errorf("%s - clear command: %w", logPrefix, err)
	}
	m.buffer.Clear()
	return nil
}

// syncLocked loads the current snapshot (replacing the buffer) and opens
// exactly one subscription. Caller holds m.mu and has verified no handle
// exists.
func (m *Manager) syncLocked(ctx context.Context) error {
	result, err := m.client.Execute(ctx, cmdSnapshot, nil)
	if err != nil {
		return fmt.Errorf("%s - snapshot command: %w", logPrefix, err)
	}

	records, err := decodeRecords(result)
	if err != nil {
		return fmt.Errorf("%s - decode snapshot: %w", logPrefix, err)
	}
	m.buffer.Replace(records)

	handle, err := m.subscriber.Subscribe(ctx, m.buffer.Append)
	if err != nil {
		return fmt.Errorf("%s - subscribe: %w", logPrefix, err)
	}
	m.handle = handle

	slog.Info(fmt.Sprintf("%s - live log stream attached (%d snapshot records)", logPrefix, len(records)))
	return nil
}

// decodeRecords converts a dispatch result into records. The native path
// returns typed records; the remote path returns generic decoded JSON.
func decodeRecords(v any) ([]logbuffer.Record, error) {
	switch records := v.(type) {
	case nil:
		return nil, nil
	case []logbuffer.Record:
		return records, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		var out []logbuffer.Record
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

// decodeEnabled extracts the enabled flag from a status result.
func decodeEnabled(v any) bool {
	switch status := v.(type) {
	case bool:
		return status
	case map[string]any:
		enabled, _ := status["enabled"].(bool)
		return enabled
	default:
		return false
	}
}
