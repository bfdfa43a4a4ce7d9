// Package logbridge captures application logs as console records. It is a
// slog.Handler middleware: records pass through to the wrapped handler and,
// while bridging is enabled, are also appended to the server-side ring buffer
// and published to the push channel.
package logbridge

import (
	"context"
	"log/slog"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/coldharbour/proxy-console/pkg/events"
	"github.com/coldharbour/proxy-console/pkg/logbuffer"
)

// LevelTrace is finer than slog.LevelDebug; records below debug map to the
// console's TRACE level.
const LevelTrace = slog.LevelDebug - 4

// Bridge is the shared capture state behind every handler clone.
type Bridge struct {
	enabled   atomic.Bool
	idCounter atomic.Int64
	buffer    *logbuffer.Buffer
	publisher events.RecordPublisher

	captureMu sync.Mutex
	capturing map[uint64]struct{}
}

// NewBridge creates a Bridge feeding the given buffer and publisher. A nil
// publisher captures to the buffer only.
func NewBridge(buffer *logbuffer.Buffer, publisher events.RecordPublisher) *Bridge {
	if publisher == nil {
		publisher = &events.NoOpPublisher{}
	}
	return &Bridge{buffer: buffer, publisher: publisher, capturing: make(map[uint64]struct{})}
}

// Enable turns on capture.
func (b *Bridge) Enable() {
	b.enabled.Store(true)
}

// Disable turns off capture. Records already buffered are kept.
func (b *Bridge) Disable() {
	b.enabled.Store(false)
}

// Enabled reports whether capture is on.
func (b *Bridge) Enabled() bool {
	return b.enabled.Load()
}

// Buffer returns the ring buffer the bridge appends to.
func (b *Bridge) Buffer() *logbuffer.Buffer {
	return b.buffer
}

// SeedNextID advances the record ID counter past last so records captured
// after a history restore do not collide with restored IDs.
func (b *Bridge) SeedNextID(last int64) {
	for {
		cur := b.idCounter.Load()
		if cur >= last || b.idCounter.CompareAndSwap(cur, last) {
			return
		}
	}
}

// beginCapture marks the calling goroutine as inside capture. It returns
// false when the goroutine is already capturing, which happens when a sink
// behind the publisher logs its own failure through the default logger. That
// record must pass straight through or capture would recurse.
func (b *Bridge) beginCapture() bool {
	gid := goroutineID()
	b.captureMu.Lock()
	defer b.captureMu.Unlock()
	if _, busy := b.capturing[gid]; busy {
		return false
	}
	b.capturing[gid] = struct{}{}
	return true
}

func (b *Bridge) endCapture() {
	gid := goroutineID()
	b.captureMu.Lock()
	delete(b.capturing, gid)
	b.captureMu.Unlock()
}

// goroutineID reads the current goroutine's id from its stack header, which
// always starts with "goroutine N ".
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	header := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	if i := strings.IndexByte(header, ' '); i > 0 {
		if id, err := strconv.ParseUint(header[:i], 10, 64); err == nil {
			return id
		}
	}
	return 0
}

// Handler returns a slog.Handler that forwards to next and captures through
// the bridge.
func (b *Bridge) Handler(next slog.Handler) slog.Handler {
	return &bridgeHandler{bridge: b, next: next}
}

type bridgeHandler struct {
	bridge *Bridge
	next   slog.Handler
	target string
	attrs  []slog.Attr
}

func (h *bridgeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	// While capturing, everything down to TRACE flows through so the
	// console sees levels the terminal handler may filter out.
	if h.bridge.Enabled() && level >= LevelTrace {
		return true
	}
	return h.next.Enabled(ctx, level)
}

func (h *bridgeHandler) Handle(ctx context.Context, rec slog.Record) error {
	var nextErr error
	if h.next.Enabled(ctx, rec.Level) {
		nextErr = h.next.Handle(ctx, rec)
	}

	// Skip all capture work while the console is disabled.
	if !h.bridge.Enabled() {
		return nextErr
	}

	// A record logged from inside capture (a publisher or store reporting
	// its own failure) is forwarded only, never re-captured.
	if !h.bridge.beginCapture() {
		return nextErr
	}
	defer h.bridge.endCapture()

	fields := make(map[string]string)
	target := h.target
	for _, attr := range h.attrs {
		fields[attr.Key] = attr.Value.String()
	}
	rec.Attrs(func(attr slog.Attr) bool {
		if attr.Key == "target" {
			target = attr.Value.String()
			return true
		}
		fields[attr.Key] = attr.Value.String()
		return true
	})
	if len(fields) == 0 {
		fields = nil
	}

	if rec.Message == "" && len(fields) == 0 {
		return nextErr
	}

	record := logbuffer.Record{
		ID:        h.bridge.idCounter.Add(1),
		Timestamp: rec.Time.UnixMilli(),
		Level:     levelString(rec.Level),
		Target:    target,
		Message:   rec.Message,
		Fields:    fields,
	}

	h.bridge.buffer.Append(record)
	// Push-channel delivery is at-most-once; a failed publish is not an
	// application log failure.
	_ = h.bridge.publisher.PublishRecord(ctx, &record)

	return nextErr
}

func (h *bridgeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.next = h.next.WithAttrs(attrs)
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

func (h *bridgeHandler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.next = h.next.WithGroup(name)
	if name != "" {
		if clone.target == "" {
			clone.target = name
		} else {
			clone.target = clone.target + "::" + name
		}
	}
	return &clone
}

func levelString(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return logbuffer.LevelError
	case level >= slog.LevelWarn:
		return logbuffer.LevelWarn
	case level >= slog.LevelInfo:
		return logbuffer.LevelInfo
	case level >= slog.LevelDebug:
		return logbuffer.LevelDebug
	default:
		return logbuffer.LevelTrace
	}
}

// ParseLevel maps a console level name to its slog level. Unknown names
// default to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToUpper(name) {
	case logbuffer.LevelError:
		return slog.LevelError
	case logbuffer.LevelWarn:
		return slog.LevelWarn
	case logbuffer.LevelDebug:
		return slog.LevelDebug
	case logbuffer.LevelTrace:
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}
