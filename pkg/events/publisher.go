// Package events defines publisher interfaces for pushing log records onto
// the console's push channel.
package events

import (
	"context"

	"github.com/coldharbour/proxy-console/pkg/logbuffer"
)

// RecordPublisher is the interface for publishing captured log records.
type RecordPublisher interface {
	PublishRecord(ctx context.Context, record *logbuffer.Record) error
}

// NoOpPublisher is a RecordPublisher that does nothing (for in-process usage
// without a push channel).
type NoOpPublisher struct{}

// PublishRecord is a no-op.
func (p *NoOpPublisher) PublishRecord(_ context.Context, _ *logbuffer.Record) error {
	return nil
}

// CallbackPublisher is a RecordPublisher that calls a callback function (for
// testing).
type CallbackPublisher struct {
	callback func(ctx context.Context, record *logbuffer.Record) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, record *logbuffer.Record) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// PublishRecord calls the callback.
func (p *CallbackPublisher) PublishRecord(ctx context.Context, record *logbuffer.Record) error {
	return p.callback(ctx, record)
}
