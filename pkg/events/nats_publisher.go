package events

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/coldharbour/proxy-console/pkg/logbuffer"
	"github.com/coldharbour/proxy-console/pkg/natsutil"
)

const natsPublisherLogPrefix = "events:nats_publisher"

// NATSPublisherOpts configures NATSPublisher. Nil or zero values use defaults.
type NATSPublisherOpts struct {
	// Subject overrides the record subject (e.g. for a named instance).
	Subject string
}

// NATSPublisher publishes log records to the NATS record subject, one message
// per record, in call order. Delivery is at-most-once.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

// NewNATSPublisher creates a new NATSPublisher. Pass nil for opts to use
// defaults.
func NewNATSPublisher(nc *nats.Conn, opts *NATSPublisherOpts) *NATSPublisher {
	subject := natsutil.SubjectLogRecords
	if opts != nil && opts.Subject != "" {
		subject = opts.Subject
	}
	return &NATSPublisher{nc: nc, subject: subject}
}

// PublishRecord publishes a single record to the record subject.
func (p *NATSPublisher) PublishRecord(_ context.Context, record *logbuffer.Record) error {
	data, err := natsutil.EncodePayload(record)
	if err != nil {
		return fmt.Errorf("%s - failed to encode record: %w", natsPublisherLogPrefix, err)
	}

	// Do not log here. The publisher runs inside the capture pipeline of the
	// default logger, so a log call on failure would feed back into capture.
	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("%s - failed to publish to %s: %w", natsPublisherLogPrefix, p.subject, err)
	}
	return nil
}
