package logstream

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/coldharbour/proxy-console/pkg/logbuffer"
	"github.com/coldharbour/proxy-console/pkg/natsutil"
)

const natsLogPrefix = "logstream:nats"

// NATSSubscriber subscribes to the NATS record subject. Messages on a single
// subscription are delivered serially, preserving publish order.
type NATSSubscriber struct {
	nc      *nats.Conn
	subject string
}

// NewNATSSubscriber creates a subscriber on the given subject. An empty
// subject uses the default record subject.
func NewNATSSubscriber(nc *nats.Conn, subject string) *NATSSubscriber {
	if subject == "" {
		subject = natsutil.SubjectLogRecords
	}
	return &NATSSubscriber{nc: nc, subject: subject}
}

// Subscribe opens the NATS subscription. Undecodable messages are dropped
// with a diagnostic log.
func (s *NATSSubscriber) Subscribe(_ context.Context, deliver func(logbuffer.Record)) (Handle, error) {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		var record logbuffer.Record
		if err := natsutil.DecodePayload(msg.Data, &record); err != nil {
			slog.Warn(fmt.Sprintf("%s - dropping undecodable record on %s: %v", natsLogPrefix, s.subject, err))
			return
		}
		deliver(record)
	})
	if err != nil {
		return nil, fmt.Errorf("%s - subscribe to %s: %w", natsLogPrefix, s.subject, err)
	}
	return &natsHandle{sub: sub}, nil
}

type natsHandle struct {
	sub *nats.Subscription
}

func (h *natsHandle) Unsubscribe() error {
	return h.sub.Unsubscribe()
}
