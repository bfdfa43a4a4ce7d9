package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/coldharbour/proxy-console/pkg/logbuffer"
	"github.com/coldharbour/proxy-console/pkg/natsutil"
)

// startTestServer starts an in-process NATS server for testing.
func startTestServer(t *testing.T, port int) (*nats.Conn, func()) {
	t.Helper()

	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("events:nats_publisher_integration_test - failed to create server: %v", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("events:nats_publisher_integration_test - server failed to start")
	}

	nc, err := nats.Connect(ns.ClientURL(), nats.Timeout(5*time.Second))
	if err != nil {
		ns.Shutdown()
		t.Fatalf("events:nats_publisher_integration_test - failed to connect: %v", err)
	}

	cleanup := func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	}

	return nc, cleanup
}

func TestNATSPublisher_PublishRecord(t *testing.T) {
	nc, cleanup := startTestServer(t, 14411)
	defer cleanup()

	publisher := NewNATSPublisher(nc, nil)

	received := make(chan *logbuffer.Record, 1)
	sub, err := nc.Subscribe(natsutil.SubjectLogRecords, func(msg *nats.Msg) {
		var record logbuffer.Record
		if err := json.Unmarshal(msg.Data, &record); err != nil {
			t.Errorf("events:nats_publisher_integration_test - failed to unmarshal: %v", err)
			return
		}
		received <- &record
	})
	if err != nil {
		t.Fatalf("events:nats_publisher_integration_test - failed to subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	record := &logbuffer.Record{
		ID:        9,
		Timestamp: 1700000000123,
		Level:     logbuffer.LevelError,
		Target:    "proxy::upstream",
		Message:   "upstream returned 429",
		Fields:    map[string]string{"account": "a-7"},
	}

	if err := publisher.PublishRecord(context.Background(), record); err != nil {
		t.Fatalf("events:nats_publisher_integration_test - PublishRecord failed: %v", err)
	}
	nc.Flush()

	select {
	case got := <-received:
		if got.ID != 9 {
			t.Errorf("events:nats_publisher_integration_test - ID = %d, want 9", got.ID)
		}
		if got.Level != logbuffer.LevelError {
			t.Errorf("events:nats_publisher_integration_test - Level = %q, want ERROR", got.Level)
		}
		if got.Fields["account"] != "a-7" {
			t.Errorf("events:nats_publisher_integration_test - Fields = %v", got.Fields)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("events:nats_publisher_integration_test - timeout waiting for record")
	}
}

func TestNATSPublisher_InstanceSubject(t *testing.T) {
	nc, cleanup := startTestServer(t, 14412)
	defer cleanup()

	subject := natsutil.BuildInstanceLogSubject("proxy-a")
	publisher := NewNATSPublisher(nc, &NATSPublisherOpts{Subject: subject})

	received := make(chan struct{}, 1)
	sub, err := nc.Subscribe(subject, func(_ *nats.Msg) {
		received <- struct{}{}
	})
	if err != nil {
		t.Fatalf("events:nats_publisher_integration_test - failed to subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := publisher.PublishRecord(context.Background(), &logbuffer.Record{ID: 1}); err != nil {
		t.Fatalf("events:nats_publisher_integration_test - PublishRecord failed: %v", err)
	}
	nc.Flush()

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("events:nats_publisher_integration_test - timeout waiting for instance-subject record")
	}
}
