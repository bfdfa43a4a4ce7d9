package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type fakeHandler struct {
	lastCommand string
	lastArgs    map[string]any
	result      any
	err         error
}

func (h *fakeHandler) Call(_ context.Context, command string, args map[string]any) (any, error) {
	h.lastCommand = command
	h.lastArgs = args
	return h.result, h.err
}

func TestNative_ForwardsVerbatim(t *testing.T) {
	handler := &fakeHandler{result: map[string]any{"running": true}}
	tr := NewNativeTransport(handler)

	args := map[string]any{"accountId": "42"}
	result, err := tr.Invoke(context.Background(), "delete_account", args)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	if handler.lastCommand != "delete_account" {
		t.Errorf("command = %q", handler.lastCommand)
	}
	if handler.lastArgs["accountId"] != "42" {
		t.Errorf("args not forwarded verbatim: %v", handler.lastArgs)
	}
	if m := result.(map[string]any); m["running"] != true {
		t.Errorf("result altered: %v", result)
	}
}

func TestNative_WrapsFailureAsTransportError(t *testing.T) {
	cause := fmt.Errorf("account not found")
	tr := NewNativeTransport(&fakeHandler{err: cause})

	_, err := tr.Invoke(context.Background(), "delete_account", nil)
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("err = %v, want TransportError", err)
	}
	if transportErr.Mode != ModeNative {
		t.Errorf("Mode = %s, want native", transportErr.Mode)
	}
	if !errors.Is(err, cause) {
		t.Error("wrapped error lost the cause")
	}
}

func TestClient_ExecutePropagatesErrors(t *testing.T) {
	tr := NewNativeTransport(&fakeHandler{err: fmt.Errorf("boom")})
	client := NewClient(ModeNative, tr)

	if client.Mode() != ModeNative {
		t.Errorf("Mode = %s", client.Mode())
	}
	if _, err := client.Execute(context.Background(), "get_proxy_status", nil); err == nil {
		t.Fatal("expected error to propagate")
	}
}
