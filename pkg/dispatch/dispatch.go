// Package dispatch is the client-side gateway for named proxy management
// commands. Callers invoke commands by name without knowing whether the
// runtime is a native embedding (in-process call) or a browser talking to
// the management API over HTTP; the transport is chosen once at composition
// time and never flips mid-session.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

const logPrefix = "dispatch:client"

// Mode identifies the active transport.
type Mode string

const (
	// ModeNative invokes the embedding's in-process call interface.
	ModeNative Mode = "native"
	// ModeRemote invokes the management API over HTTP.
	ModeRemote Mode = "remote"
)

// Transport performs a named command on one of the two call paths. Exactly
// one implementation is active for the process lifetime.
type Transport interface {
	Invoke(ctx context.Context, command string, args map[string]any) (any, error)
}

// Client is the command gateway handed to the rest of the application.
type Client struct {
	transport Transport
	mode      Mode
}

// NewClient creates a Client over the given transport.
func NewClient(mode Mode, transport Transport) *Client {
	return &Client{transport: transport, mode: mode}
}

// Mode reports which transport was selected at composition time.
func (c *Client) Mode() Mode {
	return c.mode
}

// Execute runs a named command with the given argument mapping. All failures
// are logged locally for diagnostics before propagation; no retries happen at
// this layer.
func (c *Client) Execute(ctx context.Context, command string, args map[string]any) (any, error) {
	reqID := uuid.NewString()
	slog.Debug(fmt.Sprintf("%s - [%s] dispatching %s via %s", logPrefix, reqID, command, c.mode))

	result, err := c.transport.Invoke(ctx, command, args)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - [%s] command %s failed: %v", logPrefix, reqID, command, err))
		return nil, err
	}
	return result, nil
}
