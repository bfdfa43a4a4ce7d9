package dispatch

import "context"

// Handler is the embedding's in-process call interface. It is authoritative
// and always complete: the command registry is never consulted on this path.
type Handler interface {
	Call(ctx context.Context, command string, args map[string]any) (any, error)
}

// NativeTransport forwards command name and args verbatim to the embedding.
type NativeTransport struct {
	handler Handler
}

// NewNativeTransport creates a NativeTransport over the given handler.
func NewNativeTransport(handler Handler) *NativeTransport {
	return &NativeTransport{handler: handler}
}

// Invoke forwards the call and returns its result unchanged. Any failure from
// the handler is wrapped as a TransportError.
func (t *NativeTransport) Invoke(ctx context.Context, command string, args map[string]any) (any, error) {
	result, err := t.handler.Call(ctx, command, args)
	if err != nil {
		return nil, &TransportError{Mode: ModeNative, Command: command, Err: err}
	}
	return result, nil
}
