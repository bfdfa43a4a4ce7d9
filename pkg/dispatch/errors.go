package dispatch

import "fmt"

// UnmappedCommandError reports a remote dispatch for a command the registry
// does not know. Fatal for that call; never retried.
type UnmappedCommandError struct {
	Command string
}

func (e *UnmappedCommandError) Error() string {
	return fmt.Sprintf("unmapped command: %s", e.Command)
}

// TransportError wraps a failure of the underlying transport mechanism: a
// native call that returned an error, or a remote request that never produced
// an HTTP response.
type TransportError struct {
	Mode    Mode
	Command string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport: command %s: %v", e.Mode, e.Command, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPError is a non-2xx remote response. Message carries the body's "error"
// field when present, else a synthesized status message.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return e.Message
}
