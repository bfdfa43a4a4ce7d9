package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coldharbour/proxy-console/pkg/command"
)

const remoteLogPrefix = "dispatch:remote"

// DefaultRequestTimeout bounds outbound management API calls. The observed
// behavior had no deadline at all; a fixed timeout is the decided policy.
const DefaultRequestTimeout = 30 * time.Second

// CredentialSource exposes read-only access to the locally persisted API key.
// Consulted only by the remote path; an absent credential is not an error.
type CredentialSource interface {
	Token() (string, bool)
}

// RemoteOptions configures a RemoteTransport. Zero values use defaults.
type RemoteOptions struct {
	// Timeout bounds each request. Zero uses DefaultRequestTimeout.
	Timeout time.Duration
	// StripPathArgs removes argument keys consumed by path-placeholder
	// substitution from the query string and body. The observed behavior
	// keeps them (producing e.g. DELETE /api/accounts/42?accountId=42),
	// so the default is false pending product clarification.
	StripPathArgs bool
	// Credential supplies the bearer token. Nil means unauthenticated.
	Credential CredentialSource
	// Gate debounces the unauthorized notification on 401 responses.
	Gate *UnauthorizedGate
	// HTTPClient overrides the underlying client (tests). Nil builds one
	// with the configured timeout.
	HTTPClient *http.Client
}

// RemoteTransport invokes commands against the management API over HTTP,
// resolving each command through the registry.
type RemoteTransport struct {
	baseURL       string
	registry      *command.Registry
	httpClient    *http.Client
	credential    CredentialSource
	gate          *UnauthorizedGate
	stripPathArgs bool
}

// NewRemoteTransport creates a RemoteTransport for the given base URL and
// registry.
func NewRemoteTransport(baseURL string, registry *command.Registry, opts RemoteOptions) *RemoteTransport {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultRequestTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &RemoteTransport{
		baseURL:       strings.TrimRight(baseURL, "/"),
		registry:      registry,
		httpClient:    httpClient,
		credential:    opts.Credential,
		gate:          opts.Gate,
		stripPathArgs: opts.StripPathArgs,
	}
}

// Invoke resolves the command, marshals args per the descriptor's verb,
// issues the request, and normalizes the response.
func (t *RemoteTransport) Invoke(ctx context.Context, cmd string, args map[string]any) (any, error) {
	desc, ok := t.registry.Resolve(cmd)
	if !ok {
		return nil, &UnmappedCommandError{Command: cmd}
	}

	path, remaining, err := substitutePath(desc.Path, args, t.stripPathArgs)
	if err != nil {
		return nil, fmt.Errorf("%s - command %s: %w", remoteLogPrefix, cmd, err)
	}

	fullURL := t.baseURL + path
	var body io.Reader

	switch desc.Verb {
	case http.MethodGet, http.MethodDelete:
		if qs := buildQuery(remaining); qs != "" {
			fullURL += "?" + qs
		}
	case http.MethodPost:
		if len(remaining) > 0 {
			data, err := json.Marshal(remaining)
			if err != nil {
				return nil, fmt.Errorf("%s - command %s: encode body: %w", remoteLogPrefix, cmd, err)
			}
			body = bytes.NewReader(data)
		}
	default:
		return nil, fmt.Errorf("%s - command %s: unsupported verb %s", remoteLogPrefix, cmd, desc.Verb)
	}

	req, err := http.NewRequestWithContext(ctx, desc.Verb, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("%s - command %s: build request: %w", remoteLogPrefix, cmd, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.credential != nil {
		if token, ok := t.credential.Token(); ok {
			// Both headers carry the key: the far side may check either.
			req.Header.Set("Authorization", "Bearer "+token)
			req.Header.Set("X-Api-Key", token)
		}
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Mode: ModeRemote, Command: cmd, Err: err}
	}
	defer resp.Body.Close()

	return t.normalize(cmd, resp)
}

// normalize maps the HTTP response to the gateway's result/error contract.
func (t *RemoteTransport) normalize(cmd string, resp *http.Response) (any, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Mode: ModeRemote, Command: cmd, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusUnauthorized {
			t.gate.Trip()
		}
		message := extractErrorMessage(data)
		if message == "" {
			message = fmt.Sprintf("HTTP Error %d", resp.StatusCode)
		}
		return nil, &HTTPError{Status: resp.StatusCode, Message: message}
	}

	if resp.StatusCode == http.StatusNoContent || len(data) == 0 {
		return nil, nil
	}

	var result any
	if err := json.Unmarshal(data, &result); err != nil {
		// Malformed structured body degrades to raw text, never an error.
		slog.Debug(fmt.Sprintf("%s - command %s: non-JSON body, returning raw text", remoteLogPrefix, cmd))
		return string(data), nil
	}
	return result, nil
}

// substitutePath replaces every ":key" segment present in args with the
// URL-encoded string form of args[key]. Unresolved placeholders never reach
// the transport. When strip is true, consumed keys are removed from the
// returned argument mapping; otherwise the mapping is returned unchanged.
func substitutePath(template string, args map[string]any, strip bool) (string, map[string]any, error) {
	if !strings.Contains(template, ":") {
		return template, args, nil
	}

	remaining := args
	if strip {
		remaining = make(map[string]any, len(args))
		for k, v := range args {
			remaining[k] = v
		}
	}

	segments := strings.Split(template, "/")
	for i, seg := range segments {
		if !strings.HasPrefix(seg, ":") {
			continue
		}
		key := seg[1:]
		value, ok := args[key]
		if !ok {
			return "", nil, fmt.Errorf("path placeholder %q has no argument", key)
		}
		segments[i] = url.PathEscape(stringify(value))
		if strip {
			delete(remaining, key)
		}
	}
	return strings.Join(segments, "/"), remaining, nil
}

// buildQuery encodes every argument whose value is not nil. Values containing
// reserved characters are URL-encoded by url.Values.
func buildQuery(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	values := url.Values{}
	for k, v := range args {
		if v == nil {
			continue
		}
		values.Set(k, stringify(v))
	}
	return values.Encode()
}

// stringify renders an argument value the way it appears on the wire.
func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

// extractErrorMessage pulls the "error" field from a structured error body.
func extractErrorMessage(data []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return ""
	}
	return payload.Error
}
