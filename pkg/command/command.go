// Package command defines the command-name to HTTP-descriptor mapping used
// by the remote transport. The table is populated once at startup and never
// mutated; the native transport does not consult it.
package command

import (
	"fmt"
	"net/http"
)

// Command names understood by both transports.
const (
	GetProxyStatus    = "get_proxy_status"
	ListAccounts      = "list_accounts"
	GetCurrentAccount = "get_current_account"
	AddAccount        = "add_account"
	SwitchAccount     = "switch_account"
	DeleteAccount     = "delete_account"
	GetConfig         = "get_config"
	SaveConfig        = "save_config"
	GetStatsSummary   = "get_stats_summary"
	GetCLISyncStatus  = "get_cli_sync_status"
	EnableLogStream   = "enable_log_stream"
	DisableLogStream  = "disable_log_stream"
	LogStreamStatus   = "log_stream_status"
	GetLogSnapshot    = "get_log_snapshot"
	ClearLogs         = "clear_logs"
)

// Descriptor maps a command name to its HTTP shape. Path segments of the
// form ":key" are substituted from the argument mapping at dispatch time.
type Descriptor struct {
	Name string
	Path string
	Verb string
}

// Registry is an immutable name -> Descriptor lookup.
type Registry struct {
	descriptors map[string]Descriptor
}

// NewRegistry builds a Registry from the given descriptors. Duplicate names
// are a programming error and rejected.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	m := make(map[string]Descriptor, len(descriptors))
	for _, d := range descriptors {
		if _, dup := m[d.Name]; dup {
			return nil, fmt.Errorf("command: duplicate descriptor %q", d.Name)
		}
		m[d.Name] = d
	}
	return &Registry{descriptors: m}, nil
}

// Resolve returns the descriptor for name. ok is false on a registry miss;
// the remote transport surfaces that as an unmapped-command failure.
func (r *Registry) Resolve(name string) (Descriptor, bool) {
	d, ok := r.descriptors[name]
	return d, ok
}

// Names returns all registered command names, in no particular order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.descriptors))
	for name := range r.descriptors {
		names = append(names, name)
	}
	return names
}

// Builtin returns the registry for the proxy management API. The table
// mirrors the backend admin router; native mode remains authoritative for
// anything not listed here.
func Builtin() *Registry {
	reg, err := NewRegistry([]Descriptor{
		{Name: GetProxyStatus, Path: "/api/proxy/status", Verb: http.MethodGet},

		{Name: ListAccounts, Path: "/api/accounts", Verb: http.MethodGet},
		{Name: GetCurrentAccount, Path: "/api/accounts/current", Verb: http.MethodGet},
		{Name: AddAccount, Path: "/api/accounts", Verb: http.MethodPost},
		{Name: SwitchAccount, Path: "/api/accounts/switch", Verb: http.MethodPost},
		{Name: DeleteAccount, Path: "/api/accounts/:accountId", Verb: http.MethodDelete},

		{Name: GetConfig, Path: "/api/config", Verb: http.MethodGet},
		{Name: SaveConfig, Path: "/api/config", Verb: http.MethodPost},

		{Name: GetStatsSummary, Path: "/api/stats/summary", Verb: http.MethodGet},

		{Name: GetCLISyncStatus, Path: "/api/cli/status", Verb: http.MethodPost},

		{Name: EnableLogStream, Path: "/api/logs/enable", Verb: http.MethodPost},
		{Name: DisableLogStream, Path: "/api/logs/disable", Verb: http.MethodPost},
		{Name: LogStreamStatus, Path: "/api/logs/status", Verb: http.MethodGet},
		{Name: GetLogSnapshot, Path: "/api/logs", Verb: http.MethodGet},
		{Name: ClearLogs, Path: "/api/logs", Verb: http.MethodDelete},
	})
	if err != nil {
		panic(err)
	}
	return reg
}
