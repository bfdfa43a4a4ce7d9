// Package server hosts the proxy management service: account and config
// state, request statistics, log streaming control, the HTTP admin API,
// and the websocket/NATS push channels.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/coldharbour/proxy-console/pkg/command"
	"github.com/coldharbour/proxy-console/pkg/history"
	"github.com/coldharbour/proxy-console/pkg/logbridge"
	"github.com/coldharbour/proxy-console/pkg/logfiles"
)

const serviceLogPrefix = "server:service"

// ServiceError is a typed error returned by service operations.
type ServiceError struct {
	Code    string
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Account is a stored upstream account.
type Account struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Provider string `json:"provider,omitempty"`
	AddedAt  int64  `json:"addedAt"`
	Current  bool   `json:"current"`
}

// Settings is the persisted proxy configuration.
type Settings struct {
	Port             int    `json:"port"`
	LogLevel         string `json:"logLevel"`
	AutoStart        bool   `json:"autoStart"`
	PreferredAccount string `json:"preferredAccount,omitempty"`
}

// ProxyStatus reports whether the proxy core is serving.
type ProxyStatus struct {
	Running       bool   `json:"running"`
	Port          int    `json:"port"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
	Version       string `json:"version"`
}

// StatsSummary aggregates request counters.
type StatsSummary struct {
	TotalRequests int64   `json:"totalRequests"`
	SuccessCount  int64   `json:"successCount"`
	ErrorCount    int64   `json:"errorCount"`
	AvgLatencyMs  float64 `json:"avgLatencyMs"`
}

// CLISyncStatus reports whether an installed CLI is compatible with this server.
type CLISyncStatus struct {
	Installed  bool   `json:"installed"`
	Version    string `json:"version,omitempty"`
	Constraint string `json:"constraint"`
	Compatible bool   `json:"compatible"`
	Message    string `json:"message,omitempty"`
}

// StreamStatus reports whether log streaming is enabled.
type StreamStatus struct {
	Enabled bool `json:"enabled"`
}

// ServiceParams bundles Service dependencies.
type ServiceParams struct {
	Version       string
	CLIVersion    string
	CLIConstraint string
	ProxyPort     int
	LogDir        string
	Bridge        *logbridge.Bridge
	History       history.Store
	Metrics       *Metrics
}

// Service owns the console's mutable state and implements every admin
// command. Its Call method is the native dispatch handler.
type Service struct {
	mu       sync.Mutex
	accounts []Account
	current  string
	settings Settings

	statsMu      sync.Mutex
	totalReqs    int64
	successCount int64
	errorCount   int64
	latencySumMs float64

	bridge  *logbridge.Bridge
	history history.Store
	metrics *Metrics
	logDir  string

	version       string
	cliVersion    string
	cliConstraint string
	startedAt     time.Time
	proxyPort     int
}

// NewService creates a Service with empty account state.
func NewService(p ServiceParams) *Service {
	hist := p.History
	if hist == nil {
		hist = history.NewMemoryStore(0)
	}
	version := p.Version
	if version == "" {
		version = "dev"
	}
	return &Service{
		settings: Settings{
			Port:     p.ProxyPort,
			LogLevel: "info",
		},
		bridge:        p.Bridge,
		history:       hist,
		metrics:       p.Metrics,
		logDir:        p.LogDir,
		version:       version,
		cliVersion:    p.CLIVersion,
		cliConstraint: p.CLIConstraint,
		startedAt:     time.Now(),
		proxyPort:     p.ProxyPort,
	}
}

// RecordRequest feeds the stats summary. The proxy core calls this once
// per forwarded request.
func (s *Service) RecordRequest(ok bool, latency time.Duration) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.totalReqs++
	if ok {
		s.successCount++
	} else {
		s.errorCount++
	}
	s.latencySumMs += float64(latency.Milliseconds())
}

// Status returns the proxy status snapshot.
func (s *Service) Status() *ProxyStatus {
	return &ProxyStatus{
		Running:       true,
		Port:          s.proxyPort,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Version:       s.version,
	}
}

// ListAccounts returns all stored accounts sorted by the time they were added.
func (s *Service) ListAccounts() []Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Account, len(s.accounts))
	copy(out, s.accounts)
	sort.SliceStable(out, func(i, j int) bool { return out[i].AddedAt < out[j].AddedAt })
	return out
}

// CurrentAccount returns the active account, or NOT_FOUND when none is selected.
func (s *Service) CurrentAccount() (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.accounts {
		if s.accounts[i].ID == s.current {
			acct := s.accounts[i]
			return &acct, nil
		}
	}
	return nil, &ServiceError{Code: "NOT_FOUND", Message: "no account selected"}
}

// AddAccountInput is the payload for AddAccount.
type AddAccountInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Provider string `json:"provider"`
}

// AddAccount stores a new account. The first account added becomes current.
func (s *Service) AddAccount(in *AddAccountInput) (*Account, error) {
	if in == nil || in.Name == "" {
		return nil, &ServiceError{Code: "INVALID_ARGUMENT", Message: "account name is required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.accounts {
		if s.accounts[i].Name == in.Name {
			return nil, &ServiceError{Code: "CONFLICT", Message: fmt.Sprintf("account %q already exists", in.Name)}
		}
	}
	acct := Account{
		ID:       uuid.NewString(),
		Name:     in.Name,
		Email:    in.Email,
		Provider: in.Provider,
		AddedAt:  time.Now().UnixMilli(),
	}
	if len(s.accounts) == 0 {
		acct.Current = true
		s.current = acct.ID
	}
	s.accounts = append(s.accounts, acct)
	slog.Info(fmt.Sprintf("%s - added account %s (%s)", serviceLogPrefix, acct.Name, acct.ID))
	return &acct, nil
}

// SwitchAccountInput selects the active account by ID.
type SwitchAccountInput struct {
	AccountID string `json:"accountId"`
}

// SwitchAccount makes the given account current.
func (s *Service) SwitchAccount(in *SwitchAccountInput) (*Account, error) {
	if in == nil || in.AccountID == "" {
		return nil, &ServiceError{Code: "INVALID_ARGUMENT", Message: "accountId is required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var target *Account
	for i := range s.accounts {
		if s.accounts[i].ID == in.AccountID {
			target = &s.accounts[i]
			break
		}
	}
	if target == nil {
		return nil, &ServiceError{Code: "NOT_FOUND", Message: fmt.Sprintf("account %s not found", in.AccountID)}
	}
	for i := range s.accounts {
		s.accounts[i].Current = false
	}
	target.Current = true
	s.current = target.ID
	acct := *target
	slog.Info(fmt.Sprintf("%s - switched to account %s", serviceLogPrefix, acct.ID))
	return &acct, nil
}

// DeleteAccount removes an account. Deleting the current account clears
// the selection.
func (s *Service) DeleteAccount(accountID string) error {
	if accountID == "" {
		return &ServiceError{Code: "INVALID_ARGUMENT", Message: "accountId is required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.accounts {
		if s.accounts[i].ID == accountID {
			s.accounts = append(s.accounts[:i], s.accounts[i+1:]...)
			if s.current == accountID {
				s.current = ""
			}
			slog.Info(fmt.Sprintf("%s - deleted account %s", serviceLogPrefix, accountID))
			return nil
		}
	}
	return &ServiceError{Code: "NOT_FOUND", Message: fmt.Sprintf("account %s not found", accountID)}
}

// GetSettings returns the current proxy configuration.
func (s *Service) GetSettings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// SaveSettings replaces the proxy configuration.
func (s *Service) SaveSettings(in *Settings) (Settings, error) {
	if in == nil {
		return Settings{}, &ServiceError{Code: "INVALID_ARGUMENT", Message: "config payload is required"}
	}
	if in.Port < 0 || in.Port > 65535 {
		return Settings{}, &ServiceError{Code: "INVALID_ARGUMENT", Message: fmt.Sprintf("invalid port %d", in.Port)}
	}
	switch in.LogLevel {
	case "", "debug", "info", "warn", "error", "trace":
	default:
		return Settings{}, &ServiceError{Code: "INVALID_ARGUMENT", Message: fmt.Sprintf("invalid log level %q", in.LogLevel)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = *in
	return s.settings, nil
}

// Stats returns the aggregated request summary.
func (s *Service) Stats() *StatsSummary {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	out := &StatsSummary{
		TotalRequests: s.totalReqs,
		SuccessCount:  s.successCount,
		ErrorCount:    s.errorCount,
	}
	if s.totalReqs > 0 {
		out.AvgLatencyMs = s.latencySumMs / float64(s.totalReqs)
	}
	return out
}

// CLISyncInput optionally overrides the probed CLI version.
type CLISyncInput struct {
	Version string `json:"version,omitempty"`
}

// CLISync checks the installed CLI version against the compatibility constraint.
func (s *Service) CLISync(in *CLISyncInput) (*CLISyncStatus, error) {
	version := s.cliVersion
	if in != nil && in.Version != "" {
		version = in.Version
	}
	out := &CLISyncStatus{Constraint: s.cliConstraint}
	if version == "" {
		out.Message = "CLI not installed"
		return out, nil
	}
	out.Installed = true
	out.Version = version

	v, err := semver.NewVersion(version)
	if err != nil {
		out.Message = fmt.Sprintf("invalid CLI version %q", version)
		return out, nil
	}
	c, err := semver.NewConstraint(s.cliConstraint)
	if err != nil {
		return nil, &ServiceError{Code: "INTERNAL_ERROR", Message: fmt.Sprintf("invalid constraint %q", s.cliConstraint)}
	}
	out.Compatible = c.Check(v)
	if !out.Compatible {
		out.Message = fmt.Sprintf("CLI %s does not satisfy %s", version, s.cliConstraint)
	}
	return out, nil
}

// EnableLogStream turns on log capture. Idempotent.
func (s *Service) EnableLogStream() *StreamStatus {
	if s.bridge != nil {
		s.bridge.Enable()
	}
	slog.Info(fmt.Sprintf("%s - log stream enabled", serviceLogPrefix))
	return &StreamStatus{Enabled: true}
}

// DisableLogStream turns off log capture. Idempotent.
func (s *Service) DisableLogStream() *StreamStatus {
	if s.bridge != nil {
		s.bridge.Disable()
	}
	slog.Info(fmt.Sprintf("%s - log stream disabled", serviceLogPrefix))
	return &StreamStatus{Enabled: false}
}

// LogStreamStatus reports whether capture is on.
func (s *Service) LogStreamStatus() *StreamStatus {
	enabled := false
	if s.bridge != nil {
		enabled = s.bridge.Enabled()
	}
	return &StreamStatus{Enabled: enabled}
}

// RestoreHistory seeds the live buffer from the persisted history so a
// restarted server serves its previous tail instead of an empty console.
// Called once during startup, before capture begins.
func (s *Service) RestoreHistory(ctx context.Context) error {
	if s.bridge == nil {
		return nil
	}
	records, err := s.history.Snapshot(ctx, s.bridge.Buffer().Capacity())
	if err != nil {
		return fmt.Errorf("%s - failed to restore history: %w", serviceLogPrefix, err)
	}
	if len(records) == 0 {
		return nil
	}
	s.bridge.Buffer().Replace(records)
	var lastID int64
	for _, r := range records {
		if r.ID > lastID {
			lastID = r.ID
		}
	}
	s.bridge.SeedNextID(lastID)
	slog.Info(fmt.Sprintf("%s - restored %d records from history", serviceLogPrefix, len(records)))
	return nil
}

// LogSnapshot returns the buffered records, oldest first.
func (s *Service) LogSnapshot(ctx context.Context) (any, error) {
	if s.bridge != nil {
		return s.bridge.Buffer().Snapshot(), nil
	}
	records, err := s.history.Snapshot(ctx, 0)
	if err != nil {
		return nil, &ServiceError{Code: "INTERNAL_ERROR", Message: err.Error()}
	}
	return records, nil
}

// ClearLogs drops the buffer, the persisted history, and the on-disk log
// files. Files are truncated rather than removed so open writers keep their
// handles.
func (s *Service) ClearLogs(ctx context.Context) error {
	if s.bridge != nil {
		s.bridge.Buffer().Clear()
	}
	if err := s.history.Clear(ctx); err != nil {
		return &ServiceError{Code: "INTERNAL_ERROR", Message: err.Error()}
	}
	if s.logDir != "" {
		if err := logfiles.Clear(s.logDir); err != nil {
			return &ServiceError{Code: "INTERNAL_ERROR", Message: err.Error()}
		}
	}
	return nil
}

// Call routes a dispatch command to the matching service operation. It
// implements the native transport handler, so its command set must stay
// aligned with command.Builtin.
func (s *Service) Call(ctx context.Context, cmd string, args map[string]any) (any, error) {
	slog.Debug(fmt.Sprintf("%s - call command=%s", serviceLogPrefix, cmd))
	out, err := s.route(ctx, cmd, args)
	if s.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		s.metrics.CommandsTotal.WithLabelValues(cmd, status).Inc()
	}
	return out, err
}

func (s *Service) route(ctx context.Context, cmd string, args map[string]any) (any, error) {
	switch cmd {
	case command.GetProxyStatus:
		return s.Status(), nil
	case command.ListAccounts:
		return s.ListAccounts(), nil
	case command.GetCurrentAccount:
		return s.CurrentAccount()
	case command.AddAccount:
		var in AddAccountInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.AddAccount(&in)
	case command.SwitchAccount:
		var in SwitchAccountInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.SwitchAccount(&in)
	case command.DeleteAccount:
		id, _ := args["accountId"].(string)
		return nil, s.DeleteAccount(id)
	case command.GetConfig:
		return s.GetSettings(), nil
	case command.SaveConfig:
		var in Settings
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.SaveSettings(&in)
	case command.GetStatsSummary:
		return s.Stats(), nil
	case command.GetCLISyncStatus:
		var in CLISyncInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.CLISync(&in)
	case command.EnableLogStream:
		return s.EnableLogStream(), nil
	case command.DisableLogStream:
		return s.DisableLogStream(), nil
	case command.LogStreamStatus:
		return s.LogStreamStatus(), nil
	case command.GetLogSnapshot:
		return s.LogSnapshot(ctx)
	case command.ClearLogs:
		return nil, s.ClearLogs(ctx)
	default:
		return nil, &ServiceError{Code: "METHOD_NOT_FOUND", Message: fmt.Sprintf("unknown command: %s", cmd)}
	}
}

// decodeArgs round-trips a loose argument map into a typed input.
func decodeArgs(args map[string]any, out any) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return &ServiceError{Code: "INVALID_ARGUMENT", Message: "failed to encode arguments"}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &ServiceError{Code: "INVALID_ARGUMENT", Message: fmt.Sprintf("failed to parse arguments: %v", err)}
	}
	return nil
}
