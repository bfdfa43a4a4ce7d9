package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/coldharbour/proxy-console/pkg/command"
	"github.com/coldharbour/proxy-console/pkg/events"
	"github.com/coldharbour/proxy-console/pkg/history"
	"github.com/coldharbour/proxy-console/pkg/logbridge"
	"github.com/coldharbour/proxy-console/pkg/logbuffer"
)

const serviceTestPrefix = "server:service_test"

func testService(t *testing.T) *Service {
	t.Helper()
	bridge := logbridge.NewBridge(logbuffer.New(100), &events.NoOpPublisher{})
	return NewService(ServiceParams{
		Version:       "1.4.0",
		CLIVersion:    "1.2.3",
		CLIConstraint: "^1.0.0",
		ProxyPort:     8080,
		Bridge:        bridge,
	})
}

func TestAccountLifecycle(t *testing.T) {
	svc := testService(t)

	if _, err := svc.CurrentAccount(); err == nil {
		t.Fatalf("%s - expected error with no accounts", serviceTestPrefix)
	}

	first, err := svc.AddAccount(&AddAccountInput{Name: "work", Email: "work@example.com", Provider: "oauth"})
	if err != nil {
		t.Fatalf("%s - add first account: %v", serviceTestPrefix, err)
	}
	if !first.Current {
		t.Errorf("%s - first account should become current", serviceTestPrefix)
	}

	second, err := svc.AddAccount(&AddAccountInput{Name: "personal"})
	if err != nil {
		t.Fatalf("%s - add second account: %v", serviceTestPrefix, err)
	}
	if second.Current {
		t.Errorf("%s - second account should not be current", serviceTestPrefix)
	}

	accounts := svc.ListAccounts()
	if len(accounts) != 2 {
		t.Fatalf("%s - len(accounts) = %d, want 2", serviceTestPrefix, len(accounts))
	}

	switched, err := svc.SwitchAccount(&SwitchAccountInput{AccountID: second.ID})
	if err != nil {
		t.Fatalf("%s - switch: %v", serviceTestPrefix, err)
	}
	if !switched.Current {
		t.Errorf("%s - switched account should be current", serviceTestPrefix)
	}
	current, err := svc.CurrentAccount()
	if err != nil {
		t.Fatalf("%s - current: %v", serviceTestPrefix, err)
	}
	if current.ID != second.ID {
		t.Errorf("%s - current = %s, want %s", serviceTestPrefix, current.ID, second.ID)
	}

	if err := svc.DeleteAccount(second.ID); err != nil {
		t.Fatalf("%s - delete: %v", serviceTestPrefix, err)
	}
	if _, err := svc.CurrentAccount(); err == nil {
		t.Errorf("%s - deleting the current account should clear the selection", serviceTestPrefix)
	}
	if len(svc.ListAccounts()) != 1 {
		t.Errorf("%s - expected one account after delete", serviceTestPrefix)
	}
}

func TestAddAccount_Duplicate(t *testing.T) {
	svc := testService(t)
	if _, err := svc.AddAccount(&AddAccountInput{Name: "work"}); err != nil {
		t.Fatalf("%s - unexpected error: %v", serviceTestPrefix, err)
	}
	_, err := svc.AddAccount(&AddAccountInput{Name: "work"})
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) || svcErr.Code != "CONFLICT" {
		t.Errorf("%s - expected CONFLICT, got %v", serviceTestPrefix, err)
	}
}

func TestDeleteAccount_NotFound(t *testing.T) {
	svc := testService(t)
	err := svc.DeleteAccount("missing")
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) || svcErr.Code != "NOT_FOUND" {
		t.Errorf("%s - expected NOT_FOUND, got %v", serviceTestPrefix, err)
	}
}

func TestSaveSettings_Validation(t *testing.T) {
	svc := testService(t)

	saved, err := svc.SaveSettings(&Settings{Port: 9000, LogLevel: "debug", AutoStart: true})
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", serviceTestPrefix, err)
	}
	if saved.Port != 9000 || saved.LogLevel != "debug" || !saved.AutoStart {
		t.Errorf("%s - settings not applied: %+v", serviceTestPrefix, saved)
	}
	if got := svc.GetSettings(); got != saved {
		t.Errorf("%s - GetSettings = %+v, want %+v", serviceTestPrefix, got, saved)
	}

	if _, err := svc.SaveSettings(&Settings{Port: 70000}); err == nil {
		t.Errorf("%s - expected error for invalid port", serviceTestPrefix)
	}
	if _, err := svc.SaveSettings(&Settings{Port: 9000, LogLevel: "loud"}); err == nil {
		t.Errorf("%s - expected error for invalid log level", serviceTestPrefix)
	}
}

func TestStatsSummary(t *testing.T) {
	svc := testService(t)

	if got := svc.Stats(); got.TotalRequests != 0 || got.AvgLatencyMs != 0 {
		t.Fatalf("%s - expected empty summary, got %+v", serviceTestPrefix, got)
	}

	svc.RecordRequest(true, 100*time.Millisecond)
	svc.RecordRequest(true, 300*time.Millisecond)
	svc.RecordRequest(false, 200*time.Millisecond)

	got := svc.Stats()
	if got.TotalRequests != 3 || got.SuccessCount != 2 || got.ErrorCount != 1 {
		t.Errorf("%s - counters = %+v", serviceTestPrefix, got)
	}
	if got.AvgLatencyMs != 200 {
		t.Errorf("%s - AvgLatencyMs = %v, want 200", serviceTestPrefix, got.AvgLatencyMs)
	}
}

func TestCLISync(t *testing.T) {
	cases := []struct {
		name       string
		version    string
		constraint string
		installed  bool
		compatible bool
	}{
		{"compatible", "1.2.3", "^1.0.0", true, true},
		{"major ahead", "2.0.0", "^1.0.0", true, false},
		{"below minimum", "0.9.0", ">=1.0.0", true, false},
		{"not installed", "", "^1.0.0", false, false},
		{"garbage version", "not-a-version", "^1.0.0", true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := NewService(ServiceParams{CLIVersion: tc.version, CLIConstraint: tc.constraint})
			out, err := svc.CLISync(&CLISyncInput{})
			if err != nil {
				t.Fatalf("%s - unexpected error: %v", serviceTestPrefix, err)
			}
			if out.Installed != tc.installed {
				t.Errorf("%s - Installed = %v, want %v", serviceTestPrefix, out.Installed, tc.installed)
			}
			if out.Compatible != tc.compatible {
				t.Errorf("%s - Compatible = %v, want %v", serviceTestPrefix, out.Compatible, tc.compatible)
			}
			if !tc.compatible && out.Message == "" && tc.version != "" && tc.version != "not-a-version" {
				t.Errorf("%s - expected an incompatibility message", serviceTestPrefix)
			}
		})
	}
}

func TestCLISync_VersionOverride(t *testing.T) {
	svc := NewService(ServiceParams{CLIVersion: "0.5.0", CLIConstraint: "^1.0.0"})
	out, err := svc.CLISync(&CLISyncInput{Version: "1.1.0"})
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", serviceTestPrefix, err)
	}
	if !out.Compatible || out.Version != "1.1.0" {
		t.Errorf("%s - override should be checked, got %+v", serviceTestPrefix, out)
	}
}

func TestLogStreamControl(t *testing.T) {
	svc := testService(t)

	if svc.LogStreamStatus().Enabled {
		t.Fatalf("%s - stream should start disabled", serviceTestPrefix)
	}
	svc.EnableLogStream()
	svc.EnableLogStream()
	if !svc.LogStreamStatus().Enabled {
		t.Errorf("%s - stream should be enabled", serviceTestPrefix)
	}
	svc.DisableLogStream()
	if svc.LogStreamStatus().Enabled {
		t.Errorf("%s - stream should be disabled", serviceTestPrefix)
	}
}

func TestLogSnapshotAndClear(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	svc.bridge.Buffer().Append(logbuffer.Record{ID: 1, Message: "one"})
	svc.bridge.Buffer().Append(logbuffer.Record{ID: 2, Message: "two"})

	out, err := svc.LogSnapshot(ctx)
	if err != nil {
		t.Fatalf("%s - snapshot: %v", serviceTestPrefix, err)
	}
	records, ok := out.([]logbuffer.Record)
	if !ok || len(records) != 2 {
		t.Fatalf("%s - snapshot = %#v, want 2 records", serviceTestPrefix, out)
	}

	if err := svc.ClearLogs(ctx); err != nil {
		t.Fatalf("%s - clear: %v", serviceTestPrefix, err)
	}
	if svc.bridge.Buffer().Len() != 0 {
		t.Errorf("%s - buffer should be empty after clear", serviceTestPrefix)
	}
}

func TestRestoreHistory_SeedsBufferAfterRestart(t *testing.T) {
	ctx := context.Background()

	// A previous run left records behind in the store.
	store := history.NewMemoryStore(100)
	for i := int64(1); i <= 3; i++ {
		if err := store.Append(ctx, logbuffer.Record{ID: i, Message: fmt.Sprintf("line %d", i)}); err != nil {
			t.Fatalf("%s - seed history: %v", serviceTestPrefix, err)
		}
	}

	bridge := logbridge.NewBridge(logbuffer.New(100), &events.NoOpPublisher{})
	svc := NewService(ServiceParams{Bridge: bridge, History: store})

	if err := svc.RestoreHistory(ctx); err != nil {
		t.Fatalf("%s - restore: %v", serviceTestPrefix, err)
	}
	out, err := svc.LogSnapshot(ctx)
	if err != nil {
		t.Fatalf("%s - snapshot: %v", serviceTestPrefix, err)
	}
	records, ok := out.([]logbuffer.Record)
	if !ok || len(records) != 3 {
		t.Fatalf("%s - snapshot = %#v, want the 3 restored records", serviceTestPrefix, out)
	}
	if records[0].Message != "line 1" || records[2].Message != "line 3" {
		t.Errorf("%s - restored out of order: %v", serviceTestPrefix, records)
	}

	// Records captured after the restore must not reuse restored IDs.
	bridge.Enable()
	logger := slog.New(bridge.Handler(slog.NewTextHandler(io.Discard, nil)))
	logger.Info("fresh line")
	snap := bridge.Buffer().Snapshot()
	if last := snap[len(snap)-1]; last.ID <= 3 {
		t.Errorf("%s - new record ID %d collides with restored IDs", serviceTestPrefix, last.ID)
	}
}

func TestRestoreHistory_EmptyStoreIsNoOp(t *testing.T) {
	svc := testService(t)
	if err := svc.RestoreHistory(context.Background()); err != nil {
		t.Fatalf("%s - restore: %v", serviceTestPrefix, err)
	}
	if svc.bridge.Buffer().Len() != 0 {
		t.Errorf("%s - buffer should stay empty", serviceTestPrefix)
	}
}

func TestClearLogs_TruncatesLogFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proxy.log")
	if err := os.WriteFile(path, []byte("stale lines\n"), 0o644); err != nil {
		t.Fatalf("%s - write log file: %v", serviceTestPrefix, err)
	}

	bridge := logbridge.NewBridge(logbuffer.New(10), &events.NoOpPublisher{})
	svc := NewService(ServiceParams{Bridge: bridge, LogDir: dir})

	if err := svc.ClearLogs(context.Background()); err != nil {
		t.Fatalf("%s - clear: %v", serviceTestPrefix, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("%s - log file should survive a clear: %v", serviceTestPrefix, err)
	}
	if info.Size() != 0 {
		t.Errorf("%s - log file size = %d after clear, want 0", serviceTestPrefix, info.Size())
	}
}

func TestCall_CountsCommands(t *testing.T) {
	metrics := NewMetrics()
	bridge := logbridge.NewBridge(logbuffer.New(10), &events.NoOpPublisher{})
	svc := NewService(ServiceParams{Bridge: bridge, Metrics: metrics})
	ctx := context.Background()

	if _, err := svc.Call(ctx, command.GetProxyStatus, nil); err != nil {
		t.Fatalf("%s - status call: %v", serviceTestPrefix, err)
	}
	if _, err := svc.Call(ctx, command.GetProxyStatus, nil); err != nil {
		t.Fatalf("%s - status call: %v", serviceTestPrefix, err)
	}
	if _, err := svc.Call(ctx, "no_such_command", nil); err == nil {
		t.Fatalf("%s - expected error for unknown command", serviceTestPrefix)
	}

	if got := testutil.ToFloat64(metrics.CommandsTotal.WithLabelValues(command.GetProxyStatus, "ok")); got != 2 {
		t.Errorf("%s - ok count = %v, want 2", serviceTestPrefix, got)
	}
	if got := testutil.ToFloat64(metrics.CommandsTotal.WithLabelValues("no_such_command", "error")); got != 1 {
		t.Errorf("%s - error count = %v, want 1", serviceTestPrefix, got)
	}
}

func TestCall_RoutesEveryBuiltinCommand(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	acct, err := svc.AddAccount(&AddAccountInput{Name: "seed"})
	if err != nil {
		t.Fatalf("%s - seed account: %v", serviceTestPrefix, err)
	}

	calls := []struct {
		command string
		args    map[string]any
	}{
		{command.GetProxyStatus, nil},
		{command.ListAccounts, nil},
		{command.GetCurrentAccount, nil},
		{command.AddAccount, map[string]any{"name": "extra"}},
		{command.SwitchAccount, map[string]any{"accountId": acct.ID}},
		{command.GetConfig, nil},
		{command.SaveConfig, map[string]any{"port": float64(9000), "logLevel": "info"}},
		{command.GetStatsSummary, nil},
		{command.GetCLISyncStatus, nil},
		{command.EnableLogStream, nil},
		{command.LogStreamStatus, nil},
		{command.GetLogSnapshot, nil},
		{command.DisableLogStream, nil},
		{command.ClearLogs, nil},
		{command.DeleteAccount, map[string]any{"accountId": acct.ID}},
	}
	for _, c := range calls {
		if _, err := svc.Call(ctx, c.command, c.args); err != nil {
			t.Errorf("%s - Call(%s) failed: %v", serviceTestPrefix, c.command, err)
		}
	}

	// Every builtin descriptor must be routable.
	for _, name := range commandNames() {
		_, err := svc.Call(ctx, name, map[string]any{"name": "x", "accountId": "y"})
		var svcErr *ServiceError
		if errors.As(err, &svcErr) && svcErr.Code == "METHOD_NOT_FOUND" {
			t.Errorf("%s - builtin command %s is not routed", serviceTestPrefix, name)
		}
	}
}

func commandNames() []string {
	return command.Builtin().Names()
}

func TestCall_UnknownCommand(t *testing.T) {
	svc := testService(t)
	_, err := svc.Call(context.Background(), "bogus_command", nil)
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) || svcErr.Code != "METHOD_NOT_FOUND" {
		t.Errorf("%s - expected METHOD_NOT_FOUND, got %v", serviceTestPrefix, err)
	}
}

func TestCall_BadArguments(t *testing.T) {
	svc := testService(t)
	_, err := svc.Call(context.Background(), command.SaveConfig, map[string]any{"port": "not-a-number"})
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) || svcErr.Code != "INVALID_ARGUMENT" {
		t.Errorf("%s - expected INVALID_ARGUMENT, got %v", serviceTestPrefix, err)
	}
}
