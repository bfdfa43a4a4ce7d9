// Package main is the entrypoint for the proxy-console.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/coldharbour/proxy-console/internal/config"
	"github.com/coldharbour/proxy-console/internal/server"
	"github.com/coldharbour/proxy-console/pkg/command"
	"github.com/coldharbour/proxy-console/pkg/credstore"
	"github.com/coldharbour/proxy-console/pkg/dispatch"
	"github.com/coldharbour/proxy-console/pkg/logfiles"
)

const usage = `Usage: proxy-console [command]
       proxy-console serve            Start the console server (NATS, HTTP admin API, log stream).
       proxy-console status           Print proxy status from a running server.
       proxy-console accounts         List stored accounts on a running server.
       proxy-console logs             Print the buffered log records from a running server.
       proxy-console clear-logs       Clear the log buffer on a running server.
       proxy-console clean-logfiles   Remove expired log files from CONSOLE_LOG_DIR.

Commands:
  serve           (default) Start the proxy console server.
  status          Dispatch get_proxy_status against CONSOLE_SERVER_URL.
  accounts        Dispatch list_accounts against CONSOLE_SERVER_URL.
  logs            Dispatch get_log_snapshot against CONSOLE_SERVER_URL.
  clear-logs      Dispatch clear_logs against CONSOLE_SERVER_URL.
  clean-logfiles  Apply the retention policy to the local log directory.

Environment: CONSOLE_SERVER_URL, CONSOLE_API_KEY, COMMS_URL, CONSOLE_LOG_DIR, DATABASE_URL. See README.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "status":
		if err := runRemote(command.GetProxyStatus); err != nil {
			log.Fatalf("proxy-console status: %v", err)
		}
		return
	case "accounts":
		if err := runRemote(command.ListAccounts); err != nil {
			log.Fatalf("proxy-console accounts: %v", err)
		}
		return
	case "logs":
		if err := runRemote(command.GetLogSnapshot); err != nil {
			log.Fatalf("proxy-console logs: %v", err)
		}
		return
	case "clear-logs":
		if err := runRemote(command.ClearLogs); err != nil {
			log.Fatalf("proxy-console clear-logs: %v", err)
		}
		return
	case "clean-logfiles":
		if err := runCleanLogfiles(); err != nil {
			log.Fatalf("proxy-console clean-logfiles: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("proxy-console: %v", err)
	}
}

// runRemote dispatches one command against the configured server and
// prints the result as indented JSON.
func runRemote(name string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// Admin subcommands always talk to a running server; the in-process
	// handler only exists inside serve.
	cfg.Mode = "remote"
	if err := cfg.ValidateForDispatch(); err != nil {
		return err
	}

	transport := dispatch.NewRemoteTransport(cfg.ServerURL, command.Builtin(), dispatch.RemoteOptions{
		Timeout:    cfg.RequestTimeout,
		Credential: credstore.Load(),
	})
	client := dispatch.NewClient(dispatch.ModeRemote, transport)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()

	result, err := client.Execute(ctx, name, nil)
	if err != nil {
		return err
	}
	if result == nil {
		fmt.Println("ok")
		return nil
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func runCleanLogfiles() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.LogDir == "" {
		return fmt.Errorf("CONSOLE_LOG_DIR is required")
	}
	if err := logfiles.Cleanup(cfg.LogDir, cfg.LogMaxAge); err != nil {
		return err
	}
	fmt.Printf("Log directory %q is clean.\n", cfg.LogDir)
	return nil
}
