package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/hazyhaar/evidenceledger/internal/audit"
	"github.com/hazyhaar/evidenceledger/internal/config"
	"github.com/hazyhaar/evidenceledger/internal/dispatch"
	"github.com/hazyhaar/evidenceledger/internal/ledger"
	"github.com/hazyhaar/evidenceledger/internal/mcp"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "status":
		cmdStatus(os.Args[2:])
	case "prune":
		cmdPrune(os.Args[2:])
	case "version":
		fmt.Printf("evidenceledger %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`evidenceledger — embedded investigation ledger

Usage:
  evidenceledger serve [--config config.toml] [--db path] [--session id]
  evidenceledger status [--config config.toml] [--db path]
  evidenceledger prune [--config config.toml] [--db path]
  evidenceledger version
  evidenceledger help

Commands:
  serve     Expose the ledger as MCP tools over stdio
  status    Print the store status snapshot
  prune     Run one retention sweep
  version   Print version
  help      Show this help`)
}

func openStore(configPath, dbPath, sessionID string) (*ledger.Store, *config.Config) {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if dbPath != "" {
		cfg.Ledger.Path = dbPath
	}
	if sessionID != "" {
		cfg.Ledger.SessionID = sessionID
	}

	store := ledger.NewStore(ledger.Options{
		Path:         cfg.Ledger.Path,
		SessionID:    cfg.Ledger.SessionID,
		Disabled:     cfg.Ledger.Disabled,
		MaxIncidents: cfg.Retention.MaxIncidents,
		MaxAgeDays:   cfg.Retention.MaxAgeDays,
		PruneEvery:   cfg.Retention.CheckEvery,
	})
	if r := store.Init(); !r.OK {
		// Degraded, not fatal: every operation will answer with the
		// unavailable envelope.
		slog.Warn("ledger unavailable", "reason", r.Reason, "error", r.Error)
	}
	return store, cfg
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	dbPath := fs.String("db", "", "ledger database path (overrides config)")
	sessionID := fs.String("session", "", "session scope (overrides config)")
	fs.Parse(args)

	store, cfg := openStore(*configPath, *dbPath, *sessionID)
	defer store.Close()

	inv := ledger.NewInvestigator(store)

	var auditLog *audit.Logger
	if db := store.DB(); db != nil {
		auditLog = audit.NewLogger(db)
		if err := auditLog.Init(); err != nil {
			slog.Warn("audit trail disabled", "error", err)
			auditLog.Close()
			auditLog = nil
		} else {
			defer auditLog.Close()
		}
	}

	d := dispatch.New(inv, auditLog)
	srv := mcp.NewServer(d, cfg.Instance.ID)

	slog.Info("serving ledger over stdio", "path", store.Path(), "available", store.IsAvailable())
	if err := mcpserver.ServeStdio(srv); err != nil {
		log.Fatalf("serving: %v", err)
	}
}

func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	dbPath := fs.String("db", "", "ledger database path (overrides config)")
	fs.Parse(args)

	store, _ := openStore(*configPath, *dbPath, "")
	defer store.Close()

	out, err := json.MarshalIndent(store.Status(), "", "  ")
	if err != nil {
		log.Fatalf("encoding status: %v", err)
	}
	fmt.Println(string(out))
}

func cmdPrune(args []string) {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	dbPath := fs.String("db", "", "ledger database path (overrides config)")
	fs.Parse(args)

	store, _ := openStore(*configPath, *dbPath, "")
	defer store.Close()

	n, err := store.Prune()
	if err != nil {
		log.Fatalf("pruning: %v", err)
	}
	fmt.Printf("pruned %d incidents\n", n)
}
