package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/hashguard-labs/hashguard/internal/anchor"
	"github.com/hashguard-labs/hashguard/internal/api"
	"github.com/hashguard-labs/hashguard/internal/auth"
	"github.com/hashguard-labs/hashguard/internal/config"
	"github.com/hashguard-labs/hashguard/internal/db"
	"github.com/hashguard-labs/hashguard/internal/mcp"
	"github.com/hashguard-labs/hashguard/internal/pinata"
	"github.com/hashguard-labs/hashguard/internal/verify"
	"github.com/hashguard-labs/hashguard/pkg/audit"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// Secrets may come from a local .env; absence is fine.
	_ = godotenv.Load()

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "mcp":
		cmdMCP(os.Args[2:])
	case "version":
		fmt.Printf("hashguard %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`hashguard — file verification network

Usage:
  hashguard serve [--config config.toml] [--addr :8080]
  hashguard mcp [--config config.toml]
  hashguard version
  hashguard help

Commands:
  serve     Start the HTTP server
  mcp       Serve the verification tools over MCP stdio
  version   Print version
  help      Show this help`)
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	addr := fs.String("addr", "", "listen address (overrides config)")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	database, auditLog, a, engine, store := buildStack(cfg)
	defer database.Close()
	defer auditLog.Close()

	apiHandler := api.New(database, a, engine, store)
	apiHandler.SetAuditLogger(auditLog)

	mux := http.NewServeMux()
	apiHandler.RegisterRoutes(mux)

	log.Printf("hashguard %s (%s) listening on %s", version, cfg.Instance.Name, cfg.Server.Addr)
	log.Printf("database: %s", cfg.Database.Path)
	if cfg.Anchor.Enabled {
		log.Printf("anchor: enabled (%s)", cfg.Anchor.RPCURL)
	} else {
		log.Printf("anchor: disabled")
	}

	if err := http.ListenAndServe(cfg.Server.Addr, api.SecurityHeaders(mux)); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func cmdMCP(args []string) {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	database, auditLog, _, engine, _ := buildStack(cfg)
	defer database.Close()
	defer auditLog.Close()

	srv := mcp.NewServer(database, engine, auditLog)
	if err := mcpserver.ServeStdio(srv); err != nil {
		log.Fatalf("mcp server error: %v", err)
	}
}

// buildStack wires the shared pieces both commands need.
func buildStack(cfg *config.Config) (*db.DB, audit.Logger, *auth.Auth, *verify.Engine, *pinata.Client) {
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}

	auditLog := audit.NewSQLiteLogger(database.DB)
	if err := auditLog.Init(); err != nil {
		log.Fatalf("initializing audit log: %v", err)
	}

	a := auth.New(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiryMin, cfg.Auth.ChallengeExpirySec)

	store := pinata.New(cfg.Pinata.BaseURL, cfg.Pinata.GatewayURL, cfg.Pinata.APIKey, cfg.Pinata.SecretKey)
	if store.Configured() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := store.TestAuthentication(ctx); err != nil {
			slog.Warn("content store credentials failed probe, uploads will be refused", "error", err)
		}
		cancel()
	} else {
		slog.Warn("content store credentials missing, uploads will be refused")
	}

	engine := verify.New(database, anchorClient(cfg))
	return database, auditLog, a, engine, store
}

// anchorClient returns nil when anchoring is disabled; the engine treats a
// nil anchor as "record without tx ref".
func anchorClient(cfg *config.Config) verify.Anchor {
	if !cfg.Anchor.Enabled {
		return nil
	}
	var (
		payer *anchor.Keypair
		err   error
	)
	switch {
	case cfg.Anchor.PayerKey != "":
		payer, err = anchor.ParseKey(cfg.Anchor.PayerKey)
	case cfg.Anchor.PayerKeyFile != "":
		payer, err = anchor.LoadKeypair(cfg.Anchor.PayerKeyFile)
	default:
		log.Fatalf("anchor enabled but no payer key configured")
	}
	if err != nil {
		log.Fatalf("loading anchor payer key: %v", err)
	}
	return anchor.New(cfg.Anchor.RPCURL, cfg.Anchor.ProgramID, payer)
}
