package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	mcpMode := flag.Bool("mcp", false, "run as a stdio MCP server instead of the HTTP service")
	initDB := flag.Bool("init-db", false, "initialize the database and exit")
	flag.Parse()

	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logCfg := PersistentLogConfig(cfg.DataDir)
	logCfg.Level = ParseLogLevel(cfg.LogLevel)
	if *mcpMode {
		// stdout carries the MCP protocol, keep logs off the console
		logCfg.Console = false
	}
	if err := InitLogger(logCfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer CloseLogger()

	app := NewApp(cfg, *mcpMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.startup(ctx); err != nil {
		LogError("main").Err(err).Msg("Startup failed")
		os.Exit(1)
	}
	defer app.shutdown()

	if *initDB {
		LogInfo("main").Str("path", cfg.DBPath()).Msg("Database initialized")
		return
	}

	if *mcpMode {
		if err := app.ServeMCP(ctx); err != nil {
			LogError("main").Err(err).Msg("MCP server failed")
			os.Exit(1)
		}
		return
	}

	server := NewServer(app, cfg.Addr)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		LogInfo("main").Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			LogWarn("main").Err(err).Msg("Forced shutdown")
		}
	case err := <-errCh:
		if err != nil {
			LogError("main").Err(err).Msg("HTTP server failed")
			os.Exit(1)
		}
	}
}
