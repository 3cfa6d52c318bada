// Package cli wires together config, logger, store, rdb, and acceptor into
// a runnable server process.
package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"emberdb/internal/acceptor"
	"emberdb/internal/config"
	"emberdb/internal/logger"
	"emberdb/internal/rdb"
	"emberdb/internal/runner"
	"emberdb/internal/store"
)

// Execute parses args, loads configuration, and runs the server until a
// shutdown signal arrives or a fatal startup error occurs. It returns the
// process exit code.
func Execute(args []string) int {
	fs := flag.NewFlagSet("emberd", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 1
	}
	if *showVersion {
		fmt.Println("emberd 0.1.0-dev")
		return 0
	}

	cfg, err := config.Load(os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "emberd: %v\n", err)
		return 2
	}

	log, err := logger.New(cfg.LogDir, cfg.LogLevel, "emberd")
	if err != nil {
		fmt.Fprintf(os.Stderr, "emberd: failed to initialize logging: %v\n", err)
		return 1
	}
	defer log.Close()

	log.Console("🔥 emberd starting")
	log.Console("⚙️  %s", cfg.Summary())
	for _, w := range cfg.Warnings {
		log.Warn("config: %s", w)
	}

	s := store.New(log)
	defer s.Close()

	rdbEngine := rdb.New(s, cfg.RDBPath, cfg.FlushEvery, cfg.Compression, log)
	if err := rdbEngine.EnsureDir(); err != nil {
		log.Error("failed to prepare snapshot directory: %v", err)
		return 1
	}
	if err := rdbEngine.Load(); err != nil {
		log.Error("failed to load snapshot: %v", err)
		return 1
	}

	run := runner.New(s)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	acc, err := acceptor.Listen(ctx, cfg.Addr, run, cfg.ConnPerSec, cfg.ConnBurst, log)
	if err != nil {
		log.Error("failed to bind %s: %v", cfg.Addr, err)
		return 1
	}
	log.Console("📡 listening on %s", acc.Addr())

	go rdbEngine.Run(ctx)

	if err := acc.Run(ctx); err != nil {
		log.Error("acceptor exited with error: %v", err)
		return 1
	}

	log.Console("💾 writing final snapshot before exit")
	if err := rdbEngine.Save(); err != nil {
		log.Error("final snapshot save failed: %v", err)
		return 1
	}

	log.Console("👋 emberd stopped cleanly")
	return 0
}
