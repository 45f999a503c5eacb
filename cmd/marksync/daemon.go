package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/marksync/marksync/internal/control"
	"github.com/marksync/marksync/internal/migrate"
	"github.com/marksync/marksync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the continuous sync daemon",
	Long: `Run the sync coordinator in the foreground: watch the local bookmark
file, debounce edit bursts into syncs, poll the remote on a fixed
interval, and serve the local control API.

Control endpoints:
  POST /sync, /push, /pull    trigger an operation
  POST /focus                 notify regained foreground focus
  GET  /status                coordinator state
  ws   /ws                    live event stream

On first run for a profile, a legacy single-document repository is
migrated to the per-file layout automatically.

Example usage:
  marksync daemon                       # active profile, default address
  marksync daemon --addr 127.0.0.1:7500`,
	Run: func(cmd *cobra.Command, args []string) {
		addr, _ := cmd.Flags().GetString("addr")

		logger := log.New(os.Stderr, "[daemon] ", log.LstdFlags)
		rt, err := setup(logger)
		if err != nil {
			fatal(err)
		}
		defer rt.close()

		// Rotated file log alongside stderr; the daemon is long-lived.
		rotated := &lumberjack.Logger{
			Filename:   filepath.Join(rt.registry.Dir(), "marksync.log"),
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     30, // days
			Compress:   true,
		}
		defer rotated.Close()
		logger.SetOutput(io.MultiWriter(os.Stderr, rotated))

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		// One-time legacy layout migration; failure is logged and retried
		// on the next start.
		if res, err := migrate.Run(ctx, rt.store, rt.states, migrate.Options{
			Profile: rt.prof.Name,
			Logger:  logger,
		}); err != nil {
			logger.Printf("Legacy migration failed (will retry next start): %v", err)
		} else if !res.Skipped {
			logger.Printf("Migrated legacy document: %d entries", res.Entries)
		}

		if err := rt.local.Start(); err != nil {
			fatal(fmt.Errorf("starting bookmark watcher: %w", err))
		}
		defer func() {
			if err := rt.local.Stop(); err != nil {
				logger.Printf("Stopping bookmark watcher: %v", err)
			}
		}()

		server := control.NewServer(control.Config{Addr: addr, Logger: logger}, rt.engine)
		if err := server.Start(); err != nil {
			fatal(err)
		}
		rt.engine.SetEventHook(server.Publish)

		fmt.Printf("Syncing profile %s\n", ui.Accent(rt.prof.Name))
		fmt.Printf("Control API on http://%s (ws://%s/ws)\n", server.Addr(), server.Addr())
		fmt.Println("Press Ctrl+C to stop.")

		if err := rt.engine.Run(ctx); err != nil {
			logger.Printf("Coordinator error: %v", err)
		}

		if err := server.Stop(); err != nil {
			logger.Printf("Control server shutdown: %v", err)
		}
	},
}

func init() {
	daemonCmd.Flags().String("addr", "127.0.0.1:7437", "Control API listen address (loopback only)")
	rootCmd.AddCommand(daemonCmd)
}
