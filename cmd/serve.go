package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glefebvre/episodebot/internal/api"
	"github.com/glefebvre/episodebot/internal/database"
	"github.com/glefebvre/episodebot/internal/scheduler"
	"github.com/glefebvre/episodebot/internal/shutdown"
	"github.com/glefebvre/episodebot/internal/staging"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the operator API",
	Long: `Run episodebot as a daemon. Every job under schedule.jobs is registered
with its cron expression in schedule.timezone; each firing releases the next
episode of its title.

On start the daemon:
- refuses to run twice against the same staging root
- marks runs left "running" by a previous process as aborted
- removes orphaned run directories older than staging.retention_hours
- seeds the ledger with configured starting positions`,
	RunE: func(cmd *cobra.Command, args []string) error {
		noAPI, _ := cmd.Flags().GetBool("no-api")
		shutdownTimeout, _ := cmd.Flags().GetDuration("shutdown-timeout")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		log := a.log
		cfg := a.cfg

		lockPath := filepath.Join(a.layout.Root, "episodebot.lock")
		if err := os.MkdirAll(a.layout.Root, 0o755); err != nil {
			return fmt.Errorf("create staging root: %w", err)
		}
		daemonLock := flock.New(lockPath)
		ok, err := daemonLock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			return fmt.Errorf("another episodebot daemon is already running (%s)", lockPath)
		}

		if n, err := a.history.MarkInterrupted(ctx); err != nil {
			log.Warn(fmt.Sprintf("failed to close interrupted runs: %v", err))
		} else if n > 0 {
			log.WithFields(map[string]interface{}{
				"runs": n,
			}).Warn("marked interrupted runs as aborted")
		}

		report, err := staging.CleanupOrphaned(staging.CleanupOptions{
			Root:           a.layout.Root,
			RetentionHours: cfg.Staging.RetentionHours,
		})
		if err != nil {
			log.Warn(fmt.Sprintf("staging cleanup failed: %v", err))
		} else if len(report.Removed) > 0 {
			log.WithFields(map[string]interface{}{
				"removed": len(report.Removed),
			}).Info("removed orphaned run directories")
		}

		sched := scheduler.New(a.pipeline, cfg.Location())
		for _, job := range cfg.Schedule.Jobs {
			if err := sched.Add(job); err != nil {
				_ = daemonLock.Unlock()
				return err
			}
		}

		handler := shutdown.New(shutdownTimeout)
		handler.Register("lock", func(ctx context.Context) error {
			return daemonLock.Unlock()
		})
		handler.Register("database", func(ctx context.Context) error {
			return database.Close()
		})
		handler.Register("scheduler", func(ctx context.Context) error {
			// running releases finish unless the shutdown deadline passes first
			err := sched.Stop(ctx)
			cancel()
			return err
		})

		if cfg.API.Enabled && !noAPI {
			server := api.NewServer(api.Deps{
				Health:    func() error { return database.Ping(a.db) },
				Ledger:    a.ledger,
				History:   a.history,
				Releases:  a.pipeline,
				Scheduler: sched,
			})
			handler.Register("api", server.Shutdown)

			go func() {
				if err := server.Run(cfg.API.Port); err != nil {
					log.Error("API server stopped", err)
					handler.TriggerShutdown()
				}
			}()
		}

		sched.Start(ctx)
		for _, entry := range sched.Entries() {
			log.WithFields(map[string]interface{}{
				"title": entry.Title,
				"next":  entry.Next.Format(time.RFC1123),
			}).Info("next release")
		}

		return handler.Wait()
	},
}

func init() {
	serveCmd.Flags().Bool("no-api", false, "do not start the operator API even if api.enabled is set")
	serveCmd.Flags().Duration("shutdown-timeout", 2*time.Hour, "how long to wait for running releases on shutdown")
}
