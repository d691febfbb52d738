package main

import (
	"fmt"
	"os"

	"github.com/glefebvre/episodebot/internal/config"
	"github.com/glefebvre/episodebot/internal/logger"
	"github.com/glefebvre/episodebot/internal/staging"
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove orphaned run directories from the staging root",
	Long: `Scan the staging root and remove run directories older than the
retention period (default: staging.retention_hours).

Run directories are normally deleted when a release ends. They are left
behind when the process is killed mid-run or when staging.keep_on_failure
keeps a failed run for inspection. Do not run this while a daemon using the
same staging root is releasing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		retentionHours, _ := cmd.Flags().GetInt("retention-hours")

		cfg := config.Get()
		logger.InitializeLoggersWithFormat(cfg.GetAppLogLevel(), cfg.GetDatabaseLogLevel(), cfg.Logging.Format)
		if !cmd.Flags().Changed("retention-hours") {
			retentionHours = cfg.Staging.RetentionHours
		}
		layout := staging.LayoutFromConfig(cfg.Staging)

		fmt.Println("=== Staging Cleanup ===")
		if dryRun {
			fmt.Println("Mode: DRY RUN (no files will be deleted)")
		}
		fmt.Printf("Staging root: %s\n", layout.Root)
		fmt.Printf("Retention: %d hours\n\n", retentionHours)

		report, err := staging.CleanupOrphaned(staging.CleanupOptions{
			Root:           layout.Root,
			RetentionHours: retentionHours,
			DryRun:         dryRun,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error during cleanup: %v\n", err)
			os.Exit(1)
		}

		for _, dir := range report.Removed {
			fmt.Printf("  removed %s\n", dir)
		}
		fmt.Printf("\nRemoved: %d, kept: %d, failed: %d\n", len(report.Removed), report.Skipped, report.Failed)
		return nil
	},
}

func init() {
	cleanupCmd.Flags().Bool("dry-run", false, "list directories without deleting them")
	cleanupCmd.Flags().Int("retention-hours", 24, "only remove run directories older than this")
}
