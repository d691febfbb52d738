package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glefebvre/episodebot/internal/logger"
)

const defaultRetentionHours = 24

// CleanupOptions holds configuration for orphaned run directory cleanup
type CleanupOptions struct {
	Root           string
	RetentionHours int
	DryRun         bool
	// Active run directories are skipped regardless of age
	Active map[string]bool
}

// CleanupReport summarizes a cleanup pass
type CleanupReport struct {
	Removed []string
	Skipped int
	Failed  int
}

// CleanupOrphaned removes run directories left behind by crashed or
// interrupted runs once they are older than the retention period
func CleanupOrphaned(opts CleanupOptions) (CleanupReport, error) {
	log := logger.AppLogger()
	var report CleanupReport

	if opts.RetentionHours <= 0 {
		opts.RetentionHours = defaultRetentionHours
	}
	cutoff := time.Now().Add(-time.Duration(opts.RetentionHours) * time.Hour)

	log.WithFields(map[string]interface{}{
		"root":            opts.Root,
		"retention_hours": opts.RetentionHours,
		"dry_run":         opts.DryRun,
	}).Info("scanning for orphaned run directories")

	entries, err := os.ReadDir(opts.Root)
	if os.IsNotExist(err) {
		return report, nil
	}
	if err != nil {
		return report, fmt.Errorf("failed to read staging root: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), runDirPrefix) {
			continue
		}

		dirPath := filepath.Join(opts.Root, entry.Name())
		if opts.Active[dirPath] {
			report.Skipped++
			continue
		}

		info, err := entry.Info()
		if err != nil {
			log.Warn(fmt.Sprintf("Failed to stat %s: %v", dirPath, err))
			continue
		}
		if info.ModTime().After(cutoff) {
			report.Skipped++
			continue
		}

		age := time.Since(info.ModTime()).Round(time.Hour)
		if opts.DryRun {
			log.Info(fmt.Sprintf("[DRY RUN] Would remove: %s (age: %s)", dirPath, age))
			report.Removed = append(report.Removed, dirPath)
			continue
		}

		if err := os.RemoveAll(dirPath); err != nil {
			log.Error(fmt.Sprintf("Failed to remove %s", dirPath), err)
			report.Failed++
			continue
		}
		log.Info(fmt.Sprintf("Removed orphaned run directory: %s (age: %s)", dirPath, age))
		report.Removed = append(report.Removed, dirPath)
	}

	log.Info(fmt.Sprintf("Cleanup complete: %d removed, %d skipped, %d failed",
		len(report.Removed), report.Skipped, report.Failed))
	return report, nil
}
