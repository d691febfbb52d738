package testing

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glefebvre/episodebot/internal/database"
	"github.com/glefebvre/episodebot/internal/models"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestDB creates an in-memory SQLite database for testing
func TestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	// every pooled connection to :memory: would get its own empty database
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get database instance: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	return db
}

// CleanupDB removes all records from test database tables
func CleanupDB(t *testing.T, db *gorm.DB) {
	t.Helper()

	db.Exec("DELETE FROM release_logs")
	db.Exec("DELETE FROM episode_records")
}

// CreateEpisodeRecord persists a ledger record, Solo Leveling S01E07 unless overridden
func CreateEpisodeRecord(db *gorm.DB, overrides ...func(*models.EpisodeRecord)) *models.EpisodeRecord {
	record := &models.EpisodeRecord{
		Title:     "Solo Leveling",
		Season:    1,
		Episode:   7,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	for _, override := range overrides {
		override(record)
	}

	db.Create(record)
	return record
}

// CreateReleaseLog persists a finalized run for Solo Leveling unless overridden
func CreateReleaseLog(db *gorm.DB, overrides ...func(*models.ReleaseLog)) *models.ReleaseLog {
	started := time.Now().Add(-5 * time.Minute)
	completed := time.Now()
	entry := &models.ReleaseLog{
		RunID:       uuid.NewString(),
		Title:       "Solo Leveling",
		Season:      1,
		Episode:     7,
		Status:      models.ReleaseStatusFinalized,
		Renditions:  3,
		StartedAt:   started,
		CompletedAt: &completed,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	for _, override := range overrides {
		override(entry)
	}

	db.Create(entry)
	return entry
}

// WithTitle sets the title of a ledger record
func WithTitle(title string) func(*models.EpisodeRecord) {
	return func(record *models.EpisodeRecord) {
		record.Title = title
	}
}

// WithPosition sets season and episode of a ledger record
func WithPosition(season, episode int) func(*models.EpisodeRecord) {
	return func(record *models.EpisodeRecord) {
		record.Season = season
		record.Episode = episode
	}
}

// WithReleaseTitle sets the title of a run history entry
func WithReleaseTitle(title string) func(*models.ReleaseLog) {
	return func(entry *models.ReleaseLog) {
		entry.Title = title
	}
}

// WithReleaseStatus sets the status of a run history entry
func WithReleaseStatus(status models.ReleaseStatus) func(*models.ReleaseLog) {
	return func(entry *models.ReleaseLog) {
		entry.Status = status
	}
}

// WriteSizedFile creates a sparse file of the given size under dir and returns its path
func WriteSizedFile(t *testing.T, dir, name string, size int64) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create %s: %v", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create %s: %v", path, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("failed to close %s: %v", path, err)
	}
	if err := os.Truncate(path, size); err != nil {
		t.Fatalf("failed to size %s: %v", path, err)
	}
	return path
}

// AssertCount verifies the count of records in a table
func AssertCount(t *testing.T, db *gorm.DB, model interface{}, expected int64, message string) {
	t.Helper()
	var count int64
	db.Model(model).Count(&count)
	if count != expected {
		t.Fatalf("%s: expected count %d, got %d", message, expected, count)
	}
}

// AssertNoFiles fails the test if dir still contains regular files
func AssertNoFiles(t *testing.T, dir string) {
	t.Helper()
	var leftovers []string
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			leftovers = append(leftovers, path)
		}
		return nil
	})
	if len(leftovers) > 0 {
		t.Fatalf("expected no files under %s, found %v", dir, leftovers)
	}
}

// MB is a megabyte in bytes, for sizing media fixtures
const MB int64 = 1 << 20
