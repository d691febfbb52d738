package history

import (
	"context"
	"time"

	"github.com/glefebvre/episodebot/internal/models"
	"gorm.io/gorm"
)

// Recorder stores the lifecycle of release runs
type Recorder interface {
	Start(ctx context.Context, runID, title string, pos models.Position) error
	Finish(ctx context.Context, runID string, result Result) error
}

// Result is the terminal state of a run
type Result struct {
	Status      models.ReleaseStatus
	FailureCode string
	Renditions  int
	Err         error
}

// Store persists run history in the release_logs table
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore creates a history store backed by db
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Start records a run as running
func (s *Store) Start(ctx context.Context, runID, title string, pos models.Position) error {
	entry := models.ReleaseLog{
		RunID:     runID,
		Title:     title,
		Season:    pos.Season,
		Episode:   pos.Episode,
		Status:    models.ReleaseStatusRunning,
		StartedAt: s.now(),
	}
	return s.db.WithContext(ctx).Create(&entry).Error
}

// Finish stores the outcome of runID
func (s *Store) Finish(ctx context.Context, runID string, result Result) error {
	completed := s.now()
	updates := map[string]interface{}{
		"status":       result.Status,
		"renditions":   result.Renditions,
		"completed_at": &completed,
	}
	if result.FailureCode != "" {
		updates["failure_code"] = result.FailureCode
	}
	if result.Err != nil {
		updates["error_message"] = result.Err.Error()
	}

	res := s.db.WithContext(ctx).Model(&models.ReleaseLog{}).Where("run_id = ?", runID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Recent returns the latest runs, newest first. limit <= 0 means 20.
func (s *Store) Recent(ctx context.Context, limit int) ([]models.ReleaseLog, error) {
	return s.find(ctx, s.db.WithContext(ctx), limit)
}

// ForTitle returns the latest runs of title, newest first
func (s *Store) ForTitle(ctx context.Context, title string, limit int) ([]models.ReleaseLog, error) {
	return s.find(ctx, s.db.WithContext(ctx).Where("title = ?", title), limit)
}

// Get returns the run with runID
func (s *Store) Get(ctx context.Context, runID string) (*models.ReleaseLog, error) {
	var entry models.ReleaseLog
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// MarkInterrupted closes runs left in the running state by a previous
// process, typically after a crash or forced shutdown
func (s *Store) MarkInterrupted(ctx context.Context) (int64, error) {
	completed := s.now()
	message := "process exited before the run finished"
	res := s.db.WithContext(ctx).Model(&models.ReleaseLog{}).
		Where("status = ?", models.ReleaseStatusRunning).
		Updates(map[string]interface{}{
			"status":        models.ReleaseStatusAborted,
			"error_message": message,
			"completed_at":  &completed,
		})
	return res.RowsAffected, res.Error
}

func (s *Store) find(_ context.Context, query *gorm.DB, limit int) ([]models.ReleaseLog, error) {
	if limit <= 0 {
		limit = 20
	}
	var entries []models.ReleaseLog
	if err := query.Order("started_at DESC").Order("id DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
