package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/glefebvre/episodebot/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store persists ledger records keyed by title
type Store interface {
	// Load returns nil, nil when the title has no record
	Load(ctx context.Context, title string) (*models.EpisodeRecord, error)
	Save(ctx context.Context, record models.EpisodeRecord) error
	List(ctx context.Context) ([]models.EpisodeRecord, error)
}

// GormStore keeps records in the episode_records table
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a store backed by db
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Load fetches the record for title
func (s *GormStore) Load(ctx context.Context, title string) (*models.EpisodeRecord, error) {
	var record models.EpisodeRecord
	err := s.db.WithContext(ctx).Where("title = ?", title).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Save upserts the record on its title
func (s *GormStore) Save(ctx context.Context, record models.EpisodeRecord) error {
	row := models.EpisodeRecord{
		Title:   record.Title,
		Season:  record.Season,
		Episode: record.Episode,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "title"}},
		DoUpdates: clause.AssignmentColumns([]string{"season", "episode", "updated_at"}),
	}).Create(&row).Error
}

// List returns every persisted record ordered by title
func (s *GormStore) List(ctx context.Context) ([]models.EpisodeRecord, error) {
	var records []models.EpisodeRecord
	if err := s.db.WithContext(ctx).Order("title").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// MemoryStore is a non-durable Store for tests and dry runs
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]models.EpisodeRecord
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]models.EpisodeRecord)}
}

// Load fetches the record for title
func (s *MemoryStore) Load(_ context.Context, title string) (*models.EpisodeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[title]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

// Save stores a copy of record
func (s *MemoryStore) Save(_ context.Context, record models.EpisodeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[record.Title] = record
	return nil
}

// List returns every record ordered by title
func (s *MemoryStore) List(_ context.Context) ([]models.EpisodeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]models.EpisodeRecord, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Title < records[j].Title })
	return records, nil
}
