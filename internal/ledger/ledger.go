package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/glefebvre/episodebot/internal/errors"
	"github.com/glefebvre/episodebot/internal/logger"
	"github.com/glefebvre/episodebot/internal/models"
)

// ErrStaleSnapshot is returned by AdvanceFrom when the title has moved past the snapshot
var ErrStaleSnapshot = errors.New("ledger position differs from snapshot")

// Ledger is the durable title -> (season, episode) counter. Reads and writes
// for one title are serialized; different titles proceed independently.
// The store is authoritative and is read on every call, so several processes
// can share it. A record is only served from memory while it is ahead of the
// store because its save failed.
type Ledger struct {
	store Store
	log   *logger.Logger

	mu      sync.Mutex
	records map[string]models.EpisodeRecord
	dirty   map[string]bool
	locks   map[string]*sync.Mutex
}

// New creates a ledger on top of store
func New(store Store) *Ledger {
	return &Ledger{
		store:   store,
		log:     logger.AppLogger(),
		records: make(map[string]models.EpisodeRecord),
		dirty:   make(map[string]bool),
		locks:   make(map[string]*sync.Mutex),
	}
}

func (l *Ledger) titleLock(title string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[title]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[title] = lock
	}
	return lock
}

// current loads the record from the store, or creates the default when the
// store has none. The caller holds the title lock.
func (l *Ledger) current(ctx context.Context, title string) (models.EpisodeRecord, error) {
	loaded, err := l.store.Load(ctx, title)
	if err != nil {
		return models.EpisodeRecord{}, apperrors.DatabaseError("failed to load ledger record", err).
			WithContext("title", title)
	}
	return l.resolve(title, loaded), nil
}

// resolve picks between the stored record and an unsaved in-memory one
func (l *Ledger) resolve(title string, loaded *models.EpisodeRecord) models.EpisodeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cached, ok := l.records[title]; ok && l.dirty[title] {
		if loaded == nil || ahead(cached.Position(), loaded.Position()) {
			return cached
		}
		delete(l.dirty, title)
	}

	record := models.EpisodeRecord{
		Title:   title,
		Season:  models.DefaultPosition.Season,
		Episode: models.DefaultPosition.Episode,
	}
	if loaded != nil {
		record = *loaded
	}
	l.records[title] = record
	return record
}

func ahead(a, b models.Position) bool {
	if a.Season != b.Season {
		return a.Season > b.Season
	}
	return a.Episode > b.Episode
}

func (l *Ledger) remember(record models.EpisodeRecord, dirty bool) {
	l.mu.Lock()
	l.records[record.Title] = record
	if dirty {
		l.dirty[record.Title] = true
	} else {
		delete(l.dirty, record.Title)
	}
	l.mu.Unlock()
}

func validateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return apperrors.ValidationError("title must not be empty")
	}
	return nil
}

// Get returns the current record for title. Unknown titles start at S01E01;
// that default is not persisted until the first Advance.
func (l *Ledger) Get(ctx context.Context, title string) (models.EpisodeRecord, error) {
	if err := validateTitle(title); err != nil {
		return models.EpisodeRecord{}, err
	}

	lock := l.titleLock(title)
	lock.Lock()
	defer lock.Unlock()

	return l.current(ctx, title)
}

// Advance increments the episode of title by one and persists it. On a
// persistence failure the in-memory record keeps the new value and the
// error carries CodeLedgerPersistenceFailed.
func (l *Ledger) Advance(ctx context.Context, title string) (models.EpisodeRecord, error) {
	if err := validateTitle(title); err != nil {
		return models.EpisodeRecord{}, err
	}

	lock := l.titleLock(title)
	lock.Lock()
	defer lock.Unlock()

	record, err := l.current(ctx, title)
	if err != nil {
		return models.EpisodeRecord{}, err
	}
	return l.increment(ctx, record)
}

// AdvanceFrom is Advance guarded by a compare: it only increments when the
// title is still at snapshot, so replaying a finalize cannot skip an episode.
func (l *Ledger) AdvanceFrom(ctx context.Context, title string, snapshot models.Position) (models.EpisodeRecord, error) {
	if err := validateTitle(title); err != nil {
		return models.EpisodeRecord{}, err
	}

	lock := l.titleLock(title)
	lock.Lock()
	defer lock.Unlock()

	record, err := l.current(ctx, title)
	if err != nil {
		return models.EpisodeRecord{}, err
	}
	if record.Position() != snapshot {
		return record, fmt.Errorf("%w: %s is at %s, snapshot %s", ErrStaleSnapshot, title, record.Position(), snapshot)
	}
	return l.increment(ctx, record)
}

// increment must be called with the title lock held
func (l *Ledger) increment(ctx context.Context, record models.EpisodeRecord) (models.EpisodeRecord, error) {
	previous := record.Position()
	record.Episode++
	record.UpdatedAt = time.Now()

	if err := l.store.Save(ctx, record); err != nil {
		l.remember(record, true)
		l.log.WithFields(map[string]interface{}{
			"episode":  record.Episode,
			"previous": previous.String(),
		}).ErrorContext(ctx, "ledger advanced in memory but not persisted", err)
		return record, apperrors.Wrap(err, apperrors.CodeLedgerPersistenceFailed, "failed to persist ledger record").
			WithContext("title", record.Title).
			WithContext("position", record.Position().String())
	}

	l.log.WithFields(map[string]interface{}{
		"previous": previous.String(),
		"current":  record.Position().String(),
	}).InfoContext(ctx, "ledger advanced")

	l.remember(record, false)
	return record, nil
}

// Seed stores an initial position for title when the ledger has none. It
// reports whether a record was created.
func (l *Ledger) Seed(ctx context.Context, title string, season, episode int) (models.EpisodeRecord, bool, error) {
	if err := validateTitle(title); err != nil {
		return models.EpisodeRecord{}, false, err
	}
	if season < 1 || episode < 1 {
		return models.EpisodeRecord{}, false, apperrors.ValidationError("season and episode must be at least 1").
			WithContext("title", title)
	}

	lock := l.titleLock(title)
	lock.Lock()
	defer lock.Unlock()

	existing, err := l.store.Load(ctx, title)
	if err != nil {
		return models.EpisodeRecord{}, false, apperrors.DatabaseError("failed to load ledger record", err).
			WithContext("title", title)
	}
	if existing != nil {
		return l.resolve(title, existing), false, nil
	}

	record := models.EpisodeRecord{Title: title, Season: season, Episode: episode}
	if err := l.store.Save(ctx, record); err != nil {
		return models.EpisodeRecord{}, false, apperrors.Wrap(err, apperrors.CodeLedgerPersistenceFailed, "failed to persist seed record").
			WithContext("title", title)
	}

	l.remember(record, false)
	return record, true, nil
}

// List returns persisted records merged with titles only known in memory,
// ordered by title. Unsaved values ahead of the store win.
func (l *Ledger) List(ctx context.Context) ([]models.EpisodeRecord, error) {
	persisted, err := l.store.List(ctx)
	if err != nil {
		return nil, apperrors.DatabaseError("failed to list ledger records", err)
	}

	byTitle := make(map[string]models.EpisodeRecord, len(persisted))
	for _, record := range persisted {
		byTitle[record.Title] = record
	}

	l.mu.Lock()
	for title, record := range l.records {
		stored, ok := byTitle[title]
		if !ok || (l.dirty[title] && ahead(record.Position(), stored.Position())) {
			byTitle[title] = record
		}
	}
	l.mu.Unlock()

	records := make([]models.EpisodeRecord, 0, len(byTitle))
	for _, record := range byTitle {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Title < records[j].Title })
	return records, nil
}
