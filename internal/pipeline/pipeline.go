package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	apperrors "github.com/glefebvre/episodebot/internal/errors"
	"github.com/glefebvre/episodebot/internal/external/telegram"
	"github.com/glefebvre/episodebot/internal/history"
	"github.com/glefebvre/episodebot/internal/logger"
	"github.com/glefebvre/episodebot/internal/models"
	"github.com/glefebvre/episodebot/internal/rendition"
	"github.com/glefebvre/episodebot/internal/stage"
	"github.com/glefebvre/episodebot/internal/staging"
	"github.com/glefebvre/episodebot/internal/tracker"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// MetadataSource looks up the descriptive information of a title
type MetadataSource interface {
	FetchMetadata(ctx context.Context, title string) (*models.Metadata, error)
}

// Publisher owns the status post and the destination store
type Publisher interface {
	PostPlaceholder(ctx context.Context, chatID int64, post telegram.Placeholder) (models.PostRef, error)
	UpdateButtons(ctx context.Context, ref models.PostRef, links []models.Link) error
	UploadFile(ctx context.Context, chatID int64, path, caption string) (models.UploadResult, error)
}

// Merger produces one rendition file
type Merger interface {
	Merge(ctx context.Context, job rendition.Job) (string, error)
}

// Ledger is the episode counter the pipeline reads at start and advances on finalize
type Ledger interface {
	Get(ctx context.Context, title string) (models.EpisodeRecord, error)
	AdvanceFrom(ctx context.Context, title string, snapshot models.Position) (models.EpisodeRecord, error)
}

// Directives are the two download commands of a release. Both may use the
// placeholders {video_dir}, {audio_dir}, {merged_dir}, {title}, {season}
// and {episode}.
type Directives struct {
	Video string
	Audio string
}

// Config holds pipeline settings
type Config struct {
	UploadChatID    int64
	StorageChatID   int64
	Layout          staging.Layout
	VideoExtensions []string
	AudioExtensions []string
	QualityLabels   []string
	KeepOnFailure   bool
}

// Deps are the collaborators of the pipeline. History is optional.
type Deps struct {
	Ledger    Ledger
	Metadata  MetadataSource
	Publisher Publisher
	Runner    stage.Runner
	Merger    Merger
	History   history.Recorder
}

// Outcome is the terminal result of one run
type Outcome struct {
	RunID    string
	Title    string
	Position models.Position
	Status   models.ReleaseStatus
	Links    []models.Link
	Err      error
}

// Pipeline releases the next episode of a title
type Pipeline struct {
	cfg      Config
	deps     Deps
	registry *tracker.Registry
	logger   *logger.Logger

	mu       sync.Mutex
	inflight map[string]string
}

// New creates a pipeline
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Ledger == nil || deps.Metadata == nil || deps.Publisher == nil || deps.Runner == nil || deps.Merger == nil {
		return nil, apperrors.New(apperrors.CodeConfig, "pipeline requires ledger, metadata, publisher, runner and merger")
	}
	if len(cfg.QualityLabels) == 0 {
		return nil, apperrors.ConfigError("at least one quality label is required", nil)
	}
	if len(cfg.VideoExtensions) == 0 || len(cfg.AudioExtensions) == 0 {
		return nil, apperrors.ConfigError("video and audio extensions are required", nil)
	}
	if cfg.Layout.Root == "" {
		return nil, apperrors.ConfigError("staging root is required", nil)
	}

	return &Pipeline{
		cfg:      cfg,
		deps:     deps,
		registry: tracker.NewRegistry(len(cfg.QualityLabels)),
		logger:   logger.AppLogger(),
		inflight: make(map[string]string),
	}, nil
}

// Active returns the runs currently between placeholder and terminal state
func (p *Pipeline) Active() []tracker.Snapshot {
	return p.registry.Active()
}

// Running reports whether title has a run in this process
func (p *Pipeline) Running(title string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inflight[title]
	return ok
}

// Release runs the whole pipeline for title's next episode. It never
// panics or returns early without cleaning its staging directory; the
// ledger only moves when the Outcome is finalized.
func (p *Pipeline) Release(ctx context.Context, title string, directives Directives) Outcome {
	runID := uuid.New().String()
	ctx = logger.ContextWithRunID(ctx, runID)
	ctx = logger.ContextWithTitle(ctx, title)

	outcome := Outcome{RunID: runID, Title: title, Status: models.ReleaseStatusAborted}

	if err := p.claim(title, runID); err != nil {
		outcome.Err = err
		p.logger.WithFields(map[string]interface{}{
			"title": title,
		}).WarnContext(ctx, "release rejected: already in progress")
		return outcome
	}
	defer p.unclaim(title)

	lock, err := p.lockTitle(title)
	if err != nil {
		outcome.Err = err
		p.logger.ErrorContext(ctx, "release rejected", err)
		return outcome
	}
	defer func() { _ = lock.Unlock() }()

	r := &run{
		p:          p,
		id:         runID,
		title:      title,
		directives: directives,
		phase:      PhaseIdle,
	}
	return r.execute(ctx)
}

func (p *Pipeline) claim(title, runID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.inflight[title]; ok {
		return apperrors.New(apperrors.CodeReleaseInProgress, "release already in progress").
			WithContext("title", title).
			WithContext("run_id", existing)
	}
	p.inflight[title] = runID
	return nil
}

func (p *Pipeline) unclaim(title string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, title)
}

// lockTitle takes the cross-process lock so two daemons sharing a staging
// root cannot release the same title at once
func (p *Pipeline) lockTitle(title string) (*flock.Flock, error) {
	path := p.cfg.Layout.LockPath(title)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to create lock directory")
	}

	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to acquire title lock").
			WithContext("lock", path)
	}
	if !ok {
		return nil, apperrors.New(apperrors.CodeReleaseInProgress, fmt.Sprintf("title locked by another process: %s", path)).
			WithContext("title", title)
	}
	return lock, nil
}

func (p *Pipeline) recordStart(ctx context.Context, runID, title string, pos models.Position) {
	if p.deps.History == nil {
		return
	}
	if err := p.deps.History.Start(ctx, runID, title, pos); err != nil {
		p.logger.WarnContext(ctx, fmt.Sprintf("failed to record run start: %v", err))
	}
}

func (p *Pipeline) recordFinish(ctx context.Context, outcome Outcome) {
	if p.deps.History == nil {
		return
	}
	result := history.Result{
		Status:     outcome.Status,
		Renditions: len(outcome.Links),
		Err:        outcome.Err,
	}
	if outcome.Err != nil {
		result.FailureCode = string(apperrors.GetErrorCode(outcome.Err))
	}
	// the run context may already be cancelled; the record must still land
	if err := p.deps.History.Finish(context.WithoutCancel(ctx), outcome.RunID, result); err != nil {
		p.logger.WarnContext(ctx, fmt.Sprintf("failed to record run outcome: %v", err))
	}
}
