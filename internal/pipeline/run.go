package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/glefebvre/episodebot/internal/errors"
	"github.com/glefebvre/episodebot/internal/external/telegram"
	"github.com/glefebvre/episodebot/internal/ledger"
	"github.com/glefebvre/episodebot/internal/models"
	"github.com/glefebvre/episodebot/internal/rendition"
	"github.com/glefebvre/episodebot/internal/stage"
	"github.com/glefebvre/episodebot/internal/staging"
	"github.com/glefebvre/episodebot/internal/tracker"
)

// Phase is a state of the release state machine
type Phase string

const (
	PhaseIdle              Phase = "idle"
	PhaseMetadataFetched   Phase = "metadata_fetched"
	PhasePlaceholderPosted Phase = "placeholder_posted"
	PhaseDownloading       Phase = "downloading"
	PhaseMerging           Phase = "merging"
	PhaseUploading         Phase = "uploading"
	PhasePostUpdated       Phase = "post_updated"
	PhaseFinalized         Phase = "finalized"
	PhaseAborted           Phase = "aborted"
)

// run is one execution of the pipeline for one title
type run struct {
	p          *Pipeline
	id         string
	title      string
	directives Directives
	phase      Phase
	started    time.Time

	pos   models.Position
	meta  *models.Metadata
	dirs  *staging.RunDirs
	state *tracker.State
	links []models.Link
}

func (r *run) execute(ctx context.Context) (outcome Outcome) {
	r.started = time.Now()
	outcome = Outcome{RunID: r.id, Title: r.title, Status: models.ReleaseStatusAborted}

	record, err := r.p.deps.Ledger.Get(ctx, r.title)
	if err != nil {
		outcome.Err = err
		r.p.logger.ErrorContext(ctx, "failed to read ledger", err)
		return outcome
	}
	r.pos = record.Position()
	outcome.Position = r.pos
	r.p.recordStart(ctx, r.id, r.title, r.pos)

	defer func() {
		if rec := recover(); rec != nil {
			outcome.Status = models.ReleaseStatusAborted
			outcome.Err = apperrors.New(apperrors.CodeInternal, fmt.Sprintf("release panicked: %v", rec))
		}
		outcome.Links = append([]models.Link(nil), r.links...)
		r.cleanup(ctx, outcome.Status == models.ReleaseStatusFinalized)
		r.report(ctx, outcome)
		r.p.recordFinish(ctx, outcome)
	}()

	if err := r.steps(ctx); err != nil {
		outcome.Err = err
		return outcome
	}

	if err := r.finalize(ctx); err != nil {
		outcome.Err = err
		if !apperrors.HasCode(err, apperrors.CodeLedgerPersistenceFailed) {
			return outcome
		}
	}
	outcome.Status = models.ReleaseStatusFinalized
	return outcome
}

func (r *run) steps(ctx context.Context) error {
	if err := r.fetchMetadata(ctx); err != nil {
		return err
	}
	if err := r.postPlaceholder(ctx); err != nil {
		return err
	}
	if err := r.download(ctx); err != nil {
		return err
	}

	jobs, audio, err := r.plan()
	if err != nil {
		return err
	}
	for i, job := range jobs {
		if err := r.publish(ctx, job); err != nil {
			return err
		}
		if i == len(jobs)-1 {
			removeFile(audio.Path)
		}
	}
	return nil
}

func (r *run) enter(ctx context.Context, phase Phase, fields map[string]interface{}) {
	from := r.phase
	r.phase = phase

	entry := map[string]interface{}{
		"from":     string(from),
		"to":       string(phase),
		"position": r.pos.String(),
	}
	for k, v := range fields {
		entry[k] = v
	}
	r.p.logger.WithFields(entry).DebugContext(ctx, "release phase changed")
}

func (r *run) fetchMetadata(ctx context.Context) error {
	meta, err := r.p.deps.Metadata.FetchMetadata(ctx, r.title)
	if err != nil {
		return ensureCode(err, apperrors.CodeMetadataUnavailable, "metadata lookup failed")
	}
	if meta == nil {
		return apperrors.New(apperrors.CodeMetadataUnavailable, "no metadata for title").
			WithContext("title", r.title)
	}
	if meta.DisplayTitle == "" {
		meta.DisplayTitle = r.title
	}
	r.meta = meta
	r.enter(ctx, PhaseMetadataFetched, map[string]interface{}{"display_title": meta.DisplayTitle})
	return nil
}

func (r *run) postPlaceholder(ctx context.Context) error {
	post, err := r.p.deps.Publisher.PostPlaceholder(ctx, r.p.cfg.UploadChatID, telegram.Placeholder{
		Text:     Caption(r.meta, r.pos),
		PhotoURL: r.meta.CoverImage,
	})
	if err != nil {
		return ensureCode(err, apperrors.CodePostFailed, "failed to publish status post")
	}

	state, err := r.p.registry.Begin(r.title, r.id, r.pos, post)
	if err != nil {
		return err
	}
	r.state = state
	r.enter(ctx, PhasePlaceholderPosted, map[string]interface{}{"message_id": post.MessageID})
	return nil
}

func (r *run) download(ctx context.Context) error {
	dirs, err := r.p.cfg.Layout.NewRun(r.id)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeDownloadFailed, "failed to prepare staging directories")
	}
	r.dirs = dirs
	r.enter(ctx, PhaseDownloading, map[string]interface{}{"staging": dirs.Root})

	logPath := r.p.cfg.Layout.LogPath(r.title)
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		logPath = ""
	}

	steps := []struct {
		name      string
		directive string
	}{
		{"download-video", r.directives.Video},
		{"download-audio", r.directives.Audio},
	}
	for _, step := range steps {
		cmd := stage.Command{
			Name:    step.name,
			Shell:   r.expand(step.directive),
			Dir:     dirs.Root,
			Env:     dirs.Env(),
			LogPath: logPath,
		}
		res, err := r.p.deps.Runner.Run(ctx, cmd)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeDownloadFailed, step.name+" could not run").
				WithContext("command", cmd.String())
		}
		if !res.Succeeded() {
			return apperrors.New(apperrors.CodeDownloadFailed, fmt.Sprintf("%s exited with code %d", step.name, res.ExitCode)).
				WithContext("command", cmd.String()).
				WithContext("output", res.Tail)
		}
		r.p.logger.WithFields(map[string]interface{}{
			"stage":       step.name,
			"duration_ms": res.Duration.Milliseconds(),
		}).InfoContext(ctx, "download finished")
	}
	return nil
}

// plan turns the downloaded files into rendition jobs and fixes the
// run's target to the number of jobs
func (r *run) plan() ([]rendition.Job, rendition.File, error) {
	videos, err := rendition.Scan(r.dirs.Video, r.p.cfg.VideoExtensions)
	if err != nil {
		return nil, rendition.File{}, apperrors.Wrap(err, apperrors.CodeNoInputFiles, "failed to scan video directory")
	}
	audios, err := rendition.Scan(r.dirs.Audio, r.p.cfg.AudioExtensions)
	if err != nil {
		return nil, rendition.File{}, apperrors.Wrap(err, apperrors.CodeNoInputFiles, "failed to scan audio directory")
	}
	if len(videos) == 0 {
		return nil, rendition.File{}, apperrors.New(apperrors.CodeNoInputFiles, "no video files downloaded").
			WithContext("dir", r.dirs.Video)
	}
	audio, ok := rendition.SelectAudio(audios)
	if !ok {
		return nil, rendition.File{}, apperrors.New(apperrors.CodeNoInputFiles, "no audio files downloaded").
			WithContext("dir", r.dirs.Audio)
	}

	jobs := rendition.Plan(videos, audio, r.p.cfg.QualityLabels, r.dirs.Merged, r.title, r.pos)
	if err := r.state.SetTarget(len(jobs)); err != nil {
		return nil, rendition.File{}, apperrors.Wrap(err, apperrors.CodeInternal, "failed to set rendition target")
	}
	return jobs, audio, nil
}

// publish merges, uploads and announces one rendition, then drops its
// source and output files
func (r *run) publish(ctx context.Context, job rendition.Job) error {
	fields := map[string]interface{}{"quality": job.Quality}

	r.enter(ctx, PhaseMerging, fields)
	output, err := r.p.deps.Merger.Merge(ctx, job)
	if err != nil {
		return ensureCode(err, apperrors.CodeMergeFailed, "merge failed")
	}

	r.enter(ctx, PhaseUploading, fields)
	caption := fmt.Sprintf("%s %s [%s]", r.displayTitle(), r.pos, job.Quality)
	uploaded, err := r.p.deps.Publisher.UploadFile(ctx, r.p.cfg.StorageChatID, output, caption)
	if err != nil {
		return ensureCode(err, apperrors.CodeUploadFailed, "upload failed")
	}

	links, err := r.p.registry.RecordRendition(r.state, job.Quality, uploaded.Link)
	if err != nil {
		return err
	}
	r.links = links

	if err := r.p.deps.Publisher.UpdateButtons(ctx, r.state.Post(), links); err != nil {
		return ensureCode(err, apperrors.CodePostFailed, "failed to update status post")
	}
	r.enter(ctx, PhasePostUpdated, map[string]interface{}{
		"quality":   job.Quality,
		"published": len(links),
		"target":    r.state.Target(),
	})

	removeFile(job.VideoPath)
	removeFile(output)
	return nil
}

func (r *run) finalize(ctx context.Context) error {
	if !r.state.IsComplete() {
		return apperrors.New(apperrors.CodeInternal, "release ended before all renditions were published").
			WithContext("published", len(r.links)).
			WithContext("target", r.state.Target())
	}

	record, err := r.p.deps.Ledger.AdvanceFrom(ctx, r.title, r.pos)
	if err != nil {
		if errors.Is(err, ledger.ErrStaleSnapshot) {
			return apperrors.Wrap(err, apperrors.CodeReleaseInProgress, "ledger moved during release")
		}
		if apperrors.HasCode(err, apperrors.CodeLedgerPersistenceFailed) {
			r.p.logger.ErrorContext(ctx, "episode advanced in memory only; reconcile the ledger store", err)
			r.enter(ctx, PhaseFinalized, nil)
		}
		return err
	}

	r.enter(ctx, PhaseFinalized, map[string]interface{}{"next": record.Position().String()})
	return nil
}

// cleanup runs on every exit path. A failed run keeps its directory only
// when configured to; it is never picked up by another run.
func (r *run) cleanup(ctx context.Context, finalized bool) {
	if r.state != nil {
		r.p.registry.End(r.state)
	}
	if r.dirs == nil {
		return
	}
	if !finalized && r.p.cfg.KeepOnFailure {
		r.p.logger.WithFields(map[string]interface{}{
			"staging": r.dirs.Root,
		}).InfoContext(ctx, "keeping staging directory for inspection")
		return
	}
	if err := r.dirs.Remove(); err != nil {
		r.p.logger.WarnContext(ctx, fmt.Sprintf("failed to remove staging directory %s: %v", r.dirs.Root, err))
	}
}

func (r *run) report(ctx context.Context, outcome Outcome) {
	fields := map[string]interface{}{
		"position":    outcome.Position.String(),
		"status":      string(outcome.Status),
		"renditions":  len(outcome.Links),
		"duration_ms": time.Since(r.started).Milliseconds(),
	}

	if outcome.Status == models.ReleaseStatusFinalized {
		if outcome.Err != nil {
			r.p.logger.WithFields(fields).ErrorContext(ctx, "release finalized with errors", outcome.Err)
			return
		}
		r.p.logger.WithFields(fields).InfoContext(ctx, "release finalized")
		return
	}

	if r.phase != PhaseAborted {
		fields["phase"] = string(r.phase)
		r.enter(ctx, PhaseAborted, nil)
	}
	fields["failure_code"] = string(apperrors.GetErrorCode(outcome.Err))
	r.p.logger.WithFields(fields).ErrorContext(ctx, "release aborted", outcome.Err)
}

// displayTitle is the show name used on both posts
func (r *run) displayTitle() string {
	if r.meta != nil && strings.TrimSpace(r.meta.DisplayTitle) != "" {
		return r.meta.DisplayTitle
	}
	return r.title
}

// expand substitutes the run placeholders into a directive. Text values are
// single-quoted for sh so titles and paths stay one word.
func (r *run) expand(directive string) string {
	replacer := strings.NewReplacer(
		"{video_dir}", shellQuote(r.dirs.Video),
		"{audio_dir}", shellQuote(r.dirs.Audio),
		"{merged_dir}", shellQuote(r.dirs.Merged),
		"{title}", shellQuote(r.title),
		"{season}", strconv.Itoa(r.pos.Season),
		"{episode}", strconv.Itoa(r.pos.Episode),
	)
	return replacer.Replace(directive)
}

func shellQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}

func ensureCode(err error, code apperrors.ErrorCode, message string) error {
	if apperrors.HasCode(err, code) {
		return err
	}
	return apperrors.Wrap(err, code, message)
}

func removeFile(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}
