package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/glefebvre/episodebot/internal/config"
	apperrors "github.com/glefebvre/episodebot/internal/errors"
	"github.com/glefebvre/episodebot/internal/logger"
	"github.com/glefebvre/episodebot/internal/pipeline"
	"github.com/robfig/cron/v3"
)

// Releaser runs one release
type Releaser interface {
	Release(ctx context.Context, title string, directives pipeline.Directives) pipeline.Outcome
}

// Entry describes a registered job
type Entry struct {
	Title string    `json:"title"`
	Cron  string    `json:"cron"`
	Next  time.Time `json:"next"`
	Prev  time.Time `json:"prev,omitempty"`
}

type registered struct {
	id  cron.EntryID
	job config.JobConfig
}

// Scheduler fires configured releases at wall-clock times
type Scheduler struct {
	cron     *cron.Cron
	releaser Releaser
	logger   *logger.Logger

	mu   sync.Mutex
	ctx  context.Context
	jobs map[string]registered
	wg   sync.WaitGroup
}

// New creates a scheduler evaluating cron expressions in loc
func New(releaser Releaser, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	log := logger.AppLogger()
	adapter := cronLogger{log: log}

	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
		),
		releaser: releaser,
		logger:   log,
		ctx:      context.Background(),
		jobs:     make(map[string]registered),
	}
}

// Add registers job. A title can only be registered once.
func (s *Scheduler) Add(job config.JobConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.Title]; ok {
		return apperrors.ValidationError(fmt.Sprintf("job already registered: %s", job.Title))
	}

	id, err := s.cron.AddFunc(job.Cron, func() { s.fire(job) })
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeConfig, "invalid cron expression").
			WithContext("title", job.Title).
			WithContext("cron", job.Cron)
	}
	s.jobs[job.Title] = registered{id: id, job: job}

	s.logger.WithFields(map[string]interface{}{
		"title": job.Title,
		"cron":  job.Cron,
		"next":  s.next(s.cron.Entry(id)),
	}).Info("release job registered")
	return nil
}

// Start begins firing jobs; releases run with ctx
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.WithFields(map[string]interface{}{
		"jobs":     len(s.jobs),
		"location": s.cron.Location().String(),
	}).Info("scheduler started")
}

// Stop prevents new firings and waits for running releases, or for ctx
func (s *Scheduler) Stop(ctx context.Context) error {
	cronDone := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// Job returns the registered job for title
func (s *Scheduler) Job(title string) (config.JobConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.jobs[title]
	return r.job, ok
}

// Trigger starts title's release now, outside its schedule. It reports
// false when the title has no registered job.
func (s *Scheduler) Trigger(title string) bool {
	job, ok := s.Job(title)
	if !ok {
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.fire(job)
	}()
	return true
}

// Entries lists registered jobs ordered by next firing
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]Entry, 0, len(s.jobs))
	for title, r := range s.jobs {
		e := s.cron.Entry(r.id)
		entries = append(entries, Entry{
			Title: title,
			Cron:  r.job.Cron,
			Next:  s.next(e),
			Prev:  e.Prev,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Next.Equal(entries[j].Next) {
			return entries[i].Title < entries[j].Title
		}
		return entries[i].Next.Before(entries[j].Next)
	})
	return entries
}

// next falls back to computing the firing time for entries of a stopped cron
func (s *Scheduler) next(e cron.Entry) time.Time {
	if !e.Next.IsZero() || e.Schedule == nil {
		return e.Next
	}
	return e.Schedule.Next(time.Now().In(s.cron.Location()))
}

func (s *Scheduler) fire(job config.JobConfig) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	s.logger.WithFields(map[string]interface{}{
		"title": job.Title,
	}).InfoContext(ctx, "release triggered")

	outcome := s.releaser.Release(ctx, job.Title, pipeline.Directives{
		Video: job.VideoCommand,
		Audio: job.AudioCommand,
	})

	fields := map[string]interface{}{
		"title":    job.Title,
		"run_id":   outcome.RunID,
		"status":   string(outcome.Status),
		"position": outcome.Position.String(),
		"links":    len(outcome.Links),
	}
	if outcome.Err != nil {
		s.logger.WithFields(fields).WarnContext(ctx, fmt.Sprintf("scheduled release did not finalize: %v", outcome.Err))
		return
	}
	s.logger.WithFields(fields).InfoContext(ctx, "scheduled release finalized")
}

// cronLogger adapts the app logger to cron.Logger
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(kvFields(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithFields(kvFields(keysAndValues)).Error("cron: "+msg, err)
}

func kvFields(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
