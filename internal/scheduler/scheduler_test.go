package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/glefebvre/episodebot/internal/config"
	apperrors "github.com/glefebvre/episodebot/internal/errors"
	"github.com/glefebvre/episodebot/internal/models"
	"github.com/glefebvre/episodebot/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	title      string
	directives pipeline.Directives
}

type fakeReleaser struct {
	mu    sync.Mutex
	calls []call
	block chan struct{}
	err   error
}

func (f *fakeReleaser) Release(_ context.Context, title string, d pipeline.Directives) pipeline.Outcome {
	f.mu.Lock()
	f.calls = append(f.calls, call{title: title, directives: d})
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	status := models.ReleaseStatusFinalized
	if f.err != nil {
		status = models.ReleaseStatusAborted
	}
	return pipeline.Outcome{Title: title, Status: status, Err: f.err}
}

func (f *fakeReleaser) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func kolkata(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	return loc
}

var soloLeveling = config.JobConfig{
	Title:        "Solo Leveling",
	Cron:         "0 9 * * wed",
	VideoCommand: "python animepahe_dl.py --anime solo-leveling --latest",
	AudioCommand: "python crunchy_audio_dl.py --anime solo-leveling",
}

var naruto = config.JobConfig{
	Title:        "Naruto",
	Cron:         "0 22 * * wed",
	VideoCommand: "python nx_downloader.py --anime naruto --latest",
	AudioCommand: "python crunchy_audio_dl.py --anime naruto",
}

func TestAdd_ComputesNextFiringInLocation(t *testing.T) {
	loc := kolkata(t)
	s := New(&fakeReleaser{}, loc)

	require.NoError(t, s.Add(soloLeveling))
	require.NoError(t, s.Add(naruto))

	entries := s.Entries()
	require.Len(t, entries, 2)
	for _, e := range entries {
		next := e.Next.In(loc)
		assert.Equal(t, time.Wednesday, next.Weekday(), e.Title)
		assert.True(t, next.After(time.Now()), e.Title)
	}

	byTitle := map[string]Entry{}
	for _, e := range entries {
		byTitle[e.Title] = e
	}
	assert.Equal(t, 9, byTitle["Solo Leveling"].Next.In(loc).Hour())
	assert.Equal(t, 22, byTitle["Naruto"].Next.In(loc).Hour())
	assert.True(t, entries[0].Next.Before(entries[1].Next) || entries[0].Next.Equal(entries[1].Next))
}

func TestAdd_RejectsInvalidCron(t *testing.T) {
	s := New(&fakeReleaser{}, time.UTC)

	job := soloLeveling
	job.Cron = "every wednesday"
	err := s.Add(job)

	assert.Equal(t, apperrors.CodeConfig, apperrors.GetErrorCode(err))
	assert.Empty(t, s.Entries())
}

func TestAdd_RejectsDuplicateTitle(t *testing.T) {
	s := New(&fakeReleaser{}, time.UTC)

	require.NoError(t, s.Add(soloLeveling))
	err := s.Add(soloLeveling)

	assert.True(t, apperrors.IsValidationError(err))
}

func TestFire_PassesDirectives(t *testing.T) {
	releaser := &fakeReleaser{}
	s := New(releaser, time.UTC)

	s.fire(naruto)

	require.Len(t, releaser.calls, 1)
	assert.Equal(t, "Naruto", releaser.calls[0].title)
	assert.Equal(t, pipeline.Directives{
		Video: "python nx_downloader.py --anime naruto --latest",
		Audio: "python crunchy_audio_dl.py --anime naruto",
	}, releaser.calls[0].directives)
}

func TestFire_AbortedReleaseDoesNotPanic(t *testing.T) {
	releaser := &fakeReleaser{err: apperrors.New(apperrors.CodeDownloadFailed, "download-video exited with code 1")}
	s := New(releaser, time.UTC)

	assert.NotPanics(t, func() { s.fire(soloLeveling) })
	assert.Equal(t, 1, releaser.count())
}

func TestTrigger(t *testing.T) {
	releaser := &fakeReleaser{}
	s := New(releaser, time.UTC)
	require.NoError(t, s.Add(soloLeveling))

	assert.False(t, s.Trigger("Bleach"))
	assert.True(t, s.Trigger("Solo Leveling"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, 1, releaser.count())
}

func TestStop_WaitsForTriggeredRelease(t *testing.T) {
	releaser := &fakeReleaser{block: make(chan struct{})}
	s := New(releaser, time.UTC)
	require.NoError(t, s.Add(naruto))
	s.Start(context.Background())

	require.True(t, s.Trigger("Naruto"))
	require.Eventually(t, func() bool { return releaser.count() == 1 }, time.Second, 5*time.Millisecond)

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Stop(short)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	close(releaser.block)
	ctx, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	assert.NoError(t, s.Stop(ctx))
}

func TestKVFields(t *testing.T) {
	fields := kvFields([]interface{}{"entry", 3, "now", "2024-01-10", "dangling"})
	assert.Equal(t, map[string]interface{}{"entry": 3, "now": "2024-01-10"}, fields)
}
