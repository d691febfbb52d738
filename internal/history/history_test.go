package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glefebvre/episodebot/internal/models"
	testutil "github.com/glefebvre/episodebot/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestStartAndFinish(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testutil.TestDB(t))

	require.NoError(t, store.Start(ctx, "run-1", "Solo Leveling", models.Position{Season: 1, Episode: 7}))

	entry, err := store.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReleaseStatusRunning, entry.Status)
	assert.Nil(t, entry.CompletedAt)

	require.NoError(t, store.Finish(ctx, "run-1", Result{
		Status:      models.ReleaseStatusAborted,
		FailureCode: "UPLOAD_FAILED",
		Renditions:  1,
		Err:         errors.New("upload of 720p failed"),
	}))

	entry, err = store.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReleaseStatusAborted, entry.Status)
	assert.Equal(t, 1, entry.Renditions)
	require.NotNil(t, entry.FailureCode)
	assert.Equal(t, "UPLOAD_FAILED", *entry.FailureCode)
	require.NotNil(t, entry.ErrorMessage)
	assert.Equal(t, "upload of 720p failed", *entry.ErrorMessage)
	assert.NotNil(t, entry.CompletedAt)
}

func TestFinish_UnknownRun(t *testing.T) {
	store := NewStore(testutil.TestDB(t))

	err := store.Finish(context.Background(), "missing", Result{Status: models.ReleaseStatusFinalized})
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRecentAndForTitle(t *testing.T) {
	ctx := context.Background()
	db := testutil.TestDB(t)
	store := NewStore(db)

	base := time.Now().Add(-time.Hour)
	testutil.CreateReleaseLog(db, func(e *models.ReleaseLog) { e.StartedAt = base })
	testutil.CreateReleaseLog(db, testutil.WithReleaseTitle("Naruto"), func(e *models.ReleaseLog) { e.StartedAt = base.Add(time.Minute) })
	testutil.CreateReleaseLog(db, testutil.WithReleaseStatus(models.ReleaseStatusAborted), func(e *models.ReleaseLog) { e.StartedAt = base.Add(2 * time.Minute) })

	recent, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, models.ReleaseStatusAborted, recent[0].Status)
	assert.Equal(t, "Naruto", recent[1].Title)

	solo, err := store.ForTitle(ctx, "Solo Leveling", 0)
	require.NoError(t, err)
	assert.Len(t, solo, 2)
}

func TestMarkInterrupted(t *testing.T) {
	ctx := context.Background()
	db := testutil.TestDB(t)
	store := NewStore(db)

	require.NoError(t, store.Start(ctx, "run-crashed", "Naruto", models.Position{Season: 5, Episode: 188}))
	testutil.CreateReleaseLog(db)

	n, err := store.MarkInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	entry, err := store.Get(ctx, "run-crashed")
	require.NoError(t, err)
	assert.Equal(t, models.ReleaseStatusAborted, entry.Status)
}
