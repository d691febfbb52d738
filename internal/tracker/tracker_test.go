package tracker

import (
	"fmt"
	"testing"

	apperrors "github.com/glefebvre/episodebot/internal/errors"
	"github.com/glefebvre/episodebot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	soloLeveling = models.Position{Season: 1, Episode: 7}
	post         = models.PostRef{ChatID: -1001234567890, MessageID: 42}
)

func TestBegin_RejectsSecondRunForSameTitle(t *testing.T) {
	r := NewRegistry(3)

	_, err := r.Begin("Solo Leveling", "run-1", soloLeveling, post)
	require.NoError(t, err)

	_, err = r.Begin("Solo Leveling", "run-2", soloLeveling, post)
	assert.Equal(t, apperrors.CodeReleaseInProgress, apperrors.GetErrorCode(err))

	_, err = r.Begin("Naruto", "run-3", models.Position{Season: 5, Episode: 188}, post)
	assert.NoError(t, err, "other titles are independent")
}

func TestRecordRendition_GrowsInOrder(t *testing.T) {
	r := NewRegistry(3)
	state, err := r.Begin("Solo Leveling", "run-1", soloLeveling, post)
	require.NoError(t, err)

	var previous []models.Link
	for i, quality := range []string{"480p", "720p", "1080p"} {
		assert.False(t, r.IsComplete(state))

		links, err := r.RecordRendition(state, quality, fmt.Sprintf("https://t.me/c/987/%d", i+1))
		require.NoError(t, err)
		require.Len(t, links, i+1)
		assert.Equal(t, previous, links[:i], "earlier links must be preserved")
		assert.Equal(t, quality, links[i].Quality)
		previous = links
	}

	assert.True(t, r.IsComplete(state))
	assert.Equal(t, previous, state.Links())
}

func TestRecordRendition_RejectsDuplicateAndOverflow(t *testing.T) {
	r := NewRegistry(2)
	state, err := r.Begin("Naruto", "run-1", soloLeveling, post)
	require.NoError(t, err)

	_, err = r.RecordRendition(state, "480p", "https://t.me/c/1/1")
	require.NoError(t, err)

	_, err = r.RecordRendition(state, "480p", "https://t.me/c/1/2")
	assert.Error(t, err)

	_, err = r.RecordRendition(state, "720p", "https://t.me/c/1/3")
	require.NoError(t, err)

	_, err = r.RecordRendition(state, "1080p", "https://t.me/c/1/4")
	assert.Error(t, err, "completed state must not accept more renditions")
	assert.Len(t, state.Links(), 2)
}

func TestRecordRendition_ReturnedSliceIsACopy(t *testing.T) {
	r := NewRegistry(3)
	state, _ := r.Begin("Naruto", "run-1", soloLeveling, post)

	links, err := r.RecordRendition(state, "480p", "https://t.me/c/1/1")
	require.NoError(t, err)
	links[0].URL = "mutated"

	assert.Equal(t, "https://t.me/c/1/1", state.Links()[0].URL)
}

func TestSetTarget_DegradedRun(t *testing.T) {
	r := NewRegistry(3)
	state, _ := r.Begin("Solo Leveling", "run-1", soloLeveling, post)

	require.NoError(t, state.SetTarget(1))
	assert.Equal(t, 1, state.Target())

	_, err := r.RecordRendition(state, "480p", "https://t.me/c/1/1")
	require.NoError(t, err)
	assert.True(t, r.IsComplete(state))
}

func TestSetTarget_Bounds(t *testing.T) {
	r := NewRegistry(3)
	state, _ := r.Begin("Solo Leveling", "run-1", soloLeveling, post)

	assert.Error(t, state.SetTarget(0))

	require.NoError(t, state.SetTarget(10))
	assert.Equal(t, 3, state.Target(), "target is capped at the label count")

	_, _ = r.RecordRendition(state, "480p", "https://t.me/c/1/1")
	_, _ = r.RecordRendition(state, "720p", "https://t.me/c/1/2")
	require.NoError(t, state.SetTarget(1))
	assert.Equal(t, 2, state.Target(), "target never drops below published renditions")
}

func TestEnd_RemovesStateAndAllowsNewRun(t *testing.T) {
	r := NewRegistry(3)
	state, _ := r.Begin("Solo Leveling", "run-1", soloLeveling, post)

	_, ok := r.Get("Solo Leveling")
	assert.True(t, ok)

	r.End(state)
	_, ok = r.Get("Solo Leveling")
	assert.False(t, ok)

	_, err := r.Begin("Solo Leveling", "run-2", soloLeveling, post)
	assert.NoError(t, err)

	r.End(state)
	_, ok = r.Get("Solo Leveling")
	assert.True(t, ok, "ending a stale state must not drop the newer run")
}

func TestActive(t *testing.T) {
	r := NewRegistry(3)
	_, _ = r.Begin("Solo Leveling", "run-1", soloLeveling, post)
	naruto, _ := r.Begin("Naruto", "run-2", models.Position{Season: 5, Episode: 188}, post)
	_, _ = r.RecordRendition(naruto, "480p", "https://t.me/c/1/9")

	active := r.Active()
	require.Len(t, active, 2)
	assert.Equal(t, "Naruto", active[0].Title)
	assert.Len(t, active[0].Links, 1)
	assert.Equal(t, "run-1", active[1].RunID)
	assert.Equal(t, 3, active[1].Target)
}
