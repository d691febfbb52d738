package tracker

import (
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "github.com/glefebvre/episodebot/internal/errors"
	"github.com/glefebvre/episodebot/internal/models"
)

// State is the in-flight progress of one title's release. It lives from
// Begin until End and is never shared between runs.
type State struct {
	mu        sync.Mutex
	runID     string
	title     string
	snapshot  models.Position
	post      models.PostRef
	completed []models.Link
	target    int
	maxTarget int
	startedAt time.Time
}

// Snapshot is a read-only copy of a State
type Snapshot struct {
	RunID     string          `json:"run_id"`
	Title     string          `json:"title"`
	Position  models.Position `json:"position"`
	Post      models.PostRef  `json:"post"`
	Links     []models.Link   `json:"links"`
	Target    int             `json:"target"`
	StartedAt time.Time       `json:"started_at"`
}

// Title returns the title being released
func (s *State) Title() string { return s.title }

// RunID returns the run the state belongs to
func (s *State) RunID() string { return s.runID }

// Position returns the ledger position captured when the run started
func (s *State) Position() models.Position { return s.snapshot }

// Post returns the status post reference
func (s *State) Post() models.PostRef { return s.post }

// Target returns the number of renditions required for completion
func (s *State) Target() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Links returns the completed renditions in publication order
func (s *State) Links() []models.Link {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Link(nil), s.completed...)
}

// SetTarget lowers or restores the target once the number of planned
// renditions is known. It never drops below what is already published and
// never exceeds the number of quality labels.
func (s *State) SetTarget(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n < 1 {
		return apperrors.ValidationError("rendition target must be at least 1").
			WithContext("title", s.title)
	}
	if n > s.maxTarget {
		n = s.maxTarget
	}
	if n < len(s.completed) {
		n = len(s.completed)
	}
	s.target = n
	return nil
}

// IsComplete reports whether every targeted rendition has been recorded
func (s *State) IsComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.completed) >= s.target
}

func (s *State) snapshotLocked() Snapshot {
	return Snapshot{
		RunID:     s.runID,
		Title:     s.title,
		Position:  s.snapshot,
		Post:      s.post,
		Links:     append([]models.Link(nil), s.completed...),
		Target:    s.target,
		StartedAt: s.startedAt,
	}
}

// Registry holds the release state of every title currently in flight
type Registry struct {
	mu     sync.Mutex
	active map[string]*State
	target int
	now    func() time.Time
}

// NewRegistry creates a registry whose runs aim for target renditions
func NewRegistry(target int) *Registry {
	if target < 1 {
		target = 1
	}
	return &Registry{
		active: make(map[string]*State),
		target: target,
		now:    time.Now,
	}
}

// Begin opens the release state for title. It fails with
// CodeReleaseInProgress when the title already has one.
func (r *Registry) Begin(title, runID string, snapshot models.Position, post models.PostRef) (*State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.active[title]; ok {
		return nil, apperrors.New(apperrors.CodeReleaseInProgress, "release already in progress").
			WithContext("title", title).
			WithContext("run_id", existing.runID)
	}

	state := &State{
		runID:     runID,
		title:     title,
		snapshot:  snapshot,
		post:      post,
		target:    r.target,
		maxTarget: r.target,
		startedAt: r.now(),
	}
	r.active[title] = state
	return state, nil
}

// RecordRendition appends a published rendition and returns the full
// ordered link list to push to the status post
func (r *Registry) RecordRendition(state *State, quality, link string) ([]models.Link, error) {
	if quality == "" || link == "" {
		return nil, apperrors.ValidationError("quality and link are required")
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if len(state.completed) >= state.target {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "all renditions already recorded").
			WithContext("title", state.title).
			WithContext("target", state.target)
	}
	for _, existing := range state.completed {
		if existing.Quality == quality {
			return nil, apperrors.New(apperrors.CodeInvalidInput, fmt.Sprintf("rendition %s already recorded", quality)).
				WithContext("title", state.title)
		}
	}

	state.completed = append(state.completed, models.Link{Quality: quality, URL: link})
	return append([]models.Link(nil), state.completed...), nil
}

// IsComplete reports whether the state has reached its target
func (r *Registry) IsComplete(state *State) bool {
	return state.IsComplete()
}

// End discards the state of title, whether the run finished or aborted
func (r *Registry) End(state *State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.active[state.title]; ok && current == state {
		delete(r.active, state.title)
	}
}

// Get returns a snapshot of the in-flight state for title
func (r *Registry) Get(title string) (Snapshot, bool) {
	r.mu.Lock()
	state, ok := r.active[title]
	r.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	return state.snapshotLocked(), true
}

// Active returns snapshots of every in-flight release ordered by title
func (r *Registry) Active() []Snapshot {
	r.mu.Lock()
	states := make([]*State, 0, len(r.active))
	for _, state := range r.active {
		states = append(states, state)
	}
	r.mu.Unlock()

	snapshots := make([]Snapshot, 0, len(states))
	for _, state := range states {
		state.mu.Lock()
		snapshots = append(snapshots, state.snapshotLocked())
		state.mu.Unlock()
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Title < snapshots[j].Title })
	return snapshots
}
