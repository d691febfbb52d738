package api

import (
	"time"

	"github.com/glefebvre/episodebot/internal/models"
	"github.com/glefebvre/episodebot/internal/scheduler"
	"github.com/glefebvre/episodebot/internal/tracker"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// LedgerEntryResponse is one title's current position
type LedgerEntryResponse struct {
	Title     string `json:"title"`
	Season    int    `json:"season"`
	Episode   int    `json:"episode"`
	Position  string `json:"position"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// ListResponse wraps a list with its size
type ListResponse struct {
	Data  interface{} `json:"data"`
	Total int         `json:"total"`
}

// ReleaseResponse is one entry of the run history
type ReleaseResponse struct {
	RunID        string  `json:"run_id"`
	Title        string  `json:"title"`
	Position     string  `json:"position"`
	Status       string  `json:"status"`
	FailureCode  *string `json:"failure_code,omitempty"`
	Renditions   int     `json:"renditions"`
	ErrorMessage *string `json:"error_message,omitempty"`
	StartedAt    string  `json:"started_at"`
	CompletedAt  *string `json:"completed_at,omitempty"`
	DurationMS   *int64  `json:"duration_ms,omitempty"`
}

// ActiveReleaseResponse lists in-flight runs
type ActiveReleaseResponse struct {
	Releases []tracker.Snapshot `json:"releases"`
	Total    int                `json:"total"`
}

// TriggerResponse acknowledges a manual release
type TriggerResponse struct {
	Title   string `json:"title"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ScheduleResponse lists the registered jobs
type ScheduleResponse struct {
	Jobs  []scheduler.Entry `json:"jobs"`
	Total int               `json:"total"`
}

func toLedgerEntry(record models.EpisodeRecord) LedgerEntryResponse {
	resp := LedgerEntryResponse{
		Title:    record.Title,
		Season:   record.Season,
		Episode:  record.Episode,
		Position: record.Position().String(),
	}
	if !record.UpdatedAt.IsZero() {
		resp.UpdatedAt = record.UpdatedAt.Format(time.RFC3339)
	}
	return resp
}

func toReleaseResponse(entry models.ReleaseLog) ReleaseResponse {
	resp := ReleaseResponse{
		RunID:        entry.RunID,
		Title:        entry.Title,
		Position:     models.Position{Season: entry.Season, Episode: entry.Episode}.String(),
		Status:       string(entry.Status),
		FailureCode:  entry.FailureCode,
		Renditions:   entry.Renditions,
		ErrorMessage: entry.ErrorMessage,
		StartedAt:    entry.StartedAt.Format(time.RFC3339),
	}
	if entry.CompletedAt != nil {
		completed := entry.CompletedAt.Format(time.RFC3339)
		duration := entry.CompletedAt.Sub(entry.StartedAt).Milliseconds()
		resp.CompletedAt = &completed
		resp.DurationMS = &duration
	}
	return resp
}
