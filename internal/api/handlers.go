package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	apperrors "github.com/glefebvre/episodebot/internal/errors"
	"github.com/glefebvre/episodebot/internal/models"
)

const (
	defaultReleaseLimit = 20
	maxReleaseLimit     = 200
)

func (s *Server) healthCheck(c *gin.Context) {
	if s.deps.Health != nil {
		if err := s.deps.Health(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"active": len(s.deps.Releases.Active()),
	})
}

func (s *Server) listLedger(c *gin.Context) {
	records, err := s.deps.Ledger.List(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}

	entries := make([]LedgerEntryResponse, 0, len(records))
	for _, record := range records {
		entries = append(entries, toLedgerEntry(record))
	}
	c.JSON(http.StatusOK, ListResponse{Data: entries, Total: len(entries)})
}

func (s *Server) getLedger(c *gin.Context) {
	record, err := s.deps.Ledger.Get(c.Request.Context(), c.Param("title"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toLedgerEntry(record))
}

func (s *Server) listReleases(c *gin.Context) {
	limit := defaultReleaseLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxReleaseLimit {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid limit",
				Message: "limit must be between 1 and 200",
				Code:    string(apperrors.CodeInvalidInput),
			})
			return
		}
		limit = n
	}

	var (
		logs []models.ReleaseLog
		err  error
	)
	if title := c.Query("title"); title != "" {
		logs, err = s.deps.History.ForTitle(c.Request.Context(), title, limit)
	} else {
		logs, err = s.deps.History.Recent(c.Request.Context(), limit)
	}
	if err != nil {
		s.fail(c, err)
		return
	}

	releases := make([]ReleaseResponse, 0, len(logs))
	for _, entry := range logs {
		releases = append(releases, toReleaseResponse(entry))
	}
	c.JSON(http.StatusOK, ListResponse{Data: releases, Total: len(releases)})
}

func (s *Server) activeReleases(c *gin.Context) {
	active := s.deps.Releases.Active()
	c.JSON(http.StatusOK, ActiveReleaseResponse{Releases: active, Total: len(active)})
}

func (s *Server) triggerRelease(c *gin.Context) {
	title := c.Param("title")

	if _, ok := s.deps.Scheduler.Job(title); !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "unknown title",
			Message: "no release job is configured for " + title,
			Code:    string(apperrors.CodeNotFound),
		})
		return
	}
	if s.deps.Releases.Running(title) {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "release in progress",
			Message: title + " is already being released",
			Code:    string(apperrors.CodeReleaseInProgress),
		})
		return
	}

	s.deps.Scheduler.Trigger(title)
	s.logger.WithFields(map[string]interface{}{
		"title": title,
	}).InfoContext(c.Request.Context(), "manual release accepted")

	c.JSON(http.StatusAccepted, TriggerResponse{
		Title:   title,
		Status:  "accepted",
		Message: "release started",
	})
}

func (s *Server) listSchedule(c *gin.Context) {
	entries := s.deps.Scheduler.Entries()
	c.JSON(http.StatusOK, ScheduleResponse{Jobs: entries, Total: len(entries)})
}

// fail maps application errors onto HTTP statuses
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case apperrors.IsValidationError(err):
		status = http.StatusBadRequest
	case apperrors.GetErrorCode(err) == apperrors.CodeNotFound:
		status = http.StatusNotFound
	}
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(c.Request.Context(), "request failed", err)
	}
	c.JSON(status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: err.Error(),
		Code:    string(apperrors.GetErrorCode(err)),
	})
}
