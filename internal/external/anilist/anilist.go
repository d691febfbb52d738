package anilist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/glefebvre/episodebot/internal/circuitbreaker"
	apperrors "github.com/glefebvre/episodebot/internal/errors"
	"github.com/glefebvre/episodebot/internal/logger"
	"github.com/glefebvre/episodebot/internal/models"
	"github.com/glefebvre/episodebot/internal/retry"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	defaultURL              = "https://graphql.anilist.co"
	defaultTimeout          = 10 * time.Second
	defaultDescriptionLimit = 700
	serviceName             = "anilist"
)

const mediaQuery = `query ($search: String) {
  Media(search: $search, type: ANIME) {
    id
    title {
      english
      romaji
      native
    }
    description
    episodes
    genres
    season
    seasonYear
    coverImage {
      extraLarge
      large
    }
  }
}`

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// Client fetches anime metadata from the AniList GraphQL API
type Client struct {
	url              string
	descriptionLimit int
	httpClient       *http.Client
	logger           *logger.Logger
	circuitBrk       *circuitbreaker.CircuitBreaker
	retryCfg         retry.Config
}

// Config holds AniList client configuration
type Config struct {
	URL              string
	Timeout          time.Duration
	DescriptionLimit int
	Retry            *retry.Config
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

type mediaResponse struct {
	Data struct {
		Media *Media `json:"Media"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

// Media is the subset of the AniList Media object used for status posts
type Media struct {
	ID    int `json:"id"`
	Title struct {
		English string `json:"english"`
		Romaji  string `json:"romaji"`
		Native  string `json:"native"`
	} `json:"title"`
	Description string   `json:"description"`
	Episodes    int      `json:"episodes"`
	Genres      []string `json:"genres"`
	Season      string   `json:"season"`
	SeasonYear  int      `json:"seasonYear"`
	CoverImage  struct {
		ExtraLarge string `json:"extraLarge"`
		Large      string `json:"large"`
	} `json:"coverImage"`
}

// rateLimitError carries AniList's Retry-After hint into the retry loop
type rateLimitError struct {
	*apperrors.AppError
	wait time.Duration
}

func (e *rateLimitError) Unwrap() error             { return e.AppError }
func (e *rateLimitError) RetryAfter() time.Duration { return e.wait }

// NewClient creates a new AniList client
func NewClient(cfg Config) *Client {
	if cfg.URL == "" {
		cfg.URL = defaultURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.DescriptionLimit <= 0 {
		cfg.DescriptionLimit = defaultDescriptionLimit
	}
	retryCfg := retry.DefaultConfig()
	if cfg.Retry != nil {
		retryCfg = *cfg.Retry
	}

	log := logger.AppLogger()
	cbCfg := circuitbreaker.DefaultConfig(serviceName)
	cbCfg.IsSuccessful = countsAsSuccess
	cbCfg.OnStateChange = func(name string, from, to circuitbreaker.State) {
		log.WithFields(map[string]interface{}{
			"service": name,
			"from":    from.String(),
			"to":      to.String(),
		}).Warn("circuit breaker state changed")
	}

	return &Client{
		url:              cfg.URL,
		descriptionLimit: cfg.DescriptionLimit,
		httpClient:       &http.Client{Timeout: cfg.Timeout},
		logger:           log,
		circuitBrk:       circuitbreaker.New(cbCfg),
		retryCfg:         retryCfg,
	}
}

// countsAsSuccess keeps lookups that reached AniList but found nothing from tripping the breaker
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	code := apperrors.GetErrorCode(err)
	return code == apperrors.CodeMetadataUnavailable || code == apperrors.CodeNotFound
}

// FetchMetadata looks up title and returns the fields shown on the status
// post. A title AniList does not know yields CodeMetadataUnavailable.
func (c *Client) FetchMetadata(ctx context.Context, title string) (*models.Metadata, error) {
	media, err := c.SearchMedia(ctx, title)
	if err != nil {
		return nil, err
	}
	return c.toMetadata(media), nil
}

// SearchMedia runs the Media search query for title
func (c *Client) SearchMedia(ctx context.Context, title string) (*Media, error) {
	payload, err := json.Marshal(graphQLRequest{
		Query:     mediaQuery,
		Variables: map[string]interface{}{"search": title},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode AniList query: %w", err)
	}

	var response mediaResponse
	operation := func() error {
		return c.circuitBrk.Execute(func() error {
			response = mediaResponse{}
			return c.post(ctx, payload, &response)
		})
	}

	if err := retry.Do(ctx, c.retryCfg, operation, apperrors.IsRetryable); err != nil {
		c.logger.WithFields(map[string]interface{}{
			"search": title,
		}).WarnContext(ctx, "AniList request failed")
		if errors.Is(err, circuitbreaker.ErrOpenState) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			return nil, apperrors.Wrap(err, apperrors.CodeMetadataUnavailable, "AniList temporarily disabled").
				WithContext("title", title)
		}
		if apperrors.GetErrorCode(err) == apperrors.CodeMetadataUnavailable {
			return nil, err
		}
		return nil, apperrors.Wrap(err, apperrors.CodeMetadataUnavailable, "AniList lookup failed").
			WithContext("title", title)
	}

	if response.Data.Media == nil {
		return nil, apperrors.New(apperrors.CodeMetadataUnavailable, "no AniList match").
			WithContext("title", title)
	}
	return response.Data.Media, nil
}

func (c *Client) post(ctx context.Context, payload []byte, result *mediaResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperrors.Wrap(err, apperrors.CodeServiceUnavailable, "AniList request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeServiceUnavailable, "failed to read AniList response")
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		wait, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return &rateLimitError{
			AppError: apperrors.New(apperrors.CodeRateLimited, "AniList rate limit exceeded"),
			wait:     time.Duration(wait) * time.Second,
		}
	case resp.StatusCode >= 500:
		return apperrors.New(apperrors.CodeServiceUnavailable, fmt.Sprintf("AniList error (status %d)", resp.StatusCode))
	}

	if err := json.Unmarshal(body, result); err != nil {
		return apperrors.Wrap(err, apperrors.CodeExternalService, "failed to unmarshal AniList response")
	}

	if resp.StatusCode == http.StatusNotFound {
		return apperrors.New(apperrors.CodeMetadataUnavailable, "no AniList match")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("AniList error (status %d)", resp.StatusCode)
		if len(result.Errors) > 0 {
			msg += ": " + result.Errors[0].Message
		}
		return apperrors.New(apperrors.CodeExternalService, msg)
	}
	return nil
}

func (c *Client) toMetadata(media *Media) *models.Metadata {
	cover := media.CoverImage.ExtraLarge
	if cover == "" {
		cover = media.CoverImage.Large
	}
	return &models.Metadata{
		DisplayTitle:  DisplayTitle(media),
		Year:          media.SeasonYear,
		SeasonLabel:   SeasonLabel(media.Season),
		Description:   CleanDescription(media.Description, c.descriptionLimit),
		CoverImage:    cover,
		Genres:        media.Genres,
		TotalEpisodes: media.Episodes,
	}
}

// DisplayTitle prefers the English title, then romaji, then native
func DisplayTitle(media *Media) string {
	for _, t := range []string{media.Title.English, media.Title.Romaji, media.Title.Native} {
		if strings.TrimSpace(t) != "" {
			return t
		}
	}
	return ""
}

// SeasonLabel turns AniList's FALL into Fall
func SeasonLabel(season string) string {
	if season == "" {
		return ""
	}
	return cases.Title(language.English).String(strings.ToLower(season))
}

// CleanDescription strips HTML and truncates to limit runes, marking a cut with "..."
func CleanDescription(description string, limit int) string {
	text := html.UnescapeString(tagPattern.ReplaceAllString(description, ""))
	text = strings.TrimSpace(text)
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:limit])) + "..."
}
