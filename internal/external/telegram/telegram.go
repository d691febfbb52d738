package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/glefebvre/episodebot/internal/circuitbreaker"
	apperrors "github.com/glefebvre/episodebot/internal/errors"
	"github.com/glefebvre/episodebot/internal/logger"
	"github.com/glefebvre/episodebot/internal/models"
	"github.com/glefebvre/episodebot/internal/retry"
)

const (
	defaultAPIURL        = "https://api.telegram.org"
	defaultTimeout       = 30 * time.Second
	defaultUploadTimeout = 30 * time.Minute
	serviceName          = "telegram"

	// ProcessingButton is shown on a status post until the first rendition is published
	ProcessingButton = "⏳ Processing..."
)

// Client talks to the Telegram Bot API
type Client struct {
	baseURL      string
	httpClient   *http.Client
	uploadClient *http.Client
	logger       *logger.Logger
	circuitBrk   *circuitbreaker.CircuitBreaker
	retryCfg     retry.Config
}

// Config holds Telegram client configuration
type Config struct {
	BotToken      string
	APIURL        string
	Timeout       time.Duration
	UploadTimeout time.Duration
	Retry         *retry.Config
}

// Placeholder is the initial status post
type Placeholder struct {
	Text     string
	PhotoURL string
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

type message struct {
	MessageID int64 `json:"message_id"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	Video *struct {
		FileID string `json:"file_id"`
	} `json:"video"`
	Document *struct {
		FileID string `json:"file_id"`
	} `json:"document"`
}

// InlineKeyboardButton is one button of an inline keyboard
type InlineKeyboardButton struct {
	Text         string `json:"text"`
	URL          string `json:"url,omitempty"`
	CallbackData string `json:"callback_data,omitempty"`
}

// InlineKeyboardMarkup is the reply_markup of a message
type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

// floodError carries Telegram's retry_after hint into the retry loop
type floodError struct {
	*apperrors.AppError
	wait time.Duration
}

func (e *floodError) Unwrap() error             { return e.AppError }
func (e *floodError) RetryAfter() time.Duration { return e.wait }

// NewClient creates a new Bot API client
func NewClient(cfg Config) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UploadTimeout == 0 {
		cfg.UploadTimeout = defaultUploadTimeout
	}
	retryCfg := retry.DefaultConfig()
	if cfg.Retry != nil {
		retryCfg = *cfg.Retry
	}

	log := logger.AppLogger()
	cbCfg := circuitbreaker.DefaultConfig(serviceName)
	cbCfg.IsSuccessful = func(err error) bool {
		return err == nil || !apperrors.IsRetryable(err)
	}
	cbCfg.OnStateChange = func(name string, from, to circuitbreaker.State) {
		log.WithFields(map[string]interface{}{
			"service": name,
			"from":    from.String(),
			"to":      to.String(),
		}).Warn("circuit breaker state changed")
	}

	return &Client{
		baseURL:      strings.TrimRight(cfg.APIURL, "/") + "/bot" + cfg.BotToken,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		uploadClient: &http.Client{Timeout: cfg.UploadTimeout},
		logger:       log,
		circuitBrk:   circuitbreaker.New(cbCfg),
		retryCfg:     retryCfg,
	}
}

// PostPlaceholder publishes the status post with a single processing button
// and no links. A cover photo is sent with sendPhoto, otherwise sendMessage.
func (c *Client) PostPlaceholder(ctx context.Context, chatID int64, post Placeholder) (models.PostRef, error) {
	markup := InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{{
		{Text: ProcessingButton, CallbackData: "wait"},
	}}}

	method := "sendMessage"
	payload := map[string]interface{}{
		"chat_id":      chatID,
		"parse_mode":   "HTML",
		"reply_markup": markup,
	}
	if post.PhotoURL != "" {
		method = "sendPhoto"
		payload["photo"] = post.PhotoURL
		payload["caption"] = post.Text
	} else {
		payload["text"] = post.Text
	}

	var msg message
	if err := c.callJSON(ctx, method, payload, &msg); err != nil {
		return models.PostRef{}, apperrors.Wrap(err, apperrors.CodePostFailed, "failed to publish status post").
			WithContext("chat_id", chatID)
	}
	return models.PostRef{ChatID: msg.Chat.ID, MessageID: msg.MessageID}, nil
}

// UpdateButtons replaces the post's keyboard with one URL button per row, in order
func (c *Client) UpdateButtons(ctx context.Context, ref models.PostRef, links []models.Link) error {
	payload := map[string]interface{}{
		"chat_id":      ref.ChatID,
		"message_id":   ref.MessageID,
		"reply_markup": Keyboard(links),
	}

	err := c.callJSON(ctx, "editMessageReplyMarkup", payload, nil)
	if err != nil && !isNotModified(err) {
		return apperrors.Wrap(err, apperrors.CodePostFailed, "failed to update status post buttons").
			WithContext("message_id", ref.MessageID)
	}
	return nil
}

// UploadFile sends path as a streamable video to chatID and returns the
// file ID and a t.me link to the stored message
func (c *Client) UploadFile(ctx context.Context, chatID int64, path, caption string) (models.UploadResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return models.UploadResult{}, apperrors.Wrap(err, apperrors.CodeUploadFailed, "upload source missing").
			WithContext("path", path)
	}

	start := time.Now()
	var msg message
	err = c.call(ctx, c.uploadClient, "sendVideo", func() (io.ReadCloser, string, error) {
		return multipartVideo(chatID, path, caption)
	}, &msg, isUploadRetryable)
	if err != nil {
		return models.UploadResult{}, apperrors.Wrap(err, apperrors.CodeUploadFailed, "failed to upload rendition").
			WithContext("path", path)
	}

	result := models.UploadResult{Link: MessageLink(msg.Chat.ID, msg.MessageID)}
	switch {
	case msg.Video != nil:
		result.FileRef = msg.Video.FileID
	case msg.Document != nil:
		result.FileRef = msg.Document.FileID
	}

	c.logger.WithFields(map[string]interface{}{
		"file":        filepath.Base(path),
		"size_bytes":  info.Size(),
		"duration_ms": time.Since(start).Milliseconds(),
		"link":        result.Link,
	}).InfoContext(ctx, "rendition uploaded")

	return result, nil
}

// Keyboard renders links as one URL button per row
func Keyboard(links []models.Link) InlineKeyboardMarkup {
	rows := make([][]InlineKeyboardButton, 0, len(links))
	for _, link := range links {
		rows = append(rows, []InlineKeyboardButton{{Text: link.Quality, URL: link.URL}})
	}
	return InlineKeyboardMarkup{InlineKeyboard: rows}
}

// MessageLink builds the t.me link of a message in a private channel
func MessageLink(chatID, messageID int64) string {
	id := strconv.FormatInt(chatID, 10)
	if strings.HasPrefix(id, "-100") {
		id = id[4:]
	} else {
		id = strings.TrimPrefix(id, "-")
	}
	return fmt.Sprintf("https://t.me/c/%s/%d", id, messageID)
}

func multipartVideo(chatID int64, path, caption string) (io.ReadCloser, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		defer f.Close()
		err := writeVideoForm(mw, f, chatID, caption)
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	return pr, mw.FormDataContentType(), nil
}

func writeVideoForm(mw *multipart.Writer, f *os.File, chatID int64, caption string) error {
	fields := map[string]string{
		"chat_id":            strconv.FormatInt(chatID, 10),
		"caption":            caption,
		"supports_streaming": "true",
	}
	for _, key := range []string{"chat_id", "caption", "supports_streaming"} {
		if err := mw.WriteField(key, fields[key]); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("video", filepath.Base(f.Name()))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

func (c *Client) callJSON(ctx context.Context, method string, payload interface{}, result interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}
	return c.call(ctx, c.httpClient, method, func() (io.ReadCloser, string, error) {
		return io.NopCloser(bytes.NewReader(body)), "application/json", nil
	}, result, apperrors.IsRetryable)
}

// isUploadRetryable excludes timeouts: the server may already have stored
// the video, and sending it again would duplicate the message
func isUploadRetryable(err error) bool {
	return apperrors.IsRetryable(err) && !apperrors.HasCode(err, apperrors.CodeServiceTimeout)
}

// call performs one Bot API method with circuit breaker and retry. newBody
// is invoked per attempt so uploads can reopen their file.
func (c *Client) call(ctx context.Context, httpClient *http.Client, method string, newBody func() (io.ReadCloser, string, error), result interface{}, isRetryable retry.IsRetryable) error {
	operation := func() error {
		return c.circuitBrk.Execute(func() error {
			return c.do(ctx, httpClient, method, newBody, result)
		})
	}

	err := retry.Do(ctx, c.retryCfg, operation, isRetryable)
	if err != nil {
		c.logger.WithFields(map[string]interface{}{
			"method": method,
		}).ErrorContext(ctx, "Telegram API request failed", err)
	}
	return err
}

func (c *Client) do(ctx context.Context, httpClient *http.Client, method string, newBody func() (io.ReadCloser, string, error), result interface{}) error {
	body, contentType, err := newBody()
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInvalidInput, "failed to build request body")
	}
	defer body.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return apperrors.Wrap(err, apperrors.CodeServiceTimeout, "Telegram request timed out")
		}
		return apperrors.Wrap(err, apperrors.CodeServiceUnavailable, "Telegram request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeServiceUnavailable, "failed to read Telegram response")
	}

	var parsed apiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		if resp.StatusCode >= 500 {
			return apperrors.New(apperrors.CodeServiceUnavailable, fmt.Sprintf("Telegram error (status %d)", resp.StatusCode))
		}
		return apperrors.Wrap(err, apperrors.CodeExternalService, "failed to unmarshal Telegram response")
	}

	if !parsed.OK {
		return apiError(resp.StatusCode, parsed)
	}
	if result != nil && len(parsed.Result) > 0 {
		if err := json.Unmarshal(parsed.Result, result); err != nil {
			return apperrors.Wrap(err, apperrors.CodeExternalService, "failed to unmarshal Telegram result")
		}
	}
	return nil
}

func apiError(status int, resp apiResponse) error {
	code := resp.ErrorCode
	if code == 0 {
		code = status
	}
	msg := fmt.Sprintf("Telegram API error %d: %s", code, resp.Description)

	switch {
	case code == http.StatusTooManyRequests:
		wait := time.Second
		if resp.Parameters != nil && resp.Parameters.RetryAfter > 0 {
			wait = time.Duration(resp.Parameters.RetryAfter) * time.Second
		}
		return &floodError{AppError: apperrors.New(apperrors.CodeRateLimited, msg), wait: wait}
	case code == http.StatusUnauthorized:
		return apperrors.New(apperrors.CodeUnauthorized, msg)
	case code >= 500:
		return apperrors.New(apperrors.CodeServiceUnavailable, msg)
	default:
		return apperrors.New(apperrors.CodeExternalService, msg)
	}
}

func isNotModified(err error) bool {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return strings.Contains(appErr.Message, "message is not modified")
}
