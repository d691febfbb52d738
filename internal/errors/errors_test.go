package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppErrorError(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "error without wrapped error",
			err:      New(CodeNoInputFiles, "no video files found"),
			expected: "[NO_INPUT_FILES] no video files found",
		},
		{
			name:     "error with wrapped error",
			err:      Wrap(errors.New("exit status 1"), CodeMergeFailed, "ffmpeg rejected stream copy"),
			expected: "[MERGE_FAILED] ffmpeg rejected stream copy: exit status 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	originalErr := errors.New("original")
	err := Wrap(originalErr, CodeUploadFailed, "wrapped")

	if !errors.Is(err, originalErr) {
		t.Errorf("expected errors.Is to find the original error")
	}
}

func TestAppErrorWithContext(t *testing.T) {
	err := New(CodeDownloadFailed, "video directive failed").
		WithContext("exit_code", 2).
		WithContext("stage", "video")

	if len(err.Context) != 2 {
		t.Errorf("expected 2 context items, got %d", len(err.Context))
	}
	if err.Context["exit_code"] != 2 {
		t.Errorf("expected exit_code context 2, got %v", err.Context["exit_code"])
	}
}

func TestExternalServiceError(t *testing.T) {
	err := ExternalServiceError("telegram", "sendVideo failed", errors.New("timeout"))
	if err.Code != CodeExternalService {
		t.Errorf("expected code %s, got %s", CodeExternalService, err.Code)
	}
	if err.Context["service"] != "telegram" {
		t.Errorf("expected service context 'telegram', got %v", err.Context["service"])
	}
}

func TestConfigError(t *testing.T) {
	t.Run("with wrapped error", func(t *testing.T) {
		originalErr := errors.New("file not found")
		err := ConfigError("config load failed", originalErr)
		if err.Code != CodeConfig || err.Err != originalErr {
			t.Errorf("unexpected error %+v", err)
		}
	})

	t.Run("without wrapped error", func(t *testing.T) {
		err := ConfigError("missing required field", nil)
		if err.Code != CodeConfig || err.Err != nil {
			t.Errorf("unexpected error %+v", err)
		}
	})
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"service timeout", Wrap(errors.New("timeout"), CodeServiceTimeout, "timeout"), true},
		{"service unavailable", New(CodeServiceUnavailable, "502"), true},
		{"rate limited", New(CodeRateLimited, "429"), true},
		{"wrapped by fmt", fmt.Errorf("call: %w", New(CodeRateLimited, "429")), true},
		{"unauthorized", New(CodeUnauthorized, "401"), false},
		{"merge failure", New(CodeMergeFailed, "bad codec"), false},
		{"plain error", errors.New("standard error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.expected {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGetErrorCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorCode
	}{
		{"app error", ValidationError("test"), CodeValidation},
		{"outermost code wins", Wrap(New(CodeRateLimited, "429"), CodeUploadFailed, "upload"), CodeUploadFailed},
		{"standard error", errors.New("standard"), CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetErrorCode(tt.err); got != tt.expected {
				t.Errorf("GetErrorCode() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestHasCode(t *testing.T) {
	inner := Wrap(errors.New("disk"), CodeInsufficientSpace, "not enough space")
	outer := Wrap(inner, CodeMergeFailed, "merge 720p")

	if !HasCode(outer, CodeMergeFailed) {
		t.Error("expected outer code to match")
	}
	if !HasCode(outer, CodeInsufficientSpace) {
		t.Error("expected inner code to match")
	}
	if HasCode(outer, CodeUploadFailed) {
		t.Error("unexpected code match")
	}
	if HasCode(errors.New("plain"), CodeMergeFailed) {
		t.Error("plain errors carry no code")
	}
}

func TestIsReleaseFailure(t *testing.T) {
	for _, code := range []ErrorCode{CodeMetadataUnavailable, CodeDownloadFailed, CodeNoInputFiles,
		CodeMergeFailed, CodeUploadFailed, CodeLedgerPersistenceFailed} {
		if !IsReleaseFailure(code) {
			t.Errorf("expected %s to be a release failure", code)
		}
	}
	if IsReleaseFailure(CodeRateLimited) {
		t.Error("transport codes are not release failures")
	}
}

func TestNotFoundError(t *testing.T) {
	err := NotFoundError("job", "Naruto")
	if err.Code != CodeNotFound {
		t.Errorf("expected code %s, got %s", CodeNotFound, err.Code)
	}
	if err.Message != "job not found: Naruto" {
		t.Errorf("unexpected message %q", err.Message)
	}
}
