package merge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	apperrors "github.com/glefebvre/episodebot/internal/errors"
	"github.com/glefebvre/episodebot/internal/logger"
	"github.com/glefebvre/episodebot/internal/rendition"
	"github.com/glefebvre/episodebot/internal/stage"
	"github.com/glefebvre/episodebot/internal/staging"
)

// Merger remuxes a video-only and an audio-only source into one container
// with ffmpeg stream copy
type Merger struct {
	runner stage.Runner
	ffmpeg string
	space  staging.SpaceChecker
	log    *logger.Logger
}

// New creates a merger. space may be nil to skip the free space check.
func New(runner stage.Runner, ffmpegPath string, space staging.SpaceChecker) *Merger {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Merger{
		runner: runner,
		ffmpeg: ffmpegPath,
		space:  space,
		log:    logger.AppLogger(),
	}
}

// Args returns the ffmpeg arguments merging video and audio into output
func Args(videoPath, audioPath, outputPath string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c", "copy",
		outputPath,
	}
}

// Merge produces job.OutputPath. Re-running with the same job overwrites any
// earlier output; on failure no partial output is left behind.
func (m *Merger) Merge(ctx context.Context, job rendition.Job) (string, error) {
	for _, input := range []string{job.VideoPath, job.AudioPath} {
		if _, err := os.Stat(input); err != nil {
			return "", mergeError(job, "merge input missing", err)
		}
	}

	outDir := filepath.Dir(job.OutputPath)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", mergeError(job, "failed to create output directory", err)
	}

	if m.space != nil {
		required := uint64(job.VideoSize + job.AudioSize)
		if err := m.space.Check(outDir, required); err != nil {
			return "", mergeError(job, "not enough space to merge",
				apperrors.Wrap(err, apperrors.CodeInsufficientSpace, "disk space check failed"))
		}
	}

	if err := os.Remove(job.OutputPath); err != nil && !os.IsNotExist(err) {
		return "", mergeError(job, "failed to remove stale output", err)
	}

	res, err := m.runner.Run(ctx, stage.Command{
		Name: "merge-" + job.Quality,
		Path: m.ffmpeg,
		Args: Args(job.VideoPath, job.AudioPath, job.OutputPath),
	})
	if err != nil {
		_ = os.Remove(job.OutputPath)
		return "", mergeError(job, "failed to run merge tool", err)
	}
	if !res.Succeeded() {
		_ = os.Remove(job.OutputPath)
		return "", mergeError(job, fmt.Sprintf("merge tool exited with code %d", res.ExitCode), nil).
			WithContext("output", res.Tail)
	}

	if _, err := os.Stat(job.OutputPath); err != nil {
		return "", mergeError(job, "merge tool produced no output", err)
	}

	m.log.WithFields(map[string]interface{}{
		"quality":     job.Quality,
		"output":      job.OutputPath,
		"duration_ms": res.Duration.Milliseconds(),
	}).InfoContext(ctx, "rendition merged")

	return job.OutputPath, nil
}

func mergeError(job rendition.Job, message string, err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	if err != nil {
		appErr = apperrors.Wrap(err, apperrors.CodeMergeFailed, message)
	} else {
		appErr = apperrors.New(apperrors.CodeMergeFailed, message)
	}
	return appErr.
		WithContext("quality", job.Quality).
		WithContext("video", job.VideoPath)
}
