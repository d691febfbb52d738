package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/glefebvre/episodebot/internal/config"
)

const (
	runDirPrefix = "run-"
	lockDirName  = "locks"
	logDirName   = "logs"
)

// Layout describes where run directories are created
type Layout struct {
	Root      string
	VideoDir  string
	AudioDir  string
	MergedDir string
}

// LayoutFromConfig builds a Layout from the staging section
func LayoutFromConfig(cfg config.StagingConfig) Layout {
	layout := Layout{
		Root:      cfg.Root,
		VideoDir:  cfg.VideoDir,
		AudioDir:  cfg.AudioDir,
		MergedDir: cfg.MergedDir,
	}
	if layout.Root == "" {
		layout.Root = filepath.Join(os.TempDir(), "episodebot")
	}
	if layout.VideoDir == "" {
		layout.VideoDir = "video"
	}
	if layout.AudioDir == "" {
		layout.AudioDir = "audio"
	}
	if layout.MergedDir == "" {
		layout.MergedDir = "merged"
	}
	return layout
}

// RunDirs are the private working directories of one release run
type RunDirs struct {
	Root   string
	Video  string
	Audio  string
	Merged string
}

// NewRun creates the directories for runID. A run never reuses another
// run's files, so a stale download cannot skew size ranking.
func (l Layout) NewRun(runID string) (*RunDirs, error) {
	root := filepath.Join(l.Root, runDirPrefix+runID)
	if _, err := os.Stat(root); err == nil {
		return nil, fmt.Errorf("run directory already exists: %s", root)
	}

	dirs := &RunDirs{
		Root:   root,
		Video:  filepath.Join(root, l.VideoDir),
		Audio:  filepath.Join(root, l.AudioDir),
		Merged: filepath.Join(root, l.MergedDir),
	}
	for _, dir := range []string{dirs.Video, dirs.Audio, dirs.Merged} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			_ = os.RemoveAll(root)
			return nil, fmt.Errorf("failed to create staging directory %s: %w", dir, err)
		}
	}
	return dirs, nil
}

// Env exports the run directories to download directives
func (d *RunDirs) Env() []string {
	return []string{
		"EPISODEBOT_VIDEO_DIR=" + d.Video,
		"EPISODEBOT_AUDIO_DIR=" + d.Audio,
		"EPISODEBOT_MERGED_DIR=" + d.Merged,
	}
}

// Remove deletes the run directory and everything in it
func (d *RunDirs) Remove() error {
	if d == nil || d.Root == "" {
		return nil
	}
	return os.RemoveAll(d.Root)
}

// LockPath is the cross-process lock file guarding releases of title
func (l Layout) LockPath(title string) string {
	return filepath.Join(l.Root, lockDirName, fileKey(title)+".lock")
}

// LogPath is the download log of title; runs append to it
func (l Layout) LogPath(title string) string {
	return filepath.Join(l.Root, logDirName, fileKey(title)+".log")
}

func fileKey(title string) string {
	return strings.ReplaceAll(SanitizeFilename(title), " ", "_")
}
