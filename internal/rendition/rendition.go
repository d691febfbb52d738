package rendition

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/glefebvre/episodebot/internal/models"
	"github.com/glefebvre/episodebot/internal/staging"
)

// File is a downloaded candidate input
type File struct {
	Path string
	Size int64
}

// Job merges one video file with the shared audio file into one rendition
type Job struct {
	VideoPath  string
	AudioPath  string
	OutputPath string
	Quality    string
	VideoSize  int64
	AudioSize  int64
}

// Scan walks dir recursively and returns regular files whose extension
// matches one of exts, case-insensitively
func Scan(dir string, exts []string) ([]File, error) {
	allowed := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = true
	}

	var files []File
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if !allowed[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, File{Path: path, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	return files, nil
}

// Rank orders files by ascending size; the smallest is treated as the
// lowest quality. Equal sizes are ordered by path so the result does not
// depend on enumeration order.
func Rank(files []File) []File {
	ranked := append([]File(nil), files...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Size != ranked[j].Size {
			return ranked[i].Size < ranked[j].Size
		}
		return ranked[i].Path < ranked[j].Path
	})
	return ranked
}

// SelectAudio picks the shared audio source: the first file in path order
func SelectAudio(files []File) (File, bool) {
	if len(files) == 0 {
		return File{}, false
	}
	selected := files[0]
	for _, f := range files[1:] {
		if f.Path < selected.Path {
			selected = f
		}
	}
	return selected, true
}

// Plan zips the ranked videos with labels. Files beyond the label count
// are ignored; fewer files than labels yields fewer jobs.
func Plan(videos []File, audio File, labels []string, outDir, title string, pos models.Position) []Job {
	ranked := Rank(videos)

	n := len(ranked)
	if len(labels) < n {
		n = len(labels)
	}

	jobs := make([]Job, 0, n)
	for i := 0; i < n; i++ {
		jobs = append(jobs, Job{
			VideoPath:  ranked[i].Path,
			AudioPath:  audio.Path,
			OutputPath: staging.RenditionPath(outDir, title, pos, labels[i], filepath.Ext(ranked[i].Path)),
			Quality:    labels[i],
			VideoSize:  ranked[i].Size,
			AudioSize:  audio.Size,
		})
	}
	return jobs
}
