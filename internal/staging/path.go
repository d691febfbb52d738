package staging

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/glefebvre/episodebot/internal/models"
)

// RenditionFileName names a merged output, e.g. "Solo Leveling_S01E07_720p.mp4"
func RenditionFileName(title string, pos models.Position, quality, ext string) string {
	if ext == "" {
		ext = ".mp4"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return fmt.Sprintf("%s_%s_%s%s", SanitizeFilename(title), pos.String(), SanitizeFilename(quality), ext)
}

// RenditionPath joins dir and RenditionFileName
func RenditionPath(dir, title string, pos models.Position, quality, ext string) string {
	return filepath.Join(dir, RenditionFileName(title, pos, quality, ext))
}

// SanitizeFilename replaces characters that are unsafe in file names
func SanitizeFilename(name string) string {
	replacer := map[rune]rune{
		'/':  '_',
		'\\': '_',
		':':  '_',
		'*':  '_',
		'?':  '_',
		'"':  '_',
		'<':  '_',
		'>':  '_',
		'|':  '_',
	}

	result := []rune(strings.TrimSpace(name))
	for i, r := range result {
		if replacement, ok := replacer[r]; ok {
			result[i] = replacement
		}
	}
	return string(result)
}
