package pipeline

import (
	"fmt"
	"html"
	"strings"

	"github.com/glefebvre/episodebot/internal/models"
)

// Caption renders the HTML text of the status post
func Caption(meta *models.Metadata, pos models.Position) string {
	var b strings.Builder

	fmt.Fprintf(&b, "🎬 <b>%s</b>\n", html.EscapeString(meta.DisplayTitle))
	fmt.Fprintf(&b, "📺 Season %d • Episode %d\n", pos.Season, pos.Episode)

	aired := strings.TrimSpace(meta.SeasonLabel)
	if meta.Year > 0 {
		aired = strings.TrimSpace(fmt.Sprintf("%s %d", aired, meta.Year))
	}
	if aired != "" {
		fmt.Fprintf(&b, "🗓 %s\n", html.EscapeString(aired))
	}

	if desc := strings.TrimSpace(meta.Description); desc != "" {
		b.WriteString("\n")
		b.WriteString(html.EscapeString(desc))
	}

	return strings.TrimRight(b.String(), "\n")
}
