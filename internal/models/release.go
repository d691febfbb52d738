package models

// PostRef identifies the mutable status post of a release
type PostRef struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int64 `json:"message_id"`
}

// Link is one published rendition shown as a button on the status post
type Link struct {
	Quality string `json:"quality"`
	URL     string `json:"url"`
}

// Metadata is the descriptive information shown on the status post
type Metadata struct {
	DisplayTitle  string   `json:"display_title"`
	Year          int      `json:"year,omitempty"`
	SeasonLabel   string   `json:"season_label,omitempty"`
	Description   string   `json:"description,omitempty"`
	CoverImage    string   `json:"cover_image,omitempty"`
	Genres        []string `json:"genres,omitempty"`
	TotalEpisodes int      `json:"total_episodes,omitempty"`
}

// UploadResult is returned by the destination store after a rendition upload
type UploadResult struct {
	FileRef string `json:"file_ref"`
	Link    string `json:"link"`
}
