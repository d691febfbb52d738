package models

import (
	"fmt"
	"time"
)

// Position is a season/episode pair
type Position struct {
	Season  int `json:"season"`
	Episode int `json:"episode"`
}

// String formats the position as S01E07
func (p Position) String() string {
	return fmt.Sprintf("S%02dE%02d", p.Season, p.Episode)
}

// Next returns the position one episode later in the same season
func (p Position) Next() Position {
	return Position{Season: p.Season, Episode: p.Episode + 1}
}

// DefaultPosition is assigned to titles seen for the first time
var DefaultPosition = Position{Season: 1, Episode: 1}

// EpisodeRecord is the durable season/episode counter for one title
type EpisodeRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Title     string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_episode_records_title" json:"title"`
	Season    int       `gorm:"not null;default:1" json:"season"`
	Episode   int       `gorm:"not null;default:1" json:"episode"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// TableName specifies the table name for EpisodeRecord
func (EpisodeRecord) TableName() string {
	return "episode_records"
}

// Position returns the record's current season/episode
func (r EpisodeRecord) Position() Position {
	return Position{Season: r.Season, Episode: r.Episode}
}
