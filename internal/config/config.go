package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	AniList  AniListConfig  `mapstructure:"anilist"`
	Staging  StagingConfig  `mapstructure:"staging"`
	Media    MediaConfig    `mapstructure:"media"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	API      APIConfig      `mapstructure:"api"`
}

// DatabaseConfig selects the ledger backend
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite or postgres
	Path     string `mapstructure:"path"`   // sqlite file
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// TelegramConfig holds Bot API settings
type TelegramConfig struct {
	BotToken       string `mapstructure:"bot_token"`
	APIURL         string `mapstructure:"api_url"`
	UploadChatID   int64  `mapstructure:"upload_chat_id"`  // channel holding the status posts
	StorageChatID  int64  `mapstructure:"storage_chat_id"` // channel the renditions are uploaded to
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UploadTimeout  int    `mapstructure:"upload_timeout_seconds"`
}

// AniListConfig holds metadata lookup settings
type AniListConfig struct {
	URL              string `mapstructure:"url"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	DescriptionLimit int    `mapstructure:"description_limit"`
}

// StagingConfig controls per-run working directories
type StagingConfig struct {
	Root           string `mapstructure:"root"`
	VideoDir       string `mapstructure:"video_dir"`
	AudioDir       string `mapstructure:"audio_dir"`
	MergedDir      string `mapstructure:"merged_dir"`
	KeepOnFailure  bool   `mapstructure:"keep_on_failure"`
	RetentionHours int    `mapstructure:"retention_hours"`
	MinFreeMB      int64  `mapstructure:"min_free_mb"`
}

// MediaConfig holds merge tool and rendition settings
type MediaConfig struct {
	FFmpegPath      string   `mapstructure:"ffmpeg_path"`
	VideoExtensions []string `mapstructure:"video_extensions"`
	AudioExtensions []string `mapstructure:"audio_extensions"`
	QualityLabels   []string `mapstructure:"quality_labels"` // lowest first
}

// ScheduleConfig lists the release jobs
type ScheduleConfig struct {
	Timezone string      `mapstructure:"timezone"`
	Jobs     []JobConfig `mapstructure:"jobs"`
}

// JobConfig binds a title to its trigger time and download directives
type JobConfig struct {
	Title        string `mapstructure:"title"`
	Cron         string `mapstructure:"cron"`
	VideoCommand string `mapstructure:"video_command"`
	AudioCommand string `mapstructure:"audio_command"`
	Season       int    `mapstructure:"season"`
	Episode      int    `mapstructure:"episode"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level    string         `mapstructure:"level"`
	Format   string         `mapstructure:"format"`
	App      LogLevelConfig `mapstructure:"app"`
	Database LogLevelConfig `mapstructure:"database"`
}

// LogLevelConfig represents log level configuration for a specific component
type LogLevelConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
}

// APIConfig holds operator API settings
type APIConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

var cfg *Config

// bindEnvWithAlternatives binds a viper key to its prefixed env var and to
// Docker-style alternatives such as BOT_TOKEN
func bindEnvWithAlternatives(key string, alternatives ...string) {
	_ = viper.BindEnv(key)
	for _, alt := range alternatives {
		if value := os.Getenv(alt); value != "" {
			viper.Set(key, value)
			break
		}
	}
}

// Load reads configuration from file and environment variables
func Load() error {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file path; empty means search the default locations
func LoadFile(path string) error {
	viper.Reset()
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/episodebot")
	}

	setDefaults()

	viper.SetEnvPrefix("EPISODEBOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	bindEnvWithAlternatives("database.driver", "DB_DRIVER")
	bindEnvWithAlternatives("database.path", "DATABASE_PATH")
	bindEnvWithAlternatives("database.host", "DB_HOST")
	bindEnvWithAlternatives("database.port", "DB_PORT")
	bindEnvWithAlternatives("database.user", "DB_USER")
	bindEnvWithAlternatives("database.password", "DB_PASSWORD")
	bindEnvWithAlternatives("database.dbname", "DB_NAME")
	bindEnvWithAlternatives("database.sslmode", "DB_SSLMODE")

	bindEnvWithAlternatives("telegram.bot_token", "BOT_TOKEN")
	bindEnvWithAlternatives("telegram.api_url", "TELEGRAM_API_URL")
	bindEnvWithAlternatives("telegram.upload_chat_id", "UPLOAD_CHAT_ID")
	bindEnvWithAlternatives("telegram.storage_chat_id", "DATABASE_CHAT_ID")
	_ = viper.BindEnv("telegram.timeout_seconds")
	_ = viper.BindEnv("telegram.upload_timeout_seconds")

	bindEnvWithAlternatives("anilist.url", "ANILIST_URL")
	_ = viper.BindEnv("anilist.timeout_seconds")
	_ = viper.BindEnv("anilist.description_limit")

	bindEnvWithAlternatives("staging.root", "STAGING_ROOT")
	_ = viper.BindEnv("staging.keep_on_failure")
	_ = viper.BindEnv("staging.retention_hours")
	_ = viper.BindEnv("staging.min_free_mb")

	bindEnvWithAlternatives("media.ffmpeg_path", "FFMPEG_PATH")

	_ = viper.BindEnv("schedule.timezone")

	bindEnvWithAlternatives("logging.level", "LOG_LEVEL")
	_ = viper.BindEnv("logging.format")
	_ = viper.BindEnv("logging.app.level")
	_ = viper.BindEnv("logging.database.level")

	_ = viper.BindEnv("api.enabled")
	bindEnvWithAlternatives("api.port", "API_PORT")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	loaded := &Config{}
	if err := viper.Unmarshal(loaded); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	cfg = loaded
	return nil
}

// Get returns the current configuration
func Get() *Config {
	if cfg == nil {
		return &Config{}
	}
	return cfg
}

// Set replaces the current configuration (primarily for testing)
func Set(c *Config) {
	cfg = c
}

func setDefaults() {
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.path", "./data/episodebot.db")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.sslmode", "disable")

	viper.SetDefault("telegram.api_url", "https://api.telegram.org")
	viper.SetDefault("telegram.timeout_seconds", 30)
	viper.SetDefault("telegram.upload_timeout_seconds", 1800)

	viper.SetDefault("anilist.url", "https://graphql.anilist.co")
	viper.SetDefault("anilist.timeout_seconds", 10)
	viper.SetDefault("anilist.description_limit", 700)

	viper.SetDefault("staging.root", "./data/staging")
	viper.SetDefault("staging.video_dir", "downloads")
	viper.SetDefault("staging.audio_dir", "audio")
	viper.SetDefault("staging.merged_dir", "merged")
	viper.SetDefault("staging.keep_on_failure", false)
	viper.SetDefault("staging.retention_hours", 24)
	viper.SetDefault("staging.min_free_mb", 512)

	viper.SetDefault("media.ffmpeg_path", "ffmpeg")
	viper.SetDefault("media.video_extensions", []string{".mp4"})
	viper.SetDefault("media.audio_extensions", []string{".m4a", ".aac", ".mp3"})
	viper.SetDefault("media.quality_labels", []string{"480p", "720p", "1080p"})

	viper.SetDefault("schedule.timezone", "Asia/Kolkata")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("api.enabled", true)
	viper.SetDefault("api.port", 8080)
}

// Validate checks the configuration for values the release pipeline cannot work with
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Database.User == "" || c.Database.DBName == "" {
			return fmt.Errorf("database.user and database.dbname are required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be one of: sqlite, postgres")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validFormats := map[string]bool{"json": true, "text": true}

	if c.Logging.Format != "" && !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}
	for key, level := range map[string]string{
		"logging.level":          c.Logging.Level,
		"logging.app.level":      c.Logging.App.Level,
		"logging.database.level": c.Logging.Database.Level,
	} {
		if level != "" && !validLevels[level] {
			return fmt.Errorf("%s must be one of: debug, info, warn, error", key)
		}
	}

	if len(c.Media.QualityLabels) == 0 {
		return fmt.Errorf("media.quality_labels must list at least one label")
	}
	seenLabels := make(map[string]bool, len(c.Media.QualityLabels))
	for _, label := range c.Media.QualityLabels {
		if strings.TrimSpace(label) == "" {
			return fmt.Errorf("media.quality_labels must not contain empty labels")
		}
		if seenLabels[label] {
			return fmt.Errorf("media.quality_labels contains duplicate label %q", label)
		}
		seenLabels[label] = true
	}
	if len(c.Media.VideoExtensions) == 0 || len(c.Media.AudioExtensions) == 0 {
		return fmt.Errorf("media.video_extensions and media.audio_extensions are required")
	}

	if c.Schedule.Timezone != "" {
		if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
			return fmt.Errorf("schedule.timezone: %w", err)
		}
	}

	seenTitles := make(map[string]bool, len(c.Schedule.Jobs))
	for i, job := range c.Schedule.Jobs {
		if strings.TrimSpace(job.Title) == "" {
			return fmt.Errorf("schedule.jobs[%d].title is required", i)
		}
		if seenTitles[job.Title] {
			return fmt.Errorf("schedule.jobs contains duplicate title %q", job.Title)
		}
		seenTitles[job.Title] = true
		if strings.TrimSpace(job.Cron) == "" {
			return fmt.Errorf("schedule.jobs[%d].cron is required", i)
		}
		if strings.TrimSpace(job.VideoCommand) == "" || strings.TrimSpace(job.AudioCommand) == "" {
			return fmt.Errorf("schedule.jobs[%d] requires video_command and audio_command", i)
		}
		if job.Season < 0 || job.Episode < 0 {
			return fmt.Errorf("schedule.jobs[%d] season and episode must be positive", i)
		}
	}

	return nil
}

// Job returns the configured job for title
func (c *Config) Job(title string) (JobConfig, bool) {
	for _, job := range c.Schedule.Jobs {
		if job.Title == title {
			return job, true
		}
	}
	return JobConfig{}, false
}

// Location returns the schedule timezone, falling back to local time
func (c *Config) Location() *time.Location {
	if c.Schedule.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// GetAppLogLevel returns the log level for application logging
// Priority: logging.app.level → logging.level → "info"
func (c *Config) GetAppLogLevel() string {
	if c.Logging.App.Level != "" {
		return c.Logging.App.Level
	}
	if c.Logging.Level != "" {
		return c.Logging.Level
	}
	return "info"
}

// GetDatabaseLogLevel returns the log level for database logging
// Priority: logging.database.level → logging.level → "info"
func (c *Config) GetDatabaseLogLevel() string {
	if c.Logging.Database.Level != "" {
		return c.Logging.Database.Level
	}
	if c.Logging.Level != "" {
		return c.Logging.Level
	}
	return "info"
}
