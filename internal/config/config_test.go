package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const sampleConfig = `
telegram:
  bot_token: "123:abc"
  upload_chat_id: -1001234567890
  storage_chat_id: -1009876543210
schedule:
  timezone: Asia/Kolkata
  jobs:
    - title: Solo Leveling
      cron: "0 9 * * wed"
      video_command: "python animepahe_dl.py --anime solo-leveling --latest"
      audio_command: "python crunchy_audio_dl.py --anime solo-leveling"
      season: 1
      episode: 7
    - title: Naruto
      cron: "0 22 * * wed"
      video_command: "python nx_downloader.py --anime naruto --latest"
      audio_command: "python crunchy_audio_dl.py --anime naruto"
`

func TestLoad_WithDefaults(t *testing.T) {
	cfg = nil
	t.Cleanup(func() { cfg = nil })

	if err := LoadFile(writeConfig(t, sampleConfig)); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	c := Get()
	if c.Database.Driver != "sqlite" {
		t.Errorf("expected default driver sqlite, got %s", c.Database.Driver)
	}
	if c.AniList.URL != "https://graphql.anilist.co" {
		t.Errorf("unexpected anilist url %s", c.AniList.URL)
	}
	if got := strings.Join(c.Media.QualityLabels, ","); got != "480p,720p,1080p" {
		t.Errorf("expected default quality labels, got %s", got)
	}
	if got := strings.Join(c.Media.AudioExtensions, ","); got != ".m4a,.aac,.mp3" {
		t.Errorf("expected default audio extensions, got %s", got)
	}
	if c.API.Port != 8080 {
		t.Errorf("expected default API port 8080, got %d", c.API.Port)
	}
	if c.Telegram.StorageChatID != -1009876543210 {
		t.Errorf("unexpected storage chat id %d", c.Telegram.StorageChatID)
	}
}

func TestLoad_Jobs(t *testing.T) {
	cfg = nil
	t.Cleanup(func() { cfg = nil })

	if err := LoadFile(writeConfig(t, sampleConfig)); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	c := Get()
	if len(c.Schedule.Jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(c.Schedule.Jobs))
	}

	job, ok := c.Job("Solo Leveling")
	if !ok {
		t.Fatal("expected Solo Leveling job")
	}
	if job.Cron != "0 9 * * wed" || job.Episode != 7 || job.Season != 1 {
		t.Errorf("unexpected job %+v", job)
	}
	if _, ok := c.Job("Bleach"); ok {
		t.Error("unexpected job for unknown title")
	}
	if c.Location().String() != "Asia/Kolkata" {
		t.Errorf("expected Asia/Kolkata location, got %s", c.Location())
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	cfg = nil
	t.Cleanup(func() { cfg = nil })
	t.Setenv("EPISODEBOT_LOGGING_LEVEL", "debug")
	t.Setenv("BOT_TOKEN", "999:zzz")

	if err := LoadFile(writeConfig(t, sampleConfig)); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if Get().Logging.Level != "debug" {
		t.Errorf("expected env log level, got %s", Get().Logging.Level)
	}
	if Get().Telegram.BotToken != "999:zzz" {
		t.Errorf("expected BOT_TOKEN alternative to win, got %s", Get().Telegram.BotToken)
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	cfg = nil
	t.Cleanup(func() { cfg = nil })
	t.Setenv("EPISODEBOT_LOGGING_LEVEL", "loud")

	err := LoadFile(writeConfig(t, sampleConfig))
	if err == nil {
		t.Fatal("expected error for invalid log level")
	}
	if !strings.Contains(err.Error(), "logging.level must be one of") {
		t.Errorf("expected error about log level, got: %s", err)
	}
}

func validConfig() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: "sqlite", Path: "ledger.db"},
		Media: MediaConfig{
			VideoExtensions: []string{".mp4"},
			AudioExtensions: []string{".m4a"},
			QualityLabels:   []string{"480p", "720p", "1080p"},
		},
		Schedule: ScheduleConfig{
			Jobs: []JobConfig{{
				Title:        "Naruto",
				Cron:         "0 22 * * wed",
				VideoCommand: "video",
				AudioCommand: "audio",
			}},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"postgres without user", func(c *Config) { c.Database.Driver = "postgres" }, "database.user"},
		{"no labels", func(c *Config) { c.Media.QualityLabels = nil }, "at least one label"},
		{"duplicate labels", func(c *Config) { c.Media.QualityLabels = []string{"720p", "720p"} }, "duplicate label"},
		{"bad timezone", func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" }, "schedule.timezone"},
		{"job without cron", func(c *Config) { c.Schedule.Jobs[0].Cron = "" }, "cron is required"},
		{"job without audio", func(c *Config) { c.Schedule.Jobs[0].AudioCommand = " " }, "audio_command"},
		{"duplicate job", func(c *Config) {
			c.Schedule.Jobs = append(c.Schedule.Jobs, c.Schedule.Jobs[0])
		}, "duplicate title"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLogLevelPriority(t *testing.T) {
	c := &Config{Logging: LoggingConfig{Level: "warn", App: LogLevelConfig{Level: "debug"}}}

	if c.GetAppLogLevel() != "debug" {
		t.Errorf("expected app level debug, got %s", c.GetAppLogLevel())
	}
	if c.GetDatabaseLogLevel() != "warn" {
		t.Errorf("expected database level to fall back to warn, got %s", c.GetDatabaseLogLevel())
	}
	if (&Config{}).GetAppLogLevel() != "info" {
		t.Error("expected info when nothing is configured")
	}
}
