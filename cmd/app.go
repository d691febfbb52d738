package main

import (
	"context"
	"fmt"
	"time"

	"github.com/glefebvre/episodebot/internal/config"
	"github.com/glefebvre/episodebot/internal/database"
	apperrors "github.com/glefebvre/episodebot/internal/errors"
	"github.com/glefebvre/episodebot/internal/external/anilist"
	"github.com/glefebvre/episodebot/internal/external/telegram"
	"github.com/glefebvre/episodebot/internal/history"
	"github.com/glefebvre/episodebot/internal/ledger"
	"github.com/glefebvre/episodebot/internal/logger"
	"github.com/glefebvre/episodebot/internal/merge"
	"github.com/glefebvre/episodebot/internal/pipeline"
	"github.com/glefebvre/episodebot/internal/stage"
	"github.com/glefebvre/episodebot/internal/staging"
	"gorm.io/gorm"
)

// app holds the wired services shared by serve and release
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	db       *gorm.DB
	ledger   *ledger.Ledger
	history  *history.Store
	layout   staging.Layout
	pipeline *pipeline.Pipeline
}

// openStore initializes loggers and the database; enough for ledger commands
func openStore() (*app, error) {
	cfg := config.Get()
	logger.InitializeLoggersWithFormat(cfg.GetAppLogLevel(), cfg.GetDatabaseLogLevel(), cfg.Logging.Format)

	if err := database.Initialize(); err != nil {
		return nil, err
	}
	db := database.Get()

	return &app{
		cfg:     cfg,
		log:     logger.AppLogger(),
		db:      db,
		ledger:  ledger.New(ledger.NewGormStore(db)),
		history: history.NewStore(db),
		layout:  staging.LayoutFromConfig(cfg.Staging),
	}, nil
}

// newApp wires the full release pipeline
func newApp(ctx context.Context) (*app, error) {
	a, err := openStore()
	if err != nil {
		return nil, err
	}
	cfg := a.cfg

	if cfg.Telegram.BotToken == "" {
		return nil, apperrors.ConfigError("telegram.bot_token is required to release", nil)
	}

	metadata := anilist.NewClient(anilist.Config{
		URL:              cfg.AniList.URL,
		Timeout:          time.Duration(cfg.AniList.TimeoutSeconds) * time.Second,
		DescriptionLimit: cfg.AniList.DescriptionLimit,
	})
	publisher := telegram.NewClient(telegram.Config{
		BotToken:      cfg.Telegram.BotToken,
		APIURL:        cfg.Telegram.APIURL,
		Timeout:       time.Duration(cfg.Telegram.TimeoutSeconds) * time.Second,
		UploadTimeout: time.Duration(cfg.Telegram.UploadTimeout) * time.Second,
	})

	runner := stage.NewExecRunner()
	space := staging.FreeSpaceChecker{MinFreeBytes: uint64(cfg.Staging.MinFreeMB) << 20}

	p, err := pipeline.New(pipeline.Config{
		UploadChatID:    cfg.Telegram.UploadChatID,
		StorageChatID:   cfg.Telegram.StorageChatID,
		Layout:          a.layout,
		VideoExtensions: cfg.Media.VideoExtensions,
		AudioExtensions: cfg.Media.AudioExtensions,
		QualityLabels:   cfg.Media.QualityLabels,
		KeepOnFailure:   cfg.Staging.KeepOnFailure,
	}, pipeline.Deps{
		Ledger:    a.ledger,
		Metadata:  metadata,
		Publisher: publisher,
		Runner:    runner,
		Merger:    merge.New(runner, cfg.Media.FFmpegPath, space),
		History:   a.history,
	})
	if err != nil {
		return nil, err
	}
	a.pipeline = p

	if err := a.seed(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// seed stores the configured starting positions of titles the ledger does not know yet
func (a *app) seed(ctx context.Context) error {
	for _, job := range a.cfg.Schedule.Jobs {
		if job.Season < 1 || job.Episode < 1 {
			continue
		}
		record, created, err := a.ledger.Seed(ctx, job.Title, job.Season, job.Episode)
		if err != nil {
			return fmt.Errorf("failed to seed %s: %w", job.Title, err)
		}
		if created {
			a.log.WithFields(map[string]interface{}{
				"title":    job.Title,
				"position": record.Position().String(),
			}).Info("ledger seeded")
		}
	}
	return nil
}

func (a *app) close() {
	if err := database.Close(); err != nil {
		a.log.Warn(fmt.Sprintf("failed to close database: %v", err))
	}
}
