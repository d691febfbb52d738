package database

import (
	"path/filepath"
	"testing"

	"github.com/glefebvre/episodebot/internal/config"
	"github.com/glefebvre/episodebot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_SQLiteCreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")

	conn, err := Open(config.DatabaseConfig{Driver: "sqlite", Path: path}, "silent")
	require.NoError(t, err)

	assert.True(t, conn.Migrator().HasTable(&models.EpisodeRecord{}))
	assert.True(t, conn.Migrator().HasTable(&models.ReleaseLog{}))
	assert.NoError(t, Ping(conn))
}

func TestOpen_PersistsAcrossConnections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	dbCfg := config.DatabaseConfig{Driver: "sqlite", Path: path}

	first, err := Open(dbCfg, "silent")
	require.NoError(t, err)
	require.NoError(t, first.Create(&models.EpisodeRecord{Title: "Naruto", Season: 5, Episode: 188}).Error)
	sqlDB, err := first.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	second, err := Open(dbCfg, "silent")
	require.NoError(t, err)

	var record models.EpisodeRecord
	require.NoError(t, second.Where("title = ?", "Naruto").First(&record).Error)
	assert.Equal(t, 188, record.Episode)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "mysql"}, "silent")
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestPing_Uninitialized(t *testing.T) {
	assert.Error(t, Ping(nil))
}
