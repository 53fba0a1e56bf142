package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "123456789:AAF1pCJKN2uz2YL86yw_wKcFHGy_oFmvOjQ"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsAndPathResolution(t *testing.T) {
	dataDir := t.TempDir()
	path := writeConfig(t, `
telegram:
  token: "`+testToken+`"
data:
  dir: "`+dataDir+`"
  top10: /abs/top10.json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Pager.PageSize)
	assert.Equal(t, 300*time.Second, cfg.Pager.LongDeleteDelay)
	assert.Equal(t, 1*time.Second, cfg.Pager.ShortDeleteDelay)
	assert.Equal(t, 300*time.Second, cfg.GitHub.Interval)
	assert.Equal(t, 10*time.Second, cfg.GitHub.InitialDelay)
	assert.Equal(t, "main", cfg.GitHub.Branch)

	assert.Equal(t, filepath.Join(dataDir, "history_ew.json"), cfg.Data.HistoryEW)
	assert.Equal(t, "/abs/top10.json", cfg.Data.Top10)
	assert.Equal(t, filepath.Join(dataDir, "bot.db"), cfg.DB.Path)
	assert.Equal(t, []string{
		filepath.Join(dataDir, "history_ew.json"),
		filepath.Join(dataDir, "history_ed.json"),
		filepath.Join(dataDir, "history_e.json"),
	}, cfg.Data.ProfileFiles)
	assert.False(t, cfg.SyncEnabled())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
telegram:
  token: "bad"
github:
  branch: dev
`)
	t.Setenv("BOT_TOKEN", testToken)
	t.Setenv("GITHUB_TOKEN", "ghp_test")
	t.Setenv("GITHUB_REPO", "owner/repo")
	t.Setenv("GITHUB_PATH_PREFIX", "/data\\json/")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, testToken, cfg.Telegram.Token)
	assert.Equal(t, "dev", cfg.GitHub.Branch)
	assert.Equal(t, "data/json", cfg.GitHub.PathPrefix)
	assert.True(t, cfg.SyncEnabled())
}

func TestLoad_MissingFileFallsBackToEnv(t *testing.T) {
	t.Setenv("BOT_TOKEN", testToken)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, testToken, cfg.Telegram.Token)
}

func TestLoad_InvalidToken(t *testing.T) {
	path := writeConfig(t, `
telegram:
  token: "not-a-token"
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	path := writeConfig(t, `
telegram:
  token: "`+testToken+`"
logger:
  level: verbose
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_ZeroPageSizeRejected(t *testing.T) {
	path := writeConfig(t, `
telegram:
  token: "`+testToken+`"
pager:
  pageSize: 0
`)
	_, err := Load(path)
	assert.Error(t, err)
}
