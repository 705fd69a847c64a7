package logging

import (
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mail-chat-bridge-go/internal/config"
)

func TestForAccountWithoutFile(t *testing.T) {
	entry, closer, err := ForAccount(config.AccountConfig{Name: "alerts"}, config.LogConfig{})
	require.NoError(t, err)
	defer closer.Close()

	assert.Equal(t, "alerts", entry.Data["account"])
	assert.Same(t, logrus.StandardLogger(), entry.Logger)
}

func TestForAccountWritesFile(t *testing.T) {
	dir := t.TempDir()
	acc := config.AccountConfig{
		Name:    "alerts",
		LogFile: "logs/alerts.log",
		Store:   config.StoreConfig{WorkingDir: dir},
	}

	entry, closer, err := ForAccount(acc, config.LogConfig{MaxSizeMB: 1})
	require.NoError(t, err)

	entry.Info("poll cycle finished")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(acc.LogPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "poll cycle finished")
	assert.Contains(t, string(data), "account=alerts")
	assert.Regexp(t, `time="\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}"`, string(data))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, parseLevel("debug"))
	assert.Equal(t, logrus.InfoLevel, parseLevel("nonsense"))
}
