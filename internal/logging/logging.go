package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"mail-chat-bridge-go/internal/config"
)

// TimestampFormat prefixes every line of a per-account log file
const TimestampFormat = "2006-01-02T15:04:05"

// Setup configures the process-wide logger
func Setup(cfg config.LogConfig) {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(parseLevel(cfg.Level))
}

// ForAccount returns the logger an account worker writes through. Accounts
// with a log_file get their own logger that appends to a rotating file as
// well as stdout; the returned closer releases that file.
func ForAccount(acc config.AccountConfig, cfg config.LogConfig) (*logrus.Entry, io.Closer, error) {
	path := acc.LogPath()
	if path == "" {
		return logrus.WithField("account", acc.Name), io.NopCloser(nil), nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, err
	}

	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}

	logger := logrus.New()
	logger.SetOutput(io.MultiWriter(os.Stdout, file))
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: TimestampFormat,
		DisableColors:   true,
	})
	logger.SetLevel(logrus.GetLevel())

	return logger.WithField("account", acc.Name), file, nil
}

func parseLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
