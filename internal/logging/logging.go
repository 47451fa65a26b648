// Package logging builds the service logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/sirupsen/logrus"

	"solana-nft-custody/internal/config"
)

// New returns a logger for cfg. When cfg.Path is set, output also goes to a
// daily-rotated file named after name, kept for 30 days.
// The returned closer releases the file and is never nil.
func New(name string, cfg config.Log) (*logrus.Logger, io.Closer, error) {
	lvl, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("parse log level: %w", err)
	}

	logger := logrus.New()
	logger.SetLevel(lvl)
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.Path == "" {
		logger.SetOutput(os.Stdout)
		return logger, nopCloser{}, nil
	}

	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	base := filepath.Join(cfg.Path, name)
	rotator, err := rotatelogs.New(
		base+".%Y%m%d%H%M.log",
		rotatelogs.WithLinkName(base+".log"),
		rotatelogs.WithMaxAge(30*24*time.Hour),
		rotatelogs.WithRotationTime(24*time.Hour),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create rotating log file: %w", err)
	}

	logger.SetOutput(io.MultiWriter(os.Stdout, rotator))
	return logger, rotator, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
