package utils

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func UserHomeDirPath() string {
	p, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("error while creating getting user home dir: %w", err))
	}

	tftpBaseDir := filepath.Join(p, "tftp")

	if _, err := os.Stat(tftpBaseDir); err != nil {
		if os.IsNotExist(err) {
			if err := os.Mkdir(tftpBaseDir, 0o750); err != nil {
				panic(fmt.Errorf("error while creating tftp base dir: %w", err))
			}
		} else {
			panic(fmt.Errorf("error cheking if file exists: %w", err))
		}
	}

	return tftpBaseDir
}

// NewLogger builds a console logger at the given level. Unknown levels fall
// back to info.
func NewLogger(level string) *zap.Logger {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		lvl = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = lvl
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	l, err := cfg.Build()
	if err != nil {
		panic(fmt.Errorf("error while building logger: %w", err))
	}

	return l
}
