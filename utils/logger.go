package utils

import (
	"fmt"

	"go.uber.org/zap"
)

// InitLogger builds the process logger and installs it as zap's global, so
// packages log through zap.S(). env "development" gives a console logger with
// debug output; anything else gives JSON at info level.
func InitLogger(env string) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if env == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}
