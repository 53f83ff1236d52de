// Package logging builds the process logger.
package logging

import (
	"fmt"
	"os"
	"strings"

	"github.com/janekbaraniewski/counterstats/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DebugEnv forces debug level with console output when set.
const DebugEnv = "COUNTERSTATS_DEBUG"

// New builds a zap logger writing to stderr so command output on stdout
// stays machine readable.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	if os.Getenv(DebugEnv) != "" {
		cfg.Level = "debug"
		cfg.Format = "console"
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Encoding = normalizeFormat(cfg.Format)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.OutputPaths = []string{"stderr"}
	zapCfg.ErrorOutputPaths = []string{"stderr"}
	zapCfg.Sampling = nil

	level := strings.TrimSpace(cfg.Level)
	if level == "" {
		level = "info"
	}
	if err := zapCfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("logging: invalid log level %q: %w", level, err)
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build logger: %w", err)
	}
	return logger.With(zap.String("service", "counterstats")), nil
}

func normalizeFormat(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console", "text":
		return "console"
	default:
		return "json"
	}
}
