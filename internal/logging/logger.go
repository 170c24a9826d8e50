package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/edvin/botplane/internal/config"
)

// NewLogger creates a structured zerolog.Logger for a binary. The service
// name from config is attached to every line; when LogFile is set the output
// is teed into a rotated file next to stdout.
func NewLogger(cfg *config.Config, service string) zerolog.Logger {
	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     14,
			Compress:   true,
		})
	}

	name := service
	if cfg.ServiceName != "" {
		name = cfg.ServiceName
	}

	logger := zerolog.New(out).With().Timestamp().Str("service", name).Logger()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	return logger.Level(level)
}
