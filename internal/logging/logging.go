package logging

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init points the global logger at path and stderr. When the log file cannot
// be opened (e.g. running off-device without /var/log access) it logs to
// stderr only.
func Init(level zerolog.Level, path string) {
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}

	logFile, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		log.Logger = zerolog.New(console).Level(level).With().Timestamp().Logger()
		log.Warn().Err(err).Str("path", path).Msg("Log file unavailable, logging to stderr only")
		return
	}

	multi := zerolog.MultiLevelWriter(logFile, console)

	logger := zerolog.New(multi).Level(level).With().Timestamp().Logger()
	log.Logger = logger

	if level == zerolog.DebugLevel {
		log.Debug().Msg("Log level set to DEBUG")
	}
}
