package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Settings controls the global zerolog setup.
type Settings struct {
	Level      string `koanf:"level"`
	File       string `koanf:"file"`
	WithCaller bool   `koanf:"with_caller"`
}

// Init configures the global logger once: a console writer on stderr and,
// when a file is configured, a rotating file sink alongside it.
func Init(s Settings) error {
	level, err := zerolog.ParseLevel(strings.ToLower(s.Level))
	if err != nil || s.Level == "" {
		level = zerolog.InfoLevel
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	writers := []io.Writer{console}
	if s.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   s.File,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		})
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp()
	if s.WithCaller {
		logger = logger.Caller()
	}
	log.Logger = logger.Logger()
	return nil
}
