package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is shared by every agent component. Init replaces it.
var Logger = New(Config{JSONOutput: true})

// Level is a configured verbosity
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

var zerologLevels = map[Level]zerolog.Level{
	DebugLevel: zerolog.DebugLevel,
	InfoLevel:  zerolog.InfoLevel,
	WarnLevel:  zerolog.WarnLevel,
	ErrorLevel: zerolog.ErrorLevel,
}

// ParseLevel converts a configuration string into a Level, defaulting to info
func ParseLevel(s string) Level {
	level := Level(strings.ToLower(strings.TrimSpace(s)))
	if level == "warning" {
		return WarnLevel
	}
	if _, ok := zerologLevels[level]; ok {
		return level
	}
	return InfoLevel
}

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer // defaults to stderr
}

// New builds a timestamped logger writing JSON lines or console output
func New(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if !cfg.JSONOutput {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, ok := zerologLevels[cfg.Level]
	if !ok {
		level = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Init configures the shared Logger and the global level
func Init(cfg Config) {
	Logger = New(cfg)
	zerolog.SetGlobalLevel(Logger.GetLevel())
}

// WithComponent derives a logger tagged with the emitting component
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithCluster tags logger with a cluster name
func WithCluster(logger zerolog.Logger, cluster string) zerolog.Logger {
	return logger.With().Str("cluster", cluster).Logger()
}

// WithJobID tags logger with a job id and the command it runs
func WithJobID(logger zerolog.Logger, jid, command string) zerolog.Logger {
	return logger.With().Str("jid", jid).Str("command", command).Logger()
}
