// Package logging builds the process logger and adapts it to the detector's
// event-coded Logger interface.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/marcuoli/go-spoofwatch/pkg/spoofwatch"
)

// Environment variables that override Options.
const (
	EnvLevel     = "SPOOFWATCH_LOG_LEVEL"
	EnvNoColor   = "SPOOFWATCH_LOG_NOCOLOR"
	EnvTimestamp = "SPOOFWATCH_LOG_TIMESTAMP"
)

// Options configures New.
type Options struct {
	Out        io.Writer
	App        string
	Level      zerolog.Level
	NoColor    bool
	TimeFormat string
	// JSON writes raw JSON lines instead of the console format.
	JSON bool
}

// DefaultOptions logs to stderr at info level with RFC3339 timestamps.
func DefaultOptions() Options {
	return Options{
		Out:        os.Stderr,
		App:        "spoofwatch",
		Level:      zerolog.InfoLevel,
		TimeFormat: time.RFC3339,
	}
}

// FromEnv applies the SPOOFWATCH_LOG_* overrides to o. An unparseable
// level is ignored.
func FromEnv(o Options) Options {
	if v := strings.TrimSpace(os.Getenv(EnvLevel)); v != "" {
		if lvl, err := zerolog.ParseLevel(strings.ToLower(v)); err == nil {
			o.Level = lvl
		}
	}
	if v := os.Getenv(EnvNoColor); v != "" && v != "0" && !strings.EqualFold(v, "false") {
		o.NoColor = true
	}
	if v := os.Getenv(EnvTimestamp); v != "" {
		o.TimeFormat = v
	}
	return o
}

// New builds a logger from o and installs it as the zerolog global logger.
func New(o Options) zerolog.Logger {
	out := o.Out
	if out == nil {
		out = os.Stderr
	}
	if !o.JSON {
		tf := o.TimeFormat
		if tf == "" {
			tf = time.RFC3339
		}
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: tf, NoColor: o.NoColor}
	}
	ctx := zerolog.New(out).Level(o.Level).With().Timestamp()
	if o.App != "" {
		ctx = ctx.Str("app", o.App)
	}
	logger := ctx.Logger()
	log.Logger = logger
	return logger
}

// EventLogger writes detector events with their code and category as
// structured fields.
type EventLogger struct {
	L zerolog.Logger
}

// Log implements spoofwatch.Logger.
func (e EventLogger) Log(sev spoofwatch.Severity, event spoofwatch.EventID, category spoofwatch.Category, msg string) {
	var ev *zerolog.Event
	switch sev {
	case spoofwatch.SeverityError:
		ev = e.L.Error()
	case spoofwatch.SeverityWarning:
		ev = e.L.Warn()
	default:
		ev = e.L.Info()
	}
	ev.Int("event", int(event)).Str("category", category.String()).Msg(msg)
}

// Debug implements spoofwatch.DebugLogger at debug level.
func (e EventLogger) Debug(prefix string, format string, args ...interface{}) {
	e.L.Debug().Str("component", prefix).Msgf(format, args...)
}

var _ spoofwatch.Logger = EventLogger{}
