// Package logx configures the process-wide zerolog logger.
package logx

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Environment selects the output format.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Options configures Init.
type Options struct {
	Environment Environment
	// Level is a zerolog level name; empty means debug in development and
	// info in production.
	Level string
	// Writer overrides stderr.
	Writer io.Writer
}

// DefaultOptions is used when Init is called without options.
var DefaultOptions = Options{Environment: Development}

// ParseEnvironment maps a config string to an Environment.
func ParseEnvironment(s string) (Environment, error) {
	switch Environment(strings.ToLower(strings.TrimSpace(s))) {
	case "", Development, "dev":
		return Development, nil
	case Production, "prod":
		return Production, nil
	}
	return "", fmt.Errorf("logx: unknown environment %q", s)
}

// Init replaces the global logger. Development gets a human-readable
// console writer with caller info; production writes JSON lines.
func Init(opts ...Options) error {
	o := DefaultOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	w := o.Writer
	if w == nil {
		w = os.Stderr
	}

	level := zerolog.DebugLevel
	if o.Environment == Production {
		level = zerolog.InfoLevel
	}
	if o.Level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(o.Level))
		if err != nil {
			return fmt.Errorf("logx: %w", err)
		}
		level = l
	}

	if o.Environment == Production {
		log.Logger = zerolog.New(w).With().Timestamp().Logger().Level(level)
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Caller().Logger().Level(level)
	}
	return nil
}

// Component returns a child of the global logger tagged with the component
// name. Call it after Init.
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}

func Debug() *zerolog.Event { return log.Debug() }
func Info() *zerolog.Event  { return log.Info() }
func Warn() *zerolog.Event  { return log.Warn() }
func Error() *zerolog.Event { return log.Error() }
func Fatal() *zerolog.Event { return log.Fatal() }
