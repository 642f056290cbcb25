package config

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogging sets the global level and switches to console output. A json
// format keeps zerolog's structured lines, e.g. for log shipping.
func SetupLogging(level string, format ...string) {
	zerolog.SetGlobalLevel(ParseLevel(level))
	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}
	if len(format) > 0 && strings.EqualFold(format[0], "json") {
		out = os.Stderr
	}
	log.Logger = log.Output(out)
}

func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
