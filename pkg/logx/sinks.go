package logx

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

func consoleSink(w io.Writer, format string) io.Writer {
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return w
	}
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: timeFormat,
		NoColor:    underJournald(),
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
	}
}

// underJournald reports whether stdout is connected to the systemd journal.
func underJournald() bool { return os.Getenv("JOURNAL_STREAM") != "" }

func parseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return def
	}
}
