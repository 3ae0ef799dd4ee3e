// Package logging builds the process logger and masks personal data in
// log fields.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options select the logger's level and output format.
type Options struct {
	// Level is a zerolog level name: trace, debug, info, warn, error.
	Level string

	// Format is "json" (default) or "console".
	Format string

	// Writer defaults to os.Stderr.
	Writer io.Writer
}

// New creates a logger for opts.
func New(opts Options) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("parsing log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	switch strings.ToLower(opts.Format) {
	case "", "json":
	case "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", opts.Format)
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

// MaskEmail keeps the first and last character of each address part.
// Values without a usable @ are returned unchanged.
func MaskEmail(s string) string {
	s = strings.TrimSpace(s)
	at := strings.LastIndexByte(s, '@')
	if at <= 0 || at == len(s)-1 {
		return s
	}
	mask := func(part string) string {
		if len(part) <= 1 {
			return "*"
		}
		return part[:1] + strings.Repeat("*", max(0, len(part)-2)) + part[len(part)-1:]
	}
	domain := strings.Split(s[at+1:], ".")
	for i, p := range domain {
		domain[i] = mask(p)
	}
	return mask(s[:at]) + "@" + strings.Join(domain, ".")
}

// Addresses formats addresses for logging, masking them when redact is set.
func Addresses(redact bool) func(string) string {
	if !redact {
		return func(s string) string { return s }
	}
	return MaskEmail
}
