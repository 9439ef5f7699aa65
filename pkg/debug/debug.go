// Package debug provides category-based debug logging and sets up the
// process-wide slog handler.
//
// Two orthogonal controls:
//   - Categories (WHAT to debug): CONNECTAUTH_DEBUG env or config
//   - Levels (HOW MUCH detail): CONNECTAUTH_LOG_LEVEL env or config
//
// Usage:
//
//	debug.Log("outbound", "signing request", "method", "GET", "tenant", clientKey)
//	if debug.Enabled("auth") { /* expensive formatting */ }
//
// Categories: auth, nonce, outbound, storage, exchange, config, all.
// Levels: ERROR, WARN, INFO, DEBUG, TRACE.
package debug

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LevelTrace is below slog.LevelDebug for maximum verbosity.
const LevelTrace = slog.LevelDebug - 4

// Environment variables consulted by Init. They take precedence over config.
const (
	EnvCategories = "CONNECTAUTH_DEBUG"
	EnvLevel      = "CONNECTAUTH_LOG_LEVEL"
	EnvFormat     = "CONNECTAUTH_LOG_FORMAT"
)

// categories holds the set of enabled debug categories.
// Access is read-only after Init(), so no synchronization needed.
var categories map[string]bool

func init() {
	categories = parseCategories(os.Getenv(EnvCategories))
}

// Init configures categories and installs the default slog handler.
// format is "text" (default) or "json".
func Init(configCategories, configLevel, configFormat string) {
	initTo(os.Stderr, configCategories, configLevel, configFormat)
}

func initTo(w io.Writer, configCategories, configLevel, configFormat string) {
	categories = parseCategories(firstNonEmpty(os.Getenv(EnvCategories), configCategories))

	opts := &slog.HandlerOptions{
		Level: ParseLevel(firstNonEmpty(os.Getenv(EnvLevel), configLevel)),
	}

	var handler slog.Handler
	if strings.EqualFold(firstNonEmpty(os.Getenv(EnvFormat), configFormat), "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// Enabled reports whether debug output is active for the given category.
func Enabled(category string) bool {
	return categories["all"] || categories[category]
}

// Log emits a debug message for the given category.
// If the category is not enabled, this is a no-op.
func Log(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Debug(msg, append([]any{"debug", category}, args...)...)
}

// Trace emits a trace-level message for the given category.
// Only visible when the log level is TRACE.
func Trace(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Log(context.Background(), LevelTrace, msg, append([]any{"debug", category}, args...)...)
}

// ParseLevel converts a level string to a slog.Level.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Categories returns the enabled categories.
func Categories() []string {
	var result []string
	for k := range categories {
		result = append(result, k)
	}
	return result
}

// Redact shortens a credential to a recognizable prefix for log output.
// Values of 8 characters or fewer are fully masked.
func Redact(s string) string {
	if len(s) <= 8 {
		return "[redacted]"
	}
	return s[:4] + "...[redacted]"
}

func parseCategories(s string) map[string]bool {
	m := make(map[string]bool)
	for _, cat := range strings.Split(s, ",") {
		cat = strings.TrimSpace(strings.ToLower(cat))
		if cat != "" {
			m[cat] = true
		}
	}
	return m
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
