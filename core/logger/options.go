package logger

import (
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	coreconfig "github.com/m3rciful/dialogbot/core/config"
)

const (
	defaultSampleNum = 1
	defaultSampleDen = 50
	defaultProfile   = "prod"
)

// options is the resolved logging section of the config.
type options struct {
	level     slog.Level
	format    logFormat
	keyOrder  []string
	profile   string
	sampleNum int
	sampleDen int
	trace     bool
	dir       string
	file      string
}

func optionsFrom(cfg *coreconfig.Config) options {
	o := options{
		level:     slog.LevelInfo,
		format:    formatJSON,
		keyOrder:  append([]string(nil), defaultKeyOrder...),
		profile:   defaultProfile,
		sampleNum: defaultSampleNum,
		sampleDen: defaultSampleDen,
		trace:     truthy(os.Getenv("TRACE")) || truthy(os.Getenv("LOG_TRACE")),
	}
	if cfg == nil {
		return o
	}
	lc := cfg.Logging
	if p := strings.ToLower(strings.TrimSpace(lc.Profile)); p != "" {
		o.profile = p
	}
	o.level = parseLevel(lc.Level)
	o.format = parseFormat(lc.Format, o.profile)
	if order := parseKeyOrder(lc.KeysOrder); len(order) > 0 {
		o.keyOrder = order
	}
	o.sampleNum, o.sampleDen = parseSample(lc.DebugSample)
	o.dir = strings.TrimSpace(lc.Dir)
	o.file = strings.TrimSpace(lc.BotFile)
	return o
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// parseFormat falls back to key=value output for debug and dev profiles.
func parseFormat(s, profile string) logFormat {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return formatJSON
	case "kv", "text", "pretty":
		return formatKV
	}
	if profile == "debug" || profile == "dev" {
		return formatKV
	}
	return formatJSON
}

func parseKeyOrder(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "default" {
		return nil
	}
	var order []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			order = append(order, k)
		}
	}
	return order
}

// parseSample reads "n/d" or "d" (meaning 1/d). "0" disables sampling and
// anything unreadable keeps the default ratio.
func parseSample(s string) (int, int) {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultSampleNum, defaultSampleDen
	}
	numStr, denStr, ratio := strings.Cut(s, "/")
	if !ratio {
		numStr, denStr = "1", s
	}
	num, err1 := strconv.Atoi(strings.TrimSpace(numStr))
	den, err2 := strconv.Atoi(strings.TrimSpace(denStr))
	switch {
	case err1 != nil || err2 != nil:
		return defaultSampleNum, defaultSampleDen
	case den == 0 || num == 0:
		return 0, 0
	case num < 0 || den < 0:
		return defaultSampleNum, defaultSampleDen
	}
	return num, den
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

// openSinks returns stdout plus the log file when one is configured. A file
// that cannot be opened is reported on the standard logger and skipped.
func (o options) openSinks() ([]io.Writer, []io.Closer, error) {
	sinks := []io.Writer{os.Stdout}
	if o.dir == "" || o.file == "" {
		return sinks, nil, nil
	}
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		log.Printf("logger: create %s: %v", o.dir, err)
		return sinks, nil, nil
	}
	path := filepath.Join(o.dir, o.file)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Printf("logger: open %s: %v", path, err)
		return sinks, nil, nil
	}
	return append(sinks, f), []io.Closer{f}, nil
}
