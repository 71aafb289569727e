package monitor

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents severity.
type LogLevel int32

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[string]LogLevel{
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
}

var zerologLevels = map[LogLevel]zerolog.Level{
	LevelDebug: zerolog.DebugLevel,
	LevelInfo:  zerolog.InfoLevel,
	LevelWarn:  zerolog.WarnLevel,
	LevelError: zerolog.ErrorLevel,
}

// Config selects the log output. Format is "console" (default) or "json".
type Config struct {
	Level  string
	Format string
	Output io.Writer
}

var currentLevel int32 = int32(LevelInfo)

var (
	mu         sync.RWMutex
	baseLogger zerolog.Logger
)

func init() { Init(Config{}) }

// Init (re)configures the package logger. Safe to call more than once.
func Init(cfg Config) {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	var out io.Writer = cfg.Output
	if !strings.EqualFold(cfg.Format, "json") {
		out = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: "2006-01-02 15:04:05.000", NoColor: true}
	}
	mu.Lock()
	baseLogger = zerolog.New(out).With().Timestamp().Logger()
	mu.Unlock()
	if cfg.Level != "" {
		SetLogLevel(cfg.Level)
	}
}

// SetLogLevel parses and sets the log level. Unknown names are ignored.
func SetLogLevel(s string) {
	l, ok := levelNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return
	}
	atomic.StoreInt32(&currentLevel, int32(l))
}

func getLevel() LogLevel { return LogLevel(atomic.LoadInt32(&currentLevel)) }

// GetLogLevel returns current global log level (exported for conditional debug logic outside package).
func GetLogLevel() LogLevel { return getLevel() }

// SetRunID tags every following log line with the given run id.
func SetRunID(id string) {
	mu.Lock()
	baseLogger = baseLogger.With().Str("run_id", id).Logger()
	mu.Unlock()
}

// Logger returns the structured logger, filtered at the current level.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return baseLogger.Level(zerologLevels[getLevel()])
}

func logf(l LogLevel, format string, args ...interface{}) {
	if getLevel() > l {
		return
	}
	lg := Logger()
	ev := lg.WithLevel(zerologLevels[l])
	// Only format when there are args; otherwise treat the input as a plain message to avoid
	// fmt parsing literal % characters in already formatted strings (which would yield %!x(MISSING)).
	if len(args) == 0 {
		ev.Msg(format)
		return
	}
	ev.Msg(fmt.Sprintf(format, args...))
}

// Public helpers
func Debugf(format string, a ...interface{}) { logf(LevelDebug, format, a...) }
func Infof(format string, a ...interface{})  { logf(LevelInfo, format, a...) }
func Warnf(format string, a ...interface{})  { logf(LevelWarn, format, a...) }
func Errorf(format string, a ...interface{}) { logf(LevelError, format, a...) }

// Timing helper for phases.
func TimeTrack(start time.Time, label string) {
	dur := time.Since(start)
	Debugf("%s took %s", label, dur)
}
