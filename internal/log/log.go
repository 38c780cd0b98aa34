package log

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var (
	mu     sync.Mutex
	sugar  *zap.SugaredLogger
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	closed bool
)

// Init builds the global logger. Production mode writes JSON lines, otherwise
// a console encoder with colored capital levels is used. Calling Init again
// replaces the previous logger.
func Init(production bool) error {
	var cfg zap.Config
	if production {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = level

	logger, err := cfg.Build(zap.AddCallerSkip(2))
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	if sugar != nil {
		_ = sugar.Sync()
	}
	sugar = logger.Sugar()
	closed = false
	return nil
}

// current returns the active logger, lazily creating a development logger
// for code paths (tests, tools) that never called Init.
func current() *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	if sugar == nil {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = level
		logger, err := cfg.Build(zap.AddCallerSkip(2))
		if err != nil {
			logger = zap.NewNop()
		}
		sugar = logger.Sugar()
	}
	return sugar
}

func SetLevel(l Level) {
	level.SetLevel(toZap(l))
}

// ParseLevel maps a config string ("debug", "info", ...) to a Level.
// Unknown values fall back to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func Debug(msg string, kv ...any) {
	logWithLevel(LevelDebug, msg, kv...)
}

func Info(msg string, kv ...any) {
	logWithLevel(LevelInfo, msg, kv...)
}

func Warn(msg string, kv ...any) {
	logWithLevel(LevelWarn, msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	logWithLevel(LevelError, msg, extended...)
}

// Sync flushes buffered entries. Safe to call more than once.
func Sync() {
	mu.Lock()
	defer mu.Unlock()
	if sugar == nil || closed {
		return
	}
	_ = sugar.Sync()
	closed = true
}

func logWithLevel(l Level, msg string, kv ...any) {
	s := current()
	// Odd trailing key is dropped, same as the kv contract elsewhere.
	if len(kv)%2 != 0 {
		kv = kv[:len(kv)-1]
	}
	switch l {
	case LevelDebug:
		s.Debugw(msg, kv...)
	case LevelWarn:
		s.Warnw(msg, kv...)
	case LevelError:
		s.Errorw(msg, kv...)
	default:
		s.Infow(msg, kv...)
	}
}

func toZap(l Level) zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
