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
	mu       sync.RWMutex
	sugar    *zap.SugaredLogger
	atom     = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	initOnce sync.Once
)

// initLogger builds the default console logger on first use so packages can
// log before main has called Configure.
func initLogger() {
	initOnce.Do(func() {
		if sugar == nil {
			sugar = build("console")
		}
	})
}

func build(format string) *zap.SugaredLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	cfg := zap.Config{
		Level:            atom,
		Encoding:         "console",
		EncoderConfig:    encCfg,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	if strings.EqualFold(format, "json") {
		cfg.Encoding = "json"
	}

	l, err := cfg.Build(zap.AddCallerSkip(2))
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return l.Sugar()
}

// Configure replaces the global logger. format is "console" or "json".
func Configure(format string, level Level) {
	l := build(format)
	mu.Lock()
	old := sugar
	sugar = l
	mu.Unlock()
	initOnce.Do(func() {})
	if old != nil {
		_ = old.Sync()
	}
	SetLevel(level)
}

// SetLevel changes the minimum level. Unknown values fall back to INFO.
func SetLevel(l Level) {
	atom.SetLevel(toZap(l))
}

// ParseLevel maps a config string onto a Level.
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

// Sync flushes buffered entries; call before exit.
func Sync() {
	mu.RLock()
	s := sugar
	mu.RUnlock()
	if s != nil {
		_ = s.Sync()
	}
}

func logWithLevel(level Level, msg string, kv ...any) {
	initLogger()
	mu.RLock()
	s := sugar
	mu.RUnlock()

	// Odd trailing key is dropped, same as before the zap switch.
	if len(kv)%2 == 1 {
		kv = kv[:len(kv)-1]
	}

	switch level {
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
