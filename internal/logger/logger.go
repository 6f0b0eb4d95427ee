// Package logger provides the process-wide levelled logger.
// Call sites use printf-style helpers; output goes through zap.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is a logging severity.
type Level int8

const (
	LevelDebug Level = iota - 1
	LevelInfo
	LevelWarn
	LevelError
)

// FileName is the log file created inside Config.Dir.
const FileName = "playtimed.log"

// Config controls where log output goes.
type Config struct {
	Debug   bool   // Enable debug level
	Dir     string // Directory for the JSON log file, empty disables file output
	Console bool   // Also write human readable output to stderr
}

var (
	mu    sync.RWMutex
	atom  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	base  = newConsoleLogger()
	sugar = base.Sugar()
	file  *os.File
)

func newConsoleLogger() *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), atom)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

// Init replaces the default stderr logger according to cfg.
func Init(cfg Config) error {
	var cores []zapcore.Core
	var f *os.File

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return fmt.Errorf("failed to create log dir: %w", err)
		}
		var err error
		f, err = os.OpenFile(filepath.Join(cfg.Dir, FileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(f),
			atom,
		))
	}
	if cfg.Console || len(cores) == 0 {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), atom))
	}

	if cfg.Debug {
		atom.SetLevel(zapcore.DebugLevel)
	} else {
		atom.SetLevel(zapcore.InfoLevel)
	}

	l := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))

	mu.Lock()
	old := file
	base = l
	sugar = l.Sugar()
	file = f
	mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

// SetLevel changes the minimum level at runtime.
func SetLevel(level Level) {
	atom.SetLevel(zapcore.Level(level))
}

// IsLevelEnabled reports whether messages at level are written.
func IsLevelEnabled(level Level) bool {
	return atom.Enabled(zapcore.Level(level))
}

// Zap returns the underlying structured logger without the printf caller skip.
func Zap() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base.WithOptions(zap.AddCallerSkip(-1))
}

// Sync flushes buffered output.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = sugar.Sync()
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

func Debug(format string, args ...interface{}) { current().Debugf(format, args...) }

func Info(format string, args ...interface{}) { current().Infof(format, args...) }

func Warn(format string, args ...interface{}) { current().Warnf(format, args...) }

func Error(format string, args ...interface{}) { current().Errorf(format, args...) }
