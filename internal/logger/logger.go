// internal/logger/logger.go
//
// Structured JSON logger (Zap + Lumberjack).
//
// Context
// -------
// door-commander writes lifecycle and error events to one JSON log per day
// under `<root>/logs/YYYY-MM-DD.log`.  When running in an interactive TTY we
// tee the same events to stdout.  Rotation, compression, and retention are
// handled by Lumberjack; no external log-rotate job is required.
//
// The DJANGO_LOGGING setting replaces all of this with a caller-supplied
// zap.Config.  LOG_LEVEL sets the threshold of the built-in cores.
//
// Usage
// -----
//
//	log, err := logger.New(settings.Paths.Root, isTTY, settings.Logging.Level, settings.Logging.Override)
//	if err != nil { … }
//	log.Info("server listening", zap.String("addr", addr))
//
// Notes
// -----
// • Zap core uses ISO-8601 timestamps and lowercase levels.
// • Errors are written to the same sink via `ErrorOutput`.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var encCfg = zapcore.EncoderConfig{
	TimeKey:       "ts",
	LevelKey:      "level",
	NameKey:       "logger",
	MessageKey:    "msg",
	CallerKey:     "caller",
	StacktraceKey: "stacktrace",
	EncodeTime:    zapcore.ISO8601TimeEncoder,
	EncodeLevel:   zapcore.LowercaseLevelEncoder,
	EncodeCaller:  zapcore.ShortCallerEncoder,
	EncodeName:    zapcore.FullNameEncoder,
}

// New returns a *zap.Logger.  With override == nil it writes JSON to
// <rootDir>/logs/YYYY-MM-DD.log and, when tee == true, to stdout as well.
// With an override the config is built as-is.  The logger is installed as
// the process-wide default via zap.ReplaceGlobals.
func New(rootDir string, tee bool, level string, override *zap.Config) (*zap.Logger, error) {
	var (
		z   *zap.Logger
		err error
	)
	if override != nil {
		z, err = override.Build()
		if err != nil {
			return nil, fmt.Errorf("build LOGGING override: %w", err)
		}
	} else {
		z, err = newFileLogger(rootDir, tee, level)
		if err != nil {
			return nil, err
		}
	}

	zap.ReplaceGlobals(z)

	z.Info("logger online", zap.Bool("tee", tee), zap.Bool("override", override != nil))
	return z, nil
}

func newFileLogger(rootDir string, tee bool, level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	logDir := filepath.Join(rootDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}

	fileName := time.Now().Format("2006-01-02") + ".log"
	fileSink := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, fileName),
		MaxSize:    50, // MB
		MaxBackups: 7,
		MaxAge:     14, // days
		Compress:   true,
	}

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(fileSink), lvl),
	}
	if tee {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.Lock(os.Stdout),
			lvl,
		))
	}

	return zap.New(
		zapcore.NewTee(cores...),
		zap.ErrorOutput(zapcore.AddSync(fileSink)),
		zap.AddCaller(),
	), nil
}

// Bootstrap returns a console logger for the few lines emitted before
// settings are loaded.
func Bootstrap() *zap.Logger {
	return zap.New(zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		zap.InfoLevel,
	))
}
