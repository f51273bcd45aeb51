// internal/logger/logger.go
//
// Structured JSON logger (Zap + Lumberjack).
//
// Context
// -------
// Lifecycle, audit, and error events go to one JSON log per day under
// `<root>/logs/YYYY-MM-DD.log`.  In an interactive TTY the same events are
// teed, colorized, to stdout.  Lumberjack handles rotation, compression,
// and retention, so no external log-rotate job is needed.
//
// Usage
// -----
//
//	log, err := logger.New(cfg.Paths.Root, runningInTTY())
//	if err != nil { … }
//	log.Infow("tenant online", "tenant", id)
package logger

import (
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Retention knobs for the rotating file sink.
const (
	maxSizeMB  = 50
	maxBackups = 7
	maxAgeDays = 14
)

// New returns a SugaredLogger writing JSON to <root>/logs/YYYY-MM-DD.log
// and installs it as the process-wide default via zap.ReplaceGlobals.
// With tee, a colored console core mirrors the file sink to stdout.
func New(rootDir string, tee bool) (*zap.SugaredLogger, error) {
	fileSink, err := newFileSink(filepath.Join(rootDir, "logs"))
	if err != nil {
		return nil, err
	}

	enc := encoderConfig()
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(enc), fileSink, zap.InfoLevel),
	}
	if tee {
		console := enc
		console.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores,
			zapcore.NewCore(zapcore.NewConsoleEncoder(console), zapcore.AddSync(os.Stdout), zap.InfoLevel))
	}

	z := zap.New(zapcore.NewTee(cores...), zap.ErrorOutput(fileSink)).Sugar()
	zap.ReplaceGlobals(z.Desugar())

	z.Infow("logger online", "tee", tee)
	return z, nil
}

// newFileSink creates the log directory and a daily-named rotating sink.
func newFileSink(dir string) (zapcore.WriteSyncer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(dir, time.Now().Format("2006-01-02")+".log"),
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}), nil
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:      "ts",
		LevelKey:     "level",
		MessageKey:   "msg",
		CallerKey:    "caller",
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		EncodeLevel:  zapcore.LowercaseLevelEncoder,
		EncodeCaller: zapcore.ShortCallerEncoder,
	}
}
