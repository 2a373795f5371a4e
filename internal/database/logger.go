package database

import (
	"context"
	"io"
	"log"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm/logger"
)

// newGormLogger reports slow and failed queries through slog.
// ParameterizedQueries keeps member passwords and emails out of the log.
func newGormLogger(l *slog.Logger) logger.Interface {
	return logger.New(
		log.New(newSlogWriter(l, slog.LevelWarn), "", 0),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
			Colorful:                  false,
		},
	)
}

func newSlogWriter(l *slog.Logger, level slog.Level) io.Writer {
	return &slogWriter{logger: l, level: level}
}

type slogWriter struct {
	logger *slog.Logger
	level  slog.Level
}

// Write takes one gorm log entry, which starts with the caller's file:line.
func (w *slogWriter) Write(p []byte) (n int, err error) {
	if w == nil || w.logger == nil {
		return len(p), nil
	}
	fields := strings.Fields(string(p))
	if len(fields) == 0 {
		return len(p), nil
	}

	attrs := []any{}
	if len(fields) > 1 && strings.Contains(fields[0], ".go:") {
		attrs = append(attrs, "source", fields[0])
		fields = fields[1:]
	}
	attrs = append(attrs, "message", strings.Join(fields, " "))

	w.logger.Log(context.Background(), w.level, "database", attrs...)
	return len(p), nil
}
