package database

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, nil))
	gl := newGormLogger(l)

	gl.Trace(context.Background(), time.Now().Add(-time.Second), func() (string, int64) {
		return `SELECT * FROM "members" WHERE member_id = $1`, 1
	}, errors.New("relation does not exist"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "database", entry["msg"])
	assert.Contains(t, entry["message"], "relation does not exist")
	assert.Contains(t, entry["message"], `SELECT * FROM "members"`)
	assert.NotContains(t, entry["message"], "\n")
	assert.Contains(t, entry["source"], ".go:")
}

func TestGormLoggerSkipsInfo(t *testing.T) {
	var buf bytes.Buffer
	gl := newGormLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	gl.Info(context.Background(), "connected to %s", "sqlite")
	assert.Empty(t, buf.String())

	gl.Warn(context.Background(), "pool is %s", "saturated")
	assert.Contains(t, buf.String(), "pool is saturated")
}

func TestSlogWriterIgnoresBlankLines(t *testing.T) {
	var buf bytes.Buffer
	w := newSlogWriter(slog.New(slog.NewJSONHandler(&buf, nil)), slog.LevelWarn)

	n, err := w.Write([]byte("  \n"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Empty(t, buf.String())
}
