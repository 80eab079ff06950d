package logger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	scanner := bufio.NewScanner(buf)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestWriterLogger_FieldsAndModules(t *testing.T) {
	t.Parallel()
	buf := &bytes.Buffer{}
	log := NewWriterLogger(buf, LogLevelDebug)

	log.Module("ingest").Module("dedup").Info("resolved",
		String("user_id", "u1"),
		Int("count", 3),
		Float64("probability", 0.75),
		Bool("persisted", true),
		Error(errors.New("boom")),
		Duration("elapsed", 1500*time.Millisecond))

	entries := decodeLines(t, buf)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "INFO", e["level"])
	assert.Equal(t, "ingest.dedup", e["module"])
	assert.Equal(t, "u1", e["user_id"])
	assert.InDelta(t, 3, e["count"], 0)
	assert.Equal(t, "boom", e["error"])
	assert.Equal(t, "1.5s", e["elapsed"])
}

func TestWriterLogger_LevelFiltering(t *testing.T) {
	t.Parallel()
	buf := &bytes.Buffer{}
	log := NewWriterLogger(buf, LogLevelInfo)

	log.Trace("hidden")
	log.Debug("hidden")
	log.Warn("shown")
	log.Log(LogLevelError, "shown too")

	entries := decodeLines(t, buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "WARN", entries[0]["level"])
	assert.Equal(t, "ERROR", entries[1]["level"])
}

func TestModuleLevelsUseMostSpecificMatch(t *testing.T) {
	t.Parallel()
	buf := &bytes.Buffer{}
	base := NewWriterLogger(buf, LogLevelInfo).(*zapLogger)
	base.moduleLevels = map[string]zapcore.Level{
		"datastore": parseLevel("trace"),
		"ingest":    parseLevel("error"),
	}

	base.Module("datastore").Module("sqlite").Trace("sql query")
	base.Module("ingest").Module("scheduler").Warn("dropped")
	base.Module("pendant").Info("kept")

	entries := decodeLines(t, buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "TRACE", entries[0]["level"])
	assert.Equal(t, "pendant", entries[1]["module"])
}

func TestWithContextAddsTraceID(t *testing.T) {
	t.Parallel()
	buf := &bytes.Buffer{}
	log := NewWriterLogger(buf, LogLevelInfo)

	ctx := ContextWithTraceID(context.Background(), "run-123")
	log.WithContext(ctx).Info("chunk done")
	log.WithContext(context.Background()).Info("no trace")

	entries := decodeLines(t, buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "run-123", entries[0]["trace_id"])
	assert.NotContains(t, entries[1], "trace_id")
}

func TestCentralLogger_WritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "pendant.log")
	central, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "info",
		Console:      &ConsoleOutput{Enabled: false},
		FileOutput:   &FileOutput{Enabled: true, Path: path, MaxSize: 1},
	})
	require.NoError(t, err)

	central.Module("conf").Info("settings loaded", String("database", "sqlite"))
	require.NoError(t, central.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"settings loaded"`)
	assert.Contains(t, string(data), `"module":"conf"`)
}

func TestGormLoggerAdapter_Trace(t *testing.T) {
	t.Parallel()
	buf := &bytes.Buffer{}
	adapter := NewGormLoggerAdapter(NewWriterLogger(buf, LogLevelDebug), 10*time.Millisecond)
	sql := func() (string, int64) { return "SELECT 1", 1 }

	adapter.Trace(context.Background(), time.Now(), sql, gorm.ErrRecordNotFound)
	adapter.Trace(context.Background(), time.Now(), sql, gorm.ErrDuplicatedKey)
	adapter.Trace(context.Background(), time.Now().Add(-time.Second), sql, nil)
	adapter.Trace(context.Background(), time.Now(), sql, errors.New("disk I/O error"))

	entries := decodeLines(t, buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "slow query", entries[0]["msg"])
	assert.Equal(t, "query error", entries[1]["msg"])
}
