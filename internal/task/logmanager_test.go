package task

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogFileManager_WriteAndGetEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "task.log")
	m := NewLogFileManager(path, 1000)

	m.Info("starting")
	m.Warning("slow response")
	m.Error("boom")

	all := m.GetEntries("")
	require.Len(t, all, 3)
	assert.Equal(t, LevelInfo, all[0].Level)
	assert.Equal(t, "starting", all[0].Message)

	errors := m.GetEntries(LevelError)
	require.Len(t, errors, 1)
	assert.Equal(t, "boom", errors[0].Message)
}

func TestLogFileManager_SummaryCapsAtMaxEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "task.log")
	m := NewLogFileManager(path, 1000)

	for i := 0; i < 150; i++ {
		m.Info("line")
	}

	summary := m.Summary("", 100)
	assert.Len(t, summary, 100)
}

func TestLogFileManager_RingBufferTrimsToLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "task.log")
	m := NewLogFileManager(path, 10)

	for i := 0; i < 25; i++ {
		m.Info("line")
	}

	m.mu.Lock()
	n := len(m.buffer)
	m.mu.Unlock()
	assert.LessOrEqual(t, n, 10)
}

func TestParseLogLine(t *testing.T) {
	entry, ok := parseLogLine("[1700000000000] [ERROR] something failed")
	require.True(t, ok)
	assert.Equal(t, int64(1700000000000), entry.Timestamp)
	assert.Equal(t, LevelError, entry.Level)
	assert.Equal(t, "something failed", entry.Message)

	_, ok = parseLogLine("not a log line")
	assert.False(t, ok)
}
