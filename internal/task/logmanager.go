package task

// Log File Manager (C2). Grounded on
// original_source/api/resinkit_api/services/agent/common/log_file_manager.py
// and utils/file_utils.py::tail.

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

const logRingLimit = 1000

var logLinePattern = regexp.MustCompile(`\[(\d+)\] \[(INFO|WARNING|ERROR|CRITICAL)\] (.*)`)

// LogFileManager is an append-only, line-framed per-task log with tail
// retrieval and level filtering (spec.md §4.5).
type LogFileManager struct {
	path  string
	limit int

	mu     sync.Mutex
	buffer []LogEntry
}

// NewLogFileManager loads up to limit existing entries from the log file at
// path, if it exists, into the in-memory ring buffer. It does not create the
// file; the first write does.
func NewLogFileManager(path string, limit int) *LogFileManager {
	if limit <= 0 {
		limit = logRingLimit
	}
	m := &LogFileManager{path: path, limit: limit}
	m.loadExisting()
	return m
}

func (m *LogFileManager) loadExisting() {
	lines, err := tailLines(m.path, m.limit)
	if err != nil {
		return
	}
	for _, line := range lines {
		if entry, ok := parseLogLine(line); ok {
			m.buffer = append(m.buffer, entry)
		}
	}
}

func (m *LogFileManager) write(level LogLevel, message string) {
	ts := time.Now().UnixMilli()
	line := fmt.Sprintf("[%d] [%s] %s\n", ts, level, message)
	entry := LogEntry{Timestamp: ts, Level: level, Message: message}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.buffer = append(m.buffer, entry)
	if len(m.buffer) > m.limit {
		m.buffer = m.buffer[len(m.buffer)-m.limit:]
	}

	f, err := os.OpenFile(m.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	f.WriteString(line)
}

func (m *LogFileManager) Info(message string)     { m.write(LevelInfo, message) }
func (m *LogFileManager) Warning(message string)   { m.write(LevelWarning, message) }
func (m *LogFileManager) Error(message string)     { m.write(LevelError, message) }
func (m *LogFileManager) Critical(message string)  { m.write(LevelCritical, message) }

// GetEntries re-tails the file for the last `limit` lines (efficient `tail
// -n`, like the source) and returns parsed entries matching level, or all
// levels if level is empty. The file tail-read is lock-free by design
// (spec.md §4.5); only the byte-count heuristic itself needs no lock since
// it never touches the in-memory buffer.
func (m *LogFileManager) GetEntries(level LogLevel) []LogEntry {
	lines, err := tailLines(m.path, m.limit)
	if err != nil {
		return nil
	}
	entries := make([]LogEntry, 0, len(lines))
	for _, line := range lines {
		entry, ok := parseLogLine(line)
		if !ok {
			continue
		}
		if level == "" || entry.Level == level {
			entries = append(entries, entry)
		}
	}
	return entries
}

// Summary returns the most recent at most maxEntries entries matching
// level — the uniform cap spec.md §4.2 documents for both runners'
// get_log_summary (SPEC_FULL.md Resolved Open Question 4).
func (m *LogFileManager) Summary(level LogLevel, maxEntries int) []LogEntry {
	entries := m.GetEntries(level)
	if maxEntries > 0 && len(entries) > maxEntries {
		entries = entries[len(entries)-maxEntries:]
	}
	return entries
}

func parseLogLine(line string) (LogEntry, bool) {
	m := logLinePattern.FindStringSubmatch(line)
	if m == nil {
		return LogEntry{}, false
	}
	ts, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return LogEntry{}, false
	}
	return LogEntry{
		Timestamp: ts,
		Level:     LogLevel(m[2]),
		Message:   strings.TrimRight(m[3], "\r\n"),
	}, true
}

// tailLines reads the last n lines of the file at path, seeking from the
// end by a heuristic average-line-length byte count rather than scanning
// the whole file, matching utils/file_utils.py::tail.
func tailLines(path string, n int) ([]string, error) {
	const avgLineLength = 150

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	toRead := int64(n * avgLineLength)
	offset := info.Size() - toRead
	if offset < 0 {
		offset = 0
	}
	if _, err := f.Seek(offset, 0); err != nil {
		return nil, err
	}

	var all []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		all = append(all, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}
