package logsink

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var linePrefix = regexp.MustCompile(`^\[\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z\] `)

func newTestSink(t *testing.T) *Sink {
	t.Helper()

	sink, err := NewSink(filepath.Join(t.TempDir(), "logs"))
	require.NoError(t, err)
	return sink
}

func TestLogFileName(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)
	name := logFileName(ts)

	assert.Equal(t, "2026-03-14T09-26-53-589Z.log", name)
	assert.NotContains(t, name[:len(name)-len(".log")], ":")
	assert.NotContains(t, name[:len(name)-len(".log")], ".")
}

func TestStreamTimestampsLines(t *testing.T) {
	sink := newTestSink(t)

	stream, err := sink.Open(9001)
	require.NoError(t, err)

	// Chunk boundaries do not coincide with newlines.
	_, err = stream.Write([]byte("hello wo"))
	require.NoError(t, err)
	_, err = stream.Write([]byte("rld\nsecond line\npartial"))
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	data, err := os.ReadFile(stream.Name())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 3)

	for _, line := range lines {
		assert.Regexp(t, linePrefix, line)
	}
	assert.True(t, strings.HasSuffix(lines[0], "hello world"))
	assert.True(t, strings.HasSuffix(lines[1], "second line"))
	assert.True(t, strings.HasSuffix(lines[2], "partial"), "leftover must be flushed on close")
}

func TestStreamEmptyClose(t *testing.T) {
	sink := newTestSink(t)

	stream, err := sink.Open(9001)
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	data, err := os.ReadFile(stream.Name())
	require.NoError(t, err)
	assert.Empty(t, data, "no output means no lines")
}

func TestRotationKeepsAtMostTen(t *testing.T) {
	sink := newTestSink(t)
	dir := sink.PortDir(9001)
	require.NoError(t, os.MkdirAll(dir, 0755))

	// Pre-populate with 13 old logs with distinct mtimes.
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 13; i++ {
		name := filepath.Join(dir, fmt.Sprintf("old-%02d.log", i))
		require.NoError(t, os.WriteFile(name, []byte("x"), 0644))
		require.NoError(t, os.Chtimes(name, base, base.Add(time.Duration(i)*time.Second)))
	}

	stream, err := sink.Open(9001)
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	files, err := listLogs(dir)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(files), maxLogFiles)

	// The newest survivors are kept, the oldest dropped.
	for _, f := range files {
		assert.NotEqual(t, "old-00.log", f.name)
	}
}

func TestTail(t *testing.T) {
	sink := newTestSink(t)
	dir := sink.PortDir(9002)
	require.NoError(t, os.MkdirAll(dir, 0755))

	old := filepath.Join(dir, "older.log")
	require.NoError(t, os.WriteFile(old, []byte("old content\n"), 0644))
	require.NoError(t, os.Chtimes(old, time.Now().Add(-time.Hour), time.Now().Add(-time.Hour)))

	newest := filepath.Join(dir, "newest.log")
	require.NoError(t, os.WriteFile(newest, []byte("new content\n"), 0644))

	tail, err := sink.Tail(9002, 0)
	require.NoError(t, err)
	assert.Equal(t, "newest.log", tail.Name)
	assert.Equal(t, int64(len("new content\n")), tail.Size)
	assert.Equal(t, "new content\n", tail.Content)

	tail, err = sink.Tail(9002, 1)
	require.NoError(t, err)
	assert.Equal(t, "older.log", tail.Name)
	assert.Equal(t, "old content\n", tail.Content)

	_, err = sink.Tail(9002, 2)
	assert.Error(t, err)
}

func TestTailTruncatesLargeFiles(t *testing.T) {
	sink := newTestSink(t)
	dir := sink.PortDir(9003)
	require.NoError(t, os.MkdirAll(dir, 0755))

	size := maxTailBytes + 4096
	data := bytes.Repeat([]byte("a"), size)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.log"), data, 0644))

	tail, err := sink.Tail(9003, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(size), tail.Size)
	assert.True(t, strings.HasPrefix(tail.Content, truncatedMarker))
	assert.Equal(t, len(truncatedMarker)+maxTailBytes, len(tail.Content))
}

func TestTailNoLogs(t *testing.T) {
	sink := newTestSink(t)
	require.NoError(t, os.MkdirAll(sink.PortDir(9004), 0755))

	_, err := sink.Tail(9004, 0)
	assert.Error(t, err)
}
