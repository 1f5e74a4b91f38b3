package logsink

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/siegeup/hostagent/pkg/log"
)

const (
	// maxLogFiles bounds the number of .log files kept per port, counting
	// the file about to be opened.
	maxLogFiles = 10

	// maxTailBytes is the largest slice of a log file Tail returns.
	maxTailBytes = 2 << 20

	truncatedMarker = "[Truncated...]\n"
)

// Sink manages per-port server log directories under a root. Each launch
// gets its own timestamp-named file; old files are pruned before a new one
// is opened.
type Sink struct {
	root string
}

// NewSink creates a log sink rooted at root.
func NewSink(root string) (*Sink, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log root: %w", err)
	}
	return &Sink{root: root}, nil
}

// PortDir returns the log directory for a port.
func (s *Sink) PortDir(port int) string {
	return filepath.Join(s.root, strconv.Itoa(port))
}

// Open rotates the port's log directory and opens a fresh timestamped log
// file wrapped in a line-timestamping Stream.
func (s *Sink) Open(port int) (*Stream, error) {
	dir := s.PortDir(port)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	if err := s.rotate(dir); err != nil {
		return nil, err
	}

	name := logFileName(time.Now().UTC())
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	return newStream(f), nil
}

// logFileName builds a filesystem-safe name from an ISO-8601 UTC timestamp.
func logFileName(t time.Time) string {
	iso := t.Format("2006-01-02T15:04:05.000Z")
	safe := strings.NewReplacer(":", "-", ".", "-").Replace(iso)
	return safe + ".log"
}

// rotate deletes old log files so that after a new file is created the
// directory holds at most maxLogFiles of them.
func (s *Sink) rotate(dir string) error {
	files, err := listLogs(dir)
	if err != nil {
		return err
	}

	logger := log.WithComponent("logsink")
	for i := maxLogFiles - 1; i < len(files); i++ {
		if err := os.Remove(filepath.Join(dir, files[i].name)); err != nil {
			logger.Warn().Err(err).Str("file", files[i].name).Msg("Failed to remove old log")
		}
	}
	return nil
}

type logFile struct {
	name  string
	size  int64
	mtime time.Time
}

// listLogs returns the directory's .log files sorted newest first.
func listLogs(dir string) ([]logFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read log directory: %w", err)
	}

	var files []logFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, logFile{name: e.Name(), size: info.Size(), mtime: info.ModTime()})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].mtime.After(files[j].mtime)
	})
	return files, nil
}

// TailResult is the tail of one log file.
type TailResult struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	Content string `json:"content"`
}

// Tail returns the last maxTailBytes of the index-th most recent log for
// the port (index 0 is the newest). Content is prefixed with a truncation
// marker when the file was larger than the returned slice.
func (s *Sink) Tail(port, index int) (TailResult, error) {
	files, err := listLogs(s.PortDir(port))
	if err != nil {
		return TailResult{}, err
	}
	if index < 0 || index >= len(files) {
		return TailResult{}, fmt.Errorf("no log at index %d for port %d", index, port)
	}

	sel := files[index]
	f, err := os.Open(filepath.Join(s.PortDir(port), sel.name))
	if err != nil {
		return TailResult{}, fmt.Errorf("failed to open log: %w", err)
	}
	defer f.Close()

	var content strings.Builder
	readFrom := int64(0)
	if sel.size > maxTailBytes {
		readFrom = sel.size - maxTailBytes
		content.WriteString(truncatedMarker)
	}
	if _, err := f.Seek(readFrom, io.SeekStart); err != nil {
		return TailResult{}, fmt.Errorf("failed to seek log: %w", err)
	}
	if _, err := io.Copy(&content, f); err != nil {
		return TailResult{}, fmt.Errorf("failed to read log: %w", err)
	}

	return TailResult{Name: sel.name, Size: sel.size, Content: content.String()}, nil
}
