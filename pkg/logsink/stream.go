package logsink

import (
	"bytes"
	"os"
	"sync"
	"time"
)

// timestampLayout is the prefix applied to every log line.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// Stream is an io.WriteCloser that prefixes each complete line written
// through it with an ISO-8601 UTC timestamp. Partial lines are buffered
// across writes; chunk boundaries never coincide with newlines when piping
// a child's stdout, so the leftover is flushed as one final timestamped
// line on Close.
//
// Both stdout and stderr of a child are piped through the same Stream, so
// writes are serialized with a mutex.
type Stream struct {
	mu   sync.Mutex
	file *os.File
	rest []byte
	now  func() time.Time
}

func newStream(f *os.File) *Stream {
	return &Stream{file: f, now: time.Now}
}

// Name returns the underlying log file path.
func (st *Stream) Name() string {
	return st.file.Name()
}

// Write buffers p, emitting a timestamped line for every newline found.
// It always reports len(p) consumed; a write error surfaces on the next
// call or on Close.
func (st *Stream) Write(p []byte) (int, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.rest = append(st.rest, p...)

	var err error
	for {
		idx := bytes.IndexByte(st.rest, '\n')
		if idx < 0 {
			break
		}
		line := st.rest[:idx]
		st.rest = st.rest[idx+1:]
		if werr := st.writeLine(line); werr != nil && err == nil {
			err = werr
		}
	}
	return len(p), err
}

// Close flushes any buffered partial line as a final timestamped line and
// closes the file.
func (st *Stream) Close() error {
	st.mu.Lock()
	defer st.mu.Unlock()

	var err error
	if len(st.rest) > 0 {
		err = st.writeLine(st.rest)
		st.rest = nil
	}
	if cerr := st.file.Close(); err == nil {
		err = cerr
	}
	return err
}

func (st *Stream) writeLine(line []byte) error {
	stamp := st.now().UTC().Format(timestampLayout)

	buf := make([]byte, 0, len(stamp)+len(line)+4)
	buf = append(buf, '[')
	buf = append(buf, stamp...)
	buf = append(buf, ']', ' ')
	buf = append(buf, line...)
	buf = append(buf, '\n')

	_, err := st.file.Write(buf)
	return err
}
