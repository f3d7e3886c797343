package stage

import (
	"bytes"
	"strings"
	"sync"

	"rayforge/internal/pkg/logger"
)

// maxLineBytes caps a single unterminated line so a program that never
// writes a newline cannot grow the buffer without bound.
const maxLineBytes = 64 << 10

// lineSink is an io.Writer that logs every complete line it receives and
// keeps the most recent ones. Carriage returns end a line too, since
// progress bars redraw with '\r'.
type lineSink struct {
	mu   sync.Mutex
	log  *logger.Logger
	buf  []byte
	tail []string
	max  int
}

func newLineSink(log *logger.Logger, max int) *lineSink {
	return &lineSink{log: log, max: max}
}

func (s *lineSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf = append(s.buf, p...)
	for {
		i := bytes.IndexAny(s.buf, "\r\n")
		if i < 0 {
			break
		}
		s.emit(string(s.buf[:i]))
		s.buf = append(s.buf[:0], s.buf[i+1:]...)
	}
	if len(s.buf) > maxLineBytes {
		s.emit(string(s.buf))
		s.buf = s.buf[:0]
	}
	return len(p), nil
}

// Flush emits a trailing line that had no terminator.
func (s *lineSink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) > 0 {
		s.emit(string(s.buf))
		s.buf = s.buf[:0]
	}
}

// Tail returns a copy of the retained lines, oldest first.
func (s *lineSink) Tail() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.tail))
	copy(out, s.tail)
	return out
}

func (s *lineSink) emit(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	s.log.Info("stderr", "line", line)
	if s.max <= 0 {
		return
	}
	s.tail = append(s.tail, line)
	if len(s.tail) > s.max {
		s.tail = s.tail[len(s.tail)-s.max:]
	}
}
