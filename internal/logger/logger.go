// Package logger defines a type for writing to logs and a thread-safe
// io.Writer that buffers log lines in a ring buffer so they can be served
// through an HTTP endpoint or retrieved as a snapshot.
package logger

import (
	"container/ring"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// Logf is the basic logger type: a printf-like func. Like [log.Printf], the
// format need not end in a newline. Logf functions must be safe for concurrent
// use.
type Logf func(format string, args ...any)

// Write implements the [io.Writer] interface.
func (f Logf) Write(p []byte) (n int, err error) {
	f("%s", p)
	return len(p), nil
}

// Buffer is an io.Writer that retains the most recently written log lines.
type Buffer struct {
	mu        sync.RWMutex
	r         *ring.Ring
	remainder string
}

// NewBuffer returns a new Buffer retaining up to size lines.
func NewBuffer(size int) *Buffer {
	return &Buffer{r: ring.New(size)}
}

// Write implements the [io.Writer] interface.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	text := b.remainder + string(p)
	for {
		idx := strings.Index(text, "\n")
		if idx == -1 {
			break
		}
		b.r.Value = text[:idx]
		b.r = b.r.Next()
		text = text[idx+1:]
	}
	b.remainder = text
	return len(p), nil
}

// Lines returns all retained lines, oldest first.
func (b *Buffer) Lines() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	lines := make([]string, 0, b.r.Len())
	b.r.Do(func(x any) {
		if x != nil {
			lines = append(lines, x.(string))
		}
	})
	return lines
}

// ServeHTTP implements the [http.Handler] interface by dumping the retained
// lines as plain text.
func (b *Buffer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	for _, line := range b.Lines() {
		fmt.Fprintln(w, line)
	}
}

var _ http.Handler = (*Buffer)(nil)
