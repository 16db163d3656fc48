package node

import (
	"bytes"
	"strings"
	"sync"
	"unicode/utf8"
)

// lineWriter splits a byte stream into lines and hands each one to emit.
// Partial trailing data is held until the next newline or Flush.
type lineWriter struct {
	mu      sync.Mutex
	pending []byte
	emit    func(string)
}

func newLineWriter(emit func(string)) *lineWriter {
	return &lineWriter{emit: emit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, p...)
	for {
		idx := bytes.IndexByte(w.pending, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimRight(string(w.pending[:idx]), "\r")
		w.pending = w.pending[idx+1:]
		w.emit(line)
	}
	return len(p), nil
}

func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return
	}
	line := strings.TrimRight(string(w.pending), "\r")
	w.pending = nil
	w.emit(line)
}

// tailBuffer keeps the most recent lines of output.
type tailBuffer struct {
	mu    sync.Mutex
	max   int
	lines []string
}

func newTailBuffer(max int) *tailBuffer {
	if max < 1 {
		max = 1
	}
	return &tailBuffer{max: max, lines: make([]string, 0, max)}
}

func (b *tailBuffer) Add(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.lines) == b.max {
		copy(b.lines, b.lines[1:])
		b.lines = b.lines[:b.max-1]
	}
	b.lines = append(b.lines, line)
}

func (b *tailBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = b.lines[:0]
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.lines, "\n")
}

// Tail returns at most maxBytes from the end of the buffered log.
func (b *tailBuffer) Tail(maxBytes int) string {
	s := b.String()
	if maxBytes <= 0 {
		return s
	}
	return TailBytes(s, maxBytes)
}

// TailBytes returns at most maxBytes from the end of s without splitting a
// UTF-8 sequence. The result may be a few bytes shorter than maxBytes.
func TailBytes(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	if maxBytes <= 0 {
		return ""
	}
	cut := len(s) - maxBytes
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return s[cut:]
}
