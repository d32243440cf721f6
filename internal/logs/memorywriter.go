package logs

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"sync"
	"time"
)

// MemoryWriter keeps log lines in memory. The first lines are kept forever,
// later lines rotate.

// hardcoded so a runaway payload dump cannot exhaust memory
const maxLineLength = 500

type MemoryWriter struct {
	mutex        sync.Mutex
	maxLineCount int
	lines        [][]byte // lines include newlines
	startCount   int
	startLines   [][]byte
	startTime    time.Time
	printTime    bool
	listeners    []func(line string)
}

func NewMemoryWriter(size int, startSize int, printTime bool) *MemoryWriter {
	return &MemoryWriter{
		maxLineCount: size,
		lines:        make([][]byte, 0, size),
		startCount:   startSize,
		startLines:   make([][]byte, 0, startSize),
		startTime:    time.Now(),
		printTime:    printTime,
	}
}

// OnLine registers fn for every line written after the call
func (m *MemoryWriter) OnLine(fn func(line string)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Write remembers one line
func (m *MemoryWriter) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) > maxLineLength {
		p = append(p[:maxLineLength:maxLineLength], '\n')
	}

	var newline []byte
	if !m.printTime {
		newline = make([]byte, len(p))
		copy(newline, p)
	} else {
		now := time.Now()
		elapsed := now.Sub(m.startTime)
		newline = fmt.Appendf(nil, "[%.6f : %s] %s", elapsed.Seconds(), now.Format("15:04:05"), p)
	}

	m.mutex.Lock()
	if len(m.startLines) < m.startCount {
		m.startLines = append(m.startLines, newline)
	} else {
		for len(m.lines) >= m.maxLineCount {
			m.lines = m.lines[1:]
		}
		m.lines = append(m.lines, newline)
	}
	listeners := m.listeners
	m.mutex.Unlock()

	for _, fn := range listeners {
		fn(string(newline))
	}
	return n, nil
}

// Lines returns all remembered lines, oldest first
func (m *MemoryWriter) Lines() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	out := make([]string, 0, len(m.startLines)+len(m.lines))
	for _, l := range m.startLines {
		out = append(out, string(l))
	}
	for _, l := range m.lines {
		out = append(out, string(l))
	}
	return out
}

// writeTo exports the lines, latest first, after a header
func (m *MemoryWriter) writeTo(start string, w io.Writer) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, err := io.WriteString(w, start); err != nil {
		return err
	}

	for i := len(m.lines) - 1; i >= 0; i-- {
		if _, err := w.Write(m.lines[i]); err != nil {
			return err
		}
	}

	// separates the rotated lines from the start lines
	if _, err := io.WriteString(w, "...\n"); err != nil {
		return err
	}

	for i := len(m.startLines) - 1; i >= 0; i-- {
		if _, err := w.Write(m.startLines[i]); err != nil {
			return err
		}
	}
	return nil
}

// String exports as string
func (m *MemoryWriter) String(start string) (string, error) {
	var b bytes.Buffer
	if err := m.writeTo(start, &b); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Gzip exports as gzip bytes
func (m *MemoryWriter) Gzip(start string) ([]byte, error) {
	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}

	gw.Name = "log.txt"
	if err := m.writeTo(start, gw); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
