package command

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Writer serializes command batches onto a shared stream.
type Writer struct {
	mutex   sync.Mutex
	out     *bufio.Writer
	lines   uint64
	batches uint64
}

func NewWriter(out io.Writer) *Writer {
	return &Writer{out: bufio.NewWriter(out)}
}

// WriteBatch writes lines in order and flushes once. An empty batch writes
// nothing. A line without a terminating newline gets one on the stream so
// the next command is never glued onto it.
func (writer *Writer) WriteBatch(lines []string) error {
	if writer == nil || len(lines) == 0 {
		return nil
	}
	writer.mutex.Lock()
	defer writer.mutex.Unlock()

	for _, line := range lines {
		if _, err := writer.out.WriteString(line); err != nil {
			return fmt.Errorf("write command: %w", err)
		}
		if !strings.HasSuffix(line, "\n") {
			if err := writer.out.WriteByte('\n'); err != nil {
				return fmt.Errorf("write command: %w", err)
			}
		}
	}
	if err := writer.out.Flush(); err != nil {
		return fmt.Errorf("flush commands: %w", err)
	}
	writer.lines += uint64(len(lines))
	writer.batches++
	return nil
}

// Stats reports how many lines and batches reached the stream.
func (writer *Writer) Stats() (lines, batches uint64) {
	if writer == nil {
		return 0, 0
	}
	writer.mutex.Lock()
	defer writer.mutex.Unlock()
	return writer.lines, writer.batches
}
