package status

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultLogLines is how many recent lines a snapshot carries.
const DefaultLogLines = 30

// LogBuffer is a logrus hook that remembers the most recent log lines so they
// can ride along with status pushes.
type LogBuffer struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

// NewLogBuffer keeps the last n lines.
func NewLogBuffer(n int) *LogBuffer {
	if n <= 0 {
		n = DefaultLogLines
	}
	return &LogBuffer{lines: make([]string, n)}
}

// Levels implements logrus.Hook.
func (b *LogBuffer) Levels() []logrus.Level {
	return []logrus.Level{
		logrus.PanicLevel,
		logrus.FatalLevel,
		logrus.ErrorLevel,
		logrus.WarnLevel,
		logrus.InfoLevel,
	}
}

// Fire implements logrus.Hook.
func (b *LogBuffer) Fire(entry *logrus.Entry) error {
	b.Add(format(entry))
	return nil
}

// Add appends a line, evicting the oldest when full.
func (b *LogBuffer) Add(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines[b.next] = line
	b.next = (b.next + 1) % len(b.lines)
	if b.next == 0 {
		b.full = true
	}
}

// Lines returns the buffered lines, oldest first.
func (b *LogBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.full {
		return append([]string{}, b.lines[:b.next]...)
	}
	out := make([]string, 0, len(b.lines))
	out = append(out, b.lines[b.next:]...)
	return append(out, b.lines[:b.next]...)
}

func format(entry *logrus.Entry) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s] %s", entry.Time.Format("15:04:05"), strings.ToUpper(entry.Level.String()), entry.Message)
	if err, ok := entry.Data[logrus.ErrorKey]; ok {
		fmt.Fprintf(&sb, " error=%v", err)
	}
	return sb.String()
}
