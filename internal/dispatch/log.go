package dispatch

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"interruptd/internal/logger"
)

// Log is the bounded plain-text dispatch log: one entry per invocation
// of the agent runtime, truncated to the newest limit lines. It is a
// diagnostic side effect, never parsed back.
type Log struct {
	path  string
	limit func() int
	log   logger.Logger
	mu    sync.Mutex
}

func NewLog(path string, limit func() int, log logger.Logger) *Log {
	return &Log{path: path, limit: limit, log: log}
}

// Append records one dispatch attempt: the command, its output, and a
// separator line.
func (l *Log) Append(command, stdout, stderr string) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] CMD: %s\n", time.Now().UTC().Format(time.RFC3339), command)
	if stdout != "" {
		sb.WriteString(stdout)
		if !strings.HasSuffix(stdout, "\n") {
			sb.WriteByte('\n')
		}
	}
	if stderr != "" {
		fmt.Fprintf(&sb, "STDERR: %s\n", strings.TrimRight(stderr, "\n"))
	}
	sb.WriteString("---\n")

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.appendLocked(sb.String()); err != nil {
		l.log.Errorw("Failed to write dispatch log", "error", err)
	}
}

func (l *Log) appendLocked(entry string) error {
	existing, err := os.ReadFile(l.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	content := string(existing) + entry
	limit := l.limit()

	lines := strings.Split(content, "\n")
	if limit > 0 && len(lines) > limit {
		content = strings.Join(lines[len(lines)-limit:], "\n")
	}

	return os.WriteFile(l.path, []byte(content), 0o644)
}
