package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// commandLog is the per-command append-only log file described in spec
// §4.F ("Log capture") — one file per (operation, command_id), rotated the
// way the teacher's LoggingConfig.MaxSizeMB/MaxFiles cap tutu.log.
type commandLog struct {
	path     string
	maxBytes int64
	maxFiles int

	mu   sync.Mutex
	file *os.File
	size int64
}

func newCommandLog(dir, operation, commandID string, maxSizeMB, maxFiles int) (*commandLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, fmt.Sprintf("workflow-%s-%s.log", operation, commandID))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 5
	}
	if maxFiles <= 0 {
		maxFiles = 5
	}
	return &commandLog{
		path:     path,
		maxBytes: int64(maxSizeMB) * 1024 * 1024,
		maxFiles: maxFiles,
		file:     f,
		size:     info.Size(),
	}, nil
}

// Path returns the log file path so terminal transitions can emit it for
// an automatic uploader, per spec.
func (l *commandLog) Path() string { return l.path }

// Writef appends a timestamped line and rotates if the file has grown past
// maxBytes.
func (l *commandLog) Writef(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	line := fmt.Sprintf("%s "+format+"\n", append([]any{time.Now().Format(time.RFC3339)}, args...)...)
	n, err := l.file.WriteString(line)
	if err != nil {
		return
	}
	l.size += int64(n)
	if l.size >= l.maxBytes {
		l.rotate()
	}
}

func (l *commandLog) rotate() {
	l.file.Close()
	for i := l.maxFiles - 1; i >= 1; i-- {
		oldPath := fmt.Sprintf("%s.%d", l.path, i)
		newPath := fmt.Sprintf("%s.%d", l.path, i+1)
		if i+1 > l.maxFiles {
			os.Remove(oldPath)
			continue
		}
		os.Rename(oldPath, newPath)
	}
	os.Rename(l.path, l.path+".1")
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err == nil {
		l.file = f
		l.size = 0
	}
}

// Close releases the underlying file handle.
func (l *commandLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
