package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// RotatingWriter appends to <prefix>-YYYY-MM-DD[-N]<ext> next to BasePath,
// starting a new file each UTC day and whenever a write would push the
// current file past MaxBytes. BasePath itself is kept as a link to the
// active file.
//
//	logs/chatstreamd.log -> logs/chatstreamd-2025-10-26.log, logs/chatstreamd-2025-10-26-2.log
type RotatingWriter struct {
	BasePath string
	MaxBytes int64

	mu    sync.Mutex
	now   func() time.Time
	day   string
	index int
	file  *os.File
	size  int64
}

// NewRotatingWriter opens the first file. A basePath of "-" disables file
// output.
func NewRotatingWriter(basePath string, maxBytes int64) (io.WriteCloser, error) {
	if strings.TrimSpace(basePath) == "-" {
		return discardCloser{}, nil
	}
	rw := &RotatingWriter{BasePath: basePath, MaxBytes: maxBytes, now: time.Now}
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if err := rw.roll(0); err != nil {
		return nil, err
	}
	return rw, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.roll(int64(len(p))); err != nil {
		return 0, err
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// CurrentPath returns the file currently written to.
func (w *RotatingWriter) CurrentPath() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pathFor(w.day, w.index)
}

// roll must be called with w.mu held.
func (w *RotatingWriter) roll(incoming int64) error {
	today := w.now().UTC().Format("2006-01-02")
	switch {
	case w.file == nil || w.day != today:
		w.day, w.index = today, 1
	case w.MaxBytes > 0 && w.size > 0 && w.size+incoming > w.MaxBytes:
		w.index++
	default:
		return nil
	}
	return w.open()
}

func (w *RotatingWriter) open() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	path := w.pathFor(w.day, w.index)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("logging: create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("logging: open log file: %w", err)
	}
	w.size = 0
	if st, err := f.Stat(); err == nil {
		w.size = st.Size()
	}
	w.file = f
	w.link(path)
	return nil
}

func (w *RotatingWriter) pathFor(day string, index int) string {
	dir, name := filepath.Split(w.BasePath)
	if dir == "" {
		dir = "."
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if ext == "" {
		ext = ".log"
	}
	if index > 1 {
		return filepath.Join(dir, fmt.Sprintf("%s-%s-%d%s", base, day, index, ext))
	}
	return filepath.Join(dir, fmt.Sprintf("%s-%s%s", base, day, ext))
}

// link points BasePath at target: symlink, else hard link, else a text note.
func (w *RotatingWriter) link(target string) {
	base := strings.TrimSpace(w.BasePath)
	if base == "" {
		return
	}
	if info, err := os.Lstat(base); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			if dest, err := os.Readlink(base); err == nil && dest == target {
				return
			}
		}
		_ = os.Remove(base)
	}
	if err := os.Symlink(target, base); err == nil {
		return
	}
	if err := os.Link(target, base); err == nil {
		return
	}
	_ = os.WriteFile(base, []byte("current log file: "+target+"\n"), 0o644)
}

type discardCloser struct{}

func (discardCloser) Write(p []byte) (int, error) { return len(p), nil }
func (discardCloser) Close() error                { return nil }
