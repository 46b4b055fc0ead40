package logging

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Level gates which bracketed log lines reach the output.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a config value to a Level; unknown values mean info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

var tags = []struct {
	tag   []byte
	level Level
}{
	{[]byte("[DEBUG]"), LevelDebug},
	{[]byte("[INFO]"), LevelInfo},
	{[]byte("[WARN]"), LevelWarn},
	{[]byte("[ERROR]"), LevelError},
}

// lineLevel finds the first level tag in a log line. Untagged lines count as info.
func lineLevel(p []byte) Level {
	level, at := LevelInfo, -1
	for _, t := range tags {
		if i := bytes.Index(p, t.tag); i >= 0 && (at < 0 || i < at) {
			level, at = t.level, i
		}
	}
	return level
}

// LevelWriter drops log lines below Min. It relies on log.Logger issuing
// one Write per line.
type LevelWriter struct {
	Min Level
	Out io.Writer
}

func (w LevelWriter) Write(p []byte) (int, error) {
	if lineLevel(p) < w.Min {
		return len(p), nil
	}
	return w.Out.Write(p)
}

// Options configures Setup.
type Options struct {
	Prefix   string
	Level    string
	File     string
	MaxBytes int64
	Stdout   io.Writer
}

// DefaultMaxBytes is the size at which a log file rolls over.
const DefaultMaxBytes = int64(300 * 1024 * 1024)

// Setup points the standard logger at stdout and, when File is set, a
// rotating file, filtered by Level. The returned closer releases the file.
func Setup(opts Options) (io.Closer, error) {
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	var out io.Writer = stdout
	var closer io.Closer = discardCloser{}
	if strings.TrimSpace(opts.File) != "" {
		maxBytes := opts.MaxBytes
		if maxBytes <= 0 {
			maxBytes = DefaultMaxBytes
		}
		rot, err := NewRotatingWriter(opts.File, maxBytes)
		if err != nil {
			return nil, fmt.Errorf("logging: init rotating log: %w", err)
		}
		out = io.MultiWriter(stdout, rot)
		closer = rot
	}
	log.SetOutput(LevelWriter{Min: ParseLevel(opts.Level), Out: out})
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetPrefix(opts.Prefix)
	return closer, nil
}

// New returns a logger sharing the standard logger's output and flags with
// a component prefix.
func New(component string) *log.Logger {
	return log.New(log.Writer(), "["+component+"] ", log.Flags())
}
