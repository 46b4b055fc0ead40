package logging

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRotatingWriterDailyAndSize(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "logs", "chatstreamd.log")
	day := time.Date(2025, 10, 26, 23, 0, 0, 0, time.UTC)

	rw := &RotatingWriter{BasePath: base, MaxBytes: 10, now: func() time.Time { return day }}
	if _, err := rw.Write([]byte("12345678")); err != nil {
		t.Fatalf("write: %v", err)
	}
	first := rw.CurrentPath()
	if filepath.Base(first) != "chatstreamd-2025-10-26.log" {
		t.Fatalf("unexpected first file %s", first)
	}

	if _, err := rw.Write([]byte("abcdef")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if filepath.Base(rw.CurrentPath()) != "chatstreamd-2025-10-26-2.log" {
		t.Fatalf("expected size rollover, got %s", rw.CurrentPath())
	}

	day = day.Add(2 * time.Hour)
	if _, err := rw.Write([]byte("next day")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if filepath.Base(rw.CurrentPath()) != "chatstreamd-2025-10-27.log" {
		t.Fatalf("expected daily rollover, got %s", rw.CurrentPath())
	}
	if err := rw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "12345678" {
		t.Fatalf("unexpected first file content %q", data)
	}
	if _, err := os.Lstat(base); err != nil {
		t.Fatalf("expected pointer at base path: %v", err)
	}
}

func TestNewRotatingWriterDash(t *testing.T) {
	w, err := NewRotatingWriter("-", 0)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	if n, err := w.Write([]byte("x")); err != nil || n != 1 {
		t.Fatalf("discard write = %d, %v", n, err)
	}
}

func TestLevelWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(LevelWriter{Min: ParseLevel("warn"), Out: &buf}, "", 0)
	logger.Printf("[DEBUG] hidden")
	logger.Printf("[INFO] hidden")
	logger.Printf("[WARN] shown")
	logger.Printf("[ERROR] shown too")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("below-level lines leaked: %q", out)
	}
	if strings.Count(out, "shown") != 2 {
		t.Fatalf("expected warn and error lines, got %q", out)
	}
}

func TestLineLevelUsesLeadingTag(t *testing.T) {
	tests := map[string]Level{
		"[ERROR] upstream said: [INFO] ready":  LevelError,
		"[WARN] echoed [DEBUG] trace":          LevelWarn,
		"[session] [DEBUG] c1 [ERROR] in text": LevelDebug,
		"no tag at all":                        LevelInfo,
	}
	for line, want := range tests {
		if got := lineLevel([]byte(line)); got != want {
			t.Errorf("lineLevel(%q) = %v, want %v", line, got, want)
		}
	}

	var buf bytes.Buffer
	logger := log.New(LevelWriter{Min: LevelWarn, Out: &buf}, "", 0)
	logger.Printf("[ERROR] upstream body: [INFO] model loading")
	if !strings.Contains(buf.String(), "model loading") {
		t.Fatalf("error line with embedded info tag was dropped: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{"debug": LevelDebug, "INFO": LevelInfo, "warning": LevelWarn, "error": LevelError, "": LevelInfo, "bogus": LevelInfo}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetup(t *testing.T) {
	prevOut, prevFlags, prevPrefix := log.Writer(), log.Flags(), log.Prefix()
	t.Cleanup(func() {
		log.SetOutput(prevOut)
		log.SetFlags(prevFlags)
		log.SetPrefix(prevPrefix)
	})

	var stdout bytes.Buffer
	file := filepath.Join(t.TempDir(), "daemon.log")
	closer, err := Setup(Options{Prefix: "[chatstreamd] ", Level: "info", File: file, Stdout: &stdout})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	log.Printf("[DEBUG] not written")
	log.Printf("[INFO] written")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if !strings.Contains(stdout.String(), "[chatstreamd] ") || !strings.Contains(stdout.String(), "written") {
		t.Fatalf("unexpected stdout %q", stdout.String())
	}
	if strings.Contains(stdout.String(), "not written") {
		t.Fatalf("debug line leaked")
	}
}
