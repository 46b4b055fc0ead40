package stream

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

// chunkReader delivers each chunk in its own Read call.
type chunkReader struct {
	chunks [][]byte
	err    error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	if n < len(r.chunks[0]) {
		r.chunks[0] = r.chunks[0][n:]
	} else {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func newChunkReader(parts ...string) *chunkReader {
	r := &chunkReader{}
	for _, p := range parts {
		r.chunks = append(r.chunks, []byte(p))
	}
	return r
}

func collect(t *testing.T, d *Decoder) []string {
	t.Helper()
	var out []string
	for {
		frame, err := d.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		out = append(out, string(frame))
	}
}

func TestDecoderSSESplitAtEveryOffset(t *testing.T) {
	const raw = "data: {\"a\":1}\n"
	for i := 0; i <= len(raw); i++ {
		d := NewDecoder(KindSSE, newChunkReader(raw[:i], raw[i:]))
		frames := collect(t, d)
		if len(frames) != 1 {
			t.Fatalf("split at %d: got %d frames %q, want 1", i, len(frames), frames)
		}
		if frames[0] != `{"a":1}` {
			t.Fatalf("split at %d: frame = %q", i, frames[0])
		}
	}
}

func TestDecoderNDJSONSplitAtEveryOffset(t *testing.T) {
	const raw = "{\"message\":{\"content\":\"hi\"}}\n{\"done\":true}\n"
	for i := 0; i <= len(raw); i++ {
		d := NewDecoder(KindNDJSON, newChunkReader(raw[:i], raw[i:]))
		frames := collect(t, d)
		if len(frames) != 2 {
			t.Fatalf("split at %d: got %d frames %q, want 2", i, len(frames), frames)
		}
	}
}

func TestDecoderSSEStopsAtDoneSentinel(t *testing.T) {
	body := strings.Join([]string{
		": keep-alive",
		"event: message",
		`data: {"n":1}`,
		"",
		`data:{"n":2}`,
		"",
		"data: [DONE]",
		"",
		`data: {"n":3}`,
		"",
	}, "\n")
	d := NewDecoder(KindSSE, strings.NewReader(body))
	frames := collect(t, d)
	want := []string{`{"n":1}`, `{"n":2}`}
	if strings.Join(frames, "|") != strings.Join(want, "|") {
		t.Fatalf("frames = %q, want %q", frames, want)
	}
}

func TestDecoderSkipsMalformedFrames(t *testing.T) {
	body := "data: {\"ok\":1}\n" +
		"data: {broken\n" +
		"garbage line\n" +
		"data: {\"ok\":2}\r\n"
	d := NewDecoder(KindSSE, iotest.OneByteReader(strings.NewReader(body)))
	frames := collect(t, d)
	if len(frames) != 2 {
		t.Fatalf("got %d frames %q, want 2", len(frames), frames)
	}
	if d.Skipped() != 1 {
		t.Errorf("Skipped() = %d, want 1", d.Skipped())
	}
}

func TestDecoderNDJSONDoneEndsSequence(t *testing.T) {
	body := `{"message":{"content":"hi"}}` + "\n" +
		`{"done":true}` + "\n" +
		`{"message":{"content":"ignored"}}` + "\n"
	d := NewDecoder(KindNDJSON, strings.NewReader(body))
	frames := collect(t, d)
	if len(frames) != 2 {
		t.Fatalf("got %d frames %q, want 2", len(frames), frames)
	}
	if frames[1] != `{"done":true}` {
		t.Errorf("last frame = %q", frames[1])
	}
	if _, err := d.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next() after done = %v, want io.EOF", err)
	}
}

func TestDecoderFlushesTrailingLineOnClose(t *testing.T) {
	d := NewDecoder(KindNDJSON, strings.NewReader(`{"a":1}`+"\n"+`{"a":2}`))
	frames := collect(t, d)
	if len(frames) != 2 || frames[1] != `{"a":2}` {
		t.Fatalf("frames = %q", frames)
	}
}

func TestDecoderSurfacesReadErrorsAfterPendingFrames(t *testing.T) {
	boom := errors.New("connection reset")
	r := newChunkReader("data: {\"a\":1}\n", "data: {\"a\":")
	r.err = boom
	d := NewDecoder(KindSSE, r)

	frame, err := d.Next()
	if err != nil || string(frame) != `{"a":1}` {
		t.Fatalf("first Next() = %q, %v", frame, err)
	}
	if _, err := d.Next(); !errors.Is(err, boom) {
		t.Fatalf("second Next() error = %v, want %v", err, boom)
	}
}

func TestDecoderFramesIterator(t *testing.T) {
	d := NewDecoder(KindSSE, strings.NewReader("data: 1\ndata: 2\ndata: [DONE]\n"))
	var got []string
	for frame, err := range d.Frames() {
		if err != nil {
			t.Fatalf("iterator error = %v", err)
		}
		got = append(got, string(frame))
	}
	if strings.Join(got, ",") != "1,2" {
		t.Fatalf("got %q", got)
	}
	if d.FrameCount() != 2 {
		t.Errorf("FrameCount() = %d, want 2", d.FrameCount())
	}
}

func TestSplitterHoldsPartialLine(t *testing.T) {
	var s Splitter
	if lines := s.Feed([]byte("abc")); len(lines) != 0 {
		t.Fatalf("unexpected lines %q", lines)
	}
	if s.Buffered() != 3 {
		t.Fatalf("Buffered() = %d", s.Buffered())
	}
	lines := s.Feed([]byte("def\r\nxy"))
	if len(lines) != 1 || string(lines[0]) != "abcdef" {
		t.Fatalf("lines = %q", lines)
	}
	rest, ok := s.Flush()
	if !ok || string(rest) != "xy" {
		t.Fatalf("Flush() = %q, %v", rest, ok)
	}
	if _, ok := s.Flush(); ok {
		t.Fatal("second Flush() reported data")
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind("ndjson"); err != nil || k != KindNDJSON {
		t.Fatalf("ParseKind(ndjson) = %q, %v", k, err)
	}
	if _, err := ParseKind("xml"); err == nil {
		t.Fatal("ParseKind(xml) expected error")
	}
}
