// Package stream decodes streamed chat-completion bodies into frames.
//
// Two framings are supported:
//
//	KindSSE     data: <json>\n ... data: [DONE]\n
//	KindNDJSON  <json>\n ... {"done":true,...}\n
//
// Frame boundaries need not line up with read boundaries. Frames that are not
// valid JSON are dropped, so one corrupt line never ends an otherwise healthy
// stream.
package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
)

// Kind selects the framing of a response body.
type Kind string

const (
	KindSSE    Kind = "sse"
	KindNDJSON Kind = "ndjson"
)

// DoneSentinel terminates an SSE stream.
const DoneSentinel = "[DONE]"

const defaultReadSize = 4 * 1024

var dataPrefix = []byte("data:")

// ParseKind maps a configuration string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindSSE, KindNDJSON:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("stream: unknown framing %q", s)
	}
}

// Decoder lazily yields frame payloads read from r.
type Decoder struct {
	kind    Kind
	r       io.Reader
	split   Splitter
	readBuf []byte
	pending [][]byte
	readErr error
	eof     bool
	done    bool
	frames  int
	skipped int
}

// NewDecoder returns a Decoder for the given framing.
func NewDecoder(kind Kind, r io.Reader) *Decoder {
	return &Decoder{
		kind:    kind,
		r:       r,
		readBuf: make([]byte, defaultReadSize),
	}
}

// Next returns the next frame payload. It returns io.EOF once the stream is
// exhausted: the reader closed, the SSE sentinel arrived, or an NDJSON frame
// carried "done": true (that frame is returned first). Any other error comes
// from the underlying reader and means the transport failed mid-stream.
func (d *Decoder) Next() ([]byte, error) {
	for {
		if d.done {
			return nil, io.EOF
		}
		if len(d.pending) > 0 {
			line := d.pending[0]
			d.pending = d.pending[1:]
			frame, ok, last := d.classify(line)
			if last {
				d.done = true
				d.pending = nil
			}
			if ok {
				d.frames++
				return frame, nil
			}
			continue
		}
		if d.readErr != nil {
			return nil, d.readErr
		}
		if d.eof {
			if rest, ok := d.split.Flush(); ok {
				d.pending = append(d.pending, rest)
				continue
			}
			d.done = true
			return nil, io.EOF
		}
		n, err := d.r.Read(d.readBuf)
		if n > 0 {
			d.pending = append(d.pending, d.split.Feed(d.readBuf[:n])...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				d.eof = true
			} else {
				d.readErr = err
			}
		}
	}
}

// Frames adapts Next to a range-over-func sequence. The sequence stops after
// the first error; io.EOF is not reported.
func (d *Decoder) Frames() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			frame, err := d.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(frame, err) || err != nil {
				return
			}
		}
	}
}

// FrameCount reports how many frames have been returned so far.
func (d *Decoder) FrameCount() int { return d.frames }

// Skipped reports how many lines were dropped as malformed.
func (d *Decoder) Skipped() int { return d.skipped }

// classify returns the frame carried by line, whether there is one, and
// whether the stream ends after it.
func (d *Decoder) classify(line []byte) (frame []byte, ok bool, last bool) {
	switch d.kind {
	case KindNDJSON:
		return d.classifyNDJSON(line)
	default:
		return d.classifySSE(line)
	}
}

func (d *Decoder) classifySSE(line []byte) ([]byte, bool, bool) {
	line = bytes.TrimRight(line, " \t")
	if len(line) == 0 || line[0] == ':' {
		return nil, false, false
	}
	if !bytes.HasPrefix(line, dataPrefix) {
		// event:, id:, retry: and anything unrecognised carry no payload for us.
		return nil, false, false
	}
	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if string(payload) == DoneSentinel {
		return nil, false, true
	}
	if !json.Valid(payload) {
		d.skipped++
		return nil, false, false
	}
	return payload, true, false
}

func (d *Decoder) classifyNDJSON(line []byte) ([]byte, bool, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, false, false
	}
	if !json.Valid(line) {
		d.skipped++
		return nil, false, false
	}
	var marker struct {
		Done bool `json:"done"`
	}
	last := json.Unmarshal(line, &marker) == nil && marker.Done
	return line, true, last
}
