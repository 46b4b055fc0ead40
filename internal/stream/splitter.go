package stream

import "bytes"

// Splitter turns arbitrarily sized reads into complete newline-terminated
// lines. A trailing partial line stays buffered until more bytes arrive or
// Flush is called. Returned lines never include the terminator or a trailing
// carriage return.
type Splitter struct {
	buf []byte
}

// Feed appends chunk to the buffer and returns every line it completed.
func (s *Splitter) Feed(chunk []byte) [][]byte {
	s.buf = append(s.buf, chunk...)
	var (
		lines [][]byte
		off   int
	)
	for {
		i := bytes.IndexByte(s.buf[off:], '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(s.buf[off:off+i], []byte{'\r'})
		lines = append(lines, bytes.Clone(line))
		off += i + 1
	}
	if off > 0 {
		s.buf = append(s.buf[:0], s.buf[off:]...)
	}
	return lines
}

// Flush returns the buffered partial line, if any, and resets the buffer.
func (s *Splitter) Flush() ([]byte, bool) {
	if len(s.buf) == 0 {
		return nil, false
	}
	line := bytes.Clone(bytes.TrimSuffix(s.buf, []byte{'\r'}))
	s.buf = s.buf[:0]
	return line, true
}

// Buffered reports how many bytes are waiting for a newline.
func (s *Splitter) Buffered() int { return len(s.buf) }
