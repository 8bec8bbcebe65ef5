// ABOUTME: Stateful line framer that turns arbitrary byte chunks into complete text lines.
// ABOUTME: Holds back the trailing unterminated fragment until the next chunk or Flush.

package framer

import "bytes"

// LineFramer accumulates bytes and yields complete newline-terminated lines.
// It is not safe for concurrent use; each stream gets its own framer.
type LineFramer struct {
	pending []byte
}

// New returns an empty LineFramer.
func New() *LineFramer {
	return &LineFramer{}
}

// Feed appends chunk to the pending buffer and returns every complete line
// it now contains, in order. The final fragment after the last '\n' (possibly
// empty) is retained for the next call. A trailing '\r' is stripped so CRLF
// input frames the same as LF. Chunk boundaries are arbitrary: a line split
// across many chunks, even mid-rune, reassembles intact.
func (f *LineFramer) Feed(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}
	f.pending = append(f.pending, chunk...)

	var lines []string
	for {
		i := bytes.IndexByte(f.pending, '\n')
		if i < 0 {
			break
		}
		line := f.pending[:i]
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
		lines = append(lines, string(line))
		f.pending = f.pending[i+1:]
	}
	return lines
}

// Flush surfaces the final fragment at end-of-stream. A worker that forgets
// the trailing newline must not lose its last line. Returns false when
// nothing is pending. The framer is empty afterwards.
func (f *LineFramer) Flush() (string, bool) {
	if len(f.pending) == 0 {
		return "", false
	}
	line := f.pending
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	f.pending = nil
	return string(line), true
}
