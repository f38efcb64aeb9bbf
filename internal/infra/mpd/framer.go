package mpd

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// ErrEmptyRead is returned when the server socket yields zero bytes without an error.
var ErrEmptyRead = errors.New("mpd: read returned no data")

// LineFramer turns a byte stream into complete UTF-8 lines. Bytes belonging to
// an unfinished line or an unfinished multi-byte character are carried over to
// the next Feed call. The zero value is ready to use.
type LineFramer struct {
	raw     []byte          // undecoded tail: a split multi-byte sequence
	partial strings.Builder // decoded text with no newline yet
}

// Feed consumes p and returns every line completed by it, without the
// terminating "\n" (or "\r\n").
func (f *LineFramer) Feed(p []byte) []string {
	if len(p) == 0 {
		return nil
	}

	buf := p
	if len(f.raw) > 0 {
		buf = append(f.raw, p...)
	}

	n := decodablePrefix(buf)
	f.decodeInto(buf[:n])

	// Copy the remainder: buf may alias the caller's read buffer.
	f.raw = append(f.raw[:0:0], buf[n:]...)

	return f.takeLines()
}

// Pending reports how many bytes and decoded characters are held back.
func (f *LineFramer) Pending() int {
	return len(f.raw) + f.partial.Len()
}

// Reset discards all carry-over state.
func (f *LineFramer) Reset() {
	f.raw = nil
	f.partial.Reset()
}

func (f *LineFramer) decodeInto(b []byte) {
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size <= 1 {
			// One replacement per invalid byte keeps output independent of chunking.
			f.partial.WriteRune(utf8.RuneError)
			b = b[1:]
			continue
		}
		f.partial.Write(b[:size])
		b = b[size:]
	}
}

func (f *LineFramer) takeLines() []string {
	text := f.partial.String()
	if strings.IndexByte(text, '\n') < 0 {
		return nil
	}

	parts := strings.Split(text, "\n")
	rest := parts[len(parts)-1]
	lines := parts[:len(parts)-1]
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}

	f.partial.Reset()
	f.partial.WriteString(rest)
	return lines
}

// sequenceLength returns the total byte length announced by a UTF-8 lead byte,
// or 0 when b cannot start a sequence.
func sequenceLength(b byte) int {
	switch {
	case b < 0x80:
		return 1
	case b&0xE0 == 0xC0:
		return 2
	case b&0xF0 == 0xE0:
		return 3
	case b&0xF8 == 0xF0:
		return 4
	default:
		return 0
	}
}

// decodablePrefix returns the length of the longest prefix of b that does not
// end inside an incomplete multi-byte sequence.
func decodablePrefix(b []byte) int {
	end := len(b)
	for i := end - 1; i >= 0 && i >= end-utf8.UTFMax; i-- {
		c := b[i]
		if c&0xC0 == 0x80 {
			continue
		}
		need := sequenceLength(c)
		if need > 1 && end-i < need {
			return i
		}
		return end
	}
	return end
}

// lineReader pulls framed lines off a reader, refilling from it as needed.
type lineReader struct {
	r      io.Reader
	framer LineFramer
	buf    []byte
	lines  []string
}

func newLineReader(r io.Reader, size int) *lineReader {
	if size <= 0 {
		size = 4096
	}
	return &lineReader{r: r, buf: make([]byte, size)}
}

// ReadLine returns the next complete line. Any read error, including a read
// of zero bytes, is returned as is and leaves the reader unusable.
func (lr *lineReader) ReadLine() (string, error) {
	for len(lr.lines) == 0 {
		n, err := lr.r.Read(lr.buf)
		if n > 0 {
			lr.lines = append(lr.lines, lr.framer.Feed(lr.buf[:n])...)
		}
		if err != nil {
			if len(lr.lines) > 0 {
				break
			}
			return "", fmt.Errorf("reading from server: %w", err)
		}
		if n == 0 {
			return "", ErrEmptyRead
		}
	}

	line := lr.lines[0]
	lr.lines = lr.lines[1:]
	return line, nil
}
