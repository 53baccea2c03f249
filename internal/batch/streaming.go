package batch

// streaming.go cleans CSV input on the fly without loading the whole file:
//
//   - A UTF-8 BOM (0xEF 0xBB 0xBF) written by Windows tools is skipped.
//   - Invalid UTF-8 bytes are replaced with '?' so the decoder never sees
//     malformed text and values compare byte-for-byte with what the store
//     returns.

import (
	"bufio"
	"bytes"
	"io"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CleanReader is an io.Reader that skips a leading BOM and sanitizes
// invalid UTF-8.
type CleanReader struct {
	br       *bufio.Reader
	replaced int

	// pending holds the tail of a rune that did not fit the last Read.
	pending []byte
	buf     [utf8.UTFMax]byte
}

// NewCleanReader wraps r.
func NewCleanReader(r io.Reader) *CleanReader {
	br := bufio.NewReader(r)
	if b, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(b, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return &CleanReader{br: br}
}

// Read implements io.Reader. Every call with a non-empty p returns at least
// one byte or an error; a rune larger than p is split across calls.
func (c *CleanReader) Read(p []byte) (int, error) {
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	for n < len(p) {
		r, size, err := c.br.ReadRune()
		if err != nil {
			if n > 0 && err == io.EOF {
				return n, nil
			}
			return n, err
		}

		if r == utf8.RuneError && size == 1 {
			p[n] = '?'
			n++
			c.replaced++
			continue
		}

		if n+size > len(p) {
			if n > 0 {
				_ = c.br.UnreadRune()
				break
			}
			enc := c.buf[:utf8.EncodeRune(c.buf[:], r)]
			n = copy(p, enc)
			c.pending = enc[n:]
			break
		}
		utf8.EncodeRune(p[n:], r)
		n += size
	}
	return n, nil
}

// Replaced returns the number of invalid bytes replaced so far.
func (c *CleanReader) Replaced() int {
	return c.replaced
}
