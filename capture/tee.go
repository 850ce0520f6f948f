package capture

import (
	"bytes"
	"io"
	"strings"
	"unicode/utf8"
)

// BoundedTee wraps an io.Reader and mirrors only the first limit bytes that
// pass through into an internal buffer, while every byte (including
// everything past limit) still flows through Read unchanged. It never
// blocks or slows the underlying stream to do its copying; the tee is pure
// bookkeeping alongside the real io.Copy loop.
//
// C8 uses it directly and C10 through the embedded C8 handler, so the
// "tee the first 64 KiB" rule can never drift between the plain-HTTP and
// MITM code paths. C9 captures no bodies and does not use it.
type BoundedTee struct {
	r     io.Reader
	limit int
	buf   bytes.Buffer
}

// NewBoundedTee returns a BoundedTee reading from r that captures at most
// limit bytes.
func NewBoundedTee(r io.Reader, limit int) *BoundedTee {
	return &BoundedTee{r: r, limit: limit}
}

// Read implements io.Reader, forwarding to the wrapped reader and copying
// into the side buffer until limit bytes have been captured.
func (t *BoundedTee) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		remaining := t.limit - t.buf.Len()
		if remaining > 0 {
			take := n
			if take > remaining {
				take = remaining
			}
			t.buf.Write(p[:take])
		}
	}
	return n, err
}

// Captured returns the bytes tee'd so far. The caller must not retain the
// returned slice across further Read calls without copying it.
func (t *BoundedTee) Captured() []byte {
	return t.buf.Bytes()
}

// CapturedText decodes the captured bytes as UTF-8, replacing invalid
// sequences with the Unicode replacement character, matching the "lossy
// UTF-8 decode" contract for Body.Text. Replacement characters are wider
// than the bytes they replace, so the result is cut back to at most limit
// bytes on a rune boundary.
func (t *BoundedTee) CapturedText() string {
	text := strings.ToValidUTF8(t.buf.String(), "�")
	if len(text) > t.limit {
		cut := t.limit
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return text
}
