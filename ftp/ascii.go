package ftp

import (
	"bufio"
	"io"
)

// asciiWriter converts LF line endings to CRLF for TYPE A downloads.
// Lines already ending with CRLF are left alone.
type asciiWriter struct {
	w      io.Writer
	prevCR bool
	buf    []byte
}

func newASCIIWriter(w io.Writer) *asciiWriter {
	return &asciiWriter{w: w}
}

func (a *asciiWriter) Write(p []byte) (int, error) {
	a.buf = a.buf[:0]
	for _, b := range p {
		if b == '\n' && !a.prevCR {
			a.buf = append(a.buf, '\r')
		}
		a.buf = append(a.buf, b)
		a.prevCR = b == '\r'
	}
	if _, err := a.w.Write(a.buf); err != nil {
		return 0, err
	}
	return len(p), nil
}

// asciiReader converts CRLF line endings to LF for TYPE A uploads.
// A CR not followed by LF is kept.
type asciiReader struct {
	r *bufio.Reader
}

func newASCIIReader(r io.Reader) *asciiReader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &asciiReader{r: br}
}

func (a *asciiReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		b, err := a.r.ReadByte()
		if err != nil {
			if n > 0 {
				return n, nil
			}
			return 0, err
		}
		if b == '\r' {
			if next, err := a.r.Peek(1); err == nil && next[0] == '\n' {
				continue
			}
		}
		p[n] = b
		n++
		// return what we have instead of blocking on the network
		if a.r.Buffered() == 0 {
			break
		}
	}
	return n, nil
}
