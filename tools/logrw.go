package tools

import (
	"bufio"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// LogReadWriter is a wrapper around an io.ReadWriter that logs all writes to a slog.Logger.
// Reads are not logged since a read may hold part of a line, callers log
// complete lines with LogRequest.
type LogReadWriter struct {
	ReadWriter io.ReadWriter
	logger     *slog.Logger
}

func (rw *LogReadWriter) Read(b []byte) (int, error) {
	return rw.ReadWriter.Read(b)
}

// LogRequest logs a complete control line, a PASS argument is logged as "*****".
func (rw *LogReadWriter) LogRequest(line string) {
	if rw.logger != nil && line != "" {
		rw.logger.Debug("Request", "body", Printable(MaskPassword(line)))
	}
}

func (rw *LogReadWriter) Write(b []byte) (int, error) {
	if rw.logger != nil {
		rw.logger.Debug("Respond", "body", Printable(b))
	}
	return rw.ReadWriter.Write(b)
}

// NewLogReadWriter creates a new LogReadWriter.
func NewLogReadWriter(rw io.ReadWriter, logger *slog.Logger) *LogReadWriter {
	return &LogReadWriter{ReadWriter: rw, logger: logger}
}

type BufLogReadWriter struct {
	*LogReadWriter
	*bufio.Reader
}

// NewBufLogReadWriter creates a new BufLogReadWriter. It wraps a bufio.ReadWriter and logs all writes to a slog.Logger.
// the reason to divide it in 2 structs is to avoid the need to implement all the methods of bufio.ReadWriter
func NewBufLogReadWriter(rw io.ReadWriter, logger *slog.Logger) *BufLogReadWriter {
	lrw := &LogReadWriter{ReadWriter: rw, logger: logger}

	return &BufLogReadWriter{
		LogReadWriter: lrw,
		Reader:        bufio.NewReader(lrw),
	}
}

// Read reads through the buffer.
func (rw *BufLogReadWriter) Read(b []byte) (int, error) {
	return rw.Reader.Read(b)
}

// MaskPassword replaces the argument of every PASS line in s.
func MaskPassword(s string) string {
	if !strings.Contains(strings.ToUpper(s), "PASS") {
		return s
	}
	lines := strings.SplitAfter(s, "\n")
	for i, line := range lines {
		body := strings.TrimRight(line, "\r\n")
		cmd := strings.TrimLeft(body, " ")
		if len(cmd) < 5 || !strings.EqualFold(cmd[:5], "PASS ") {
			continue
		}
		lines[i] = cmd[:4] + " *****" + line[len(body):]
	}
	return strings.Join(lines, "")
}

// HttpResponseWriter records the status code and the body size written to an http.ResponseWriter.
type HttpResponseWriter struct {
	http.ResponseWriter
	Status int
	Bytes  int64
}

func (rw *HttpResponseWriter) WriteHeader(status int) {
	if rw.Status == 0 {
		rw.Status = status
	}
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *HttpResponseWriter) Write(b []byte) (int, error) {
	if rw.Status == 0 {
		rw.Status = http.StatusOK
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.Bytes += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the wrapped writer.
func (rw *HttpResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func NewHttpResponseWriter(w http.ResponseWriter) *HttpResponseWriter {
	return &HttpResponseWriter{ResponseWriter: w}
}
