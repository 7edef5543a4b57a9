package ftp

import (
	"strconv"
	"strings"
)

// Reply is a numbered FTP reply, one or more text lines under a single code.
type Reply struct {
	Code  StatusCode
	Lines []string
}

// NewReply builds a reply from free text.
// Carriage returns are dropped, the text is split on "\n" and a single
// trailing newline does not produce an extra empty line.
func NewReply(code StatusCode, text string) Reply {
	text = strings.ReplaceAll(text, "\r", "")
	lines := strings.Split(text, "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return Reply{Code: code, Lines: lines}
}

// NewReplyLines builds a reply from already separated lines.
func NewReplyLines(code StatusCode, lines ...string) Reply {
	return NewReply(code, strings.Join(lines, "\n"))
}

// String encodes the reply using the RFC 959 multi-line framing.
func (r Reply) String() string {
	code := strconv.Itoa(r.Code)
	lines := r.Lines
	if len(lines) == 0 {
		lines = []string{""}
	}

	var sb strings.Builder
	if len(lines) == 1 {
		sb.WriteString(code)
		sb.WriteByte(' ')
		sb.WriteString(lines[0])
		sb.WriteString("\r\n")
		return sb.String()
	}

	sb.WriteString(code)
	sb.WriteByte('-')
	sb.WriteString(lines[0])
	sb.WriteString("\r\n")
	for _, line := range lines[1 : len(lines)-1] {
		// an interior line must not be mistaken for the closing line
		if startsWithCode(line) {
			sb.WriteString("  ")
		}
		sb.WriteString(line)
		sb.WriteString("\r\n")
	}
	sb.WriteString(code)
	sb.WriteByte(' ')
	sb.WriteString(lines[len(lines)-1])
	sb.WriteString("\r\n")
	return sb.String()
}

// Bytes returns the encoded reply.
func (r Reply) Bytes() []byte {
	return []byte(r.String())
}

// Encode is a shortcut for NewReply(code, text).String().
func Encode(code StatusCode, text string) string {
	return NewReply(code, text).String()
}

func startsWithCode(line string) bool {
	if len(line) < 3 {
		return false
	}
	for i := 0; i < 3; i++ {
		if line[i] < '0' || line[i] > '9' {
			return false
		}
	}
	return true
}
