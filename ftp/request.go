package ftp

import (
	"errors"
	"strings"
)

// MaxCommandLength is the longest control line accepted.
const MaxCommandLength = 4096

var ErrEmptyRequest = errors.New("empty request")

// Request is one parsed control line.
type Request struct {
	// Verb is the upper cased command word, never empty
	Verb string
	// Argument is everything after the first space, as sent
	Argument string
	// Line is the received line without the line terminator
	Line string
}

// ParseRequest splits a control line into verb and argument.
func ParseRequest(line string) (*Request, error) {
	line = strings.TrimRight(line, "\r\n")
	trimmed := strings.TrimLeft(line, " ")
	if trimmed == "" {
		return nil, ErrEmptyRequest
	}

	verb, arg, _ := strings.Cut(trimmed, " ")
	return &Request{
		Verb:     strings.ToUpper(verb),
		Argument: arg,
		Line:     line,
	}, nil
}

// HasArgument reports whether the request carries a non blank argument.
func (r *Request) HasArgument() bool {
	return strings.TrimSpace(r.Argument) != ""
}

// String masks the password of PASS so requests can be logged.
func (r *Request) String() string {
	if r.Verb == PASS {
		return "PASS *****"
	}
	return r.Line
}
