// Package httpparse implements the three staged parsing operations: the
// request line, the header block, and MIME classification by extension.
// Each stage consumes only what is present in the supplied header block
// and never mutates connection state on its own.
package httpparse

import (
	"strconv"
	"strings"

	"github.com/fabubaker/LISO-Server/internal/hashmap"
	"github.com/fabubaker/LISO-Server/internal/protoerr"
)

// Disposition is whether the connection should stay open (keep-alive) or
// be closed after the current response.
type Disposition int

const (
	KeepAlive Disposition = iota
	Close
)

// RequestLine holds the parsed first line of a request.
type RequestLine struct {
	Method  string
	Target  string
	Version string
	// Len is the byte length of the request line including its
	// trailing CRLF, i.e. the offset where the header lines begin.
	Len int
}

// ParseRequestLine parses the first line of headerBlock, which must
// already contain a full "\r\n\r\n"-terminated header block (the caller
// establishes that via buffer.FindHeaderEnd before calling in). Per the
// source, the presence of the header terminator is what triggers parsing
// to begin at all; Incomplete is never returned from here.
func ParseRequestLine(headerBlock []byte) (*RequestLine, *protoerr.Error) {
	idx := indexByte(headerBlock, '\n')
	if idx < 0 {
		// Header terminator is present but no line terminator can be
		// found: defensive internal error per the spec.
		return nil, protoerr.New(protoerr.KindInternalError, "header terminator present but no line terminator found")
	}
	lineEnd := idx + 1
	line := strings.TrimRight(string(headerBlock[:lineEnd]), "\r\n")
	tokens := strings.Split(line, " ")
	if len(tokens) != 3 {
		return nil, protoerr.New(protoerr.KindBadRequest, "request line must have exactly three space-separated tokens")
	}
	method, target, version := tokens[0], tokens[1], tokens[2]
	if method == "" || target == "" || version == "" {
		return nil, protoerr.New(protoerr.KindBadRequest, "request line has an empty field")
	}
	switch method {
	case "GET", "HEAD", "POST":
	default:
		return nil, protoerr.New(protoerr.KindNotImplemented, "unsupported method "+method)
	}
	if version != "HTTP/1.1" {
		return nil, protoerr.New(protoerr.KindVersionNotSupported, "unsupported version "+version)
	}
	return &RequestLine{Method: method, Target: target, Version: version, Len: lineEnd}, nil
}

// ParseHeaders scans the header lines following the request line (up to
// and including the terminating blank line) for the exact literal
// "Connection: close" and, for POST, a well-formed Content-Length.
func ParseHeaders(headerBlock []byte, requestLineLen int, method string) (Disposition, int, bool, *protoerr.Error) {
	disposition := KeepAlive
	contentLength := 0
	hasContentLength := false

	rest := string(headerBlock[requestLineLen:])
	for _, line := range strings.Split(rest, "\r\n") {
		if line == "" {
			continue
		}
		if line == "Connection: close" {
			disposition = Close
			continue
		}
		if strings.HasPrefix(line, "Content-Length:") {
			if method != "POST" {
				continue // ignored for GET/HEAD
			}
			value := strings.TrimPrefix(line, "Content-Length:")
			fields := strings.Fields(value)
			if len(fields) == 0 {
				return disposition, 0, false, protoerr.New(protoerr.KindLengthRequired, "Content-Length is missing a value")
			}
			if len(fields) > 1 {
				return disposition, 0, false, protoerr.New(protoerr.KindBadRequest, "malformed Content-Length header")
			}
			n, err := strconv.Atoi(fields[0])
			if err != nil || n < 0 {
				return disposition, 0, false, protoerr.New(protoerr.KindLengthRequired, "Content-Length is missing or not a non-negative integer")
			}
			contentLength = n
			hasContentLength = true
		}
	}

	if method == "POST" && !hasContentLength {
		return disposition, 0, false, protoerr.New(protoerr.KindLengthRequired, "POST without Content-Length")
	}

	return disposition, contentLength, hasContentLength, nil
}

// CollectHeaders returns every header line as a key/value map, used only
// when a request is routed to CGI and needs HTTP_* environment
// variables. The hot static-file path never allocates this map.
func CollectHeaders(headerBlock []byte, requestLineLen int) hashmap.HashMap {
	headers := hashmap.New()
	rest := string(headerBlock[requestLineLen:])
	for _, line := range strings.Split(rest, "\r\n") {
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		headers.Set(key, value)
	}
	return headers
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
