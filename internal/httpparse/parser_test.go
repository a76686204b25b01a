package httpparse

import (
	"testing"

	"github.com/fabubaker/LISO-Server/internal/protoerr"
)

func TestParseRequestLineOK(t *testing.T) {
	rl, perr := ParseRequestLine([]byte("GET /index.html HTTP/1.1\r\nHost: x\r\n\r\n"))
	if perr != nil {
		t.Fatalf("unexpected error: %v", perr)
	}
	if rl.Method != "GET" || rl.Target != "/index.html" || rl.Version != "HTTP/1.1" {
		t.Fatalf("unexpected parse: %+v", rl)
	}
}

func TestParseRequestLineCaseSensitiveMethod(t *testing.T) {
	_, perr := ParseRequestLine([]byte("get / HTTP/1.1\r\n\r\n"))
	if perr == nil || perr.Kind != protoerr.KindNotImplemented {
		t.Fatalf("expected NotImplemented, got %v", perr)
	}
}

func TestParseRequestLineBadTokenCount(t *testing.T) {
	_, perr := ParseRequestLine([]byte("GET /\r\n\r\n"))
	if perr == nil || perr.Kind != protoerr.KindBadRequest {
		t.Fatalf("expected BadRequest, got %v", perr)
	}
}

func TestParseRequestLineVersionStrictness(t *testing.T) {
	_, perr := ParseRequestLine([]byte("GET / HTTP/1.0\r\n\r\n"))
	if perr == nil || perr.Kind != protoerr.KindVersionNotSupported {
		t.Fatalf("expected VersionNotSupported, got %v", perr)
	}
}

func TestParseHeadersConnectionClose(t *testing.T) {
	block := []byte("GET / HTTP/1.1\r\nConnection: close\r\n\r\n")
	rl, perr := ParseRequestLine(block)
	if perr != nil {
		t.Fatalf("unexpected error: %v", perr)
	}
	disp, _, _, perr := ParseHeaders(block, rl.Len, rl.Method)
	if perr != nil {
		t.Fatalf("unexpected error: %v", perr)
	}
	if disp != Close {
		t.Fatalf("expected Close disposition")
	}
}

func TestParseHeadersDefaultKeepAlive(t *testing.T) {
	block := []byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	rl, _ := ParseRequestLine(block)
	disp, _, _, perr := ParseHeaders(block, rl.Len, rl.Method)
	if perr != nil {
		t.Fatalf("unexpected error: %v", perr)
	}
	if disp != KeepAlive {
		t.Fatalf("expected KeepAlive disposition")
	}
}

func TestParseHeadersPostMissingContentLength(t *testing.T) {
	block := []byte("POST /cgi HTTP/1.1\r\n\r\n")
	rl, _ := ParseRequestLine(block)
	_, _, _, perr := ParseHeaders(block, rl.Len, rl.Method)
	if perr == nil || perr.Kind != protoerr.KindLengthRequired {
		t.Fatalf("expected LengthRequired, got %v", perr)
	}
}

func TestParseHeadersPostNegativeContentLength(t *testing.T) {
	block := []byte("POST /cgi HTTP/1.1\r\nContent-Length: -1\r\n\r\n")
	rl, _ := ParseRequestLine(block)
	_, _, _, perr := ParseHeaders(block, rl.Len, rl.Method)
	if perr == nil || perr.Kind != protoerr.KindLengthRequired {
		t.Fatalf("expected LengthRequired, got %v", perr)
	}
}

func TestParseHeadersPostEmptyContentLengthValue(t *testing.T) {
	block := []byte("POST /cgi HTTP/1.1\r\nContent-Length:\r\n\r\n")
	rl, _ := ParseRequestLine(block)
	_, _, _, perr := ParseHeaders(block, rl.Len, rl.Method)
	if perr == nil || perr.Kind != protoerr.KindLengthRequired {
		t.Fatalf("expected LengthRequired for a missing value, got %v", perr)
	}
}

func TestParseHeadersPostExtraTokens(t *testing.T) {
	block := []byte("POST /cgi HTTP/1.1\r\nContent-Length: 10 20\r\n\r\n")
	rl, _ := ParseRequestLine(block)
	_, _, _, perr := ParseHeaders(block, rl.Len, rl.Method)
	if perr == nil || perr.Kind != protoerr.KindBadRequest {
		t.Fatalf("expected BadRequest, got %v", perr)
	}
}

func TestParseHeadersGetIgnoresContentLength(t *testing.T) {
	block := []byte("GET /x HTTP/1.1\r\nContent-Length: not-a-number\r\n\r\n")
	rl, _ := ParseRequestLine(block)
	_, _, hasCL, perr := ParseHeaders(block, rl.Len, rl.Method)
	if perr != nil {
		t.Fatalf("unexpected error: %v", perr)
	}
	if hasCL {
		t.Fatalf("Content-Length should be ignored for GET")
	}
}

func TestClassifyMIME(t *testing.T) {
	cases := map[string]string{
		"/a.html": "text/html",
		"/a.css":  "text/css",
		"/a.png":  "image/png",
		"/a.jpeg": "image/jpeg",
		"/a.gif":  "image/gif",
	}
	for target, want := range cases {
		got, ok := ClassifyMIME(target)
		if !ok || got != want {
			t.Fatalf("ClassifyMIME(%q) = %q, %v; want %q", target, got, ok, want)
		}
	}
	if _, ok := ClassifyMIME("/a.unknown"); ok {
		t.Fatalf("expected unknown extension to omit Content-Type")
	}
	if _, ok := ClassifyMIME("/a"); ok {
		t.Fatalf("expected no extension to omit Content-Type")
	}
}
