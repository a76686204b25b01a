// Package respbuilder resolves static targets under the document root
// and assembles response bytes: headers in the fixed order the spec
// mandates, followed by the body for GET.
package respbuilder

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fabubaker/LISO-Server/internal/httpparse"
	"github.com/fabubaker/LISO-Server/internal/protoerr"
)

// ServerName is sent in every response's Server header.
const ServerName = "Liso/1.0"

// dateFormat matches "%a, %d %b %Y %H:%M:%S %Z" in GMT; it is exactly
// net/http's TimeFormat layout.
const dateFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// StaticService resolves and serves files under a document root.
type StaticService struct {
	Root string
}

// NewStaticService returns a StaticService rooted at root.
func NewStaticService(root string) *StaticService {
	return &StaticService{Root: root}
}

// ResolvePath maps a request target to a filesystem path under the
// document root. A bare "/" maps to "<root>/index.html". The result is
// anchored under Root: a leading "/" is enforced before joining so that
// "../" segments in target cannot climb above it.
func (s *StaticService) ResolvePath(target string) string {
	path := target
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "/" {
		path = "/index.html"
	}
	cleaned := filepath.Clean("/" + path)
	return filepath.Join(s.Root, cleaned)
}

// BuildStatic serves a GET or HEAD request for target, returning the
// fully framed response (headers, and body for GET).
func (s *StaticService) BuildStatic(method, target string, disposition httpparse.Disposition) ([]byte, *protoerr.Error) {
	fullPath := s.ResolvePath(target)

	info, err := os.Stat(fullPath)
	if err != nil || info.IsDir() {
		return nil, protoerr.New(protoerr.KindNotFound, "no such file: "+fullPath)
	}

	var body []byte
	if method == "GET" {
		f, err := os.Open(fullPath)
		if err != nil {
			return nil, protoerr.New(protoerr.KindNotFound, err.Error())
		}
		defer f.Close()
		body = make([]byte, info.Size())
		if _, err := io.ReadFull(f, body); err != nil {
			return nil, protoerr.New(protoerr.KindInternalError, "reading file: "+err.Error())
		}
	}

	var buf bytes.Buffer
	buf.WriteString("HTTP/1.1 200 OK\r\n")
	writeBaselineHeaders(&buf, disposition)
	if mimeType, ok := httpparse.ClassifyMIME(target); ok {
		fmt.Fprintf(&buf, "Content-Type: %s\r\n", mimeType)
	}
	fmt.Fprintf(&buf, "Content-Length: %d\r\n", info.Size())
	fmt.Fprintf(&buf, "Last-Modified: %s\r\n", info.ModTime().UTC().Format(dateFormat))
	buf.WriteString("\r\n")
	buf.Write(body)
	return buf.Bytes(), nil
}

// BuildBasicOK builds the response for a non-CGI POST: 200 with no body
// and only the three baseline headers.
func BuildBasicOK(disposition httpparse.Disposition) []byte {
	var buf bytes.Buffer
	buf.WriteString("HTTP/1.1 200 OK\r\n")
	writeBaselineHeaders(&buf, disposition)
	buf.WriteString("\r\n")
	return buf.Bytes()
}

func writeBaselineHeaders(buf *bytes.Buffer, disposition httpparse.Disposition) {
	fmt.Fprintf(buf, "Date: %s\r\n", time.Now().UTC().Format(dateFormat))
	fmt.Fprintf(buf, "Server: %s\r\n", ServerName)
	if disposition == httpparse.Close {
		buf.WriteString("Connection: close\r\n")
	} else {
		buf.WriteString("Connection: keep-alive\r\n")
	}
}

// BuildError renders the minimal HTML error response for perr. The
// connection must be closed after sending it, regardless of the
// request's disposition.
func BuildError(perr *protoerr.Error) []byte {
	code, reason := perr.Code, perr.Reason
	if code == 0 {
		code, reason = 500, "Internal Server Error"
	}
	html := fmt.Sprintf("<html><body><h1>%d %s</h1></body></html>", code, reason)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/1.1 %d %s\r\n", code, reason)
	buf.WriteString("Content-Type: text/html\r\n")
	fmt.Fprintf(&buf, "Server: %s\r\n", ServerName)
	buf.WriteString("Connection: close\r\n")
	fmt.Fprintf(&buf, "Content-Length: %d\r\n", len(html))
	buf.WriteString("\r\n")
	buf.WriteString(html)
	return buf.Bytes()
}
