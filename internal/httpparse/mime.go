package httpparse

import "strings"

// mimeTable maps a target's file extension to its canonical MIME type.
// Anything not listed here omits Content-Type from the response.
var mimeTable = map[string]string{
	"html":  "text/html",
	"css":   "text/css",
	"png":   "image/png",
	"jpeg":  "image/jpeg",
	"gif":   "image/gif",
}

// ClassifyMIME maps target's extension (the text after its last '.') to
// a MIME type. The query string, if any, is stripped first.
func ClassifyMIME(target string) (string, bool) {
	path := target
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	idx := strings.LastIndexByte(path, '.')
	if idx < 0 || idx == len(path)-1 {
		return "", false
	}
	mimeType, ok := mimeTable[path[idx+1:]]
	return mimeType, ok
}
