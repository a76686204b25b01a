// Package cgi is the external CGI launcher the core event loop treats
// as opaque: given a request, it starts the configured script and hands
// back a readable descriptor for the child's stdout (§1, §3 "CGI
// Bridge").
package cgi

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/fabubaker/LISO-Server/internal/hashmap"
)

// Request carries the metadata the CGI environment needs, translated
// from the parsed HTTP request.
type Request struct {
	Method           string
	Target           string
	Headers          hashmap.HashMap
	ContentLength    int
	HasContentLength bool
	Body             []byte
	ClientIP         string
	ServerPort       string
	RequestID        string
}

// Result is the launched child: a read-only handle on its stdout, whose
// descriptor the event loop registers for readiness, and the OS
// process. The loop reaps children with a separate wait on any pid.
type Result struct {
	Stdout  *os.File
	Process *os.Process
}

// Spawn starts scriptPath as a CGI child. The returned Stdout is the
// read end of a dedicated pipe; the caller owns it and must Close it
// once the child signals EOF or the bridge is torn down.
func Spawn(scriptPath string, req *Request) (*Result, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("cgi: creating stdout pipe: %w", err)
	}

	cmd := exec.Command(scriptPath)
	cmd.Stdout = w
	cmd.Env = buildEnv(req)
	if req.HasContentLength && len(req.Body) > 0 {
		cmd.Stdin = bytes.NewReader(req.Body)
	}

	if err := cmd.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("cgi: starting %s: %w", scriptPath, err)
	}
	// The parent never writes to the child's stdout pipe.
	w.Close()

	return &Result{Stdout: r, Process: cmd.Process}, nil
}

// buildEnv assembles the CGI/1.1 environment for req, following the
// convention recovered from the original engine.c: request metadata
// through the environment, body (if any) through stdin.
func buildEnv(req *Request) []string {
	path, query, _ := strings.Cut(req.Target, "?")

	env := []string{
		"GATEWAY_INTERFACE=CGI/1.1",
		"SERVER_PROTOCOL=HTTP/1.1",
		"SERVER_SOFTWARE=Liso/1.0",
		"REQUEST_METHOD=" + req.Method,
		"SCRIPT_NAME=" + path,
		"QUERY_STRING=" + query,
		"REMOTE_ADDR=" + req.ClientIP,
		"REMOTE_HOST=" + req.ClientIP,
		"SERVER_PORT=" + req.ServerPort,
		"REQUEST_ID=" + req.RequestID,
	}
	if req.HasContentLength {
		env = append(env, "CONTENT_LENGTH="+strconv.Itoa(req.ContentLength))
	}
	if ct, ok := req.Headers.Get("Content-Type"); ok {
		env = append(env, "CONTENT_TYPE="+ct)
	}
	for key, value := range req.Headers {
		name := "HTTP_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
		env = append(env, name+"="+value)
	}
	return env
}
