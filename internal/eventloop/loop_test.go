package eventloop

import (
	"bufio"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fabubaker/LISO-Server/internal/config"
)

// newTestLoop starts a Loop on a loopback TCP port and runs it in the
// background, returning the chosen port and a cleanup func. Scenarios
// S1/S3/S6 exercise it end-to-end over a real socket, the way the
// event loop is actually driven in production.
func newTestLoop(t *testing.T, docRoot string) (port int, stop func()) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("finding free port: %v", err)
	}
	port = ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	cfg := &config.Config{
		HTTPPort: port,
		LogPath:  filepath.Join(t.TempDir(), "liso.log"),
		DocRoot:  docRoot,
	}
	logger := zap.NewNop()

	loop, err := New(cfg, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan struct{})
	go func() {
		loop.Run()
		close(done)
	}()

	// Give Run a moment to enter its first poller wait.
	time.Sleep(50 * time.Millisecond)

	return port, func() {
		loop.RequestShutdown()
		// The shutdown flag is checked between poller waits, so an idle
		// loop notices it within one waitTimeoutMS period.
		select {
		case <-done:
		case <-time.After(time.Duration(waitTimeoutMS)*time.Millisecond + time.Second):
			t.Fatalf("loop did not shut down in time")
		}
	}
}

func dial(t *testing.T, port int) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", "127.0.0.1:"+strconv.Itoa(port), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

// TestScenarioS1StaticGet matches spec scenario S1.
func TestScenarioS1StaticGet(t *testing.T) {
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, "index.html"), []byte("hi"), 0644)

	port, stop := newTestLoop(t, root)
	defer stop()

	conn := dial(t, port)
	defer conn.Close()

	conn.Write([]byte("GET /index.html HTTP/1.1\r\nHost: x\r\n\r\n"))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(conn)

	status, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("reading status line: %v", err)
	}
	if status != "HTTP/1.1 200 OK\r\n" {
		t.Fatalf("unexpected status line: %q", status)
	}
}

// TestScenarioS3MissingFile matches spec scenario S3.
func TestScenarioS3MissingFile(t *testing.T) {
	root := t.TempDir()
	port, stop := newTestLoop(t, root)
	defer stop()

	conn := dial(t, port)
	defer conn.Close()

	conn.Write([]byte("GET /missing HTTP/1.1\r\n\r\n"))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(conn)

	status, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("reading status line: %v", err)
	}
	if status != "HTTP/1.1 404 Not Found\r\n" {
		t.Fatalf("unexpected status line: %q", status)
	}
}

// TestScenarioS6ConnectionCloseHeader matches spec scenario S6.
func TestScenarioS6ConnectionCloseHeader(t *testing.T) {
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, "x.html"), []byte("bye"), 0644)

	port, stop := newTestLoop(t, root)
	defer stop()

	conn := dial(t, port)
	defer conn.Close()

	conn.Write([]byte("GET /x.html HTTP/1.1\r\nConnection: close\r\n\r\n"))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(conn)

	var sawClose bool
	for {
		line, err := reader.ReadString('\n')
		if err != nil || line == "\r\n" {
			break
		}
		if line == "Connection: close\r\n" {
			sawClose = true
		}
	}
	if !sawClose {
		t.Fatalf("expected Connection: close header in response")
	}
}
