package eventloop

import (
	"net"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/fabubaker/LISO-Server/internal/buffer"
	"github.com/fabubaker/LISO-Server/internal/httpparse"
)

// state is one node of the per-connection request state machine (§4.4).
type state int

const (
	stateReading state = iota
	stateParsing
	stateServicing
	stateCgiForwarding
	stateClosed
)

// parsedRequest holds the tokens recovered from the request line and
// header block, plus the framing data needed to know where the request
// ends in the buffer.
type parsedRequest struct {
	method        string
	target        string
	requestLineEnd int
	headerEnd     int // offset of the blank line terminator's end
	contentLength int
	hasBody       bool
}

// cgiBridge is the shadow record forwarding a CGI child's stdout to the
// originating client (§3 "CGI Bridge"). It holds no transport of its
// own: forwarded bytes are written through the parent Connection's conn
// field, and the bridge never closes it.
type cgiBridge struct {
	stdout  *os.File
	fd      int
	process *os.Process
}

// Connection is one accepted client socket plus everything needed to
// drive its request state machine across partial reads and pipelined
// requests (§3 "Connection").
type Connection struct {
	id string

	// rawConn is kept distinct from conn so the loop can extract its
	// file descriptor for epoll registration even when conn is a
	// *tls.Conn wrapping it (tls.Conn does not implement syscall.Conn).
	rawConn net.Conn
	conn    net.Conn
	fd      int

	clientIP   string
	serverPort string

	slot int

	state  state
	reqBuf *buffer.Buffer

	req            *parsedRequest
	disposition    httpparse.Disposition
	dispositionSet bool

	// cgi is non-nil while this connection is in CgiForwarding.
	cgi *cgiBridge
}

// newConnection wraps a freshly accepted socket.
func newConnection(raw, wrapped net.Conn, fd, slot int, serverPort string) *Connection {
	ip := ""
	if addr, ok := raw.RemoteAddr().(*net.TCPAddr); ok {
		ip = addr.IP.String()
	}
	return &Connection{
		id:         uuid.NewString(),
		rawConn:    raw,
		conn:       wrapped,
		fd:         fd,
		clientIP:   ip,
		serverPort: serverPort,
		slot:       slot,
		state:      stateReading,
		reqBuf:     buffer.New(),
	}
}

// readScratchSize bounds a single non-blocking read.
const readScratchSize = 4096

// doRead performs one non-blocking read attempt, per §4.5's "loop does
// not wait on a specific descriptor" suspension model: a deadline one
// millisecond out makes conn.Read return rather than block the single
// loop goroutine if the epoll hint turns out stale. A deadline already
// in the past would fail the Read before it looked at the socket.
func (c *Connection) doRead() (int, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	scratch := make([]byte, readScratchSize)
	n, err := c.conn.Read(scratch)
	if n > 0 {
		if appendErr := c.reqBuf.Append(scratch[:n]); appendErr != nil {
			return n, appendErr
		}
	}
	return n, err
}

// resetForNextRequest clears per-request parse state ahead of a
// pipelined or freshly read request, leaving the buffer's bytes alone.
func (c *Connection) resetForNextRequest() {
	c.req = nil
	c.dispositionSet = false
}
