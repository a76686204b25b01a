package eventloop

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fabubaker/LISO-Server/internal/buffer"
	"github.com/fabubaker/LISO-Server/internal/cgi"
	"github.com/fabubaker/LISO-Server/internal/config"
	"github.com/fabubaker/LISO-Server/internal/httpparse"
	"github.com/fabubaker/LISO-Server/internal/protoerr"
	"github.com/fabubaker/LISO-Server/internal/respbuilder"
	"github.com/fabubaker/LISO-Server/internal/tlsprovider"
)

// waitTimeoutMS is the readiness-wait timeout: wake periodically for
// housekeeping even when idle (§4.5).
const waitTimeoutMS = 5000

// cgiForwardChunk bounds a single non-blocking read from a CGI child's
// stdout pipe.
const cgiForwardChunk = 4096

// Loop is the single-threaded readiness-multiplexing dispatcher owning
// the listening sockets, the client table, and the CGI-descriptor
// table (§4.5).
type Loop struct {
	cfg    *config.Config
	logger *zap.Logger

	poller   Poller
	registry *Registry

	plainListener *net.TCPListener
	plainFd       int
	tlsListener   *net.TCPListener
	tlsFd         int
	tlsProvider   *tlsprovider.Provider

	static *respbuilder.StaticService

	sigchldPending atomic.Bool
	shutdown       atomic.Bool
}

// New builds a Loop from cfg: it opens the plaintext listener (and, if
// TLS is enabled, the TLS listener and provider), creates the poller,
// and registers both listeners for read readiness.
func New(cfg *config.Config, logger *zap.Logger) (*Loop, error) {
	l := &Loop{
		cfg:      cfg,
		logger:   logger,
		registry: NewRegistry(DefaultCapacity),
		static:   respbuilder.NewStaticService(cfg.DocRoot),
	}

	poller, err := NewPoller()
	if err != nil {
		return nil, err
	}
	l.poller = poller

	plain, fd, err := listenTCP(cfg.HTTPPort)
	if err != nil {
		return nil, fmt.Errorf("eventloop: http listener: %w", err)
	}
	l.plainListener = plain
	l.plainFd = fd
	if err := l.poller.Add(fd); err != nil {
		return nil, fmt.Errorf("eventloop: registering http listener: %w", err)
	}

	if cfg.TLSEnabled {
		provider, err := tlsprovider.New(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		l.tlsProvider = provider

		tlsLn, tlsFd, err := listenTCP(cfg.HTTPSPort)
		if err != nil {
			return nil, fmt.Errorf("eventloop: https listener: %w", err)
		}
		l.tlsListener = tlsLn
		l.tlsFd = tlsFd
		if err := l.poller.Add(tlsFd); err != nil {
			return nil, fmt.Errorf("eventloop: registering https listener: %w", err)
		}
	}

	return l, nil
}

func listenTCP(port int) (*net.TCPListener, int, error) {
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{Port: port})
	if err != nil {
		return nil, 0, err
	}
	fd, err := fdOf(ln)
	if err != nil {
		ln.Close()
		return nil, 0, err
	}
	return ln, fd, nil
}

// fdOf extracts the raw file descriptor of a net.Conn or net.Listener
// purely for epoll registration; all I/O still goes through the Go
// net API.
func fdOf(sc syscall.Conn) (int, error) {
	rc, err := sc.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd int
	ctrlErr := rc.Control(func(f uintptr) { fd = int(f) })
	if ctrlErr != nil {
		return 0, ctrlErr
	}
	return fd, nil
}

// RequestShutdown asks the loop to exit after its current tick,
// equivalent to the source's SIGINT handling (§4.5 "Signal policy").
func (l *Loop) RequestShutdown() {
	l.shutdown.Store(true)
}

// NotifyChildExited marks that a SIGCHLD was delivered; the loop reaps
// on its next tick rather than inside the signal handler, which may
// only do async-signal-safe work (§5).
func (l *Loop) NotifyChildExited() {
	l.sigchldPending.Store(true)
}

// Run drives the event loop until RequestShutdown is called or the
// poller's wait fails, in which case that error is returned. A failed
// Accept is logged and does not stop the loop.
func (l *Loop) Run() error {
	defer l.poller.Close()

	for !l.shutdown.Load() {
		events, err := l.poller.Wait(waitTimeoutMS)
		if err != nil {
			l.logger.Error("poller wait failed", zap.Error(err))
			return err
		}

		for _, ev := range events {
			l.dispatchEvent(ev)
		}

		if l.sigchldPending.Swap(false) {
			l.reapChildren()
		}
	}

	l.logger.Info("shutdown requested, closing listeners")
	l.plainListener.Close()
	if l.tlsListener != nil {
		l.tlsListener.Close()
	}
	l.registry.Each(func(c *Connection) { l.closeConnection(c, "server shutdown") })
	return nil
}

func (l *Loop) dispatchEvent(ev Event) {
	if ev.Fd == l.plainFd {
		l.acceptOn(l.plainListener, false)
		return
	}
	if l.tlsListener != nil && ev.Fd == l.tlsFd {
		l.acceptOn(l.tlsListener, true)
		return
	}

	// A descriptor is either a CGI pipe or a client socket. While a
	// Connection is in CgiForwarding, handleClientReadable leaves its
	// socket unread, so an in-flight CGI response completes before new
	// client input is parsed (§4.4 "Tie-breaks").
	if c := l.registry.ByCgiFd(ev.Fd); c != nil {
		l.forwardCGI(c)
		return
	}
	if c := l.registry.ByFd(ev.Fd); c != nil {
		l.handleClientReadable(c)
		return
	}
}

// acceptOn accepts every pending connection on ln (plaintext or TLS)
// and installs each into the registry, per §4.5 "Acceptance".
func (l *Loop) acceptOn(ln *net.TCPListener, useTLS bool) {
	for {
		// A deadline one millisecond out keeps Accept from blocking the
		// single loop goroutine once the backlog of already-pending
		// connections has been drained, mirroring doRead's guard.
		ln.SetDeadline(time.Now().Add(time.Millisecond))
		raw, err := ln.AcceptTCP()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return
			}
			l.logger.Error("accept failed", zap.Error(err))
			return
		}

		if l.registry.Full() {
			l.logger.Warn("registry at capacity, rejecting connection")
			resp := respbuilder.BuildError(protoerr.New(protoerr.KindServiceUnavailable, "no free connection slot"))
			raw.Write(resp)
			raw.Close()
			continue
		}

		var wrapped net.Conn = raw
		if useTLS {
			tlsConn := tls.Server(raw, l.tlsProvider.Config())
			if err := tlsConn.Handshake(); err != nil {
				l.logger.Warn("TLS handshake failed", zap.Error(err), zap.String("remote", raw.RemoteAddr().String()))
				raw.Close()
				continue
			}
			wrapped = tlsConn
		}

		fd, err := fdOf(raw)
		if err != nil {
			l.logger.Error("extracting fd failed", zap.Error(err))
			wrapped.Close()
			continue
		}

		port := l.cfg.HTTPPort
		if useTLS {
			port = l.cfg.HTTPSPort
		}
		conn := newConnection(raw, wrapped, fd, 0, fmt.Sprintf("%d", port))
		if err := l.registry.Install(conn); err != nil {
			l.logger.Error("installing connection failed", zap.Error(err))
			wrapped.Close()
			continue
		}
		if err := l.poller.Add(fd); err != nil {
			l.logger.Error("registering client fd failed", zap.Error(err))
			l.closeConnection(conn, "poller registration failed")
			continue
		}
		l.logger.Info("accepted connection", zap.String("id", conn.id), zap.String("remote", raw.RemoteAddr().String()), zap.Bool("tls", useTLS))
	}
}

// handleClientReadable drives one readiness tick's worth of work for
// c: a single read, then as much parse/service/pipelining progress as
// the buffered bytes allow (§4.4 "Pipelining").
func (l *Loop) handleClientReadable(c *Connection) {
	if c.state != stateReading {
		return
	}

	n, err := c.doRead()
	if err != nil {
		if errors.Is(err, buffer.ErrOverflow) {
			l.sendErrorAndClose(c, protoerr.New(protoerr.KindBufferOverflow, err.Error()))
			return
		}
		if isTransientReadError(err) {
			return
		}
		if errors.Is(err, io.EOF) {
			l.closeConnection(c, "client EOF")
			return
		}
		l.closeConnection(c, "read error: "+err.Error())
		return
	}
	if n == 0 {
		l.closeConnection(c, "client EOF")
		return
	}

	c.state = stateParsing
	l.runPipeline(c)
}

func isTransientReadError(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// runPipeline advances c through Parsing -> Servicing -> (Writing |
// CgiForwarding) and, on a successful non-CGI response, compacts the
// buffer and loops back into Parsing immediately within the same tick
// (§4.4 "Pipelining"). It stops on Incomplete, on disposition=close, on
// any error, or on entering CgiForwarding.
func (l *Loop) runPipeline(c *Connection) {
	for {
		if c.state != stateParsing {
			return
		}

		headerEnd := c.reqBuf.FindHeaderEnd()
		if headerEnd < 0 {
			c.state = stateReading
			return
		}
		block := c.reqBuf.Bytes()[:headerEnd]

		if c.req == nil {
			rl, perr := httpparse.ParseRequestLine(block)
			if perr != nil {
				l.sendErrorAndClose(c, perr)
				return
			}
			disp, contentLength, hasCL, perr := httpparse.ParseHeaders(block, rl.Len, rl.Method)
			if perr != nil {
				l.sendErrorAndClose(c, perr)
				return
			}
			c.req = &parsedRequest{
				method:         rl.Method,
				target:         rl.Target,
				requestLineEnd: rl.Len,
				headerEnd:      headerEnd,
				contentLength:  contentLength,
				hasBody:        hasCL,
			}
			c.disposition = disp
			c.dispositionSet = true
		}

		bodyEnd := c.req.headerEnd + c.req.contentLength
		if c.req.hasBody && c.reqBuf.Len() < bodyEnd {
			c.state = stateReading
			return
		}

		c.state = stateServicing
		cont := l.service(c)
		if !cont {
			return
		}
		c.state = stateParsing
	}
}

// service dispatches a fully-parsed request: static GET/HEAD, a plain
// POST acknowledgement, or a CGI bridge. It reports whether the
// pipeline loop should continue serving another buffered request.
func (l *Loop) service(c *Connection) bool {
	req := c.req
	block := c.reqBuf.Bytes()[:req.headerEnd]
	bodyEnd := req.headerEnd + req.contentLength
	body := append([]byte(nil), c.reqBuf.Bytes()[req.headerEnd:bodyEnd]...)

	if req.method == "POST" && l.cfg.CGIScriptPath != "" {
		return l.dispatchCGI(c, block, body, bodyEnd)
	}

	var resp []byte
	var perr *protoerr.Error
	switch req.method {
	case "GET", "HEAD":
		resp, perr = l.static.BuildStatic(req.method, req.target, c.disposition)
	default: // POST with no CGI configured
		resp = respbuilder.BuildBasicOK(c.disposition)
	}
	if perr != nil {
		l.sendErrorAndClose(c, perr)
		return false
	}

	if !l.writeFull(c, resp) {
		return false
	}

	newEnd := c.reqBuf.Compact(bodyEnd)
	_ = newEnd
	c.resetForNextRequest()

	if c.disposition == httpparse.Close {
		l.closeConnection(c, "Connection: close")
		return false
	}
	if c.reqBuf.Len() == 0 {
		c.state = stateReading
		return false
	}
	return true
}

// dispatchCGI spawns the configured CGI script for a POST request and
// transitions c into CgiForwarding (§4.4 "Servicing" -> CGI path).
func (l *Loop) dispatchCGI(c *Connection, headerBlock, body []byte, bodyEnd int) bool {
	headers := httpparse.CollectHeaders(headerBlock, c.req.requestLineEnd)
	result, err := cgi.Spawn(l.cfg.CGIScriptPath, &cgi.Request{
		Method:           c.req.method,
		Target:           c.req.target,
		Headers:          headers,
		ContentLength:    c.req.contentLength,
		HasContentLength: c.req.hasBody,
		Body:             body,
		ClientIP:         c.clientIP,
		ServerPort:       c.serverPort,
		RequestID:        c.id,
	})
	if err != nil {
		l.logger.Error("CGI spawn failed", zap.Error(err), zap.String("id", c.id))
		l.sendErrorAndClose(c, protoerr.New(protoerr.KindInternalError, err.Error()))
		return false
	}

	fd, err := fdOf(result.Stdout)
	if err != nil {
		l.logger.Error("extracting CGI pipe fd failed", zap.Error(err))
		result.Stdout.Close()
		l.sendErrorAndClose(c, protoerr.New(protoerr.KindInternalError, err.Error()))
		return false
	}
	if err := l.poller.Add(fd); err != nil {
		l.logger.Error("registering CGI pipe failed", zap.Error(err))
		result.Stdout.Close()
		l.sendErrorAndClose(c, protoerr.New(protoerr.KindInternalError, err.Error()))
		return false
	}

	c.cgi = &cgiBridge{stdout: result.Stdout, fd: fd, process: result.Process}
	c.state = stateCgiForwarding
	newEnd := c.reqBuf.Compact(bodyEnd)
	_ = newEnd
	c.resetForNextRequest()
	return false
}

// forwardCGI copies one chunk of a CGI child's stdout verbatim to the
// client; on EOF it tears down the bridge and returns the connection
// to Reading or Closed (§4.4 "CgiForwarding").
func (l *Loop) forwardCGI(c *Connection) {
	bridge := c.cgi
	if bridge == nil {
		return
	}

	scratch := make([]byte, cgiForwardChunk)
	n, err := bridge.stdout.Read(scratch)
	if n > 0 {
		if !l.writeFull(c, scratch[:n]) {
			l.teardownCGI(c)
			return
		}
	}
	if err != nil {
		l.teardownCGI(c)
		if c.disposition == httpparse.Close {
			l.closeConnection(c, "Connection: close after CGI")
			return
		}
		if c.reqBuf.Len() > 0 {
			c.state = stateParsing
			l.runPipeline(c)
			return
		}
		c.state = stateReading
	}
}

// teardownCGI unregisters and closes the bridge's pipe. It does not
// wait on the child: reaping happens separately via reapChildren, so
// the loop's single goroutine never blocks on a process exit.
func (l *Loop) teardownCGI(c *Connection) {
	bridge := c.cgi
	if bridge == nil {
		return
	}
	l.poller.Remove(bridge.fd)
	bridge.stdout.Close()
	if bridge.process != nil {
		l.logger.Debug("CGI bridge torn down", zap.Int("pid", bridge.process.Pid), zap.String("connection", c.id))
	}
	c.cgi = nil
}

// reapChildren non-blockingly reaps any terminated CGI children,
// mirroring the source's SIGCHLD policy (§4.5). A child's slot in the
// process table is released whether or not its bridge has already
// been torn down by stdout EOF.
func (l *Loop) reapChildren() {
	for {
		pid, err := syscall.Wait4(-1, nil, syscall.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}
	}
}

// writeFull writes p to c's transport in full; a short write is a
// fatal TransportError per §4.4's "Servicing" write policy.
func (l *Loop) writeFull(c *Connection, p []byte) bool {
	n, err := c.conn.Write(p)
	if err != nil || n != len(p) {
		l.logger.Warn("short or failed write, closing connection", zap.String("id", c.id), zap.Error(err))
		l.closeConnection(c, "unable to write to client")
		return false
	}
	return true
}

// sendErrorAndClose renders perr, best-effort writes it, and closes
// the connection regardless of disposition (§4.3, §7 "Propagation
// policy").
func (l *Loop) sendErrorAndClose(c *Connection, perr *protoerr.Error) {
	if perr.Kind == protoerr.KindIncomplete {
		c.state = stateReading
		return
	}
	resp := respbuilder.BuildError(perr)
	c.conn.Write(resp)
	l.closeConnection(c, perr.Error())
}

func (l *Loop) closeConnection(c *Connection, reason string) {
	if c.state == stateClosed {
		return
	}
	c.state = stateClosed
	if c.cgi != nil {
		l.teardownCGI(c)
	}
	l.poller.Remove(c.fd)
	c.conn.Close()
	l.registry.Remove(c)
	l.logger.Info("connection closed", zap.String("id", c.id), zap.String("reason", reason))
}
