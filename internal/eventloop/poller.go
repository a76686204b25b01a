// Package eventloop is the connection-multiplexing core: a single
// goroutine polls every registered descriptor (client sockets and CGI
// pipes alike) and drives each ready Connection's request state machine
// (§3, §4.4, §4.5). The only platform-specific piece is the readiness
// primitive itself, isolated behind the Poller interface below.
package eventloop

// Event reports that a descriptor is readable: data, EOF, or hangup can
// be observed without blocking. Writes are issued synchronously in the
// servicing step (§4.5: "writes are issued synchronously... short-write
// treated as a fatal connection error"), so the poller only ever needs
// to report read readiness.
type Event struct {
	Fd int
}

// Poller is the blocking, timeout-bounded readiness primitive the loop
// waits on between ticks. It takes the place of the original server's
// select()/fd_set loop (§8 "Design Notes").
type Poller interface {
	// Add registers fd for read readiness.
	Add(fd int) error
	// Remove unregisters fd. It is not an error to remove an fd that
	// was never added.
	Remove(fd int) error
	// Wait blocks up to timeoutMS milliseconds and returns the
	// descriptors that became ready. A timeoutMS of 0 means return
	// immediately; -1 waits indefinitely.
	Wait(timeoutMS int) ([]Event, error)
	// Close releases the poller's own resources.
	Close() error
}
