// Package transport abstracts the connection primitives the client
// needs from its hosting environment. The core library only speaks to
// these interfaces, so alternative bindings (custom dialers, proxied or
// in-memory transports, test doubles) can be plugged in without
// touching the protocol or pooling layers.
//
// NetDialer is the default binding over the standard TCP stack.
package transport

import (
	"context"
	"io"
	"net"
	"time"
)

// Conn is one bidirectional stream to a cache server. Deadlines bound
// individual reads and writes; a zero time clears the deadline.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Dialer establishes connections to "host:port" addresses. Dialing
// honors context cancellation so callers can bound connection setup.
type Dialer interface {
	DialContext(ctx context.Context, address string) (Conn, error)
}

// NetDialer is the default Dialer, connecting over TCP with net.Dialer.
type NetDialer struct {
	Timeout time.Duration // per-dial timeout, no limit if zero
}

// DialContext opens a TCP connection to address.
func (d *NetDialer) DialContext(ctx context.Context, address string) (Conn, error) {
	nd := net.Dialer{Timeout: d.Timeout}
	conn, err := nd.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
