// Package pool manages a bounded set of live connections to a single
// cache node.
//
// A Pool owns at most a fixed number of connections. Acquire hands out
// an idle connection when one is available, dials a new one while the
// pool is under its cap, and otherwise blocks the caller until a
// connection frees up or the acquire timeout expires. This bounds the
// client's resource usage under load spikes: excess callers wait or
// time out, they never grow the connection count.
//
// Connection health is the caller's report: an Entry released with
// Release goes back into the pool for reuse, while one dropped with
// Discard is closed and its slot freed, so the next Acquire dials a
// fresh connection. Anything that corrupted the stream (framing error,
// protocol violation, I/O failure, cancellation mid-request) must be
// discarded, never released.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/memring/memring/pkg/transport"
)

var (
	// ErrAcquireTimeout reports that no connection became available
	// within the configured acquire timeout. The pool's accounting is
	// intact and the caller may retry.
	ErrAcquireTimeout = errors.New("pool: timed out waiting for a connection")

	// ErrClosed reports an acquire against a closed pool.
	ErrClosed = errors.New("pool: closed")
)

// Pool is a bounded connection pool for one node address.
// It is safe for concurrent use.
type Pool struct {
	addr           string
	dialer         transport.Dialer
	acquireTimeout time.Duration

	// slots holds one token per connection the pool is still allowed
	// to create. idle holds connections ready for reuse; an idle
	// connection keeps its creation token, so tokens-taken plus
	// handed-out entries never exceed the configured size.
	slots chan struct{}
	idle  chan transport.Conn

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a pool of at most size connections to addr, dialed with
// the given dialer. acquireTimeout bounds how long Acquire waits when
// the pool is exhausted; zero means wait as long as the caller's
// context allows.
func New(addr string, dialer transport.Dialer, size int, acquireTimeout time.Duration) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool: size must be positive: %d", size)
	}

	p := &Pool{
		addr:           addr,
		dialer:         dialer,
		acquireTimeout: acquireTimeout,
		slots:          make(chan struct{}, size),
		idle:           make(chan transport.Conn, size),
		done:           make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		p.slots <- struct{}{}
	}
	return p, nil
}

// Addr returns the node address this pool connects to.
func (p *Pool) Addr() string {
	return p.addr
}

// Acquire returns a connection entry, preferring an idle connection,
// dialing a new one while under the size cap, and otherwise waiting.
// The wait is bounded by the pool's acquire timeout (ErrAcquireTimeout)
// and by ctx.
//
// The caller owns the entry exclusively until it calls Release or
// Discard.
func (p *Pool) Acquire(ctx context.Context) (*Entry, error) {
	select {
	case <-p.done:
		return nil, ErrClosed
	default:
	}

	// Fast path: reuse an idle connection without waiting.
	select {
	case conn := <-p.idle:
		return &Entry{Conn: conn, pool: p}, nil
	default:
	}

	// The pool timeout runs on its own timer so that a caller-supplied
	// deadline expiring surfaces as the caller's context error, not as
	// ErrAcquireTimeout.
	var timeout <-chan time.Time
	if p.acquireTimeout > 0 {
		timer := time.NewTimer(p.acquireTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case conn := <-p.idle:
		return &Entry{Conn: conn, pool: p}, nil
	case <-p.slots:
		conn, err := p.dialer.DialContext(ctx, p.addr)
		if err != nil {
			p.slots <- struct{}{}
			return nil, err
		}
		return &Entry{Conn: conn, pool: p}, nil
	case <-timeout:
		return nil, ErrAcquireTimeout
	case <-p.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts the pool down: pending and future acquires fail with
// ErrClosed and all idle connections are closed. Entries currently
// handed out are closed as their holders release or discard them.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		for {
			select {
			case conn := <-p.idle:
				_ = conn.Close()
			default:
				return
			}
		}
	})
	return nil
}

// Entry is one pooled connection, exclusively owned by its holder.
// Exactly one of Release or Discard must be called when the holder is
// done; both are idempotent.
type Entry struct {
	Conn transport.Conn

	pool *Pool
	done bool
	mu   sync.Mutex
}

// Release returns a healthy connection to the pool for reuse.
func (e *Entry) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return
	}
	e.done = true

	select {
	case <-e.pool.done:
		_ = e.Conn.Close()
		e.pool.slots <- struct{}{}
		return
	default:
	}

	select {
	case e.pool.idle <- e.Conn:
		// Close may have finished draining before the push landed; a
		// connection parked after that would leak, so sweep one back
		// out if the pool shut down meanwhile.
		select {
		case <-e.pool.done:
			select {
			case conn := <-e.pool.idle:
				_ = conn.Close()
				e.pool.slots <- struct{}{}
			default:
			}
		default:
		}
	default:
		// Cannot happen while accounting holds, but never block here.
		_ = e.Conn.Close()
		e.pool.slots <- struct{}{}
	}
}

// Discard closes the connection and frees its slot so a fresh
// connection can be dialed. Use this after any error that may have left
// the stream in an undefined state.
func (e *Entry) Discard() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return
	}
	e.done = true

	_ = e.Conn.Close()
	e.pool.slots <- struct{}{}
}
