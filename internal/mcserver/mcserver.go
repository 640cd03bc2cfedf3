// Package mcserver implements a small in-memory cache server speaking
// the memcached binary protocol.
//
// It exists for development and for the test suite: the client packages
// exercise real TCP round trips against it instead of mocking the wire.
// The server supports get, set and delete along with their quiet and
// key-echoing variants, honors per-item expiration, and stores client
// flags verbatim so compressed values round-trip between independent
// client instances.
//
// Example usage:
//
//	srv := mcserver.New("127.0.0.1:0")
//	if err := srv.Start(); err != nil {
//		log.Fatal(err)
//	}
//	defer srv.Stop()
//
//	addr := srv.Addr() // actual listen address
package mcserver

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/memring/memring/pkg/protocol"
)

const connReadTimeout = 60 * time.Second

// entry is one stored item: value bytes plus the client flags and
// expiration supplied on set.
type entry struct {
	value     []byte
	flags     uint32
	expiresAt time.Time // zero means never expire
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Server is an in-memory memcached-binary cache server.
type Server struct {
	addr     string
	listener net.Listener

	mu    sync.RWMutex
	items map[string]*entry

	connMu sync.Mutex
	conns  map[net.Conn]struct{}

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a server that will listen on addr ("host:port"; use port
// 0 to pick a free port). The server does not listen until Start.
func New(addr string) *Server {
	return &Server{
		addr:  addr,
		items: make(map[string]*entry),
		conns: make(map[net.Conn]struct{}),
		done:  make(chan struct{}),
	}
}

// Start binds the listener and begins serving connections in the
// background. Each connection is handled in its own goroutine.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener
	logrus.WithField("addr", listener.Addr().String()).Debug("mcserver listening")

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the actual listen address, which differs from the
// configured one when port 0 was requested.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Stop closes the listener and every live connection, then waits for
// the handler goroutines to exit.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.listener != nil {
			_ = s.listener.Close()
		}
		s.connMu.Lock()
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.connMu.Unlock()
		s.wg.Wait()
	})
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// handleConn reads request packets until the peer disconnects, the
// read times out, or a framing error makes the stream unusable.
func (s *Server) handleConn(conn net.Conn) {
	s.connMu.Lock()
	s.conns[conn] = struct{}{}
	s.connMu.Unlock()
	defer func() {
		_ = conn.Close()
		s.connMu.Lock()
		delete(s.conns, conn)
		s.connMu.Unlock()
	}()

	// A connection accepted in the same instant the server shuts down
	// may be registered only after Stop swept the table; bail out here
	// so Stop's wait cannot hang on it.
	select {
	case <-s.done:
		return
	default:
	}

	for {
		if err := conn.SetReadDeadline(time.Now().Add(connReadTimeout)); err != nil {
			return
		}

		req, err := protocol.ReadRequest(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logrus.WithError(err).Debug("mcserver: dropping connection")
			}
			return
		}

		resp := s.dispatch(req)
		if resp == nil {
			// Quiet op with nothing to say.
			continue
		}
		if err := protocol.Write(conn, resp); err != nil {
			logrus.WithError(err).Debug("mcserver: write failed")
			return
		}
	}
}

// dispatch executes one request. A nil return means the quiet-op rules
// suppress the response: GETQ/GETKQ misses and SETQ successes.
func (s *Server) dispatch(req *protocol.Packet) *protocol.Packet {
	switch req.Header.Opcode {
	case protocol.OpGet, protocol.OpGetQ:
		return s.handleGet(req, false)
	case protocol.OpGetK, protocol.OpGetKQ:
		return s.handleGet(req, true)
	case protocol.OpSet, protocol.OpSetQ:
		return s.handleSet(req)
	case protocol.OpDelete:
		return s.handleDelete(req)
	case protocol.OpNoop:
		return protocol.Response(req, protocol.StatusNoError, nil, nil, nil)
	default:
		return protocol.Response(req, protocol.StatusUnknownCommand, nil, nil, []byte("unknown command"))
	}
}

func quietOp(op protocol.Opcode) bool {
	return op == protocol.OpGetQ || op == protocol.OpGetKQ || op == protocol.OpSetQ
}

func (s *Server) handleGet(req *protocol.Packet, echoKey bool) *protocol.Packet {
	s.mu.RLock()
	item, ok := s.items[string(req.Key)]
	s.mu.RUnlock()

	if ok && item.expired(time.Now()) {
		s.mu.Lock()
		delete(s.items, string(req.Key))
		s.mu.Unlock()
		ok = false
	}

	if !ok {
		if quietOp(req.Header.Opcode) {
			return nil
		}
		return protocol.Response(req, protocol.StatusKeyNotFound, nil, nil, []byte("key not found"))
	}

	extras := []byte{
		byte(item.flags >> 24), byte(item.flags >> 16),
		byte(item.flags >> 8), byte(item.flags),
	}
	var key []byte
	if echoKey {
		key = req.Key
	}
	return protocol.Response(req, protocol.StatusNoError, extras, key, item.value)
}

func (s *Server) handleSet(req *protocol.Packet) *protocol.Packet {
	if len(req.Extras) != 8 {
		return protocol.Response(req, protocol.StatusInvalidArguments, nil, nil, []byte("set requires flags and expiration extras"))
	}

	flags := uint32(req.Extras[0])<<24 | uint32(req.Extras[1])<<16 |
		uint32(req.Extras[2])<<8 | uint32(req.Extras[3])
	expire := uint32(req.Extras[4])<<24 | uint32(req.Extras[5])<<16 |
		uint32(req.Extras[6])<<8 | uint32(req.Extras[7])

	item := &entry{
		value: append([]byte(nil), req.Value...),
		flags: flags,
	}
	if expire > 0 {
		item.expiresAt = time.Now().Add(time.Duration(expire) * time.Second)
	}

	s.mu.Lock()
	s.items[string(req.Key)] = item
	s.mu.Unlock()

	if quietOp(req.Header.Opcode) {
		return nil
	}
	return protocol.Response(req, protocol.StatusNoError, nil, nil, nil)
}

func (s *Server) handleDelete(req *protocol.Packet) *protocol.Packet {
	s.mu.Lock()
	_, ok := s.items[string(req.Key)]
	delete(s.items, string(req.Key))
	s.mu.Unlock()

	if !ok {
		return protocol.Response(req, protocol.StatusKeyNotFound, nil, nil, []byte("key not found"))
	}
	return protocol.Response(req, protocol.StatusNoError, nil, nil, nil)
}

// Len reports the number of live items; used by tests.
func (s *Server) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	now := time.Now()
	for _, item := range s.items {
		if !item.expired(now) {
			n++
		}
	}
	return n
}
