package mcserver

import (
	"net"
	"testing"
	"time"

	"github.com/memring/memring/pkg/protocol"
)

func TestStopClosesLiveConnections(t *testing.T) {
	srv := New("127.0.0.1:0")
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Complete one round trip so the handler is live before Stop.
	if err := protocol.Write(conn, protocol.Noop()); err != nil {
		t.Fatal(err)
	}
	if _, err := protocol.ReadResponse(conn); err != nil {
		t.Fatalf("noop response: %v", err)
	}

	stopped := make(chan struct{})
	go func() {
		srv.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return while a connection was open")
	}

	// The server side must be gone: the next read fails instead of
	// blocking for the idle timeout.
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	if _, err := protocol.ReadResponse(conn); err == nil {
		t.Error("read succeeded on a connection the server should have closed")
	}
}
