package redsocks

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeConn is a minimal net.Conn whose Read and Write are controlled
// independently, so a test can make one direction fail while the other
// stays genuinely blocked — something a single net.Pipe can't model,
// since closing either end of a pipe invalidates both of its directions
// at once.
type fakeConn struct {
	net.Conn // nil; only Read/Write/Close below are ever called by pump

	readOnce sync.Once
	readData []byte

	writeErr error

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn(readData []byte, writeErr error) *fakeConn {
	return &fakeConn{readData: readData, writeErr: writeErr, closed: make(chan struct{})}
}

func (f *fakeConn) Read(p []byte) (int, error) {
	var n int
	f.readOnce.Do(func() { n = copy(p, f.readData) })
	if n > 0 {
		return n, nil
	}
	<-f.closed
	return 0, net.ErrClosed
}

func (f *fakeConn) Write(p []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	return len(p), nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// TestStartRelayDropsOnOneSidedError covers the fix for a one-sided pump
// error leaving the other pump's blocking read uninterrupted forever
// (spec §4.4/§7: "log with SO_ERROR, drop the Client" unconditionally
// and immediately). The client sends one chunk then goes idle; copying
// it onward fails writing to the upstream leg, which must close both
// connections so the upstream-to-client pump's blocked read on the same
// upstream connection unblocks too.
func TestStartRelayDropsOnOneSidedError(t *testing.T) {
	clientConn := newFakeConn([]byte("hello"), nil)
	upstreamConn := newFakeConn(nil, errors.New("write: connection reset by peer"))

	inst := &Instance{clients: make(map[*Client]struct{})}
	c := &Client{
		inst:         inst,
		clientConn:   clientConn,
		upstreamConn: upstreamConn,
		log:          NewLoggerFromZap(zap.NewNop()),
	}
	inst.clients[c] = struct{}{}

	done := make(chan struct{})
	go func() {
		c.startRelay()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("startRelay() did not return; a one-sided I/O error left the peer pump blocked forever")
	}

	if !c.dropped {
		t.Error("Client was not marked dropped after relay completion")
	}
}

func TestMarkShut(t *testing.T) {
	c := &Client{}

	c.markShut(true, shutRead)
	if c.clientShut != shutRead {
		t.Fatalf("clientShut = %v, want %v", c.clientShut, shutRead)
	}
	if c.upstreamShut != 0 {
		t.Fatalf("upstreamShut = %v, want 0", c.upstreamShut)
	}

	c.markShut(true, shutWrite)
	if c.clientShut != shutBoth {
		t.Fatalf("clientShut = %v, want %v (both bits set)", c.clientShut, shutBoth)
	}

	c.markShut(false, shutRead)
	c.markShut(false, shutWrite)
	if c.upstreamShut != shutBoth {
		t.Fatalf("upstreamShut = %v, want %v", c.upstreamShut, shutBoth)
	}
}
