package destaddr

import (
	"net"
	"testing"

	"github.com/impostorkeanu/redsocks-go/netutil"
)

func TestGenericResolverLookup(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan *net.TCPConn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- conn.(*net.TCPConn)
	}()

	client, err := net.Dial("tcp4", ln.Addr().String())
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer client.Close()

	serverConn := <-accepted
	defer serverConn.Close()

	r := newGenericResolver()
	if got, want := r.Name(), "generic"; got != want {
		t.Errorf("Name() = %q, want %q", got, want)
	}

	addr, err := r.Lookup(serverConn, netutil.Addr{})
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}

	listenAddr := ln.Addr().(*net.TCPAddr)
	if addr.Port != uint16(listenAddr.Port) {
		t.Errorf("Lookup().Port = %d, want %d", addr.Port, listenAddr.Port)
	}
}
