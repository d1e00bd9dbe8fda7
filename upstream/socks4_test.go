package upstream

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/impostorkeanu/redsocks-go/netutil"
)

func fakeUpstream(t *testing.T, handle func(net.Conn)) netutil.Addr {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to start fake upstream: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}()
	t.Cleanup(func() { ln.Close() })

	addr := ln.Addr().(*net.TCPAddr)
	return netutil.Addr{IP: addr.IP.To4(), Port: uint16(addr.Port)}
}

func TestSOCKS4Connect(t *testing.T) {
	dest := netutil.Addr{IP: net.ParseIP("93.184.216.34").To4(), Port: 80}

	cases := []struct {
		name      string
		replyByte byte
		wantErr   bool
	}{
		{"granted", 0x5a, false},
		{"rejected", 0x5b, true},
		{"no identd", 0x5c, true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			upAddr := fakeUpstream(t, func(conn net.Conn) {
				buf := make([]byte, 256)
				n, _ := conn.Read(buf)
				_ = n
				conn.Write([]byte{0, c.replyByte, 0, 0, 0, 0, 0, 0})
			})

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			_, err := SOCKS4{}.Connect(ctx, upAddr, dest, Credentials{})
			if (err != nil) != c.wantErr {
				t.Fatalf("Connect() error = %v, wantErr %v", err, c.wantErr)
			}
		})
	}
}

func TestSOCKS4ConnectMalformedReply(t *testing.T) {
	dest := netutil.Addr{IP: net.ParseIP("93.184.216.34").To4(), Port: 80}
	upAddr := fakeUpstream(t, func(conn net.Conn) {
		buf := make([]byte, 256)
		conn.Read(buf)
		conn.Write([]byte{1, 0x5a, 0, 0, 0, 0, 0, 0}) // bad first byte
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := (SOCKS4{}).Connect(ctx, upAddr, dest, Credentials{}); err == nil {
		t.Fatal("expected error for malformed reply, got nil")
	}
}
