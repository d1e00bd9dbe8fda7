package upstream

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/impostorkeanu/redsocks-go/netutil"
)

func TestSOCKS5ConnectNoAuth(t *testing.T) {
	dest := netutil.Addr{IP: net.ParseIP("93.184.216.34").To4(), Port: 80}

	upAddr := fakeUpstream(t, func(conn net.Conn) {
		greeting := make([]byte, 3) // ver, nmethods=1, method=0
		io.ReadFull(conn, greeting)
		conn.Write([]byte{5, 0})

		req := make([]byte, 10) // ver,cmd,rsv,atyp,4-byte ip,2-byte port
		io.ReadFull(conn, req)
		reply := append([]byte{5, 0, 0, 1}, 0, 0, 0, 0, 0, 0)
		conn.Write(reply)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := SOCKS5{}.Connect(ctx, upAddr, dest, Credentials{})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	conn.Close()
}

func TestSOCKS5ConnectPasswordAuth(t *testing.T) {
	dest := netutil.Addr{IP: net.ParseIP("93.184.216.34").To4(), Port: 80}
	creds := Credentials{Login: "alice", Password: "hunter2"}

	upAddr := fakeUpstream(t, func(conn net.Conn) {
		greeting := make([]byte, 4) // ver, nmethods=2, method=0, method=2
		io.ReadFull(conn, greeting)
		conn.Write([]byte{5, 2}) // server picks password auth

		authReq := make([]byte, 1+1+len(creds.Login)+1+len(creds.Password))
		io.ReadFull(conn, authReq)
		conn.Write([]byte{1, 0}) // auth succeeded

		req := make([]byte, 10)
		io.ReadFull(conn, req)
		conn.Write(append([]byte{5, 0, 0, 1}, 0, 0, 0, 0, 0, 0))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := SOCKS5{}.Connect(ctx, upAddr, dest, creds)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	conn.Close()
}

func TestSOCKS5ConnectServerRejectsMethods(t *testing.T) {
	dest := netutil.Addr{IP: net.ParseIP("93.184.216.34").To4(), Port: 80}

	upAddr := fakeUpstream(t, func(conn net.Conn) {
		greeting := make([]byte, 3)
		io.ReadFull(conn, greeting)
		conn.Write([]byte{5, 0xff}) // no acceptable methods
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := (SOCKS5{}).Connect(ctx, upAddr, dest, Credentials{}); err == nil {
		t.Fatal("expected error when server rejects all methods, got nil")
	}
}

// TestSOCKS5ConnectSucceedsWithDomainBoundAddr exercises spec §4.6/§8:
// a successful CONNECT reply carrying a domain-name bnd_addr must still
// reach the relay once its trailing bytes are skipped, matching
// socks5_read_reply's addrtype_domain branch in the original redsocks
// C implementation (it always calls redsocks_start_relay on success,
// regardless of addrtype).
func TestSOCKS5ConnectSucceedsWithDomainBoundAddr(t *testing.T) {
	dest := netutil.Addr{IP: net.ParseIP("93.184.216.34").To4(), Port: 80}

	upAddr := fakeUpstream(t, func(conn net.Conn) {
		greeting := make([]byte, 3)
		io.ReadFull(conn, greeting)
		conn.Write([]byte{5, 0})

		req := make([]byte, 10)
		io.ReadFull(conn, req)
		domain := "proxy.example.com"
		reply := append([]byte{5, 0, 0, 3, byte(len(domain))}, []byte(domain)...)
		reply = append(reply, 0, 80)
		conn.Write(reply)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := SOCKS5{}.Connect(ctx, upAddr, dest, Credentials{})
	if err != nil {
		t.Fatalf("Connect() error = %v, want success despite domain bnd_addr", err)
	}
	conn.Close()
}

// TestSOCKS5ConnectSucceedsWithIPv6BoundAddr is the IPv6 analogue of
// TestSOCKS5ConnectSucceedsWithDomainBoundAddr.
func TestSOCKS5ConnectSucceedsWithIPv6BoundAddr(t *testing.T) {
	dest := netutil.Addr{IP: net.ParseIP("93.184.216.34").To4(), Port: 80}

	upAddr := fakeUpstream(t, func(conn net.Conn) {
		greeting := make([]byte, 3)
		io.ReadFull(conn, greeting)
		conn.Write([]byte{5, 0})

		req := make([]byte, 10)
		io.ReadFull(conn, req)
		reply := append([]byte{5, 0, 0, 4}, make([]byte, 18)...) // 16-byte addr + 2-byte port
		conn.Write(reply)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := SOCKS5{}.Connect(ctx, upAddr, dest, Credentials{})
	if err != nil {
		t.Fatalf("Connect() error = %v, want success despite ipv6 bnd_addr", err)
	}
	conn.Close()
}

func TestUDPAssociateReturnsRelayAddress(t *testing.T) {
	relayIP := net.ParseIP("10.1.1.1").To4()
	relayPort := uint16(40000)

	upAddr := fakeUpstream(t, func(conn net.Conn) {
		greeting := make([]byte, 3)
		io.ReadFull(conn, greeting)
		conn.Write([]byte{5, 0})

		req := make([]byte, 10)
		io.ReadFull(conn, req)
		reply := append([]byte{5, 0, 0, 1}, relayIP...)
		reply = append(reply, byte(relayPort>>8), byte(relayPort))
		conn.Write(reply)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp4", upAddr.String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if err := Greet(conn, Credentials{}); err != nil {
		t.Fatalf("Greet() error = %v", err)
	}

	got, err := Request(conn, Socks5CmdUDPAssociate, netutil.Addr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if !got.IP.Equal(relayIP) || got.Port != relayPort {
		t.Errorf("Request() = %v, want %s:%d", got, relayIP, relayPort)
	}
}
