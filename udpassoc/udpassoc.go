// Package udpassoc implements the SOCKS5 UDP ASSOCIATE relay (RFC 1928
// §7): a supplemental feature alongside the core TCP redirector. It
// drives the same method-negotiation and request/reply wire helpers the
// core SOCKS5 CONNECT handshake uses (spec.md §1, "reuses the same
// handshake primitives spec'd here"), but instead of relaying one TCP
// stream it learns the proxy's assigned UDP relay endpoint and then
// forwards datagrams 1:1 between the local client and that endpoint —
// "conventional UDP plumbing," not a second protocol state machine.
//
// Grounded on the teacher repo's proxy/udp.go UDPServer.Serve for the
// read-one-datagram / dispatch-to-a-per-flow-goroutine shape, with the
// ARP-MITM victim/downstream address-map lookup replaced by the
// upstream-assigned relay endpoint learned from the SOCKS5 handshake.
package udpassoc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/impostorkeanu/redsocks-go/netutil"
	"github.com/impostorkeanu/redsocks-go/upstream"
)

// idleTimeout is the read deadline Serve sets on the relay endpoint
// socket. When it passes with no datagram, Serve logs at debug level and
// keeps waiting; the association is not closed.
const idleTimeout = 2 * time.Minute

// Associate performs the SOCKS5 UDP ASSOCIATE handshake against
// upstreamAddr and returns the control connection (which must be kept
// open for the duration of the association per RFC 1928 §7) and the
// proxy-assigned relay endpoint datagrams must be sent to and will
// arrive from.
func Associate(ctx context.Context, upstreamAddr netutil.Addr, creds upstream.Credentials) (control net.Conn, relayAddr netutil.Addr, err error) {
	d := net.Dialer{Timeout: upstream.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp4", upstreamAddr.String())
	if err != nil {
		return nil, netutil.Addr{}, fmt.Errorf("udpassoc: failed to connect to upstream %s: %w", upstreamAddr, err)
	}

	if err := upstream.Greet(conn, creds); err != nil {
		conn.Close()
		return nil, netutil.Addr{}, fmt.Errorf("udpassoc: %w", err)
	}

	// RFC 1928 §7: the client's address/port in the request is used by
	// the server only to restrict which source may use the relay; 0.0.0.0:0
	// asks the server not to enforce a specific one.
	relayAddr, err = upstream.Request(conn, upstream.Socks5CmdUDPAssociate, netutil.Addr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		conn.Close()
		return nil, netutil.Addr{}, fmt.Errorf("udpassoc: %w", err)
	}

	// Unlike CONNECT, UDP ASSOCIATE's caller has no other way to learn
	// the relay endpoint, so a domain/IPv6 bnd_addr (which socks5.go
	// deliberately discards rather than resolves) is fatal here: this
	// core only dials relay endpoints over udp4.
	if relayAddr.IP == nil || relayAddr.IP.To4() == nil {
		conn.Close()
		return nil, netutil.Addr{}, fmt.Errorf("udpassoc: proxy returned a non-IPv4 relay address; configure it to reply with an IPv4 literal")
	}

	return conn, relayAddr, nil
}

// Relay forwards UDP datagrams 1:1 between clientConn (bound to the
// local association's UDP socket) and the proxy's relayAddr, until
// control is closed or ctx is canceled.
type Relay struct {
	clientConn *net.UDPConn
	relayAddr  netutil.Addr
	control    net.Conn
	log        *zap.Logger
}

func NewRelay(clientConn *net.UDPConn, relayAddr netutil.Addr, control net.Conn, log *zap.Logger) *Relay {
	return &Relay{clientConn: clientConn, relayAddr: relayAddr, control: control, log: log}
}

// Serve blocks, shuttling datagrams between the local client and the
// proxy's relay endpoint, until the control connection closes or ctx is
// canceled.
func (r *Relay) Serve(ctx context.Context) error {
	relayConn, err := net.DialUDP("udp4", nil, r.relayAddr.UDPAddr())
	if err != nil {
		return fmt.Errorf("udpassoc: failed to dial relay endpoint %s: %w", r.relayAddr, err)
	}
	defer relayConn.Close()

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-r.waitControlClosed():
		}
		close(stop)
		r.clientConn.Close()
		relayConn.Close()
	}()

	var clientAddrMu sync.Mutex
	var clientAddr *net.UDPAddr

	go func() {
		buf := make([]byte, 65507)
		for {
			n, addr, err := r.clientConn.ReadFromUDP(buf)
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				r.log.Warn("udpassoc: failed to read from client", zap.Error(err))
				continue
			}
			clientAddrMu.Lock()
			clientAddr = addr
			clientAddrMu.Unlock()
			if _, err := relayConn.Write(buf[:n]); err != nil {
				r.log.Warn("udpassoc: failed to forward datagram to relay endpoint", zap.Error(err))
			}
		}
	}()

	buf := make([]byte, 65507)
	for {
		select {
		case <-stop:
			return ctx.Err()
		default:
		}

		if err := relayConn.SetReadDeadline(time.Now().Add(idleTimeout)); err != nil {
			return fmt.Errorf("udpassoc: failed to set read deadline: %w", err)
		}
		n, err := relayConn.Read(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			r.log.Debug("udpassoc: no datagram from relay endpoint within idle timeout", zap.Error(err))
			continue
		}

		clientAddrMu.Lock()
		addr := clientAddr
		clientAddrMu.Unlock()
		if addr == nil {
			continue
		}
		if _, err := r.clientConn.WriteToUDP(buf[:n], addr); err != nil {
			r.log.Warn("udpassoc: failed to forward datagram to client", zap.Error(err))
		}
	}
}

func (r *Relay) waitControlClosed() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		buf := make([]byte, 1)
		for {
			if _, err := r.control.Read(buf); err != nil {
				close(done)
				return
			}
		}
	}()
	return done
}
