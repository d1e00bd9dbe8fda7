// Package upstream implements the handshake state machines a Client runs
// against the configured upstream proxy before relaying (spec §4.3-§4.7):
// SOCKS4, SOCKS5, HTTP CONNECT, and HTTP Relay.
package upstream

import (
	"context"
	"net"
	"time"

	"github.com/impostorkeanu/redsocks-go/netutil"
)

// Credentials carries the optional upstream login the config supplies
// (spec §6, `login`/`password`).
type Credentials struct {
	Login    string
	Password string
}

// Handshaker drives the upstream-facing half of a Client's protocol
// exchange. Connect dials the upstream proxy, negotiates whatever the
// backend requires, and instructs it to reach dest. On success the
// returned net.Conn is ready for raw relay; any bytes the backend already
// read from the upstream past the end of the handshake are returned by
// that net.Conn's own Read.
type Handshaker interface {
	// Connect performs the full handshake against the upstream proxy at
	// upstreamAddr on behalf of a client whose declared destination is
	// dest, returning a connection ready for bidirectional relay.
	Connect(ctx context.Context, upstreamAddr netutil.Addr, dest netutil.Addr, creds Credentials) (net.Conn, error)

	// Name identifies the backend for log messages.
	Name() string
}

// ClientFacing describes a backend that reads a request from the
// downstream client before connecting. ReadRequest returns the parsed
// destination and any bytes already consumed from clientConn that must
// be replayed to the upstream proxy once connected. No backend in this
// package implements it: HTTPRelay reads the client's request headers in
// its own Relay method, and the SOCKS and HTTP CONNECT backends never
// read from the client.
type ClientFacing interface {
	ReadRequest(clientConn net.Conn) (dest netutil.Addr, prelude []byte, err error)
}

// DialTimeout bounds how long a Handshaker may spend connecting to the
// upstream proxy. It applies to each dial only; reads and writes during
// the negotiation itself carry no deadline.
const DialTimeout = 10 * time.Second
