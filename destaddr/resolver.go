// Package destaddr implements the DestAddr Resolver (spec §4.1): given an
// accepted client socket, its address, and the address the listener is
// bound to, it returns the connection's original destination — the
// address the client intended to reach before the host OS's NAT/redirect
// rules rewrote it into this process.
//
// Exactly one backend is selected at process startup (spec §3, "DestAddr
// Resolver — a process-wide singleton selected by config").
package destaddr

import (
	"fmt"
	"net"

	"github.com/impostorkeanu/redsocks-go/netutil"
)

// Resolver looks up a captured connection's original destination. Its
// Lookup method must be synchronous and must not block meaningfully
// (spec §3).
type Resolver interface {
	// Lookup returns the original destination of clientConn, which was
	// accepted on a listener bound to listenerAddr.
	Lookup(clientConn *net.TCPConn, listenerAddr netutil.Addr) (netutil.Addr, error)

	// Name identifies the backend for log messages (spec §4.1, "On any
	// failure the Client is dropped ... message identifies the
	// backend").
	Name() string
}

// Backend names a resolver implementation, matching the `redirector`
// config value (spec §6).
type Backend string

const (
	BackendNetfilter Backend = "iptables"
	BackendPF        Backend = "pf"
	BackendIPFilter  Backend = "ipf"
	BackendGeneric   Backend = "generic"
)

// New constructs the Resolver named by backend. Backends that own a
// kernel control-device fd (pf, ipf) must be closed with Close when the
// process shuts down.
func New(backend Backend) (Resolver, error) {
	switch backend {
	case BackendNetfilter:
		return newNetfilterResolver()
	case BackendPF:
		return newPFResolver()
	case BackendIPFilter:
		return newIPFilterResolver()
	case BackendGeneric:
		return newGenericResolver(), nil
	default:
		return nil, fmt.Errorf("unknown destaddr backend: %q", backend)
	}
}

// Closer is implemented by resolvers that hold a process-lifetime fd.
type Closer interface {
	Close() error
}
