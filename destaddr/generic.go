package destaddr

import (
	"fmt"
	"net"

	"github.com/impostorkeanu/redsocks-go/netutil"
)

// genericResolver implements the portable getsockname(2) fallback (spec
// §4.1): correct only when the OS has already rewritten the socket's
// local address in place (e.g. TPROXY-style transparent modes), which is
// exactly what net.TCPConn.LocalAddr reports without any extra syscall.
type genericResolver struct{}

func newGenericResolver() *genericResolver {
	return &genericResolver{}
}

func (r *genericResolver) Name() string { return "generic" }

func (r *genericResolver) Lookup(clientConn *net.TCPConn, _ netutil.Addr) (netutil.Addr, error) {
	local, ok := clientConn.LocalAddr().(*net.TCPAddr)
	if !ok {
		return netutil.Addr{}, fmt.Errorf("generic resolver: unexpected local address type %T", clientConn.LocalAddr())
	}
	return netutil.AddrFromTCPAddr(local), nil
}
