//go:build !linux

package destaddr

import (
	"fmt"
	"net"
	"runtime"

	"github.com/impostorkeanu/redsocks-go/netutil"
)

// netfilterResolver is unavailable outside Linux: netfilter/conntrack is
// a Linux-only kernel facility.
type netfilterResolver struct{}

func newNetfilterResolver() (*netfilterResolver, error) {
	return nil, fmt.Errorf("netfilter resolver is not supported on %s", runtime.GOOS)
}

func (r *netfilterResolver) Name() string { return "netfilter" }

func (r *netfilterResolver) Lookup(*net.TCPConn, netutil.Addr) (netutil.Addr, error) {
	return netutil.Addr{}, fmt.Errorf("netfilter resolver is not supported on %s", runtime.GOOS)
}
