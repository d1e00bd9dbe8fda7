//go:build !(darwin || freebsd || openbsd || netbsd || solaris)

package destaddr

import (
	"fmt"
	"net"
	"runtime"

	"github.com/impostorkeanu/redsocks-go/netutil"
)

// ipfResolver is unavailable outside the BSD/Solaris family: IPFilter's
// SIOCGNATL ioctl is not exposed on other kernels.
type ipfResolver struct{}

func newIPFilterResolver() (*ipfResolver, error) {
	return nil, fmt.Errorf("ipfilter resolver is not supported on %s", runtime.GOOS)
}

func (r *ipfResolver) Name() string { return "ipfilter" }

func (r *ipfResolver) Lookup(*net.TCPConn, netutil.Addr) (netutil.Addr, error) {
	return netutil.Addr{}, fmt.Errorf("ipfilter resolver is not supported on %s", runtime.GOOS)
}
