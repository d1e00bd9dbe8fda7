//go:build !(darwin || freebsd || openbsd || netbsd)

package destaddr

import (
	"fmt"
	"net"
	"runtime"

	"github.com/impostorkeanu/redsocks-go/netutil"
)

// pfResolver is unavailable outside the BSD family: pf(4) and its
// DIOCNATLOOK ioctl are not exposed on other kernels.
type pfResolver struct{}

func newPFResolver() (*pfResolver, error) {
	return nil, fmt.Errorf("pf resolver is not supported on %s", runtime.GOOS)
}

func (r *pfResolver) Name() string { return "pf" }

func (r *pfResolver) Lookup(*net.TCPConn, netutil.Addr) (netutil.Addr, error) {
	return netutil.Addr{}, fmt.Errorf("pf resolver is not supported on %s", runtime.GOOS)
}
