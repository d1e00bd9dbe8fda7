//go:build darwin || freebsd || openbsd || netbsd || solaris

package destaddr

import (
	"fmt"
	"net"
	"sync"
	"unsafe"

	"github.com/impostorkeanu/redsocks-go/netutil"
	"golang.org/x/sys/unix"
)

// natLookup mirrors struct natlookup from <netinet/ip_fil_compat.h>,
// present across both the pre- and post-4.1.27 IPFilter ioctl layouts.
type natLookup struct {
	inIP, outIP, realIP [4]byte
	inPort, outPort, realPort uint16
	proto                     int32
}

// natLookupLegacy mirrors the pre-4.1.27 layout, which additionally
// padded the structure with an ifname field that later releases dropped
// (spec §4.1, "accommodating both the pre-4.1.27 and >=4.1.27 ioctl
// argument layouts").
type natLookupLegacy struct {
	natLookup
	ifName [16]byte
}

const (
	ipfDevice = "/dev/ipl"

	// siocgnatl is SIOCGNATL, _IOWR('r', 63, struct natlookup) in
	// IPFilter's ip_fil.h. As with DIOCNATLOOK, the embedded size must
	// match the struct variant actually being submitted.
	siocgnatlBase = 0xc0000000 | ('r' << 8) | 63
)

var (
	ipfOnce sync.Once
	ipfFd   int = -1
	ipfErr  error
)

func siocgnatlCmd(size uintptr) uintptr {
	return uintptr(siocgnatlBase | (size << 16))
}

type ipfResolver struct{}

func newIPFilterResolver() (*ipfResolver, error) {
	ipfOnce.Do(func() {
		ipfFd, ipfErr = unix.Open(ipfDevice, unix.O_RDWR, 0)
	})
	if ipfErr != nil {
		return nil, fmt.Errorf("ipfilter resolver: failed to open %s: %w", ipfDevice, ipfErr)
	}
	return &ipfResolver{}, nil
}

func (r *ipfResolver) Name() string { return "ipfilter" }

func (r *ipfResolver) Close() error {
	if ipfFd < 0 {
		return nil
	}
	err := unix.Close(ipfFd)
	ipfFd = -1
	return err
}

func (r *ipfResolver) Lookup(clientConn *net.TCPConn, listenerAddr netutil.Addr) (netutil.Addr, error) {
	remote, ok := clientConn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return netutil.Addr{}, fmt.Errorf("ipfilter resolver: unexpected remote address type %T", clientConn.RemoteAddr())
	}

	base := natLookup{
		inPort:   hostToNetShort(uint16(remote.Port)),
		outPort:  hostToNetShort(listenerAddr.Port),
		proto:    int32(netutil.TCPProtoNumber),
	}
	copy(base.inIP[:], remote.IP.To4())
	copy(base.outIP[:], listenerAddr.IP.To4())

	// Try the >=4.1.27 layout first, then fall back to the legacy
	// layout carrying the extra ifname field.
	if dst, err := r.tryLookup(base); err == nil {
		return dst, nil
	}
	legacy := natLookupLegacy{natLookup: base}
	return r.tryLookupLegacy(legacy)
}

func (r *ipfResolver) tryLookup(req natLookup) (netutil.Addr, error) {
	if err := ioctlIPF(ipfFd, siocgnatlCmd(unsafe.Sizeof(req)), unsafe.Pointer(&req)); err != nil {
		return netutil.Addr{}, err
	}
	return netutil.Addr{IP: net.IP(req.realIP[:]), Port: netToHostShort(req.realPort)}, nil
}

func (r *ipfResolver) tryLookupLegacy(req natLookupLegacy) (netutil.Addr, error) {
	if err := ioctlIPF(ipfFd, siocgnatlCmd(unsafe.Sizeof(req)), unsafe.Pointer(&req)); err != nil {
		return netutil.Addr{}, fmt.Errorf("ipfilter resolver: no nat state: %w", err)
	}
	return netutil.Addr{IP: net.IP(req.realIP[:]), Port: netToHostShort(req.realPort)}, nil
}

func ioctlIPF(fd int, cmd uintptr, req unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), cmd, uintptr(req))
	if errno != 0 {
		return errno
	}
	return nil
}
