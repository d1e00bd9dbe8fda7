//go:build darwin || freebsd || openbsd || netbsd

package destaddr

import (
	"fmt"
	"net"
	"sync"
	"unsafe"

	"github.com/impostorkeanu/redsocks-go/netutil"
	"golang.org/x/sys/unix"
)

// pfAddr mirrors struct pf_addr from <net/pfvar.h>: a union big enough
// for either an IPv4 or IPv6 address, of which only the first 4 bytes
// are used here (spec §4.1 is IPv4-only).
type pfAddr [16]byte

// pfioc_natlook mirrors struct pfioc_natlook from <net/pfvar.h>. Field
// order and sizes must match the kernel's definition exactly, since this
// struct is marshaled directly across the DIOCNATLOOK ioctl boundary.
type pfiocNatlook struct {
	saddr, daddr, rsaddr, rdaddr   pfAddr
	sport, dport, rsport, rdport   uint16
	af                             uint8
	proto, protoVariant, direction uint8
}

const (
	afInet = 2 // AF_INET, consistent across the BSDs

	pfDirOut = 2 // PF_OUT: query the outbound state table first (spec §4.1)
	pfDirIn  = 1 // PF_IN: then inbound, to catch locally-originated packets

	// diocNatlook is _IOWR('D', 23, struct pfioc_natlook), the ioctl
	// command redsocks' own pf.c issues against /dev/pf. The magic
	// number is stable across the BSD family; the struct size embedded
	// in the command must match pfiocNatlook's layout above.
	diocNatlookBase = 0xc0000000 | ('D' << 8) | 23
)

var (
	pfOnce sync.Once
	pfFd   int = -1
	pfErr  error
)

func diocNatlookCmd() uintptr {
	size := unsafe.Sizeof(pfiocNatlook{})
	return uintptr(diocNatlookBase | (size << 16))
}

type pfResolver struct{}

func newPFResolver() (*pfResolver, error) {
	pfOnce.Do(func() {
		pfFd, pfErr = unix.Open("/dev/pf", unix.O_RDWR, 0)
	})
	if pfErr != nil {
		return nil, fmt.Errorf("pf resolver: failed to open /dev/pf: %w", pfErr)
	}
	return &pfResolver{}, nil
}

func (r *pfResolver) Name() string { return "pf" }

func (r *pfResolver) Close() error {
	if pfFd < 0 {
		return nil
	}
	err := unix.Close(pfFd)
	pfFd = -1
	return err
}

func (r *pfResolver) Lookup(clientConn *net.TCPConn, listenerAddr netutil.Addr) (netutil.Addr, error) {
	remote, ok := clientConn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return netutil.Addr{}, fmt.Errorf("pf resolver: unexpected remote address type %T", clientConn.RemoteAddr())
	}

	// Query outbound direction first, then inbound, to also catch
	// locally-originated connections (spec §4.1).
	for _, dir := range []uint8{pfDirOut, pfDirIn} {
		req := pfiocNatlook{
			af:        afInet,
			proto:     netutil.TCPProtoNumber,
			direction: dir,
			sport:     hostToNetShort(uint16(remote.Port)),
			dport:     hostToNetShort(listenerAddr.Port),
		}
		copy(req.saddr[:4], remote.IP.To4())
		copy(req.daddr[:4], listenerAddr.IP.To4())

		if err := ioctlPF(pfFd, diocNatlookCmd(), &req); err != nil {
			continue
		}

		return netutil.Addr{
			IP:   net.IP(req.rdaddr[:4]),
			Port: netToHostShort(req.rdport),
		}, nil
	}

	return netutil.Addr{}, fmt.Errorf("pf resolver: no nat state for %s", remote)
}

func ioctlPF(fd int, cmd uintptr, req *pfiocNatlook) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), cmd, uintptr(unsafe.Pointer(req)))
	if errno != 0 {
		return errno
	}
	return nil
}

