//go:build linux

package destaddr

import (
	"fmt"
	"net"

	"github.com/florianl/go-conntrack"
	"github.com/impostorkeanu/redsocks-go/netutil"
)

// netfilterResolver implements the netfilter backend (spec §4.1). The
// canonical technique is getsockopt(SOL_IP, SO_ORIGINAL_DST); this
// implementation instead dumps the kernel connection tracker and matches
// the accepted socket's remote address and port (the client's source,
// which a destination NAT leaves unchanged) against the source of a TCP
// flow's Origin tuple, whose destination is the pre-NAT address the
// client actually dialed — the same fact SO_ORIGINAL_DST exposes, sourced from
// conntrack instead of a getsockopt call (see DESIGN.md for why: this is
// the one conntrack capability the teacher repo's own code already
// exercises, via sniff.AttackSnac's AttrOrigIPv4Src/AttrOrigIPv4Dst
// filters).
type netfilterResolver struct {
	nfct *conntrack.Nfct
}

func newNetfilterResolver() (*netfilterResolver, error) {
	nfct, err := conntrack.Open(&conntrack.Config{})
	if err != nil {
		return nil, fmt.Errorf("netfilter resolver: failed to open conntrack: %w", err)
	}
	return &netfilterResolver{nfct: nfct}, nil
}

func (r *netfilterResolver) Name() string { return "netfilter" }

func (r *netfilterResolver) Close() error {
	return r.nfct.Close()
}

func (r *netfilterResolver) Lookup(clientConn *net.TCPConn, _ netutil.Addr) (netutil.Addr, error) {
	remote, ok := clientConn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return netutil.Addr{}, fmt.Errorf("netfilter resolver: unexpected remote address type %T", clientConn.RemoteAddr())
	}

	sessions, err := r.nfct.Dump(conntrack.Conntrack, conntrack.IPv4)
	if err != nil {
		return netutil.Addr{}, fmt.Errorf("netfilter resolver: failed to dump conntrack table: %w", err)
	}

	wantIP := remote.IP.To4()
	wantPort := uint16(remote.Port)

	for _, c := range sessions {
		if c.Origin == nil || c.Origin.Proto == nil || c.Origin.Src == nil || c.Origin.Dst == nil {
			continue
		}
		if c.Origin.Proto.Number == nil || *c.Origin.Proto.Number != netutil.TCPProtoNumber {
			continue
		}
		if c.Origin.Proto.SrcPort == nil || *c.Origin.Proto.SrcPort != wantPort {
			continue
		}
		if !(*c.Origin.Src).Equal(wantIP) {
			continue
		}
		dstPort := uint16(0)
		if c.Origin.Proto.DstPort != nil {
			dstPort = *c.Origin.Proto.DstPort
		}
		return netutil.Addr{IP: (*c.Origin.Dst).To4(), Port: dstPort}, nil
	}

	return netutil.Addr{}, fmt.Errorf("netfilter resolver: no conntrack entry for %s", remote)
}
