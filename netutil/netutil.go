// Package netutil provides small address-formatting helpers shared by the
// relay, handshake, and logging code.
package netutil

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Protocol numbers, used when matching connection-tracking records by
// transport.
//
// Source: https://en.wikipedia.org/wiki/List_of_IP_protocol_numbers
const (
	TCPProtoNumber uint8 = 0x06
	UDPProtoNumber uint8 = 0x11
)

// Addr is a resolved IPv4 address and port pair. All addresses that flow
// through the core (bind, upstream, destination) are IPv4-only, per
// spec's non-goal on client-facing IPv6.
type Addr struct {
	IP   net.IP
	Port uint16
}

// String renders the address as "ip:port" (":port" when IP is nil). The
// port is always included; FormatHost is the variant that omits port 80.
func (a Addr) String() string {
	if a.IP == nil {
		return fmt.Sprintf(":%d", a.Port)
	}
	return net.JoinHostPort(a.IP.String(), fmt.Sprintf("%d", a.Port))
}

// TCPAddr converts to the stdlib representation for Dial/Listen calls.
func (a Addr) TCPAddr() *net.TCPAddr {
	return &net.TCPAddr{IP: a.IP, Port: int(a.Port)}
}

// UDPAddr converts to the stdlib representation for Dial/Listen calls.
func (a Addr) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: a.IP, Port: int(a.Port)}
}

// AddrFromTCPAddr builds an Addr from a resolved net.TCPAddr, normalizing
// the IP to its 4-byte form.
func AddrFromTCPAddr(a *net.TCPAddr) Addr {
	ip := a.IP.To4()
	if ip == nil {
		ip = a.IP
	}
	return Addr{IP: ip, Port: uint16(a.Port)}
}

// ParseHostPort parses an "ip:port" string into an Addr, requiring an
// IPv4 literal address (never a hostname — the core never resolves
// names).
func ParseHostPort(s string) (Addr, error) {
	host, portS, err := net.SplitHostPort(s)
	if err != nil {
		return Addr{}, fmt.Errorf("failed to split host/port: %w", err)
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		return Addr{}, fmt.Errorf("not an ipv4 literal address: %s", host)
	}
	var port uint16
	if _, err = fmt.Sscanf(portS, "%d", &port); err != nil {
		return Addr{}, fmt.Errorf("invalid port %q: %w", portS, err)
	}
	return Addr{IP: ip.To4(), Port: port}, nil
}

// FormatHost renders host for use in a rewritten HTTP request line or a
// synthesized Host header: the bare IP when port is 80, "ip:port"
// otherwise. Used by the HTTP relay subsystem (spec §4.8).
func FormatHost(a Addr) string {
	if a.Port == 80 {
		return a.IP.String()
	}
	return a.String()
}

// PutPort writes port in network byte order, as required by the SOCKS4
// and SOCKS5 wire formats.
func PutPort(port uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, port)
	return b
}

// LogPrefix renders the "[client_ip:port -> dest_ip:port]" prefix every
// client-scoped log record carries (spec §6, Log format).
func LogPrefix(client, dest Addr) string {
	return fmt.Sprintf("[%s -> %s]", client.String(), dest.String())
}
