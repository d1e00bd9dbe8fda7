package netutil

import (
	"net"
	"testing"
)

func mustAddr(t *testing.T, ip string, port uint16) Addr {
	t.Helper()
	parsed := net.ParseIP(ip)
	if parsed == nil {
		t.Fatalf("bad test ip %q", ip)
	}
	return Addr{IP: parsed.To4(), Port: port}
}

func TestParseHostPort(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"valid", "10.0.0.1:8080", false},
		{"hostname rejected", "example.com:80", true},
		{"missing port", "10.0.0.1", true},
		{"ipv6 rejected", "[::1]:80", true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := ParseHostPort(c.in)
			if (err != nil) != c.wantErr {
				t.Fatalf("ParseHostPort(%q) error = %v, wantErr %v", c.in, err, c.wantErr)
			}
		})
	}
}

func TestAddrString(t *testing.T) {
	a := mustAddr(t, "192.168.1.1", 443)
	if got, want := a.String(), "192.168.1.1:443"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestFormatHost(t *testing.T) {
	cases := []struct {
		name string
		addr Addr
		want string
	}{
		{"port 80 omitted", mustAddr(t, "10.0.0.1", 80), "10.0.0.1"},
		{"other port kept", mustAddr(t, "10.0.0.1", 8080), "10.0.0.1:8080"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := FormatHost(c.addr); got != c.want {
				t.Errorf("FormatHost() = %q, want %q", got, c.want)
			}
		})
	}
}

func TestPutPort(t *testing.T) {
	got := PutPort(0x1234)
	want := []byte{0x12, 0x34}
	if got[0] != want[0] || got[1] != want[1] {
		t.Errorf("PutPort(0x1234) = %v, want %v", got, want)
	}
}

func TestLogPrefix(t *testing.T) {
	client := mustAddr(t, "10.0.0.5", 51234)
	dest := mustAddr(t, "93.184.216.34", 443)
	got := LogPrefix(client, dest)
	want := "[10.0.0.5:51234 -> 93.184.216.34:443]"
	if got != want {
		t.Errorf("LogPrefix() = %q, want %q", got, want)
	}
}
