// Package redsocks implements a transparent TCP-to-proxy redirector: it
// accepts TCP connections the host OS has NAT-redirected into it,
// discovers each connection's original destination, opens an outbound
// connection to a configured upstream proxy, drives that proxy's
// handshake on the client's behalf, and relays bytes bidirectionally
// until either side closes.
package redsocks

import (
	"fmt"

	"github.com/impostorkeanu/redsocks-go/netutil"
)

// Redirector selects the DestAddr Resolver backend an Instance uses to
// discover a captured connection's original destination (spec §4.1).
type Redirector string

const (
	RedirectorIPTables Redirector = "iptables" // SO_ORIGINAL_DST / conntrack lookup
	RedirectorPF       Redirector = "pf"       // BSD packet filter, DIOCNATLOOK
	RedirectorIPF      Redirector = "ipf"      // IPFilter, SIOCGNATL
	RedirectorGeneric  Redirector = "generic"  // getsockname fallback
)

// UpstreamType selects the upstream handshake subsystem an Instance uses
// (spec §4.5-§4.8).
type UpstreamType string

const (
	UpstreamSOCKS4      UpstreamType = "socks4"
	UpstreamSOCKS5      UpstreamType = "socks5"
	UpstreamHTTPConnect UpstreamType = "http-connect"
	UpstreamHTTPRelay   UpstreamType = "http-relay"
)

// BaseConfig holds process-wide settings (spec §6). Only Redirector is
// consumed by the core; the rest describes process bootstrapping that is
// an external collaborator's job (cmd/redsocks).
type BaseConfig struct {
	Chroot     string
	User       string
	Group      string
	Redirector Redirector
	LogDest    string // "stderr", "stdout", a file path, or "syslog"
	Debug      bool
	Daemon     bool
}

// InstanceConfig describes one `redsocks` configuration block (spec §3,
// §6).
type InstanceConfig struct {
	LocalIP   string // bind address
	LocalPort uint16 // bind port
	IP        string // upstream proxy address
	Port      uint16 // upstream proxy port
	Type      UpstreamType
	Login     string
	Password  string

	Listenq           uint16
	MinAcceptBackoffMs uint16
	MaxAcceptBackoffMs uint16
}

// DNSTCConfig describes one `dnstc` configuration block (spec §4.9,
// §6): a UDP listener that truncates well-formed DNS queries.
type DNSTCConfig struct {
	Addr string
	Port uint16
}

// Config is the typed configuration tree the core consumes (spec §6).
// It is produced by an external, out-of-scope text parser — see the
// sibling config package for a concrete TOML reader.
type Config struct {
	Base      BaseConfig
	Instances []InstanceConfig
	DNSTC     []DNSTCConfig
}

// Validate enforces the constraints spec §6/§7 name as startup failures.
// Errors are aggregated so a misconfigured repo surfaces every problem
// in one run rather than one-at-a-time.
func (c Config) Validate() error {
	var errs []error

	switch c.Base.Redirector {
	case RedirectorIPTables, RedirectorPF, RedirectorIPF, RedirectorGeneric:
	default:
		errs = append(errs, fmt.Errorf("unknown redirector: %q", c.Base.Redirector))
	}

	if len(c.Instances) == 0 {
		errs = append(errs, fmt.Errorf("at least one [[redsocks]] instance is required"))
	}

	for i, inst := range c.Instances {
		if err := inst.validate(); err != nil {
			errs = append(errs, fmt.Errorf("redsocks instance %d (%s:%d): %w", i, inst.LocalIP, inst.LocalPort, err))
		}
	}

	for i, d := range c.DNSTC {
		if d.Addr == "" || d.Port == 0 {
			errs = append(errs, fmt.Errorf("dnstc instance %d: addr and port are required", i))
		}
	}

	return joinErrors(errs)
}

func (i InstanceConfig) validate() error {
	if i.LocalIP == "" || i.LocalPort == 0 {
		return fmt.Errorf("local_ip and local_port are required")
	}
	if i.IP == "" || i.Port == 0 {
		return fmt.Errorf("ip and port (upstream) are required")
	}
	switch i.Type {
	case UpstreamSOCKS4, UpstreamSOCKS5, UpstreamHTTPConnect, UpstreamHTTPRelay:
	default:
		return fmt.Errorf("unknown upstream type: %q", i.Type)
	}
	if i.Listenq == 0 {
		return fmt.Errorf("listenq must be > 0")
	}
	if i.MinAcceptBackoffMs == 0 || i.MaxAcceptBackoffMs == 0 {
		return fmt.Errorf("min_accept_backoff and max_accept_backoff must be > 0")
	}
	if i.MinAcceptBackoffMs >= i.MaxAcceptBackoffMs {
		return fmt.Errorf("min_accept_backoff (%d) must be < max_accept_backoff (%d)", i.MinAcceptBackoffMs, i.MaxAcceptBackoffMs)
	}
	return nil
}

// BindAddr resolves the configured bind address/port into a netutil.Addr.
func (i InstanceConfig) BindAddr() (netutil.Addr, error) {
	return netutil.ParseHostPort(fmt.Sprintf("%s:%d", i.LocalIP, i.LocalPort))
}

// UpstreamAddr resolves the configured upstream proxy address/port.
func (i InstanceConfig) UpstreamAddr() (netutil.Addr, error) {
	return netutil.ParseHostPort(fmt.Sprintf("%s:%d", i.IP, i.Port))
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	msg := fmt.Sprintf("%d configuration error(s):", len(errs))
	for _, e := range errs {
		msg += "\n  - " + e.Error()
	}
	return fmt.Errorf("%s", msg)
}
