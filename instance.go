package redsocks

import (
	"fmt"
	"net"
	"sync"

	"github.com/impostorkeanu/redsocks-go/destaddr"
	"github.com/impostorkeanu/redsocks-go/netutil"
	"github.com/impostorkeanu/redsocks-go/upstream"
	"go.uber.org/zap"
)

func zapInstance(cfg InstanceConfig) zap.Field {
	return zap.String("instance", fmt.Sprintf("%s:%d->%s:%d", cfg.LocalIP, cfg.LocalPort, cfg.IP, cfg.Port))
}

// Instance is one configured `redsocks` block: a bound listener relaying
// captured connections to one upstream proxy via one handshake subsystem
// (spec §3, §6).
type Instance struct {
	cfg          InstanceConfig
	bindAddr     netutil.Addr
	upstreamAddr netutil.Addr
	resolver     destaddr.Resolver
	handshaker   upstream.Handshaker  // nil when cfg.Type == UpstreamHTTPRelay
	httpRelay    *upstream.HTTPRelay // non-nil only when cfg.Type == UpstreamHTTPRelay
	log          *Logger

	listener *listener

	clientsMu sync.RWMutex
	clients   map[*Client]struct{}
}

// NewInstance builds an Instance from its configuration and the
// process-wide DestAddr Resolver (spec §3, "DestAddr Resolver — a
// process-wide singleton selected by config").
func NewInstance(cfg InstanceConfig, resolver destaddr.Resolver, log *Logger) (*Instance, error) {
	bindAddr, err := cfg.BindAddr()
	if err != nil {
		return nil, fmt.Errorf("instance %s:%d: %w", cfg.LocalIP, cfg.LocalPort, err)
	}
	upAddr, err := cfg.UpstreamAddr()
	if err != nil {
		return nil, fmt.Errorf("instance %s:%d: %w", cfg.LocalIP, cfg.LocalPort, err)
	}

	var hs upstream.Handshaker
	var httpRelay *upstream.HTTPRelay
	switch cfg.Type {
	case UpstreamSOCKS4:
		if cfg.Password != "" {
			log.Warning("socks4 has no password concept; ignoring configured password",
				zapInstance(cfg))
		}
		hs = upstream.SOCKS4{}
	case UpstreamSOCKS5:
		hs = upstream.SOCKS5{}
	case UpstreamHTTPConnect:
		hs = upstream.HTTPConnect{Auth: &upstream.AuthState{}}
	case UpstreamHTTPRelay:
		httpRelay = &upstream.HTTPRelay{Auth: &upstream.AuthState{}} // dispatched specially, see Client.run
	default:
		return nil, fmt.Errorf("instance %s:%d: unknown upstream type %q", cfg.LocalIP, cfg.LocalPort, cfg.Type)
	}

	return &Instance{
		cfg:          cfg,
		bindAddr:     bindAddr,
		upstreamAddr: upAddr,
		resolver:     resolver,
		handshaker:   hs,
		httpRelay:    httpRelay,
		log:          log,
		clients:      make(map[*Client]struct{}),
	}, nil
}

func (i *Instance) name() string {
	return fmt.Sprintf("%s (%s -> %s)", i.bindAddr, i.cfg.Type, i.upstreamAddr)
}

// Start binds the listener and begins accepting (spec §4.2).
func (i *Instance) Start() error {
	tcpAddr := i.bindAddr.TCPAddr()
	ln, err := net.ListenTCP("tcp4", tcpAddr)
	if err != nil {
		return fmt.Errorf("instance %s: failed to listen: %w", i.name(), err)
	}
	if i.cfg.Listenq > 0 {
		// net.ListenTCP does not expose backlog control; the OS default
		// backlog applies. listenq is retained on InstanceConfig for
		// parity with spec §6 and is not used anywhere else, since Go's
		// net package has no portable knob for it (see DESIGN.md).
		_ = i.cfg.Listenq
	}

	i.listener = newListener(ln, i.log, i.cfg.MinAcceptBackoffMs, i.cfg.MaxAcceptBackoffMs, i.handleAccept)
	globalRegistry.add(i)
	go i.listener.run()
	i.log.Info("instance started", zapInstance(i.cfg))
	return nil
}

// Stop tears down the listener and drops every live Client (spec §6,
// "Process-wide shutdown drops every Client by dropping its Instance").
func (i *Instance) Stop() {
	if i.listener != nil {
		i.listener.Stop()
	}
	globalRegistry.remove(i)

	i.clientsMu.RLock()
	clients := make([]*Client, 0, len(i.clients))
	for c := range i.clients {
		clients = append(clients, c)
	}
	i.clientsMu.RUnlock()

	for _, c := range clients {
		c.drop("instance shutdown")
	}
}

func (i *Instance) addClient(c *Client) {
	i.clientsMu.Lock()
	i.clients[c] = struct{}{}
	i.clientsMu.Unlock()
}

func (i *Instance) removeClient(c *Client) {
	i.clientsMu.Lock()
	delete(i.clients, c)
	i.clientsMu.Unlock()
}

func (i *Instance) handleAccept(conn *net.TCPConn) {
	c := newClient(i, conn)
	i.addClient(c)
	go c.run()
}
