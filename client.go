package redsocks

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/impostorkeanu/redsocks-go/netutil"
	"github.com/impostorkeanu/redsocks-go/upstream"
	"go.uber.org/zap"
)

// shutFlags tracks which directions of one socket have been half-closed
// (spec §4.3, "shutdown propagation"). Bits: 1=read shut, 2=write shut;
// 3 (both) means the socket is fully shut.
type shutFlags uint8

const (
	shutRead  shutFlags = 1
	shutWrite shutFlags = 2
	shutBoth  shutFlags = shutRead | shutWrite
)

// Client is one accepted connection, tracked from accept through
// handshake through relay to drop (spec §4.3). Fields mirror the
// universal invariants spec §8 states over every live Client.
type Client struct {
	inst *Instance

	clientConn net.Conn
	clientAddr netutil.Addr
	destAddr   netutil.Addr

	upstreamConn net.Conn

	mu           sync.Mutex
	clientShut   shutFlags
	upstreamShut shutFlags
	firstEvent   time.Time
	lastEvent    time.Time
	dropped      bool

	log *Logger
}

func newClient(inst *Instance, conn *net.TCPConn) *Client {
	now := time.Now()
	return &Client{
		inst:       inst,
		clientConn: conn,
		clientAddr: netutil.AddrFromTCPAddr(conn.RemoteAddr().(*net.TCPAddr)),
		firstEvent: now,
		lastEvent:  now,
	}
}

// run drives one Client from destination discovery through handshake to
// relay engagement (spec §4.3). It owns the Client's goroutine for its
// entire lifetime; the relay phase blocks here until both directions
// finish.
func (c *Client) run() {
	tcpConn := c.clientConn.(*net.TCPConn)

	dest, err := c.inst.resolver.Lookup(tcpConn, c.inst.bindAddr)
	if err != nil {
		c.inst.log.Warning("failed to resolve destination",
			zap.String("backend", c.inst.resolver.Name()), zap.Error(err))
		c.drop("destination resolution failed")
		return
	}
	c.destAddr = dest
	c.log = c.inst.log.ClientScope(c.clientAddr, c.destAddr)

	if err := tcpConn.SetKeepAlive(true); err != nil {
		c.log.Warning("failed to enable keepalive", zap.Error(err))
	}

	c.touch()

	ctx, cancel := context.WithTimeout(context.Background(), upstream.DialTimeout)
	defer cancel()

	creds := upstream.Credentials{Login: c.inst.cfg.Login, Password: c.inst.cfg.Password}

	var upConn net.Conn
	if c.inst.cfg.Type == UpstreamHTTPRelay {
		var clientOut net.Conn
		upConn, clientOut, err = c.inst.httpRelay.Relay(ctx, c.clientConn, c.inst.upstreamAddr, c.destAddr, creds)
		if err == nil {
			c.clientConn = clientOut
		}
	} else {
		upConn, err = c.inst.handshaker.Connect(ctx, c.inst.upstreamAddr, c.destAddr, creds)
	}

	if err != nil {
		c.log.Notice("upstream handshake failed", zap.Error(err))
		c.drop("upstream handshake failed")
		return
	}

	c.upstreamConn = upConn
	c.touch()
	c.startRelay()
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastEvent = time.Now()
	c.mu.Unlock()
}

// drop tears a Client down from any phase: closes both sockets, removes
// it from its Instance's registry (spec §4.3, "drop_client").
func (c *Client) drop(reason string) {
	c.mu.Lock()
	if c.dropped {
		c.mu.Unlock()
		return
	}
	c.dropped = true
	c.mu.Unlock()

	if c.log != nil {
		c.log.Debug("dropping client", zap.String("reason", reason))
	}

	closeOwnedConn(c.clientConn)
	if c.upstreamConn != nil {
		closeOwnedConn(c.upstreamConn)
	}
	c.inst.removeClient(c)
}
