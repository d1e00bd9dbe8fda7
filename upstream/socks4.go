package upstream

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/impostorkeanu/redsocks-go/netutil"
)

// socks4Status maps a SOCKS4 reply status byte to a human-readable
// reason (spec §4.5).
var socks4Status = map[byte]string{
	0x5a: "request granted",
	0x5b: "request rejected or failed",
	0x5c: "client is not running identd",
	0x5d: "client's identd could not confirm the user ID",
}

// SOCKS4 implements the SOCKS4 CONNECT handshake (spec §4.5). The
// original reactor drives this as a three-state machine
// (new -> request_sent -> reply_came); expressed here as a single
// blocking call on the goroutine-per-connection model (see DESIGN.md's
// concurrency redesign note), since the whole exchange is one
// request/response round trip with no intervening suspension the caller
// needs to observe.
type SOCKS4 struct{}

func (SOCKS4) Name() string { return "socks4" }

func (SOCKS4) Connect(ctx context.Context, upstreamAddr netutil.Addr, dest netutil.Addr, creds Credentials) (net.Conn, error) {
	conn, err := dialUpstream(ctx, upstreamAddr)
	if err != nil {
		return nil, err
	}

	req := make([]byte, 0, 9+len(creds.Login))
	req = append(req, 4, 1)
	req = append(req, netutil.PutPort(dest.Port)...)
	req = append(req, dest.IP.To4()...)
	req = append(req, []byte(creds.Login)...)
	req = append(req, 0)

	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("socks4: failed to write request: %w", err)
	}

	reply := make([]byte, 8)
	if _, err := io.ReadFull(conn, reply); err != nil {
		conn.Close()
		return nil, fmt.Errorf("socks4: failed to read reply: %w", err)
	}

	if reply[0] != 0 {
		conn.Close()
		return nil, fmt.Errorf("socks4: malformed reply, first byte %#x", reply[0])
	}
	if reply[1] != 0x5a {
		conn.Close()
		reason, ok := socks4Status[reply[1]]
		if !ok {
			reason = fmt.Sprintf("unknown status %#x", reply[1])
		}
		return nil, fmt.Errorf("socks4: %s", reason)
	}

	return conn, nil
}
