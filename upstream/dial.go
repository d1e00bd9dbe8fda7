package upstream

import (
	"context"
	"fmt"
	"net"

	"github.com/impostorkeanu/redsocks-go/netutil"
)

// dialUpstream opens the TCP connection to the configured upstream
// proxy. All four backends share this: only what gets written and read
// over the connection differs (spec §4.5-§4.8).
func dialUpstream(ctx context.Context, upstreamAddr netutil.Addr) (net.Conn, error) {
	d := net.Dialer{Timeout: DialTimeout}
	conn, err := d.DialContext(ctx, "tcp4", upstreamAddr.String())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to upstream %s: %w", upstreamAddr, err)
	}
	return conn, nil
}
