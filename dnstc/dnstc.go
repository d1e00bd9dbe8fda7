// Package dnstc implements the DNS-Truncate Helper (spec §4.9): a UDP
// listener that forces DNS clients onto TCP by flipping the TC bit on
// well-formed queries and echoing them back.
//
// Grounded on the teacher repo's server/udp.go ServeUDP accept/read loop
// shape, adapted from a generic unhandled-packet logger into the
// truncate-and-reply predicate this subsystem implements.
package dnstc

import (
	"context"
	"errors"
	"net"
	"strconv"

	"go.uber.org/zap"
)

// dnsHeaderSize is the fixed 12-byte DNS message header.
const dnsHeaderSize = 12

// Opts configures one DNS-Truncate listener (spec §6, `dnstc` blocks).
type Opts struct {
	Addr string
	Port uint16
}

// Serve binds a UDP socket at opts.Addr:opts.Port and answers every
// well-formed DNS query datagram with a truncated reply (spec §4.9),
// until ctx is canceled.
func Serve(ctx context.Context, opts Opts, log *zap.Logger) error {
	udpAddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(opts.Addr, strconv.Itoa(int(opts.Port))))
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	return serveUDP(ctx, conn, log)
}

func serveUDP(ctx context.Context, conn *net.UDPConn, log *zap.Logger) error {
	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			log.Warn("failed to read dns datagram", zap.Error(err))
			continue
		}

		reply, ok := truncateReply(buf[:n])
		if !ok {
			log.Debug("ignoring non-query or malformed datagram", zap.String("from", addr.String()))
			continue
		}

		if _, err := conn.WriteToUDP(reply, addr); err != nil {
			log.Warn("failed to send truncated dns reply", zap.Error(err), zap.String("to", addr.String()))
			continue
		}
		log.Info("sent truncated DNS reply", zap.String("to", addr.String()))
	}
}

// truncateReply implements spec §4.9's predicate and transform: for any
// datagram at least sizeof(DNS header) whose header has QR=0, a zero
// reserved Z field, qdcount > 0, and ancount=nscount=arcount=0, it
// returns a copy with QR and TC set; otherwise ok is false.
func truncateReply(msg []byte) (reply []byte, ok bool) {
	if len(msg) < dnsHeaderSize {
		return nil, false
	}

	flags := uint16(msg[2])<<8 | uint16(msg[3])
	qr := flags & 0x8000
	z := flags & 0x0040
	qdcount := uint16(msg[4])<<8 | uint16(msg[5])
	ancount := uint16(msg[6])<<8 | uint16(msg[7])
	nscount := uint16(msg[8])<<8 | uint16(msg[9])
	arcount := uint16(msg[10])<<8 | uint16(msg[11])

	if qr != 0 || z != 0 || qdcount == 0 || ancount != 0 || nscount != 0 || arcount != 0 {
		return nil, false
	}

	out := make([]byte, len(msg))
	copy(out, msg)
	out[2] |= 0x80 // QR
	out[3] |= 0x02 // TC
	return out, true
}
