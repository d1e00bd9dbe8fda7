package upstream

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/impostorkeanu/redsocks-go/netutil"
)

// maxStatusLineBuffer bounds how many bytes HTTPConnect will buffer
// while hunting for the response status line (spec §4.7, "If total
// buffered without finding the status line exceeds 4096 bytes, drop").
const maxStatusLineBuffer = 4096

// HTTPConnect implements the HTTP CONNECT handshake (spec §4.7),
// including a single Proxy-Authorization retry against a 407 challenge.
// Auth holds the last-seen challenge for the Instance this handshaker
// belongs to, shared across every Client it serves (spec §3/§4.7).
type HTTPConnect struct {
	Auth *AuthState
}

func (HTTPConnect) Name() string { return "http-connect" }

func (h HTTPConnect) Connect(ctx context.Context, upstreamAddr netutil.Addr, dest netutil.Addr, creds Credentials) (net.Conn, error) {
	for {
		conn, err := dialUpstream(ctx, upstreamAddr)
		if err != nil {
			return nil, err
		}

		query, count := h.Auth.Begin()

		uri := dest.String()
		req := fmt.Sprintf("CONNECT %s HTTP/1.0\r\n", uri)
		if query != "" {
			hdr, err := buildProxyAuthorization(query, count, creds, "CONNECT", uri)
			if err != nil {
				conn.Close()
				return nil, fmt.Errorf("http-connect: %w", err)
			}
			req += hdr
		}
		req += "\r\n"

		if _, err := conn.Write([]byte(req)); err != nil {
			conn.Close()
			return nil, fmt.Errorf("http-connect: failed to write CONNECT request: %w", err)
		}

		br := bufio.NewReader(conn)
		statusLine, n, err := readLineBounded(br, maxStatusLineBuffer)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("http-connect: failed to read status line: %w", err)
		}
		if n > maxStatusLineBuffer {
			conn.Close()
			return nil, fmt.Errorf("http-connect: status line exceeded %d bytes", maxStatusLineBuffer)
		}

		code, err := parseHTTPStatusCode(statusLine)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("http-connect: %w", err)
		}

		switch {
		case code >= 200 && code < 300:
			if err := skipHeaders(br); err != nil {
				conn.Close()
				return nil, fmt.Errorf("http-connect: failed to skip response headers: %w", err)
			}
			return &bufferedConn{Conn: conn, r: br}, nil

		case code == 407:
			if query != "" && count == 1 {
				conn.Close()
				return nil, fmt.Errorf("http-connect: proxy auth failed")
			}
			if creds.Login == "" {
				conn.Close()
				return nil, fmt.Errorf("http-connect: proxy auth required, but no login information provided")
			}
			challenge, err := readProxyAuthenticate(br)
			if err != nil {
				conn.Close()
				return nil, fmt.Errorf("http-connect: 407 found, but no proxy auth challenge: %w", err)
			}
			conn.Close()
			h.Auth.Challenge(challenge)
			continue

		default:
			conn.Close()
			return nil, fmt.Errorf("http-connect: upstream replied with status %d", code)
		}
	}
}

// parseHTTPStatusCode parses a "HTTP/x.y <code> ..." status line.
func parseHTTPStatusCode(line string) (int, error) {
	fields := strings.SplitN(line, " ", 3)
	if len(fields) < 2 {
		return 0, fmt.Errorf("malformed status line %q", line)
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, fmt.Errorf("malformed status code in %q: %w", line, err)
	}
	return code, nil
}

// readLineBounded reads a single CRLF- or LF-terminated line, reporting
// how many bytes were consumed. It returns an error as soon as more than
// max bytes have been read, even when no terminator is ever found.
func readLineBounded(br *bufio.Reader, max int) (string, int, error) {
	var b strings.Builder
	for {
		frag, err := br.ReadSlice('\n')
		b.Write(frag)
		if b.Len() > max {
			return b.String(), b.Len(), fmt.Errorf("line exceeds %d bytes", max)
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		return strings.TrimRight(b.String(), "\r\n"), b.Len(), err
	}
}

// skipHeaders reads and discards lines until a blank line (spec §4.7,
// "headers_skipped").
func skipHeaders(br *bufio.Reader) error {
	for {
		line, _, err := readLineBounded(br, maxStatusLineBuffer)
		if err != nil {
			return err
		}
		if line == "" {
			return nil
		}
	}
}

// readProxyAuthenticate reads headers until the blank line, returning
// the trimmed value of the first Proxy-Authenticate header encountered
// (case-insensitive per spec §4.7).
func readProxyAuthenticate(br *bufio.Reader) (string, error) {
	var challenge string
	for {
		line, _, err := readLineBounded(br, maxStatusLineBuffer)
		if err != nil {
			return "", err
		}
		if line == "" {
			break
		}
		if challenge == "" {
			if name, val, ok := splitHeaderLine(line); ok && strings.EqualFold(name, "Proxy-Authenticate") {
				challenge = strings.TrimSpace(val)
			}
		}
	}
	if challenge == "" {
		return "", fmt.Errorf("no Proxy-Authenticate header present")
	}
	return challenge, nil
}

func splitHeaderLine(line string) (name, value string, ok bool) {
	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		return "", "", false
	}
	return line[:colon], line[colon+1:], true
}

// bufferedConn wraps a net.Conn whose reads must first drain a
// bufio.Reader that may already hold bytes read past the handshake
// boundary (pipelined relay traffic arriving in the same TCP segment as
// the final handshake bytes).
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) { return c.r.Read(p) }

// CloseWrite forwards to the underlying connection when it supports a
// half-close, so relay-phase half-shutdown propagation (which type-
// asserts for this method) still works through the wrapper.
func (c *bufferedConn) CloseWrite() error {
	if hc, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return hc.CloseWrite()
	}
	return c.Conn.Close()
}
