package upstream

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/impostorkeanu/redsocks-go/netutil"
)

// HTTPRelay implements the transparent HTTP relay backend (spec §4.8):
// it rewrites the client's request line to absolute-URI form and
// forwards it, rather than speaking a proxy protocol of its own.
//
// Unlike the other three backends, HTTPRelay must read from the client
// before it can even begin talking to the upstream (it needs the
// request headers to learn the Host and to build the rewritten request),
// so it does not implement the plain Handshaker interface; Client
// dispatches to Relay directly. Auth holds the last-seen challenge for
// the Instance this handshaker belongs to, shared across every Client it
// serves (spec §3/§4.7).
type HTTPRelay struct {
	Auth *AuthState
}

func (HTTPRelay) Name() string { return "http-relay" }

// Relay reads the client's request headers from clientConn, rewrites
// the request line and forwards it (plus the full request body, if its
// length was declared via Content-Length) to the upstream proxy at
// upstreamAddr, retrying once on a 407 challenge. It returns a net.Conn
// for the upstream leg and a replacement net.Conn for the client leg
// (wrapping clientConn so that any bytes already read into the internal
// bufio.Reader are not lost to the relay engine).
func (h HTTPRelay) Relay(ctx context.Context, clientConn net.Conn, upstreamAddr netutil.Addr, dest netutil.Addr, creds Credentials) (upstreamConn net.Conn, clientOut net.Conn, err error) {
	cr := bufio.NewReader(clientConn)

	firstLine, host, hasHost, clientBuffer, contentLength, err := readClientRequestHeaders(cr)
	if err != nil {
		return nil, nil, fmt.Errorf("http-relay: failed to read client request: %w", err)
	}

	rewritten, err := rewriteRequestLine(firstLine, host, hasHost, dest)
	if err != nil {
		return nil, nil, fmt.Errorf("http-relay: %w", err)
	}

	if !hasHost {
		hostHeader := "Host: " + netutil.FormatHost(dest) + "\r\n"
		clientBuffer = append([]byte(hostHeader), clientBuffer...)
	}
	clientBuffer = append(clientBuffer, []byte("Proxy-Connection: close\r\nConnection: close\r\n")...)

	// A client that pipelined a request body right behind its headers
	// (a POST with a known Content-Length) must have that body forwarded
	// before this handshake blocks on the upstream's status line, or an
	// upstream that waits for the full declared body before answering
	// deadlocks against us (spec §8, scenario 4). The relay engine only
	// takes over once Relay returns, so the body has to be read and
	// relayed here.
	var body []byte
	if contentLength > 0 {
		body = make([]byte, contentLength)
		if _, berr := io.ReadFull(cr, body); berr != nil {
			return nil, nil, fmt.Errorf("http-relay: failed to read client request body: %w", berr)
		}
	}

	method := firstMethod(rewritten)
	uri := firstURI(rewritten)

	for {
		upConn, derr := dialUpstream(ctx, upstreamAddr)
		if derr != nil {
			return nil, nil, derr
		}

		query, count := h.Auth.Begin()

		var out bytes.Buffer
		out.WriteString(rewritten)
		if query != "" {
			hdr, aerr := buildProxyAuthorization(query, count, creds, method, uri)
			if aerr != nil {
				upConn.Close()
				return nil, nil, fmt.Errorf("http-relay: %w", aerr)
			}
			out.WriteString(hdr)
		}
		out.Write(clientBuffer)
		out.WriteString("\r\n")
		out.Write(body)

		if _, werr := upConn.Write(out.Bytes()); werr != nil {
			upConn.Close()
			return nil, nil, fmt.Errorf("http-relay: failed to write request to upstream: %w", werr)
		}

		ur := bufio.NewReader(upConn)
		statusLine, _, rerr := readLineBounded(ur, maxStatusLineBuffer)
		if rerr != nil {
			upConn.Close()
			return nil, nil, fmt.Errorf("http-relay: failed to read status line: %w", rerr)
		}
		code, perr := parseHTTPStatusCode(statusLine)
		if perr != nil {
			upConn.Close()
			return nil, nil, fmt.Errorf("http-relay: %w", perr)
		}

		var relayBuffer bytes.Buffer
		relayBuffer.WriteString(statusLine + "\r\n")

		if code == 407 {
			if query != "" && count == 1 {
				upConn.Close()
				return nil, nil, fmt.Errorf("http-relay: proxy auth failed")
			}
			if creds.Login == "" {
				upConn.Close()
				return nil, nil, fmt.Errorf("http-relay: proxy auth required, but no login information provided")
			}
			challenge, herr := readProxyAuthenticate(ur)
			if herr != nil {
				upConn.Close()
				return nil, nil, fmt.Errorf("http-relay: 407 found, but no proxy auth challenge: %w", herr)
			}
			upConn.Close()
			h.Auth.Challenge(challenge)
			continue
		}

		if err := copyHeadersInto(&relayBuffer, ur); err != nil {
			upConn.Close()
			return nil, nil, fmt.Errorf("http-relay: failed to read response headers: %w", err)
		}

		if _, werr := clientConn.Write(relayBuffer.Bytes()); werr != nil {
			upConn.Close()
			return nil, nil, fmt.Errorf("http-relay: failed to flush response headers to client: %w", werr)
		}

		return &bufferedConn{Conn: upConn, r: ur}, &bufferedConn{Conn: clientConn, r: cr}, nil
	}
}

// readClientRequestHeaders reads the client's request line and headers,
// applying the per-line rules of spec §4.8 (capture Host, drop
// Proxy-Connection/Connection, buffer everything else). It also reports
// a declared Content-Length (-1 if absent or unparseable) so Relay can
// forward a pipelined request body before blocking on the upstream's
// response.
func readClientRequestHeaders(cr *bufio.Reader) (firstLine, host string, hasHost bool, clientBuffer []byte, contentLength int64, err error) {
	contentLength = -1
	var buf bytes.Buffer
	first := true
	for {
		line, _, lerr := readLineBounded(cr, maxStatusLineBuffer)
		if lerr != nil {
			return "", "", false, nil, -1, lerr
		}
		if first {
			if line == "" {
				continue
			}
			firstLine = line
			first = false
			continue
		}
		if line == "" {
			break
		}
		if name, val, ok := splitHeaderLine(line); ok {
			trimmedName := strings.TrimSpace(name)
			if strings.EqualFold(trimmedName, "Host") {
				host = strings.TrimSpace(val)
				hasHost = true
				continue
			}
			if strings.EqualFold(trimmedName, "Proxy-Connection") || strings.EqualFold(trimmedName, "Connection") {
				continue
			}
			if strings.EqualFold(trimmedName, "Content-Length") {
				if n, perr := strconv.ParseInt(strings.TrimSpace(val), 10, 64); perr == nil && n >= 0 {
					contentLength = n
				}
			}
		}
		buf.WriteString(line)
		buf.WriteString("\r\n")
	}
	return firstLine, host, hasHost, buf.Bytes(), contentLength, nil
}

// rewriteRequestLine rewrites a client's request line's URI to
// absolute-URI form (spec §4.8), unless it is already absolute.
func rewriteRequestLine(line, host string, hasHost bool, dest netutil.Addr) (string, error) {
	fields := strings.SplitN(line, " ", 3)
	if len(fields) != 3 {
		return "", fmt.Errorf("malformed request line %q", line)
	}
	method, uri, version := fields[0], fields[1], fields[2]

	if strings.HasPrefix(uri, "http://") {
		return fmt.Sprintf("%s %s %s\r\n", method, uri, version), nil
	}

	hostPart := host
	if !hasHost {
		hostPart = netutil.FormatHost(dest)
	}
	absolute := "http://" + hostPart + uri
	return fmt.Sprintf("%s %s %s\r\n", method, absolute, version), nil
}

func firstMethod(line string) string {
	fields := strings.SplitN(line, " ", 2)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func firstURI(line string) string {
	fields := strings.SplitN(line, " ", 3)
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}

// copyHeadersInto reads header lines from r into buf until the blank
// line that terminates them, inclusive.
func copyHeadersInto(buf *bytes.Buffer, r *bufio.Reader) error {
	for {
		line, _, err := readLineBounded(r, maxStatusLineBuffer)
		if err != nil {
			return err
		}
		buf.WriteString(line)
		buf.WriteString("\r\n")
		if line == "" {
			return nil
		}
	}
}
