package upstream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/impostorkeanu/redsocks-go/netutil"
)

func TestRewriteRequestLine(t *testing.T) {
	dest := netutil.Addr{IP: net.ParseIP("93.184.216.34").To4(), Port: 80}

	cases := []struct {
		name    string
		line    string
		host    string
		hasHost bool
		want    string
		wantErr bool
	}{
		{
			name: "relative uri rewritten using Host header",
			line: "GET /index.html HTTP/1.1",
			host: "example.com", hasHost: true,
			want: "GET http://example.com/index.html HTTP/1.1\r\n",
		},
		{
			name:    "relative uri with no Host falls back to destination",
			line:    "GET /index.html HTTP/1.1",
			hasHost: false,
			want:    "GET http://93.184.216.34/index.html HTTP/1.1\r\n",
		},
		{
			name: "already absolute uri left untouched",
			line: "GET http://other.example/x HTTP/1.1",
			host: "example.com", hasHost: true,
			want: "GET http://other.example/x HTTP/1.1\r\n",
		},
		{
			name:    "malformed request line",
			line:    "GET",
			wantErr: true,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := rewriteRequestLine(c.line, c.host, c.hasHost, dest)
			if (err != nil) != c.wantErr {
				t.Fatalf("rewriteRequestLine() error = %v, wantErr %v", err, c.wantErr)
			}
			if err != nil {
				return
			}
			if got != c.want {
				t.Errorf("rewriteRequestLine() = %q, want %q", got, c.want)
			}
		})
	}
}

func TestReadClientRequestHeadersStripsProxyConnection(t *testing.T) {
	raw := "GET /x HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"Proxy-Connection: Keep-Alive\r\n" +
		"Connection: Keep-Alive\r\n" +
		"User-Agent: test\r\n" +
		"\r\n"

	firstLine, host, hasHost, buf, contentLength, err := readClientRequestHeaders(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatalf("readClientRequestHeaders() error = %v", err)
	}
	if contentLength != -1 {
		t.Errorf("contentLength = %d, want -1 (absent)", contentLength)
	}
	if firstLine != "GET /x HTTP/1.1" {
		t.Errorf("firstLine = %q", firstLine)
	}
	if !hasHost || host != "example.com" {
		t.Errorf("host = %q, hasHost = %v", host, hasHost)
	}
	if strings.Contains(string(buf), "Proxy-Connection") || strings.Contains(string(buf), "Connection:") {
		t.Errorf("buffer still contains a connection-control header: %q", buf)
	}
	if !strings.Contains(string(buf), "User-Agent: test") {
		t.Errorf("buffer dropped an unrelated header: %q", buf)
	}
}

func TestReadClientRequestHeadersCapturesContentLength(t *testing.T) {
	raw := "POST /submit HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"Content-Length: 13\r\n" +
		"\r\n" +
		"hello, world!"

	_, _, _, _, contentLength, err := readClientRequestHeaders(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatalf("readClientRequestHeaders() error = %v", err)
	}
	if contentLength != 13 {
		t.Errorf("contentLength = %d, want 13", contentLength)
	}
}

// TestRelayForwardsPipelinedRequestBodyBeforeAwaitingResponse exercises
// spec §8 scenario 4: an upstream that reads the full declared
// Content-Length body before replying must not be left waiting, or
// Relay deadlocks blocked on the status line while the body sits
// unforwarded.
func TestRelayForwardsPipelinedRequestBodyBeforeAwaitingResponse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	const body = "field=value&more=data"
	upstreamDone := make(chan error, 1)
	go func() {
		conn, aerr := ln.Accept()
		if aerr != nil {
			upstreamDone <- aerr
			return
		}
		defer conn.Close()

		br := bufio.NewReader(conn)
		contentLength := 0
		for {
			line, lerr := br.ReadString('\n')
			if lerr != nil {
				upstreamDone <- lerr
				return
			}
			trimmed := strings.TrimRight(line, "\r\n")
			if strings.HasPrefix(strings.ToLower(trimmed), "content-length:") {
				fmt.Sscanf(trimmed, "Content-Length: %d", &contentLength)
			}
			if trimmed == "" {
				break
			}
		}
		got := make([]byte, contentLength)
		if _, rerr := io.ReadFull(br, got); rerr != nil {
			upstreamDone <- rerr
			return
		}
		if string(got) != body {
			upstreamDone <- fmt.Errorf("upstream received body %q, want %q", got, body)
			return
		}
		conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"))
		upstreamDone <- nil
	}()

	upAddr, err := netutil.ParseHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("ParseHostPort: %v", err)
	}

	clientSide, serverSide := net.Pipe()
	req := fmt.Sprintf("POST /submit HTTP/1.1\r\nHost: example.com\r\nContent-Length: %d\r\n\r\n%s", len(body), body)
	go clientSide.Write([]byte(req))
	// Drain what Relay flushes back to the client; net.Pipe writes block
	// until read.
	go io.Copy(io.Discard, clientSide)

	relay := HTTPRelay{Auth: &AuthState{}}
	dest := netutil.Addr{IP: net.ParseIP("93.184.216.34").To4(), Port: 80}

	relayDone := make(chan error, 1)
	go func() {
		_, _, rerr := relay.Relay(context.Background(), serverSide, upAddr, dest, Credentials{})
		relayDone <- rerr
	}()

	select {
	case rerr := <-relayDone:
		if rerr != nil {
			t.Fatalf("Relay() error = %v", rerr)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Relay() deadlocked waiting on the upstream's response without forwarding the pipelined body")
	}

	if uerr := <-upstreamDone; uerr != nil {
		t.Fatalf("upstream: %v", uerr)
	}
}

func TestFirstMethodAndURI(t *testing.T) {
	line := "POST http://example.com/submit HTTP/1.1\r\n"
	if got := firstMethod(line); got != "POST" {
		t.Errorf("firstMethod() = %q, want POST", got)
	}
	if got := firstURI(line); got != "http://example.com/submit" {
		t.Errorf("firstURI() = %q, want http://example.com/submit", got)
	}
}
