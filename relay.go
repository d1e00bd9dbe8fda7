package redsocks

import (
	"io"
	"net"
	"sync"

	"go.uber.org/zap"
)

// relayBufferSize is the fixed per-direction copy buffer (spec §4.4,
// "read-high = write-high = 4096 ... one half-buffer; two relays give
// the classic 8 KiB in-flight cap per connection per direction"). The
// goroutine-per-connection model relies on the kernel's own socket
// buffers plus this fixed buffer to realize the same flow-control
// ceiling the original watermark bookkeeping enforced (see DESIGN.md's
// concurrency redesign note).
const relayBufferSize = 4096

type halfCloser interface {
	CloseWrite() error
}

// startRelay engages the bidirectional relay engine (spec §4.4): one
// goroutine per direction, each a blocking io.CopyBuffer over a fixed
// buffer, with half-shutdown propagated via CloseWrite once one side's
// input is exhausted. startRelay blocks until both directions finish.
func (c *Client) startRelay() {
	c.log.Debug("engaging relay")

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		c.pump(c.clientConn, c.upstreamConn, true)
	}()
	go func() {
		defer wg.Done()
		c.pump(c.upstreamConn, c.clientConn, false)
	}()

	wg.Wait()
	c.drop("relay complete")
}

// pump copies src -> dst until src reaches EOF or either side errors
// (spec §4.4's on_read/on_write pair, collapsed into one blocking copy
// loop). fromClient selects which of Client's two shutdown bitmaps this
// direction updates: src is on the client side iff fromClient.
func (c *Client) pump(src, dst net.Conn, fromClient bool) {
	buf := make([]byte, relayBufferSize)
	// Wrapped so io.CopyBuffer cannot hand off to a ReadFrom/WriteTo
	// fast path (which *net.TCPConn has) that would ignore buf.
	_, err := io.CopyBuffer(struct{ io.Writer }{dst}, struct{ io.Reader }{src}, buf)
	c.touch()

	if err != nil {
		c.log.Notice("relay I/O error", zap.Error(err), zap.Bool("from_client", fromClient))
		// An error on one leg (e.g. SO_ERROR on a write to upstream)
		// must still unblock the peer pump's own blocking read, or
		// startRelay's wg.Wait() never returns and the Client leaks
		// (spec §4.4/§7: "log with SO_ERROR, drop the Client"
		// unconditionally and immediately).
		c.clientConn.Close()
		c.upstreamConn.Close()
		return
	}

	// Peer EOF: half-shutdown propagation, not an error (spec §4.4 and
	// §7's "Peer EOF in relay" row). Record the read-shut bit on the
	// source side, then propagate a write-shut to the destination's
	// peer once its output (what we've already copied) has actually
	// been written out, which io.CopyBuffer's return guarantees.
	c.markShut(fromClient, shutRead)
	if hc, ok := dst.(halfCloser); ok {
		if werr := hc.CloseWrite(); werr != nil {
			c.log.Debug("CloseWrite failed", zap.Error(werr))
		}
	}
	c.markShut(!fromClient, shutWrite)
}

// markShut records a half-shutdown bit on whichever of Client's two
// flag sets the given side (client vs. upstream) owns.
func (c *Client) markShut(onClientSide bool, bit shutFlags) {
	c.mu.Lock()
	if onClientSide {
		c.clientShut |= bit
	} else {
		c.upstreamShut |= bit
	}
	c.mu.Unlock()
}
