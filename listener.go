package redsocks

import (
	"errors"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/impostorkeanu/redsocks-go/xrand"
	"go.uber.org/zap"
)

// backoffStartMs is the initial backoff on the first transient accept
// failure, before it is clamped into [min, max] (spec §4.2).
const backoffStartMs = 1

// listener owns one Instance's accept loop and its backoff state machine
// (spec §4.2). At most one of (accepting, backoff timer pending) holds
// at a time.
type listener struct {
	ln  *net.TCPListener
	log *Logger

	minMs, maxMs uint16
	onAccept     func(conn *net.TCPConn)

	mu           sync.Mutex
	failures     int
	currentMs    uint16
	backingOff   bool
	backoffSince time.Time
	earlyRearmCh chan struct{}

	stopped chan struct{}
	once    sync.Once
}

func newListener(ln *net.TCPListener, log *Logger, minMs, maxMs uint16, onAccept func(conn *net.TCPConn)) *listener {
	return &listener{
		ln:       ln,
		log:      log,
		minMs:    minMs,
		maxMs:    maxMs,
		onAccept: onAccept,
		stopped:  make(chan struct{}),
	}
}

// run drives the Armed/Backoff state machine until Stop is called.
func (l *listener) run() {
	for {
		select {
		case <-l.stopped:
			return
		default:
		}

		conn, err := l.ln.AcceptTCP()
		if err != nil {
			select {
			case <-l.stopped:
				return
			default:
			}
			if isTransientAcceptError(err) {
				l.armBackoff()
				continue
			}
			l.log.Warning("accept failed", zap.Error(err))
			continue
		}

		l.resetBackoff()
		l.onAccept(conn)
	}
}

func (l *listener) Stop() {
	l.once.Do(func() {
		close(l.stopped)
		l.ln.Close()
	})
}

// armBackoff advances the backoff state machine per spec §4.2: the first
// hit clamps the 1ms start into [min,max]; subsequent hits shift-left+1
// and clamp again. It then sleeps a uniformly random duration in
// (0, current] before resuming Armed, unless woken early by
// tryEarlyRearm.
func (l *listener) armBackoff() {
	l.mu.Lock()
	l.failures++
	if l.failures == 1 {
		l.currentMs = clampMs(backoffStartMs, l.minMs, l.maxMs)
	} else {
		l.currentMs = clampMs(l.currentMs<<1+1, l.minMs, l.maxMs)
	}
	delay := xrand.JitterMillis(int(l.currentMs))
	l.backingOff = true
	l.backoffSince = time.Now()
	rearm := make(chan struct{}, 1)
	l.earlyRearmCh = rearm
	l.mu.Unlock()

	l.log.Warning("accept backoff engaged", zap.Uint16("backoff_ms", l.currentMs))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-rearm:
	case <-l.stopped:
	}

	l.mu.Lock()
	l.backingOff = false
	l.earlyRearmCh = nil
	l.mu.Unlock()
}

// resetBackoff clears the failure counter on a successful accept (spec
// §4.2, "Successful accept resets the backoff counter to zero").
func (l *listener) resetBackoff() {
	l.mu.Lock()
	l.failures = 0
	l.currentMs = 0
	l.mu.Unlock()
}

// tryEarlyRearm implements the early re-arm rule (spec §4.2): called
// whenever any owned socket is closed. If this listener's backoff has
// been pending longer than min_accept_backoff, wake armBackoff's select
// immediately instead of waiting out the rest of the timer.
func (l *listener) tryEarlyRearm() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.backingOff {
		return
	}
	if time.Since(l.backoffSince) <= time.Duration(l.minMs)*time.Millisecond {
		return
	}
	select {
	case l.earlyRearmCh <- struct{}{}:
	default:
	}
}

func isTransientAcceptError(err error) bool {
	var sysErr syscall.Errno
	if !errors.As(err, &sysErr) {
		return false
	}
	switch sysErr {
	case syscall.ENFILE, syscall.EMFILE, syscall.ENOBUFS, syscall.ENOMEM:
		return true
	default:
		return false
	}
}

// clampMs clamps a backoff value into [min, max] (spec §4.2); armBackoff
// applies it to each step of the shift-left+1 progression.
func clampMs(v, min, max uint16) uint16 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
