package redsocks

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// registry tracks every live Instance and, within each, every live
// Client, so that (a) closing any owned fd can trigger the early re-arm
// hook on every Instance's listener (spec §4.2) and (b) a diagnostics
// trigger can walk every Client in every Instance (spec §6).
//
// Grounded on the teacher's misc.go LockMap (mutex-guarded map) and
// refCounter (mutex-guarded counter tracking in-flight work).
type registry struct {
	mu        sync.RWMutex
	instances []*Instance
}

var globalRegistry = &registry{}

func (r *registry) add(inst *Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances = append(r.instances, inst)
}

func (r *registry) remove(inst *Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, x := range r.instances {
		if x == inst {
			r.instances = append(r.instances[:i], r.instances[i+1:]...)
			return
		}
	}
}

// notifyFDReleased is called after any owned socket is closed anywhere
// in the process; it offers every Instance's listener a chance to
// early-re-arm (spec §4.2).
func (r *registry) notifyFDReleased() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, inst := range r.instances {
		if inst.listener != nil {
			inst.listener.tryEarlyRearm()
		}
	}
}

// dumpDiagnostics logs one line per live Client across every Instance
// (spec §6, Diagnostics).
func (r *registry) dumpDiagnostics(log *Logger) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, inst := range r.instances {
		inst.clientsMu.RLock()
		for c := range inst.clients {
			c.mu.Lock()
			now := time.Now()
			log.Info("diagnostics",
				zap.String("instance", inst.name()),
				zap.String("client", c.clientAddr.String()),
				zap.String("upstream", c.destAddr.String()),
				zap.Uint8("client_shut", uint8(c.clientShut)),
				zap.Uint8("upstream_shut", uint8(c.upstreamShut)),
				zap.Float64("age_seconds", now.Sub(c.firstEvent).Seconds()),
				zap.Float64("idle_seconds", now.Sub(c.lastEvent).Seconds()),
			)
			c.mu.Unlock()
		}
		inst.clientsMu.RUnlock()
	}
}

// DumpDiagnostics logs one line per live Client across every Instance in
// the process (spec §6, Diagnostics), triggered by cmd/redsocks on
// SIGUSR1.
func DumpDiagnostics(log *Logger) {
	globalRegistry.dumpDiagnostics(log)
}

func closeOwnedConn(c interface{ Close() error }) {
	if c == nil {
		return
	}
	_ = c.Close()
	globalRegistry.notifyFDReleased()
}
