// Package duplex implements the half-duplex TTS gate: a scoped mute of the
// mic path during speech output, unless barge-in is enabled.
package duplex

import (
	"sync"
	"time"
)

// WakeResetter is notified so the wake detector rearms immediately once the
// gate closes, matching reset_after_tts().
type WakeResetter interface {
	ResetAfterTTS()
}

// Flusher drains any queued mic audio accumulated while muted.
type Flusher interface {
	Flush()
}

// Gate is a scoped half-duplex mute. While held with barge-in disabled, the
// mic read path should honor Muted() by returning zero-filled frames or by
// dropping frames entirely.
type Gate struct {
	mu       sync.Mutex
	cond     *sync.Cond
	heldBy   any
	muted    bool
	bargeIn  bool
	cooldown time.Duration
	flusher  Flusher
	wake     WakeResetter
}

// New creates a Gate. cooldown is cooldown_after_tts_s; flusher and wake may
// be nil in tests that don't need the exit side effects.
func New(bargeIn bool, cooldown time.Duration, flusher Flusher, wake WakeResetter) *Gate {
	g := &Gate{bargeIn: bargeIn, cooldown: cooldown, flusher: flusher, wake: wake}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Acquire enters the gate for owner. Concurrent TTS starts from a different
// owner block until the current holder calls Release; a re-entrant acquire
// from the same owner is a no-op success and never blocks. The error return
// is kept for interface stability with callers that already handle it.
func (g *Gate) Acquire(owner any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.heldBy != nil && g.heldBy != owner {
		g.cond.Wait()
	}
	g.heldBy = owner
	if !g.bargeIn {
		g.muted = true
	}
	return nil
}

// Release exits the gate held by owner. If barge-in was off, it waits
// cooldown_after_tts_s, flushes queued mic audio, and rearms the wake
// detector before returning.
func (g *Gate) Release(owner any) {
	g.mu.Lock()
	if g.heldBy != owner {
		g.mu.Unlock()
		return
	}
	wasMuted := g.muted
	g.mu.Unlock()

	if wasMuted {
		if g.cooldown > 0 {
			time.Sleep(g.cooldown)
		}
		if g.flusher != nil {
			g.flusher.Flush()
		}
		if g.wake != nil {
			g.wake.ResetAfterTTS()
		}
	}

	g.mu.Lock()
	g.muted = false
	g.heldBy = nil
	g.cond.Broadcast()
	g.mu.Unlock()
}

// Muted reports whether the mic path should currently suppress input.
func (g *Gate) Muted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.muted
}

// SetBargeIn reconfigures barge-in behavior for future Acquire calls.
func (g *Gate) SetBargeIn(enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bargeIn = enabled
}

// MuteFrame returns a zero-filled frame of the given length when the gate is
// muted, or nil when the caller should pass the original frame through.
func (g *Gate) MuteFrame(n int) []byte {
	if !g.Muted() {
		return nil
	}
	return make([]byte, n)
}
