// Package wakeword gates listening behind a windowed ML inference score,
// with debounce, post-TTS suppression, and rearm.
package wakeword

import "time"

// Event is surfaced once per rearmed detection cycle.
type Event struct {
	DetectedAt time.Time
	Confidence float64
}

// Scorer produces a wake score in [0,1] for one hop of audio.
type Scorer interface {
	Score(frame []byte) (float64, error)
}

// Config tunes the debounce/suppression/rearm state machine. It holds no
// window or hop size: the ONNX scorer uses a fixed 80ms hop (hopSamples),
// and the gate itself only needs the decision thresholds.
type Config struct {
	Threshold         float64
	MinGap            time.Duration
	SuppressAfterTTS  time.Duration
	RearmRatio        float64
	RearmLowCount     int
}

// Gate wraps a Scorer with the wake decision state machine described by the
// spec: fire on score >= threshold subject to min-gap and post-TTS
// suppression while armed; rearm after rearm_low_count consecutive low
// scores, or immediately via ResetAfterTTS.
type Gate struct {
	scorer Scorer
	cfg    Config

	armed       bool
	lastWake    time.Time
	ttsDoneAt   time.Time
	lowStreak   int
}

// New creates a Gate, armed by default.
func New(scorer Scorer, cfg Config) *Gate {
	return &Gate{scorer: scorer, cfg: cfg, armed: true}
}

// ProcessFrame feeds one hop of audio through the scorer and returns a wake
// event if this frame fires the gate.
func (g *Gate) ProcessFrame(frame []byte) (*Event, error) {
	score, err := g.scorer.Score(frame)
	if err != nil {
		return nil, err
	}
	return g.processScore(score, time.Now()), nil
}

func (g *Gate) processScore(score float64, now time.Time) *Event {
	if !g.armed {
		if score <= g.cfg.RearmRatio*g.cfg.Threshold {
			g.lowStreak++
			if g.lowStreak >= g.cfg.RearmLowCount {
				g.armed = true
				g.lowStreak = 0
			}
		} else {
			g.lowStreak = 0
		}
		return nil
	}

	if score < g.cfg.Threshold {
		return nil
	}
	if !g.lastWake.IsZero() && now.Sub(g.lastWake) < g.cfg.MinGap {
		return nil
	}
	if !g.ttsDoneAt.IsZero() && now.Sub(g.ttsDoneAt) < g.cfg.SuppressAfterTTS {
		return nil
	}

	g.lastWake = now
	g.armed = false
	g.lowStreak = 0
	return &Event{DetectedAt: now, Confidence: score}
}

// OnTTSDone records the TTS-done timestamp so firings within
// suppress_after_tts_s of it are ignored.
func (g *Gate) OnTTSDone() {
	g.ttsDoneAt = time.Now()
}

// ResetAfterTTS forces immediate rearm, bypassing the low-score streak.
func (g *Gate) ResetAfterTTS() {
	g.armed = true
	g.lowStreak = 0
}

// Armed reports whether the gate is currently eligible to fire.
func (g *Gate) Armed() bool {
	return g.armed
}
