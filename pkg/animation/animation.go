// Package animation runs short-lived servo animation loops: listening,
// thinking, and talking. Each loop owns a disjoint set of servos and a stop
// signal, and restores its servos to neutral when stopped.
package animation

import (
	"math"
	"sync"
	"time"
)

// Servo is the subset of servo.Servo an animation loop needs.
type Servo interface {
	SetTarget(angle float64)
}

// EyelidOverrider is the subset of eyelid.Controller the listening animation
// needs to raise the lid for the duration of the animation.
type EyelidOverrider interface {
	SetOverride(angle float64, duration time.Duration)
	SetAuto()
}

// Handle is a running animation loop. Stop is idempotent and blocks until the
// loop has restored its servos to neutral.
type Handle struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// Stop signals the loop to exit and waits for it to finish.
func (h *Handle) Stop() {
	h.once.Do(func() { close(h.stop) })
	<-h.done
}

func newHandle() *Handle {
	return &Handle{stop: make(chan struct{}), done: make(chan struct{})}
}

func (h *Handle) stopped() bool {
	select {
	case <-h.stop:
		return true
	default:
		return false
	}
}

func (h *Handle) wait(d time.Duration) bool {
	select {
	case <-h.stop:
		return true
	case <-time.After(d):
		return false
	}
}

// ListeningConfig tunes the "curious" listening animation.
type ListeningConfig struct {
	RollNeutralDeg  float64
	RollAmplitude   float64
	RollPeriod      time.Duration
	TickInterval    time.Duration
	LidOpenAngleDeg float64
}

// StartListening oscillates NRL (head roll) at small amplitude and raises the
// eyelid override for the lifetime of the animation. Reverts the lid to auto
// on stop.
func StartListening(roll Servo, lid EyelidOverrider, cfg ListeningConfig) *Handle {
	h := newHandle()
	go func() {
		defer close(h.done)
		// Refresh the override each tick so the lid stays up for as long as
		// the animation runs but falls back to auto if the loop dies.
		holdDuration := cfg.TickInterval * 3
		lid.SetOverride(cfg.LidOpenAngleDeg, holdDuration)
		start := time.Now()
		for {
			if h.stopped() {
				break
			}
			elapsed := time.Since(start).Seconds()
			omega := 2 * math.Pi / cfg.RollPeriod.Seconds()
			angle := cfg.RollNeutralDeg + cfg.RollAmplitude*math.Sin(omega*elapsed)
			roll.SetTarget(angle)
			lid.SetOverride(cfg.LidOpenAngleDeg, holdDuration)
			if h.wait(cfg.TickInterval) {
				break
			}
		}
		roll.SetTarget(cfg.RollNeutralDeg)
		lid.SetAuto()
	}()
	return h
}

// ThinkingConfig tunes the thinking animation.
type ThinkingConfig struct {
	EarAltDeg     float64
	EarNeutralDeg float64
	NeckPitchAmp  float64
	NeckPitchMid  float64
	NeckPeriod    time.Duration
	TickInterval  time.Duration
}

// StartThinking alternates the ears and slow-nods the neck pitch, sampled at
// a fixed rate.
func StartThinking(earLeft, earRight, neckPitch Servo, cfg ThinkingConfig) *Handle {
	h := newHandle()
	go func() {
		defer close(h.done)
		start := time.Now()
		toggle := false
		for {
			if h.stopped() {
				break
			}
			elapsed := time.Since(start).Seconds()
			omega := 2 * math.Pi / cfg.NeckPeriod.Seconds()
			neckPitch.SetTarget(cfg.NeckPitchMid + cfg.NeckPitchAmp*math.Sin(omega*elapsed))

			if toggle {
				earLeft.SetTarget(cfg.EarAltDeg)
				earRight.SetTarget(cfg.EarNeutralDeg)
			} else {
				earLeft.SetTarget(cfg.EarNeutralDeg)
				earRight.SetTarget(cfg.EarAltDeg)
			}
			toggle = !toggle

			if h.wait(cfg.TickInterval) {
				break
			}
		}
		earLeft.SetTarget(cfg.EarNeutralDeg)
		earRight.SetTarget(cfg.EarNeutralDeg)
		neckPitch.SetTarget(cfg.NeckPitchMid)
	}()
	return h
}

// TalkingConfig tunes the mouth-flap talking animation.
type TalkingConfig struct {
	ClosedAngleDeg float64
	OpenAngleDeg   float64
	StepInterval   time.Duration
}

// StartTalking drives the mouth between closed and open every step interval
// while TTS plays; the caller stops it on TTS-DONE.
func StartTalking(mouth Servo, cfg TalkingConfig) *Handle {
	h := newHandle()
	go func() {
		defer close(h.done)
		open := false
		for {
			if h.stopped() {
				break
			}
			if open {
				mouth.SetTarget(cfg.OpenAngleDeg)
			} else {
				mouth.SetTarget(cfg.ClosedAngleDeg)
			}
			open = !open
			if h.wait(cfg.StepInterval) {
				break
			}
		}
		mouth.SetTarget(cfg.ClosedAngleDeg)
	}()
	return h
}
