package main

import (
	"sync"
	"time"

	"github.com/wrenhollow/companion-core/pkg/animation"
)

// animationTiming holds the hand-tuned periods and step sizes for the three
// per-state animations; not exposed via config since they're cosmetic, not
// operational, knobs.
type animationTiming struct {
	listening animation.ListeningConfig
	thinking  animation.ThinkingConfig
	talking   animation.TalkingConfig
}

func defaultAnimationTiming(eyelidOpenDeg float64) animationTiming {
	return animationTiming{
		listening: animation.ListeningConfig{
			RollNeutralDeg:  90,
			RollAmplitude:   6,
			RollPeriod:      2 * time.Second,
			TickInterval:    50 * time.Millisecond,
			LidOpenAngleDeg: eyelidOpenDeg,
		},
		thinking: animation.ThinkingConfig{
			EarAltDeg:     60,
			EarNeutralDeg: 90,
			NeckPitchAmp:  8,
			NeckPitchMid:  90,
			NeckPeriod:    3 * time.Second,
			TickInterval:  80 * time.Millisecond,
		},
		talking: animation.TalkingConfig{
			ClosedAngleDeg: 90,
			OpenAngleDeg:   130,
			StepInterval:   120 * time.Millisecond,
		},
	}
}

// servoAnimator adapts the animation package's free-function, Handle-based
// loops into the single stateful dialogue.Animator the controller drives:
// at most one animation handle is live at a time, and StartX implicitly
// stops whatever ran before it.
type servoAnimator struct {
	mu     sync.Mutex
	active *animation.Handle

	cfg animationTiming

	roll              animation.Servo
	lid               animation.EyelidOverrider
	earLeft, earRight animation.Servo
	neckPitch         animation.Servo
	mouth             animation.Servo
}

func newServoAnimator(cfg animationTiming, roll, earLeft, earRight, neckPitch, mouth animation.Servo, lid animation.EyelidOverrider) *servoAnimator {
	return &servoAnimator{
		cfg:       cfg,
		roll:      roll,
		lid:       lid,
		earLeft:   earLeft,
		earRight:  earRight,
		neckPitch: neckPitch,
		mouth:     mouth,
	}
}

func (a *servoAnimator) stopLocked() {
	if a.active != nil {
		a.active.Stop()
		a.active = nil
	}
}

func (a *servoAnimator) StartListening() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
	a.active = animation.StartListening(a.roll, a.lid, a.cfg.listening)
}

func (a *servoAnimator) StartThinking() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
	a.active = animation.StartThinking(a.earLeft, a.earRight, a.neckPitch, a.cfg.thinking)
}

func (a *servoAnimator) StartTalking() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
	a.active = animation.StartTalking(a.mouth, a.cfg.talking)
}

func (a *servoAnimator) StopAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
}
