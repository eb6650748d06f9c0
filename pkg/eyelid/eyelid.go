// Package eyelid runs the autonomous blink loop for the lid servo and
// exposes an override API used by listening animations to hold the lid
// open or closed for a bounded duration.
package eyelid

import (
	"math/rand"
	"sync"
	"time"
)

// Mode is the controller's current behavior.
type Mode int

const (
	Auto Mode = iota
	Hold
	Closed
	Sleep
)

func (m Mode) String() string {
	switch m {
	case Auto:
		return "auto"
	case Hold:
		return "hold"
	case Closed:
		return "closed"
	case Sleep:
		return "sleep"
	default:
		return "unknown"
	}
}

// Servo is the subset of servo.Servo the controller needs.
type Servo interface {
	SetTarget(angle float64)
}

// Config tunes blink timing and travel angles.
type Config struct {
	OpenAngleDeg  float64
	MinAngleDeg   float64
	MaxAngleDeg   float64
	BlinkMinS     float64
	BlinkMaxS     float64
	BlinkCloseS   float64
	BlinkHoldS    float64
	BlinkOpenS    float64
}

func (c Config) closedAngle() float64 {
	angle := c.OpenAngleDeg - 60
	if angle < c.MinAngleDeg {
		return c.MinAngleDeg
	}
	if angle > c.MaxAngleDeg {
		return c.MaxAngleDeg
	}
	return angle
}

// Controller owns a lid servo and the goroutine that autonomously blinks it.
type Controller struct {
	servo Servo
	cfg   Config
	rng   *rand.Rand

	mu           sync.Mutex
	mode         Mode
	holdAngle    float64
	sleepFrac    float64
	overrideUntil time.Time

	stop chan struct{}
	done chan struct{}
}

// New creates a Controller in Auto mode. Call Run in its own goroutine.
func New(s Servo, cfg Config, seed int64) *Controller {
	return &Controller{
		servo: s,
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(seed)),
		mode:  Auto,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Run executes the blink loop until Stop is called. Intended to run as its
// own goroutine ("own thread" per the spec).
func (c *Controller) Run() {
	defer close(c.done)
	for {
		if c.stopped() {
			return
		}

		c.applyCurrentMode()

		interval := c.nextBlinkInterval()
		if c.sleepUntil(interval) {
			return
		}

		if c.currentMode() != Auto {
			continue
		}
		if c.blinkOnce() {
			return
		}
	}
}

// Stop halts the loop and drives the lid to Closed regardless of prior
// state, per the terminal-shutdown invariant.
func (c *Controller) Stop() {
	close(c.stop)
	<-c.done
	c.mu.Lock()
	c.mode = Closed
	c.mu.Unlock()
	c.servo.SetTarget(c.cfg.closedAngle())
}

// SetOverride suspends autonomous blinking, holds the lid at angle, and
// resumes Auto after duration elapses.
func (c *Controller) SetOverride(angle float64, duration time.Duration) {
	c.mu.Lock()
	c.mode = Hold
	c.holdAngle = angle
	c.overrideUntil = time.Now().Add(duration)
	c.mu.Unlock()
	c.servo.SetTarget(angle)
}

// SetClosed forces the closed pose until explicitly changed.
func (c *Controller) SetClosed() {
	c.mu.Lock()
	c.mode = Closed
	c.mu.Unlock()
	c.servo.SetTarget(c.cfg.closedAngle())
}

// SetSleep holds a fractional position between open (f=0) and closed (f=1).
func (c *Controller) SetSleep(f float64) {
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	c.mu.Lock()
	c.mode = Sleep
	c.sleepFrac = f
	c.mu.Unlock()
	angle := c.cfg.OpenAngleDeg + f*(c.cfg.closedAngle()-c.cfg.OpenAngleDeg)
	c.servo.SetTarget(angle)
}

// SetAuto resumes autonomous blinking immediately.
func (c *Controller) SetAuto() {
	c.mu.Lock()
	c.mode = Auto
	c.mu.Unlock()
}

// CurrentMode reports the controller's mode (for tests/diagnostics).
func (c *Controller) CurrentMode() Mode {
	return c.currentMode()
}

func (c *Controller) currentMode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// applyCurrentMode resumes Auto if a Hold override has expired. The target
// for the current mode is driven afterwards by sleepUntil.
func (c *Controller) applyCurrentMode() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == Hold && time.Now().After(c.overrideUntil) {
		c.mode = Auto
	}
}

func (c *Controller) nextBlinkInterval() time.Duration {
	span := c.cfg.BlinkMaxS - c.cfg.BlinkMinS
	secs := c.cfg.BlinkMinS
	if span > 0 {
		secs += c.rng.Float64() * span
	}
	return time.Duration(secs * float64(time.Second))
}

// sleepUntil parks the lid at the mode-appropriate pose and waits out
// interval (or the stop signal). Returns true if stopped.
func (c *Controller) sleepUntil(interval time.Duration) bool {
	switch c.currentMode() {
	case Auto:
		c.servo.SetTarget(c.cfg.OpenAngleDeg)
	case Closed:
		c.servo.SetTarget(c.cfg.closedAngle())
	case Sleep:
		c.mu.Lock()
		f := c.sleepFrac
		c.mu.Unlock()
		c.servo.SetTarget(c.cfg.OpenAngleDeg + f*(c.cfg.closedAngle()-c.cfg.OpenAngleDeg))
	case Hold:
		c.mu.Lock()
		angle := c.holdAngle
		c.mu.Unlock()
		c.servo.SetTarget(angle)
	}

	select {
	case <-c.stop:
		return true
	case <-time.After(interval):
		return false
	}
}

// blinkOnce drives close -> hold -> open. Returns true if stopped mid-blink.
func (c *Controller) blinkOnce() bool {
	c.servo.SetTarget(c.cfg.closedAngle())
	if c.wait(time.Duration(c.cfg.BlinkCloseS * float64(time.Second))) {
		return true
	}
	if c.wait(time.Duration(c.cfg.BlinkHoldS * float64(time.Second))) {
		return true
	}
	c.servo.SetTarget(c.cfg.OpenAngleDeg)
	return c.wait(time.Duration(c.cfg.BlinkOpenS * float64(time.Second)))
}

func (c *Controller) wait(d time.Duration) bool {
	select {
	case <-c.stop:
		return true
	case <-time.After(d):
		return false
	}
}

func (c *Controller) stopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}
