package servo

import (
	"math"
	"sync"
	"time"
)

// Bus is the subset of pwm.Bus a Servo needs. Declared locally so this
// package doesn't import pwm just to type a parameter — any hardware or
// fake backend that can set a pulse width and release a channel works.
type Bus interface {
	SetPulseUs(channel int, pulseUs float64, freqHz float64) error
	Release(channel int) error
}

// Servo wraps one PWM channel with a motion-profile limiter: speed and
// acceleration caps, a deadzone, inversion, and hard angle limits. All
// writes for a given Servo are serialized through Update, and all Servos on
// the same Bus share that Bus's internal mutex for the actual hardware
// write.
type Servo struct {
	name    string
	channel int
	cfg     Config
	bus     Bus

	mu           sync.Mutex
	currentAngle float64
	currentVel   float64
	targetAngle  float64
	lastTick     time.Time
}

// New creates a Servo parked at its configured neutral angle.
func New(name string, channel int, cfg Config, bus Bus) (*Servo, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Servo{
		name:         name,
		channel:      channel,
		cfg:          cfg,
		bus:          bus,
		currentAngle: cfg.NeutralDeg,
		targetAngle:  cfg.NeutralDeg,
		lastTick:     time.Time{},
	}, nil
}

// Name returns the servo's registry handle.
func (s *Servo) Name() string { return s.name }

// Channel returns the PWM channel this servo drives.
func (s *Servo) Channel() int { return s.channel }

// Config returns a copy of the servo's static configuration.
func (s *Servo) Config() Config { return s.cfg }

// CurrentAngle returns the last integrated angle.
func (s *Servo) CurrentAngle() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentAngle
}

// TargetAngle returns the currently commanded target.
func (s *Servo) TargetAngle() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targetAngle
}

// SetTarget clamps the requested angle to [min,max], applies inversion, and
// rejects changes smaller than the configured deadzone (no-op, state
// preserved).
func (s *Servo) SetTarget(angle float64) {
	clamped := clamp(angle, s.cfg.MinAngleDeg, s.cfg.MaxAngleDeg)
	if s.cfg.Invert {
		clamped = s.cfg.MaxAngleDeg + s.cfg.MinAngleDeg - clamped
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if math.Abs(clamped-s.targetAngle) < s.cfg.DeadzoneDeg {
		return
	}
	s.targetAngle = clamped
}

// Update advances the motion profile by dt = now - lastTick and writes the
// resulting pulse width to the bus. The first call after construction seeds
// lastTick and performs no motion (dt is undefined without a prior sample).
func (s *Servo) Update(now time.Time) error {
	s.mu.Lock()
	if s.lastTick.IsZero() {
		s.lastTick = now
		angle := s.currentAngle
		s.mu.Unlock()
		return s.writePulse(angle)
	}

	dt := now.Sub(s.lastTick).Seconds()
	if dt <= 0 {
		angle := s.currentAngle
		s.mu.Unlock()
		return s.writePulse(angle)
	}
	s.lastTick = now

	e := s.targetAngle - s.currentAngle
	desired := 0.0
	if e != 0 {
		desired = sign(e) * math.Min(math.Abs(e)/dt, s.cfg.MaxSpeedDegS)
	}

	maxDelta := s.cfg.MaxAccelDegS2 * dt
	velDelta := clamp(desired-s.currentVel, -maxDelta, maxDelta)
	s.currentVel = clamp(s.currentVel+velDelta, -s.cfg.MaxSpeedDegS, s.cfg.MaxSpeedDegS)

	s.currentAngle = clamp(s.currentAngle+s.currentVel*dt, s.cfg.MinAngleDeg, s.cfg.MaxAngleDeg)
	angle := s.currentAngle
	s.mu.Unlock()

	return s.writePulse(angle)
}

// Release stops issuing pulses for this servo's channel.
func (s *Servo) Release() error {
	return s.bus.Release(s.channel)
}

func (s *Servo) writePulse(angle float64) error {
	span := s.cfg.MaxAngleDeg - s.cfg.MinAngleDeg
	frac := 0.0
	if span > 0 {
		frac = (angle - s.cfg.MinAngleDeg) / span
	}
	pulse := s.cfg.MinPulseUs + frac*(s.cfg.MaxPulseUs-s.cfg.MinPulseUs)
	return s.bus.SetPulseUs(s.channel, pulse, s.cfg.PWMFreqHz)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func sign(v float64) float64 {
	if v > 0 {
		return 1
	}
	if v < 0 {
		return -1
	}
	return 0
}
