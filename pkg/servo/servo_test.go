package servo

import (
	"testing"
	"time"
)

type fakeBus struct {
	pulses   map[int]float64
	released map[int]bool
}

func newFakeBus() *fakeBus {
	return &fakeBus{pulses: map[int]float64{}, released: map[int]bool{}}
}

func (f *fakeBus) SetPulseUs(channel int, pulseUs float64, freqHz float64) error {
	f.pulses[channel] = pulseUs
	return nil
}

func (f *fakeBus) Release(channel int) error {
	f.released[channel] = true
	return nil
}

func testConfig() Config {
	return Config{
		MinAngleDeg:   0,
		MaxAngleDeg:   180,
		MinPulseUs:    500,
		MaxPulseUs:    2500,
		MaxSpeedDegS:  100,
		MaxAccelDegS2: 1000,
		DeadzoneDeg:   1,
		NeutralDeg:    90,
		PWMFreqHz:     50,
	}
}

func TestSetTargetClampsAndInverts(t *testing.T) {
	bus := newFakeBus()
	s, err := New("test", 0, testConfig(), bus)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.SetTarget(200)
	if got := s.TargetAngle(); got != 180 {
		t.Fatalf("expected clamp to 180, got %v", got)
	}

	s.SetTarget(-50)
	if got := s.TargetAngle(); got != 0 {
		t.Fatalf("expected clamp to 0, got %v", got)
	}
}

func TestSetTargetInvertedMapsEndpoints(t *testing.T) {
	bus := newFakeBus()
	cfg := testConfig()
	cfg.Invert = true
	s, err := New("test", 0, cfg, bus)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.SetTarget(0)
	if got := s.TargetAngle(); got != 180 {
		t.Fatalf("expected inverted target 180, got %v", got)
	}
	s.SetTarget(180)
	if got := s.TargetAngle(); got != 0 {
		t.Fatalf("expected inverted target 0, got %v", got)
	}
}

func TestSetTargetDeadzoneSuppressesSmallChange(t *testing.T) {
	bus := newFakeBus()
	s, err := New("test", 0, testConfig(), bus)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.SetTarget(90.5) // within 1deg deadzone of initial neutral target 90
	if got := s.TargetAngle(); got != 90 {
		t.Fatalf("expected deadzone no-op leaving target at 90, got %v", got)
	}
}

func TestUpdateConvergesWithoutOvershoot(t *testing.T) {
	bus := newFakeBus()
	s, err := New("test", 0, testConfig(), bus)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.SetTarget(150)

	now := time.Now()
	for i := 0; i < 2000; i++ {
		now = now.Add(10 * time.Millisecond)
		if err := s.Update(now); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	got := s.CurrentAngle()
	if got < 149.9 || got > 150.0001 {
		t.Fatalf("expected convergence to 150, got %v", got)
	}
	if got < s.cfg.MinAngleDeg || got > s.cfg.MaxAngleDeg {
		t.Fatalf("angle escaped bounds: %v", got)
	}
}

func TestUpdateRespectsMaxSpeedAndAccel(t *testing.T) {
	bus := newFakeBus()
	cfg := testConfig()
	cfg.MaxSpeedDegS = 50
	cfg.MaxAccelDegS2 = 100
	s, err := New("test", 0, cfg, bus)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.SetTarget(180)

	now := time.Now()
	s.Update(now) // seed lastTick

	prevVel := 0.0
	dt := 10 * time.Millisecond
	for i := 0; i < 50; i++ {
		now = now.Add(dt)
		if err := s.Update(now); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		s.mu.Lock()
		vel := s.currentVel
		s.mu.Unlock()

		if vel > cfg.MaxSpeedDegS+1e-9 || vel < -cfg.MaxSpeedDegS-1e-9 {
			t.Fatalf("velocity %v exceeded max speed %v", vel, cfg.MaxSpeedDegS)
		}
		delta := vel - prevVel
		maxDelta := cfg.MaxAccelDegS2*dt.Seconds() + 1e-6
		if delta > maxDelta || delta < -maxDelta {
			t.Fatalf("velocity delta %v exceeded accel limit %v", delta, maxDelta)
		}
		prevVel = vel
	}
}

func TestAnglePulseRoundTripAtEndpoints(t *testing.T) {
	bus := newFakeBus()
	cfg := testConfig()
	s, err := New("test", 0, cfg, bus)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.SetTarget(cfg.MinAngleDeg)
	now := time.Now()
	for i := 0; i < 5000; i++ {
		now = now.Add(10 * time.Millisecond)
		s.Update(now)
	}
	if p := bus.pulses[0]; p < cfg.MinPulseUs-0.01 || p > cfg.MinPulseUs+0.01 {
		t.Fatalf("expected pulse near min %v, got %v", cfg.MinPulseUs, p)
	}

	s.SetTarget(cfg.MaxAngleDeg)
	for i := 0; i < 5000; i++ {
		now = now.Add(10 * time.Millisecond)
		s.Update(now)
	}
	if p := bus.pulses[0]; p < cfg.MaxPulseUs-0.01 || p > cfg.MaxPulseUs+0.01 {
		t.Fatalf("expected pulse near max %v, got %v", cfg.MaxPulseUs, p)
	}
}

func TestReleaseCallsBus(t *testing.T) {
	bus := newFakeBus()
	s, err := New("test", 4, testConfig(), bus)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Release(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bus.released[4] {
		t.Fatalf("expected channel 4 released")
	}
}

func TestConfigValidateRejectsBadLimits(t *testing.T) {
	cfg := testConfig()
	cfg.NeutralDeg = 200
	if _, err := New("bad", 0, cfg, newFakeBus()); err == nil {
		t.Fatalf("expected validation error")
	}
}
