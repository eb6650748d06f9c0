package servo

import "github.com/wrenhollow/companion-core/pkg/calibration"

// Handle names the fixed physical actuators, mechanically bound to channels
// 0-9 in this order.
const (
	EyeLeft    = "EYL"
	EyeRight   = "EYR"
	Eyelid     = "LID"
	NeckPitch  = "NPT"
	NeckRoll   = "NRL"
	Mouth      = "MOU"
	EarLeft    = "EAL"
	EarRight   = "EAR"
	WheelLeft  = "LWH"
	WheelRight = "RWH"
)

// layoutEntry pairs a handle with its channel and default configuration.
type layoutEntry struct {
	name    string
	channel int
	cfg     Config
}

// DefaultLayout returns the fixed mechanical layout with baseline servo
// configs. Angles are in the conventional [0,180] hobby-servo range; callers
// tune per-deployment via the calibration overlay, not by editing this list.
func DefaultLayout() []layoutEntry {
	base := Config{
		MinAngleDeg:   0,
		MaxAngleDeg:   180,
		MinPulseUs:    500,
		MaxPulseUs:    2500,
		MaxSpeedDegS:  240,
		MaxAccelDegS2: 720,
		DeadzoneDeg:   0.5,
		NeutralDeg:    90,
		PWMFreqHz:     50,
	}

	entry := func(name string, channel int, tweak func(c *Config)) layoutEntry {
		c := base
		if tweak != nil {
			tweak(&c)
		}
		return layoutEntry{name: name, channel: channel, cfg: c}
	}

	return []layoutEntry{
		entry(EyeLeft, 0, nil),
		entry(EyeRight, 1, func(c *Config) { c.Invert = true }),
		entry(Eyelid, 2, func(c *Config) { c.MaxSpeedDegS = 480; c.MaxAccelDegS2 = 1800 }),
		entry(NeckPitch, 3, func(c *Config) { c.MaxSpeedDegS = 90 }),
		entry(NeckRoll, 4, func(c *Config) { c.MaxSpeedDegS = 60 }),
		entry(Mouth, 5, func(c *Config) { c.MaxSpeedDegS = 360; c.MaxAccelDegS2 = 1440 }),
		entry(EarLeft, 6, nil),
		entry(EarRight, 7, func(c *Config) { c.Invert = true }),
		entry(WheelLeft, 8, func(c *Config) { c.MaxSpeedDegS = 120; c.DeadzoneDeg = 2 }),
		entry(WheelRight, 9, func(c *Config) { c.MaxSpeedDegS = 120; c.DeadzoneDeg = 2; c.Invert = true }),
	}
}

// BuildRegistry assembles a Registry from the fixed layout, tightening each
// channel's limits with the calibration overlay (never widening them) before
// registering.
func BuildRegistry(bus Bus, overlay calibration.Overlay) (*Registry, error) {
	reg := NewRegistry()
	for _, e := range DefaultLayout() {
		cfg := e.cfg
		cfg.MinAngleDeg, cfg.MaxAngleDeg = overlay.Tighten(e.channel, cfg.MinAngleDeg, cfg.MaxAngleDeg)
		if start, ok := overlay.StartAngle(e.channel); ok {
			cfg.NeutralDeg = clamp(start, cfg.MinAngleDeg, cfg.MaxAngleDeg)
		}
		if _, err := reg.Register(e.name, e.channel, cfg, bus); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// StopAngle returns the calibrated shutdown neutral for a channel, falling
// back to the servo's configured neutral when the overlay has none.
func StopAngle(overlay calibration.Overlay, s *Servo) float64 {
	if stop, ok := overlay.StopAngle(s.Channel()); ok {
		return clamp(stop, s.cfg.MinAngleDeg, s.cfg.MaxAngleDeg)
	}
	return s.cfg.NeutralDeg
}
