// Package calibration loads the per-channel calibration overlay that tightens
// a servo's configured limits at startup and supplies its launch/shutdown
// neutral angles.
package calibration

import (
	"encoding/json"
	"fmt"
	"os"
)

// Entry is one channel's calibration overlay. A nil field means "no
// override" for that field in Overlay.Tighten, StartAngle and StopAngle.
type Entry struct {
	MinDeg   *float64 `json:"min_deg,omitempty"`
	MaxDeg   *float64 `json:"max_deg,omitempty"`
	StartDeg *float64 `json:"start_deg,omitempty"`
	StopDeg  *float64 `json:"stop_deg,omitempty"`
}

// Overlay maps a PWM channel to its calibration entry.
type Overlay map[int]Entry

// Load reads a JSON file mapping channel -> {min_deg, max_deg, start_deg,
// stop_deg}. A missing file is not an error; it yields an empty overlay so
// startup proceeds with the layout's built-in defaults.
func Load(path string) (Overlay, error) {
	if path == "" {
		return Overlay{}, nil
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Overlay{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("calibration: reading %s: %w", path, err)
	}

	var byString map[string]Entry
	if err := json.Unmarshal(raw, &byString); err != nil {
		return nil, fmt.Errorf("calibration: parsing %s: %w", path, err)
	}

	overlay := make(Overlay, len(byString))
	for k, v := range byString {
		var channel int
		if _, err := fmt.Sscanf(k, "%d", &channel); err != nil {
			return nil, fmt.Errorf("calibration: invalid channel key %q: %w", k, err)
		}
		overlay[channel] = v
	}
	return overlay, nil
}

// Tighten narrows [min,max] for the given channel using the overlay, never
// widening the caller's configured limits. It returns the (possibly
// unchanged) bounds.
func (o Overlay) Tighten(channel int, min, max float64) (float64, float64) {
	entry, ok := o[channel]
	if !ok {
		return min, max
	}
	if entry.MinDeg != nil && *entry.MinDeg > min {
		min = *entry.MinDeg
	}
	if entry.MaxDeg != nil && *entry.MaxDeg < max {
		max = *entry.MaxDeg
	}
	return min, max
}

// StartAngle returns the launch neutral for channel, or ok=false if the
// overlay doesn't specify one.
func (o Overlay) StartAngle(channel int) (float64, bool) {
	entry, ok := o[channel]
	if !ok || entry.StartDeg == nil {
		return 0, false
	}
	return *entry.StartDeg, true
}

// StopAngle returns the shutdown neutral for channel, or ok=false if the
// overlay doesn't specify one.
func (o Overlay) StopAngle(channel int) (float64, bool) {
	entry, ok := o[channel]
	if !ok || entry.StopDeg == nil {
		return 0, false
	}
	return *entry.StopDeg, true
}
