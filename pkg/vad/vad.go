// Package vad implements a lightweight, dependency-free RMS energy
// classifier satisfying endpoint.VoiceDetector. The endpoint package owns
// all hysteresis (start windows, hangover, preroll); this detector only
// answers "is this one frame loud enough to be speech".
package vad

import "math"

// aggressivenessThresholds maps the 0-3 VAD_AGGRESSIVENESS dial (louder
// setting == more conservative, matching the WebRTC VAD convention the
// spec's config field name is borrowed from) to an RMS-of-full-scale cutoff.
var aggressivenessThresholds = [4]float64{0.015, 0.025, 0.04, 0.06}

// Detector classifies PCM16 frames by RMS energy against a fixed threshold.
type Detector struct {
	threshold float64
}

// New builds a Detector for the given aggressiveness level (0-3), clamped
// into range.
func New(aggressiveness int) *Detector {
	if aggressiveness < 0 {
		aggressiveness = 0
	}
	if aggressiveness > 3 {
		aggressiveness = 3
	}
	return &Detector{threshold: aggressivenessThresholds[aggressiveness]}
}

// IsSpeech reports whether frame's RMS energy exceeds the configured
// threshold. sampleRate is accepted to satisfy endpoint.VoiceDetector but
// unused: RMS energy doesn't depend on the sample rate, only the bit depth.
func (d *Detector) IsSpeech(frame []byte, sampleRate int) (bool, error) {
	return rms(frame) > d.threshold, nil
}

func rms(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sumSq float64
	for i := 0; i < n; i++ {
		sample := int16(uint16(frame[2*i]) | uint16(frame[2*i+1])<<8)
		v := float64(sample) / 32768.0
		sumSq += v * v
	}
	return math.Sqrt(sumSq / float64(n))
}
