package vad

import (
	"math"
	"testing"
)

func sineFrame(n int, amplitude float64) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := amplitude * math.Sin(float64(i)*0.3)
		s := int16(v * 32767)
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}

func TestIsSpeechTrueForLoudFrame(t *testing.T) {
	d := New(1)
	frame := sineFrame(160, 0.5)
	speech, err := d.IsSpeech(frame, 16000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !speech {
		t.Fatal("expected loud sine frame to classify as speech")
	}
}

func TestIsSpeechFalseForSilence(t *testing.T) {
	d := New(1)
	frame := make([]byte, 320)
	speech, err := d.IsSpeech(frame, 16000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if speech {
		t.Fatal("expected silent frame to classify as non-speech")
	}
}

func TestHigherAggressivenessRaisesThreshold(t *testing.T) {
	quiet := New(0)
	strict := New(3)
	if quiet.threshold >= strict.threshold {
		t.Fatalf("expected aggressiveness to raise the threshold, got quiet=%v strict=%v", quiet.threshold, strict.threshold)
	}
}

func TestClampsOutOfRangeAggressiveness(t *testing.T) {
	if New(-5).threshold != New(0).threshold {
		t.Fatal("expected negative aggressiveness to clamp to 0")
	}
	if New(99).threshold != New(3).threshold {
		t.Fatal("expected out-of-range aggressiveness to clamp to 3")
	}
}
