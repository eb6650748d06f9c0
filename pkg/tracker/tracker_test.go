package tracker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wrenhollow/companion-core/pkg/vision"
)

type fakeServo struct {
	mu      sync.Mutex
	targets []float64
	current float64
}

func newFakeServo(initial float64) *fakeServo {
	return &fakeServo{current: initial}
}

func (f *fakeServo) SetTarget(angle float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, angle)
	f.current = angle
}

func (f *fakeServo) CurrentAngle() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeServo) last() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.targets) == 0 {
		return -1
	}
	return f.targets[len(f.targets)-1]
}

type fakeVision struct {
	mu    sync.Mutex
	dets  []vision.Detection
	err   error
	calls int
}

func (f *fakeVision) InvokeOnce(timeout time.Duration) ([]vision.Detection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.dets, nil
}

func baseConfig() Config {
	return Config{
		UpdateInterval:       2 * time.Millisecond,
		InvokeInterval:       0,
		InvokeTimeout:        10 * time.Millisecond,
		NeutralTimeout:       5 * time.Millisecond,
		FrameWidth:           640,
		FrameHeight:          480,
		CoordinatesAreCenter: true,

		EyeNeutralDeg:   90,
		EyeDeadzonePx:   10,
		EyeGainDegPerPx: 0.05,
		EyeMaxDeltaDeg:  30,

		PitchNeutralDeg:   90,
		PitchDeadzonePx:   10,
		PitchGainDegPerPx: 0.05,
		PitchMaxDeltaDeg:  20,

		YawEnabled: false,

		WheelNeutralDeg:  90,
		WheelDeadzoneDeg: 5,
		WheelFollowDelay: 0,
		WheelInputMin:    5,
		WheelInputMax:    30,
		WheelPower:       1.5,
		WheelOutputMin:   0,
		WheelOutputMax:   40,

		VisionFailureStreak: 3,
	}
}

func newTestTracker(client VisionClient, cfg Config) (*Tracker, Deps) {
	deps := Deps{
		EyeLeft:    newFakeServo(cfg.EyeNeutralDeg),
		EyeRight:   newFakeServo(cfg.EyeNeutralDeg),
		Pitch:      newFakeServo(cfg.PitchNeutralDeg),
		WheelLeft:  newFakeServo(cfg.WheelNeutralDeg),
		WheelRight: newFakeServo(cfg.WheelNeutralDeg),
	}
	tr := New(client, deps, cfg)
	return tr, deps
}

func TestTrackerFollowsHighestScoreDetection(t *testing.T) {
	cfg := baseConfig()
	fv := &fakeVision{dets: []vision.Detection{
		{Score: 0.5, CenterX: 340, CenterY: 240},
		{Score: 0.9, CenterX: 440, CenterY: 240}, // ex=120
	}}
	tr, deps := newTestTracker(fv, cfg)
	go tr.Run()
	time.Sleep(20 * time.Millisecond)
	tr.Stop()

	el := deps.EyeLeft.(*fakeServo).last()
	if el <= cfg.EyeNeutralDeg {
		t.Fatalf("expected eye to move right of neutral, got %v", el)
	}
}

func TestTrackerReturnsToNeutralAfterTimeoutOnLoss(t *testing.T) {
	cfg := baseConfig()
	fv := &fakeVision{dets: nil}
	tr, deps := newTestTracker(fv, cfg)
	el := deps.EyeLeft.(*fakeServo)
	el.SetTarget(120) // simulate prior deviation

	go tr.Run()
	time.Sleep(30 * time.Millisecond)
	tr.Stop()

	if got := el.last(); got != cfg.EyeNeutralDeg {
		t.Fatalf("expected eye reset to neutral %v, got %v", cfg.EyeNeutralDeg, got)
	}
}

func TestTrackerDegradesAfterFailureStreak(t *testing.T) {
	cfg := baseConfig()
	cfg.VisionFailureStreak = 2
	cfg.NeutralTimeout = 0
	fv := &fakeVision{err: errors.New("serial timeout")}
	tr, deps := newTestTracker(fv, cfg)
	deps.EyeLeft.(*fakeServo).SetTarget(150)

	go tr.Run()
	time.Sleep(20 * time.Millisecond)
	tr.Stop()

	if fv.calls < 2 {
		t.Fatalf("expected at least 2 invoke attempts, got %d", fv.calls)
	}
	if got := deps.EyeLeft.(*fakeServo).last(); got != cfg.EyeNeutralDeg {
		t.Fatalf("expected degrade to neutral after failure streak, got %v", got)
	}
}

func TestSetEnabledFalseSkipsTracking(t *testing.T) {
	cfg := baseConfig()
	fv := &fakeVision{dets: []vision.Detection{{Score: 1, CenterX: 440, CenterY: 240}}}
	tr, _ := newTestTracker(fv, cfg)
	tr.SetEnabled(false)

	go tr.Run()
	time.Sleep(20 * time.Millisecond)
	tr.Stop()

	if fv.calls != 0 {
		t.Fatalf("expected no invoke calls while disabled, got %d", fv.calls)
	}
}
