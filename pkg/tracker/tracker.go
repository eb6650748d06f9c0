// Package tracker drives the eyes, neck pitch/yaw, and wheels to follow the
// highest-score detection reported by the vision client, returning to
// neutral when detections are lost.
package tracker

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wrenhollow/companion-core/pkg/vision"
)

// Servo is the subset of servo.Servo the tracker needs.
type Servo interface {
	SetTarget(angle float64)
	CurrentAngle() float64
}

// VisionClient is the subset of vision.Client the tracker needs.
type VisionClient interface {
	InvokeOnce(timeout time.Duration) ([]vision.Detection, error)
}

// Config holds every gain/deadzone/clamp/interval the tracker needs.
type Config struct {
	UpdateInterval   time.Duration
	InvokeInterval   time.Duration
	InvokeTimeout    time.Duration
	NeutralTimeout   time.Duration
	FrameWidth       float64
	FrameHeight      float64
	CoordinatesAreCenter bool

	EyeNeutralDeg    float64
	EyeDeadzonePx    float64
	EyeGainDegPerPx  float64
	EyeMaxDeltaDeg   float64
	EyeLeftInvert    bool
	EyeRightInvert   bool

	PitchNeutralDeg   float64
	PitchDeadzonePx   float64
	PitchGainDegPerPx float64
	PitchMaxDeltaDeg  float64

	YawEnabled       bool
	YawNeutralDeg    float64
	YawDeadzonePx    float64
	YawGainDegPerPx  float64
	YawMaxDeltaDeg   float64

	WheelNeutralDeg   float64
	WheelDeadzoneDeg  float64
	WheelFollowDelay  time.Duration
	WheelInputMin     float64
	WheelInputMax     float64
	WheelPower        float64
	WheelOutputMin    float64
	WheelOutputMax    float64
	WheelLeftInvert   bool
	WheelRightInvert  bool

	VisionFailureStreak int // consecutive InvokeOnce errors at which the missing-detection branch runs
}

// Tracker runs the face-tracking loop in its own goroutine.
type Tracker struct {
	cfg    Config
	client VisionClient

	eyeLeft, eyeRight Servo
	pitch             Servo
	yaw               Servo // may be nil when YawEnabled is false
	wheelLeft, wheelRight Servo

	enabled atomic.Bool

	mu              sync.Mutex
	lastInvoke      time.Time
	lastDetection   time.Time
	deviationSince  time.Time
	hasDeviation    bool
	failureStreak   int

	stop chan struct{}
	done chan struct{}
}

// Deps bundles the servos the tracker drives; Yaw is optional.
type Deps struct {
	EyeLeft, EyeRight     Servo
	Pitch                 Servo
	Yaw                   Servo
	WheelLeft, WheelRight Servo
}

// New creates a Tracker. Call Run in its own goroutine.
func New(client VisionClient, deps Deps, cfg Config) *Tracker {
	t := &Tracker{
		cfg:       cfg,
		client:    client,
		eyeLeft:   deps.EyeLeft,
		eyeRight:  deps.EyeRight,
		pitch:     deps.Pitch,
		yaw:       deps.Yaw,
		wheelLeft: deps.WheelLeft,
		wheelRight: deps.WheelRight,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	t.enabled.Store(true)
	t.lastDetection = time.Now()
	return t
}

// SetEnabled toggles tracking without stopping the loop; when disabled, the
// loop still ticks but skips invocation and servo writes.
func (t *Tracker) SetEnabled(on bool) {
	t.enabled.Store(on)
}

// Stop halts the loop and waits for it to exit.
func (t *Tracker) Stop() {
	close(t.stop)
	<-t.done
}

// Run executes the tracking loop until Stop is called.
func (t *Tracker) Run() {
	defer close(t.done)
	for {
		select {
		case <-t.stop:
			return
		case <-time.After(t.cfg.UpdateInterval):
		}

		if !t.enabled.Load() {
			continue
		}

		t.mu.Lock()
		sinceInvoke := time.Since(t.lastInvoke)
		t.mu.Unlock()
		if sinceInvoke < t.cfg.InvokeInterval {
			continue
		}

		dets, err := t.client.InvokeOnce(t.cfg.InvokeTimeout)
		t.mu.Lock()
		t.lastInvoke = time.Now()
		t.mu.Unlock()

		if err != nil {
			t.mu.Lock()
			t.failureStreak++
			streak := t.failureStreak
			t.mu.Unlock()
			if streak >= t.cfg.VisionFailureStreak {
				t.handleMissingDetection()
			}
			continue
		}
		t.mu.Lock()
		t.failureStreak = 0
		t.mu.Unlock()

		if len(dets) == 0 {
			t.handleMissingDetection()
			continue
		}

		t.handleDetection(bestDetection(dets))
	}
}

func bestDetection(dets []vision.Detection) vision.Detection {
	best := dets[0]
	for _, d := range dets[1:] {
		if d.Score > best.Score {
			best = d
		}
	}
	return best
}

func (t *Tracker) handleMissingDetection() {
	t.mu.Lock()
	since := time.Since(t.lastDetection)
	t.mu.Unlock()
	if since <= t.cfg.NeutralTimeout {
		return
	}
	t.eyeLeft.SetTarget(t.cfg.EyeNeutralDeg)
	t.eyeRight.SetTarget(t.cfg.EyeNeutralDeg)
	t.pitch.SetTarget(t.cfg.PitchNeutralDeg)
	if t.cfg.YawEnabled && t.yaw != nil {
		t.yaw.SetTarget(t.cfg.YawNeutralDeg)
	}
	t.wheelLeft.SetTarget(t.cfg.WheelNeutralDeg)
	t.wheelRight.SetTarget(t.cfg.WheelNeutralDeg)
	t.mu.Lock()
	t.hasDeviation = false
	t.mu.Unlock()
}

func (t *Tracker) handleDetection(d vision.Detection) {
	t.mu.Lock()
	t.lastDetection = time.Now()
	t.mu.Unlock()

	var cx, cy float64
	if t.cfg.CoordinatesAreCenter {
		cx, cy = d.CenterX, d.CenterY
	} else {
		cx, cy = d.X, d.Y
	}
	ex := cx - t.cfg.FrameWidth/2
	ey := cy - t.cfg.FrameHeight/2

	eyeTarget := t.cfg.EyeNeutralDeg
	if math.Abs(ex) > t.cfg.EyeDeadzonePx {
		delta := clamp(ex*t.cfg.EyeGainDegPerPx, -t.cfg.EyeMaxDeltaDeg, t.cfg.EyeMaxDeltaDeg)
		eyeTarget = t.cfg.EyeNeutralDeg + delta
		leftTarget, rightTarget := eyeTarget, eyeTarget
		if t.cfg.EyeLeftInvert {
			leftTarget = t.cfg.EyeNeutralDeg - delta
		}
		if t.cfg.EyeRightInvert {
			rightTarget = t.cfg.EyeNeutralDeg - delta
		}
		t.eyeLeft.SetTarget(leftTarget)
		t.eyeRight.SetTarget(rightTarget)
	}

	if math.Abs(ey) > t.cfg.PitchDeadzonePx {
		delta := clamp(ey*t.cfg.PitchGainDegPerPx, -t.cfg.PitchMaxDeltaDeg, t.cfg.PitchMaxDeltaDeg)
		t.pitch.SetTarget(t.cfg.PitchNeutralDeg + delta)
	}

	if t.cfg.YawEnabled && t.yaw != nil && math.Abs(ex) > t.cfg.YawDeadzonePx {
		delta := clamp(ex*t.cfg.YawGainDegPerPx, -t.cfg.YawMaxDeltaDeg, t.cfg.YawMaxDeltaDeg)
		t.yaw.SetTarget(t.cfg.YawNeutralDeg + delta)
	}

	t.updateWheelFollow(eyeTarget)
}

// updateWheelFollow implements the non-linear wheel remap, keyed off the
// deviation of the current (post-update) eye angle from neutral.
func (t *Tracker) updateWheelFollow(eyeTarget float64) {
	dev := math.Abs(t.eyeLeft.CurrentAngle() - t.cfg.EyeNeutralDeg)

	if dev < t.cfg.WheelDeadzoneDeg {
		t.mu.Lock()
		t.hasDeviation = false
		t.mu.Unlock()
		t.wheelLeft.SetTarget(t.cfg.WheelNeutralDeg)
		t.wheelRight.SetTarget(t.cfg.WheelNeutralDeg)
		return
	}

	t.mu.Lock()
	if !t.hasDeviation {
		t.hasDeviation = true
		t.deviationSince = time.Now()
	}
	elapsed := time.Since(t.deviationSince)
	t.mu.Unlock()

	if elapsed < t.cfg.WheelFollowDelay {
		return
	}

	u := clamp((dev-t.cfg.WheelInputMin)/(t.cfg.WheelInputMax-t.cfg.WheelInputMin), 0, 1)
	v := math.Pow(u, t.cfg.WheelPower)
	magnitude := t.cfg.WheelOutputMin + v*(t.cfg.WheelOutputMax-t.cfg.WheelOutputMin)

	sign := 1.0
	if eyeTarget < t.cfg.EyeNeutralDeg {
		sign = -1.0
	}
	target := t.cfg.WheelNeutralDeg + sign*magnitude

	leftTarget, rightTarget := target, target
	if t.cfg.WheelLeftInvert {
		leftTarget = t.cfg.WheelNeutralDeg - sign*magnitude
	}
	if t.cfg.WheelRightInvert {
		rightTarget = t.cfg.WheelNeutralDeg - sign*magnitude
	}
	t.wheelLeft.SetTarget(leftTarget)
	t.wheelRight.SetTarget(rightTarget)
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
