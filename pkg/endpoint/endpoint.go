// Package endpoint wraps an audio source with voice-activity endpointing:
// majority-vote start detection, hangover-based end detection, a preroll
// buffer, and absolute guards and caps.
package endpoint

import (
	"errors"
	"time"
)

// Reason is the outcome of a Record call. Exceptions for control flow are
// replaced by this enumerated sum type.
type Reason int

const (
	SpeechEnded Reason = iota
	NoSpeech
	MaxUtterance
	Cancelled
)

func (r Reason) String() string {
	switch r {
	case SpeechEnded:
		return "speech_ended"
	case NoSpeech:
		return "no_speech"
	case MaxUtterance:
		return "max_utterance"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ErrEndpoint wraps I/O failures from the underlying frame source.
var ErrEndpoint = errors.New("endpoint: error")

// FrameSource reads exactly frame_bytes of PCM16 little-endian audio per call.
type FrameSource interface {
	ReadBytes(n int) ([]byte, error)
}

// VoiceDetector classifies a single frame as speech or not, at the
// configured aggressiveness.
type VoiceDetector interface {
	IsSpeech(frame []byte, sampleRate int) (bool, error)
}

// Config sizes the endpoint per the spec's constructor formulas.
type Config struct {
	SampleRate      int
	FrameMs         int
	StartWin        int
	StartMin        int
	StartConsecMin  int
	EndHangMs       int
	EndGuardMs      int
	PrerollMs       int
	VADAggressiveness int
	MaxUtterS       float64
}

func (c Config) frameSamples() int  { return c.SampleRate * c.FrameMs / 1000 }
func (c Config) frameBytes() int    { return 2 * c.frameSamples() }
func (c Config) hangFrames() int {
	n := c.EndHangMs / c.FrameMs
	if c.EndHangMs%c.FrameMs != 0 {
		n++
	}
	return n
}
func (c Config) prerollFrames() int { return c.PrerollMs / c.FrameMs }
func (c Config) endGuard() time.Duration { return time.Duration(c.EndGuardMs) * time.Millisecond }

// Endpoint wraps a FrameSource with VAD-driven utterance endpointing.
type Endpoint struct {
	src          FrameSource
	vad          VoiceDetector
	cfg          Config
	maxUtterance time.Duration
	stop         chan struct{}
}

// New creates an Endpoint. Cancel can be called at any time (including
// before Record) to abort the in-flight or next Record call.
func New(src FrameSource, vad VoiceDetector, cfg Config) *Endpoint {
	return &Endpoint{
		src:          src,
		vad:          vad,
		cfg:          cfg,
		maxUtterance: time.Duration(cfg.MaxUtterS * float64(time.Second)),
		stop:         make(chan struct{}, 1),
	}
}

// Cancel aborts the current or next Record call with reason Cancelled.
func (e *Endpoint) Cancel() {
	select {
	case e.stop <- struct{}{}:
	default:
	}
}

type ringBuffer struct {
	frames   [][]byte
	capacity int
	next     int
	full     bool
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ringBuffer{frames: make([][]byte, capacity), capacity: capacity}
}

func (r *ringBuffer) push(f []byte) {
	r.frames[r.next] = f
	r.next = (r.next + 1) % r.capacity
	if r.next == 0 {
		r.full = true
	}
}

// ordered returns the buffered frames oldest-first.
func (r *ringBuffer) ordered() [][]byte {
	if !r.full {
		return append([][]byte(nil), r.frames[:r.next]...)
	}
	out := make([][]byte, 0, r.capacity)
	out = append(out, r.frames[r.next:]...)
	out = append(out, r.frames[:r.next]...)
	return out
}

// Record blocks reading frames until the utterance ends, a timeout fires, or
// the endpoint is cancelled.
func (e *Endpoint) Record(noSpeechTimeout time.Duration) ([]byte, Reason, error) {
	frameBytes := e.cfg.frameBytes()
	preroll := newRingBuffer(e.cfg.prerollFrames())
	window := make([]bool, 0, e.cfg.StartWin)
	consecSpeech := 0

	var output []byte
	started := false
	var startedAt time.Time
	framesSinceVoice := 0
	startTS := time.Now()

	for {
		select {
		case <-e.stop:
			return nil, Cancelled, nil
		default:
		}

		frame, err := e.src.ReadBytes(frameBytes)
		if err != nil {
			return nil, Cancelled, err
		}

		isSpeech, err := e.vad.IsSpeech(frame, e.cfg.SampleRate)
		if err != nil {
			return nil, Cancelled, err
		}

		now := time.Now()

		if !started {
			preroll.push(frame)
			window = append(window, isSpeech)
			if len(window) > e.cfg.StartWin {
				window = window[len(window)-e.cfg.StartWin:]
			}
			if isSpeech {
				consecSpeech++
			} else {
				consecSpeech = 0
			}

			if len(window) == e.cfg.StartWin && sumBool(window) >= e.cfg.StartMin && consecSpeech >= e.cfg.StartConsecMin {
				for _, f := range preroll.ordered() {
					output = append(output, f...)
				}
				started = true
				startedAt = now
				framesSinceVoice = 0
				continue
			}

			if now.Sub(startTS) > noSpeechTimeout {
				return nil, NoSpeech, nil
			}
			continue
		}

		output = append(output, frame...)
		if isSpeech {
			framesSinceVoice = 0
		} else {
			framesSinceVoice++
		}

		if framesSinceVoice >= e.cfg.hangFrames() && now.Sub(startedAt) >= e.cfg.endGuard() {
			return output, SpeechEnded, nil
		}

		if e.maxUtterance > 0 && now.Sub(startedAt) > e.maxUtterance {
			return output, MaxUtterance, nil
		}
	}
}

func sumBool(w []bool) int {
	n := 0
	for _, v := range w {
		if v {
			n++
		}
	}
	return n
}

