// Package dialogue implements the top-level state machine that glues
// wake detection, speech endpointing, the external STT/LLM/TTS
// collaborators, and animation/LED side effects into one conversational
// turn cycle.
package dialogue

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wrenhollow/companion-core/pkg/endpoint"
	"github.com/wrenhollow/companion-core/pkg/led"
	"github.com/wrenhollow/companion-core/pkg/logging"
	"github.com/wrenhollow/companion-core/pkg/providers/stt"
	"github.com/wrenhollow/companion-core/pkg/providers/tts"
	"github.com/wrenhollow/companion-core/pkg/wakeword"
)

// ErrExternalService marks an STT/LLM/TTS failure surfaced to the
// controller; it always triggers the local fallback phrase and a return to
// Idle.
var ErrExternalService = errors.New("dialogue: external service failure")

// State is one node of the IDLE -> WAKING -> LISTENING -> RECORDING -> THINKING ->
// SPEAKING -> FOLLOWUP -> (RECORDING|IDLE) machine, with terminal DEEP_SLEEP
// reached from IDLE after a period of inactivity.
type State int

const (
	Idle State = iota
	Waking
	Listening
	Recording
	Thinking
	Speaking
	Followup
	DeepSleep
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Waking:
		return "WAKING"
	case Listening:
		return "LISTENING"
	case Recording:
		return "RECORDING"
	case Thinking:
		return "THINKING"
	case Speaking:
		return "SPEAKING"
	case Followup:
		return "FOLLOWUP"
	case DeepSleep:
		return "DEEP_SLEEP"
	default:
		return "UNKNOWN"
	}
}

// Recorder is the subset of pkg/endpoint.Endpoint the controller drives
// directly: blocking capture of one utterance.
type Recorder interface {
	Record(noSpeechTimeout time.Duration) ([]byte, endpoint.Reason, error)
}

// MicFlusher discards any audio queued ahead of a fresh listen.
type MicFlusher interface {
	Flush()
}

// STTClient transcribes a WAV utterance.
type STTClient interface {
	Transcribe(ctx context.Context, wavBytes []byte, lang string) (stt.Result, error)
}

// LLMClient carries on the chat turn, owning its own history.
type LLMClient interface {
	Chat(ctx context.Context, userMessage string) (string, error)
	ClearHistory()
	TruncateHistory(turns int)
}

// WakeResetter is the wake gate's rearm hook, called when the TTS backend
// reports DONE, before the duplex gate is released.
type WakeResetter interface {
	OnTTSDone()
}

// DuplexGate scopes mic muting to TTS playback.
type DuplexGate interface {
	Acquire(owner any) error
	Release(owner any)
}

// Animator starts/stops the mutually-exclusive per-state animations; never
// more than one runs at a time.
type Animator interface {
	StartListening()
	StartThinking()
	StartTalking()
	StopAll()
}

// LEDSetter drives the status indicator.
type LEDSetter interface {
	Set(s led.State) error
}

// Config holds the controller's timing and turn-taking policy.
type Config struct {
	NoSpeechTimeoutS  float64
	FollowupEnable    bool
	FollowupArmS      float64
	FollowupMaxTurns  int // 0 == unlimited
	FollowupCooldownS float64
	DeepSleepTimeoutS float64
	STTLang           string
	SampleRate        int
	FallbackUtterance string
	ResetOnWake       bool
	CtxTurns          int
}

// Deps bundles every collaborator the controller needs; all fields are
// required except Wake, which may be nil if no wake detector is wired, and
// Logger, which defaults to a no-op logger when nil.
type Deps struct {
	WakeEvents <-chan wakeword.Event
	Recorder   Recorder
	Mic        MicFlusher
	STT        STTClient
	LLM        LLMClient
	TTS        tts.Client
	Gate       DuplexGate
	Wake       WakeResetter
	Anim       Animator
	LED        LEDSetter
	Logger     logging.Logger
}

// Controller runs the dialogue state machine on its own goroutine, started
// by Run and stopped by Stop.
type Controller struct {
	cfg    Config
	deps   Deps
	logger logging.Logger

	mu    sync.RWMutex
	state State
	turns int

	stop chan struct{}
	done chan struct{}
}

// New constructs a Controller parked in Idle; call Run to start its thread.
func New(cfg Config, deps Deps) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = &logging.NoOpLogger{}
	}
	return &Controller{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		state:  Idle,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// State reports the controller's current node, safe for concurrent callers
// (e.g. tests, status endpoints).
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Stop signals the controller's thread to exit and waits for it to do so.
func (c *Controller) Stop() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	<-c.done
}

func (c *Controller) stopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	if err := c.deps.LED.Set(stateLED(s)); err != nil {
		c.logger.Warn("led set failed", "state", s.String(), "error", err)
	}
}

func stateLED(s State) led.State {
	switch s {
	case Waking, Listening, Recording:
		return led.Listening
	case Thinking:
		return led.Thinking
	case Speaking:
		return led.Speaking
	case Followup:
		return led.AwaitFollowup
	default:
		return led.Off
	}
}

// Run drives the state machine until Stop is called. It is intended to run
// on its own goroutine for the life of the process.
func (c *Controller) Run() {
	defer close(c.done)
	c.setState(Idle)
	for !c.stopped() {
		switch c.State() {
		case Idle:
			if !c.runIdle() {
				return
			}
		case DeepSleep:
			if !c.runDeepSleep() {
				return
			}
		case Recording:
			c.runRecording(time.Duration(c.cfg.NoSpeechTimeoutS*float64(time.Second)), Thinking)
		case Followup:
			c.runFollowup()
		default:
			// Thinking/Speaking/Waking are driven synchronously by the
			// transition that enters them; reaching them here means a bug
			// in the loop, fall back to Idle rather than spin.
			c.setState(Idle)
		}
	}
}

// runIdle waits for a wake event or the deep-sleep timeout, whichever comes
// first.
func (c *Controller) runIdle() bool {
	var timeout <-chan time.Time
	if c.cfg.DeepSleepTimeoutS > 0 {
		timer := time.NewTimer(time.Duration(c.cfg.DeepSleepTimeoutS * float64(time.Second)))
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-c.stop:
		return false
	case <-timeout:
		c.setState(DeepSleep)
		return true
	case ev, ok := <-c.deps.WakeEvents:
		if !ok {
			return false
		}
		c.onWake(ev)
		return true
	}
}

// runDeepSleep blocks for a wake event with no timeout; only a wake event
// resumes the machine.
func (c *Controller) runDeepSleep() bool {
	select {
	case <-c.stop:
		return false
	case ev, ok := <-c.deps.WakeEvents:
		if !ok {
			return false
		}
		c.onWake(ev)
		return true
	}
}

func (c *Controller) onWake(ev wakeword.Event) {
	c.turns = 0
	if c.cfg.ResetOnWake {
		c.deps.LLM.ClearHistory()
	} else {
		c.deps.LLM.TruncateHistory(c.cfg.CtxTurns)
	}
	c.setState(Waking)
	c.logger.Info("wake detected", "confidence", ev.Confidence)
	c.sayBlocking(context.Background(), "wake-ack", "Yes?")
	c.setState(Listening)
	c.deps.Anim.StartListening()
	c.setState(Recording)
}

// runRecording invokes the endpoint and transitions on its reason.
// onMaxUtterance is the state MaxUtterance should land in: the initial
// post-wake recording continues into THINKING on MaxUtterance the same as
// SpeechEnded, but the follow-up leg returns to IDLE on MaxUtterance instead
// (spec: "if SpeechEnded -> THINKING; else go to IDLE").
func (c *Controller) runRecording(noSpeechTimeout time.Duration, onMaxUtterance State) {
	pcm, reason, err := c.deps.Recorder.Record(noSpeechTimeout)
	c.deps.Anim.StopAll()
	if err != nil {
		c.logger.Error("recorder error", "error", err)
		c.setState(Idle)
		return
	}
	switch reason {
	case endpoint.SpeechEnded:
		c.setState(Thinking)
		c.deps.Anim.StartThinking()
		c.runThinking(pcm)
	case endpoint.MaxUtterance:
		if onMaxUtterance == Thinking {
			c.setState(Thinking)
			c.deps.Anim.StartThinking()
			c.runThinking(pcm)
			return
		}
		c.setState(Idle)
	case endpoint.NoSpeech, endpoint.Cancelled:
		c.setState(Idle)
	default:
		c.setState(Idle)
	}
}

func (c *Controller) runThinking(pcm []byte) {
	ctx := context.Background()
	wav := wavFrameUtterance(pcm, c.cfg.SampleRate)

	result, err := c.deps.STT.Transcribe(ctx, wav, c.cfg.STTLang)
	if err != nil {
		c.failExternal(fmt.Errorf("stt: %w", err))
		return
	}
	if result.Text == "" {
		c.deps.Anim.StopAll()
		c.setState(Idle)
		return
	}

	reply, err := c.deps.LLM.Chat(ctx, result.Text)
	if err != nil {
		c.failExternal(fmt.Errorf("llm: %w", err))
		return
	}

	c.deps.Anim.StopAll()
	c.setState(Speaking)
	c.deps.Anim.StartTalking()
	c.turns++
	ok := c.sayBlocking(ctx, "", reply)
	c.deps.Anim.StopAll()
	if !ok {
		c.setState(Idle)
		return
	}
	c.setState(Followup)
}

// wavFrameUtterance wraps one endpointed utterance of mono 16-bit PCM in a
// minimal WAV header so the STT backend's upload endpoint can sniff the
// format; the endpoint only ever hands the controller raw PCM at
// cfg.SampleRate, so channel count and bit depth are fixed rather than
// parameterized.
func wavFrameUtterance(pcm []byte, sampleRate int) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	buf := new(bytes.Buffer)
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*channels*bitsPerSample/8))
	binary.Write(buf, binary.LittleEndian, uint16(channels*bitsPerSample/8))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// runFollowup waits the cooldown, flushes the mic, and re-arms the endpoint
// with the (shorter) follow-up timeout.
func (c *Controller) runFollowup() {
	if !c.cfg.FollowupEnable {
		c.setState(Idle)
		return
	}
	if c.cfg.FollowupMaxTurns > 0 && c.turns >= c.cfg.FollowupMaxTurns {
		c.setState(Idle)
		return
	}

	select {
	case <-c.stop:
		return
	case <-time.After(time.Duration(c.cfg.FollowupCooldownS * float64(time.Second))):
	}
	c.deps.Mic.Flush()

	c.setState(Recording)
	c.deps.Anim.StartListening()
	c.runRecording(time.Duration(c.cfg.FollowupArmS*float64(time.Second)), Idle)
}

// sayBlocking submits id/text to the TTS backend under the half-duplex gate
// and waits for its terminal status event. Returns false on ERROR or a Say
// failure (both already handled here via failExternal), on CANCELLED, or
// when cancelled by Stop.
func (c *Controller) sayBlocking(ctx context.Context, id, text string) bool {
	if id == "" {
		id = fmt.Sprintf("turn-%d", c.turns)
	}
	if err := c.deps.Gate.Acquire(c); err != nil {
		c.logger.Error("duplex gate busy", "error", err)
		return false
	}
	defer c.deps.Gate.Release(c)

	if err := c.deps.TTS.Say(ctx, id, text); err != nil {
		c.failExternal(fmt.Errorf("tts say: %w", err))
		return false
	}

	for {
		select {
		case <-c.stop:
			c.deps.TTS.Cancel(ctx, id)
			return false
		case ev, ok := <-c.deps.TTS.Events():
			if !ok {
				return false
			}
			if ev.ID != id && ev.ID != "" {
				continue
			}
			switch ev.Status {
			case tts.StatusDone:
				if c.deps.Wake != nil {
					c.deps.Wake.OnTTSDone()
				}
				return true
			case tts.StatusCancelled:
				return false
			case tts.StatusError:
				c.failExternal(fmt.Errorf("tts: %s", ev.Err))
				return false
			}
		}
	}
}

// failExternal logs, speaks the compiled-in fallback phrase (best effort,
// gate still honored), and returns the machine to Idle.
func (c *Controller) failExternal(err error) {
	c.logger.Error("external service failure", "error", fmt.Errorf("%w: %v", ErrExternalService, err))
	c.deps.Anim.StopAll()
	if c.cfg.FallbackUtterance != "" {
		_ = c.deps.Gate.Acquire(c)
		_ = c.deps.TTS.Say(context.Background(), "fallback", c.cfg.FallbackUtterance)
		c.deps.Gate.Release(c)
	}
	c.setState(Idle)
}
