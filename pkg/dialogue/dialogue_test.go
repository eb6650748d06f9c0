package dialogue

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wrenhollow/companion-core/pkg/endpoint"
	"github.com/wrenhollow/companion-core/pkg/led"
	"github.com/wrenhollow/companion-core/pkg/providers/stt"
	"github.com/wrenhollow/companion-core/pkg/providers/tts"
	"github.com/wrenhollow/companion-core/pkg/wakeword"
)

func TestWavFrameUtteranceHeader(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	wav := wavFrameUtterance(pcm, 16000)

	if !bytes.HasPrefix(wav, []byte("RIFF")) {
		t.Error("expected RIFF prefix")
	}
	if !bytes.Contains(wav, []byte("WAVE")) {
		t.Error("expected WAVE format identifier")
	}
	if want := 44 + len(pcm); len(wav) != want {
		t.Errorf("expected length %d, got %d", want, len(wav))
	}
	if !bytes.HasSuffix(wav, pcm) {
		t.Error("expected PCM payload at the end of the frame")
	}
}

type recordingCall struct {
	pcm    []byte
	reason endpoint.Reason
	err    error
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []recordingCall
	i     int
}

func (f *fakeRecorder) Record(time.Duration) ([]byte, endpoint.Reason, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.i >= len(f.calls) {
		return nil, endpoint.NoSpeech, nil
	}
	c := f.calls[f.i]
	f.i++
	return c.pcm, c.reason, c.err
}

type fakeMic struct {
	flushes int
}

func (f *fakeMic) Flush() { f.flushes++ }

type fakeSTT struct {
	result stt.Result
	err    error
	calls  int
}

func (f *fakeSTT) Transcribe(context.Context, []byte, string) (stt.Result, error) {
	f.calls++
	return f.result, f.err
}

type fakeLLM struct {
	reply       string
	err         error
	cleared     int
	truncated   int
	truncatedTo int
}

func (f *fakeLLM) Chat(context.Context, string) (string, error) { return f.reply, f.err }
func (f *fakeLLM) ClearHistory()                                { f.cleared++ }
func (f *fakeLLM) TruncateHistory(turns int) {
	f.truncated++
	f.truncatedTo = turns
}

type fakeTTS struct {
	mu       sync.Mutex
	events   chan tts.Event
	sayCalls []string
	sayErr   error
	respond  tts.Status
}

func newFakeTTS(respond tts.Status) *fakeTTS {
	return &fakeTTS{events: make(chan tts.Event, 16), respond: respond}
}

func (f *fakeTTS) Say(ctx context.Context, id, text string) error {
	if f.sayErr != nil {
		return f.sayErr
	}
	f.mu.Lock()
	f.sayCalls = append(f.sayCalls, id)
	f.mu.Unlock()
	f.events <- tts.Event{ID: id, Status: tts.StatusStart}
	f.events <- tts.Event{ID: id, Status: f.respond, Err: "boom"}
	return nil
}
func (f *fakeTTS) Cancel(ctx context.Context, id string) error { return nil }
func (f *fakeTTS) Events() <-chan tts.Event                    { return f.events }
func (f *fakeTTS) Close() error                                { return nil }

type fakeGate struct {
	acquired int
	released int
}

func (g *fakeGate) Acquire(any) error { g.acquired++; return nil }
func (g *fakeGate) Release(any)       { g.released++ }

type fakeAnimator struct {
	mu     sync.Mutex
	events []string
}

func (a *fakeAnimator) record(s string) {
	a.mu.Lock()
	a.events = append(a.events, s)
	a.mu.Unlock()
}
func (a *fakeAnimator) StartListening() { a.record("listening") }
func (a *fakeAnimator) StartThinking()  { a.record("thinking") }
func (a *fakeAnimator) StartTalking()   { a.record("talking") }
func (a *fakeAnimator) StopAll()        { a.record("stop") }

type fakeLED struct {
	mu     sync.Mutex
	states []led.State
}

func (l *fakeLED) Set(s led.State) error {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
	return nil
}

type fakeWake struct {
	resets int
}

func (w *fakeWake) OnTTSDone() { w.resets++ }

func testConfig() Config {
	return Config{
		NoSpeechTimeoutS:  3.0,
		FollowupEnable:    true,
		FollowupArmS:      3.0,
		FollowupMaxTurns:  0,
		FollowupCooldownS: 0.001,
		DeepSleepTimeoutS: 0, // disabled for most tests
		STTLang:           "en",
		SampleRate:        16000,
		FallbackUtterance: "Sorry, something went wrong.",
		ResetOnWake:       false,
		CtxTurns:          6,
	}
}

func waitForState(t *testing.T, c *Controller, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for state %v, last seen %v", want, c.State())
		default:
		}
		if c.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCleanWakeUtteranceReplyThenIdleOnFollowupNoSpeech(t *testing.T) {
	recorder := &fakeRecorder{calls: []recordingCall{
		{pcm: []byte("hello-pcm"), reason: endpoint.SpeechEnded},
		{pcm: nil, reason: endpoint.NoSpeech},
	}}
	sttClient := &fakeSTT{result: stt.Result{Text: "hello", Lang: "en"}}
	llmClient := &fakeLLM{reply: "hi there"}
	ttsClient := newFakeTTS(tts.StatusDone)
	gate := &fakeGate{}
	anim := &fakeAnimator{}
	ledIndicator := &fakeLED{}
	wake := &fakeWake{}
	wakeEvents := make(chan wakeword.Event, 1)

	c := New(testConfig(), Deps{
		WakeEvents: wakeEvents,
		Recorder:   recorder,
		Mic:        &fakeMic{},
		STT:        sttClient,
		LLM:        llmClient,
		TTS:        ttsClient,
		Gate:       gate,
		Wake:       wake,
		Anim:       anim,
		LED:        ledIndicator,
	})

	go c.Run()
	defer c.Stop()

	wakeEvents <- wakeword.Event{Confidence: 0.9}

	waitForState(t, c, Idle, 2*time.Second)

	if wake.resets == 0 {
		t.Error("expected wake gate to be reset after TTS done")
	}
	if gate.acquired == 0 || gate.acquired != gate.released {
		t.Errorf("expected balanced gate acquire/release, got acquired=%d released=%d", gate.acquired, gate.released)
	}
}

func TestExternalSTTFailurePlaysFallbackAndReturnsIdle(t *testing.T) {
	recorder := &fakeRecorder{calls: []recordingCall{
		{pcm: []byte("hello-pcm"), reason: endpoint.SpeechEnded},
	}}
	sttClient := &fakeSTT{err: errors.New("stt unreachable")}
	ttsClient := newFakeTTS(tts.StatusDone)
	gate := &fakeGate{}
	anim := &fakeAnimator{}
	ledIndicator := &fakeLED{}
	wakeEvents := make(chan wakeword.Event, 1)

	c := New(testConfig(), Deps{
		WakeEvents: wakeEvents,
		Recorder:   recorder,
		Mic:        &fakeMic{},
		STT:        sttClient,
		LLM:        &fakeLLM{},
		TTS:        ttsClient,
		Gate:       gate,
		Anim:       anim,
		LED:        ledIndicator,
	})

	go c.Run()
	defer c.Stop()

	wakeEvents <- wakeword.Event{Confidence: 0.9}
	waitForState(t, c, Idle, 2*time.Second)

	ttsClient.mu.Lock()
	defer ttsClient.mu.Unlock()
	foundFallback := false
	for _, id := range ttsClient.sayCalls {
		if id == "fallback" {
			foundFallback = true
		}
	}
	if !foundFallback {
		t.Errorf("expected fallback utterance to be spoken, calls: %v", ttsClient.sayCalls)
	}
}

func TestIdleTransitionsToDeepSleepAfterTimeoutAndWakeResumes(t *testing.T) {
	recorder := &fakeRecorder{calls: []recordingCall{
		{pcm: []byte("pcm"), reason: endpoint.NoSpeech},
	}}
	ttsClient := newFakeTTS(tts.StatusDone)
	cfg := testConfig()
	cfg.DeepSleepTimeoutS = 0.02
	wakeEvents := make(chan wakeword.Event, 1)

	c := New(cfg, Deps{
		WakeEvents: wakeEvents,
		Recorder:   recorder,
		Mic:        &fakeMic{},
		STT:        &fakeSTT{},
		LLM:        &fakeLLM{},
		TTS:        ttsClient,
		Gate:       &fakeGate{},
		Anim:       &fakeAnimator{},
		LED:        &fakeLED{},
	})

	go c.Run()
	defer c.Stop()

	waitForState(t, c, DeepSleep, 2*time.Second)

	wakeEvents <- wakeword.Event{Confidence: 0.9}
	waitForState(t, c, Idle, 2*time.Second)
}

func TestFollowupMaxTurnsReturnsIdleWithoutRecordingAgain(t *testing.T) {
	recorder := &fakeRecorder{calls: []recordingCall{
		{pcm: []byte("pcm-1"), reason: endpoint.SpeechEnded},
	}}
	sttClient := &fakeSTT{result: stt.Result{Text: "hi", Lang: "en"}}
	llmClient := &fakeLLM{reply: "hello"}
	ttsClient := newFakeTTS(tts.StatusDone)
	cfg := testConfig()
	cfg.FollowupMaxTurns = 1
	wakeEvents := make(chan wakeword.Event, 1)

	c := New(cfg, Deps{
		WakeEvents: wakeEvents,
		Recorder:   recorder,
		Mic:        &fakeMic{},
		STT:        sttClient,
		LLM:        llmClient,
		TTS:        ttsClient,
		Gate:       &fakeGate{},
		Anim:       &fakeAnimator{},
		LED:        &fakeLED{},
	})

	go c.Run()
	defer c.Stop()

	wakeEvents <- wakeword.Event{Confidence: 0.9}
	waitForState(t, c, Idle, 2*time.Second)

	if recorder.i != 1 {
		t.Errorf("expected recorder to be called exactly once (max turns reached), got %d calls", recorder.i)
	}
}

func TestFollowupMaxUtteranceReturnsIdleWithoutThinking(t *testing.T) {
	recorder := &fakeRecorder{calls: []recordingCall{
		{pcm: []byte("pcm-1"), reason: endpoint.SpeechEnded},
		{pcm: []byte("pcm-2"), reason: endpoint.MaxUtterance},
	}}
	sttClient := &fakeSTT{result: stt.Result{Text: "hi", Lang: "en"}}
	llmClient := &fakeLLM{reply: "hello"}
	ttsClient := newFakeTTS(tts.StatusDone)
	cfg := testConfig()
	wakeEvents := make(chan wakeword.Event, 1)

	c := New(cfg, Deps{
		WakeEvents: wakeEvents,
		Recorder:   recorder,
		Mic:        &fakeMic{},
		STT:        sttClient,
		LLM:        llmClient,
		TTS:        ttsClient,
		Gate:       &fakeGate{},
		Anim:       &fakeAnimator{},
		LED:        &fakeLED{},
	})

	go c.Run()
	defer c.Stop()

	wakeEvents <- wakeword.Event{Confidence: 0.9}
	waitForState(t, c, Idle, 2*time.Second)

	if recorder.i != 2 {
		t.Fatalf("expected recorder to be called twice (initial + one follow-up), got %d", recorder.i)
	}
	if sttClient.calls != 1 {
		t.Errorf("expected STT to be invoked only for the initial utterance, not the max-utterance follow-up, got %d calls", sttClient.calls)
	}
}

func TestOnWakeTruncatesHistoryByDefault(t *testing.T) {
	recorder := &fakeRecorder{calls: []recordingCall{
		{pcm: nil, reason: endpoint.NoSpeech},
	}}
	llmClient := &fakeLLM{}
	cfg := testConfig()
	cfg.CtxTurns = 4
	wakeEvents := make(chan wakeword.Event, 1)

	c := New(cfg, Deps{
		WakeEvents: wakeEvents,
		Recorder:   recorder,
		Mic:        &fakeMic{},
		STT:        &fakeSTT{},
		LLM:        llmClient,
		TTS:        newFakeTTS(tts.StatusDone),
		Gate:       &fakeGate{},
		Anim:       &fakeAnimator{},
		LED:        &fakeLED{},
	})

	go c.Run()
	defer c.Stop()

	wakeEvents <- wakeword.Event{Confidence: 0.9}
	waitForState(t, c, Idle, 2*time.Second)

	if llmClient.truncated == 0 {
		t.Error("expected history to be truncated on wake when reset_on_wake is false")
	}
	if llmClient.truncatedTo != 4 {
		t.Errorf("expected truncation to ctx_turns=4, got %d", llmClient.truncatedTo)
	}
	if llmClient.cleared != 0 {
		t.Error("expected ClearHistory not to be called when reset_on_wake is false")
	}
}

func TestOnWakeClearsHistoryWhenResetOnWakeEnabled(t *testing.T) {
	recorder := &fakeRecorder{calls: []recordingCall{
		{pcm: nil, reason: endpoint.NoSpeech},
	}}
	llmClient := &fakeLLM{}
	cfg := testConfig()
	cfg.ResetOnWake = true
	wakeEvents := make(chan wakeword.Event, 1)

	c := New(cfg, Deps{
		WakeEvents: wakeEvents,
		Recorder:   recorder,
		Mic:        &fakeMic{},
		STT:        &fakeSTT{},
		LLM:        llmClient,
		TTS:        newFakeTTS(tts.StatusDone),
		Gate:       &fakeGate{},
		Anim:       &fakeAnimator{},
		LED:        &fakeLED{},
	})

	go c.Run()
	defer c.Stop()

	wakeEvents <- wakeword.Event{Confidence: 0.9}
	waitForState(t, c, Idle, 2*time.Second)

	if llmClient.cleared == 0 {
		t.Error("expected ClearHistory to be called on wake when reset_on_wake is true")
	}
	if llmClient.truncated != 0 {
		t.Error("expected TruncateHistory not to be called when reset_on_wake is true")
	}
}
