// Command companion is the robot's top-level process: it wires the audio
// capture pipeline, wake-word gate, speech endpoint, dialogue controller,
// servo motion, face tracking, and status LED together and runs them until
// SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/wrenhollow/companion-core/pkg/audio"
	"github.com/wrenhollow/companion-core/pkg/config"
	"github.com/wrenhollow/companion-core/pkg/dialogue"
	"github.com/wrenhollow/companion-core/pkg/duplex"
	"github.com/wrenhollow/companion-core/pkg/endpoint"
	"github.com/wrenhollow/companion-core/pkg/eyelid"
	"github.com/wrenhollow/companion-core/pkg/led"
	"github.com/wrenhollow/companion-core/pkg/logging"
	"github.com/wrenhollow/companion-core/pkg/providers/llm"
	"github.com/wrenhollow/companion-core/pkg/providers/stt"
	"github.com/wrenhollow/companion-core/pkg/providers/tts"
	"github.com/wrenhollow/companion-core/pkg/pwm"
	"github.com/wrenhollow/companion-core/pkg/servo"
	"github.com/wrenhollow/companion-core/pkg/tracker"
	"github.com/wrenhollow/companion-core/pkg/vad"
	"github.com/wrenhollow/companion-core/pkg/vision"
	"github.com/wrenhollow/companion-core/pkg/wakeword"
)

const (
	// wakeHopBytes is 80ms of PCM16 mono audio at 16kHz, the fixed chunk size
	// pkg/wakeword's ONNX pipeline consumes per Score call.
	wakeHopBytes = 1280 * 2

	servoTickInterval = 20 * time.Millisecond

	eyelidOpenDeg   = 150
	eyelidMinDeg    = 0
	eyelidMaxDeg    = 180
	eyelidBlinkMinS = 2.5
	eyelidBlinkMaxS = 6.0
)

func main() {
	logger := logging.NewDefault(slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	bus, err := pwm.Open(cfg.Transport.PWMPort, cfg.Transport.PWMBaud, cfg.Transport.PWMFreqHz)
	if err != nil {
		logger.Error("pwm bus open failed", "error", err)
		os.Exit(1)
	}

	registry, err := servo.BuildRegistry(bus, cfg.Calibration)
	if err != nil {
		logger.Error("servo registry build failed", "error", err)
		os.Exit(1)
	}

	stopServoTick := make(chan struct{})
	servoTickDone := make(chan struct{})
	go func() {
		defer close(servoTickDone)
		ticker := time.NewTicker(servoTickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopServoTick:
				return
			case now := <-ticker.C:
				for _, s := range registry.All() {
					if err := s.Update(now); err != nil {
						logger.Warn("servo update failed", "servo", s.Name(), "error", err)
					}
				}
			}
		}
	}()

	lid := eyelid.New(registry.Get(servo.Eyelid), eyelid.Config{
		OpenAngleDeg: eyelidOpenDeg,
		MinAngleDeg:  eyelidMinDeg,
		MaxAngleDeg:  eyelidMaxDeg,
		BlinkMinS:    eyelidBlinkMinS,
		BlinkMaxS:    eyelidBlinkMaxS,
		BlinkCloseS:  0.1,
		BlinkHoldS:   0.1,
		BlinkOpenS:   0.15,
	}, time.Now().UnixNano())
	go lid.Run()

	visionClient, err := vision.Open(cfg.Transport.VisionPort, cfg.Transport.VisionBaud)
	if err != nil {
		logger.Error("vision port open failed", "error", err)
		os.Exit(1)
	}

	faceTracker := tracker.New(visionClient, tracker.Deps{
		EyeLeft:    registry.Get(servo.EyeLeft),
		EyeRight:   registry.Get(servo.EyeRight),
		Pitch:      registry.Get(servo.NeckPitch),
		Yaw:        nil, // fixed 10-channel layout carries no yaw actuator; see DESIGN.md
		WheelLeft:  registry.Get(servo.WheelLeft),
		WheelRight: registry.Get(servo.WheelRight),
	}, tracker.Config{
		UpdateInterval:       time.Duration(cfg.Tracker.UpdateIntervalS * float64(time.Second)),
		InvokeInterval:       time.Duration(cfg.Tracker.InvokeIntervalS * float64(time.Second)),
		InvokeTimeout:        time.Duration(cfg.Tracker.InvokeTimeoutS * float64(time.Second)),
		NeutralTimeout:       cfg.Tracker.NeutralTimeout(),
		FrameWidth:           float64(cfg.Tracker.FrameWidth),
		FrameHeight:          float64(cfg.Tracker.FrameHeight),
		CoordinatesAreCenter: cfg.Tracker.CoordCenter,

		EyeNeutralDeg:   cfg.Tracker.EyeNeutralDeg,
		EyeDeadzonePx:   cfg.Tracker.EyeDeadzonePx,
		EyeGainDegPerPx: cfg.Tracker.EyeGainDegPerPx,
		EyeMaxDeltaDeg:  cfg.Tracker.EyeMaxDeltaDeg,

		PitchNeutralDeg:   cfg.Tracker.PitchNeutralDeg,
		PitchDeadzonePx:   cfg.Tracker.PitchDeadzonePx,
		PitchGainDegPerPx: cfg.Tracker.PitchGainDegPerPx,
		PitchMaxDeltaDeg:  cfg.Tracker.PitchMaxDeltaDeg,

		YawEnabled: false,

		WheelNeutralDeg:  cfg.Tracker.WheelNeutralDeg,
		WheelDeadzoneDeg: cfg.Tracker.WheelDeadzoneDeg,
		WheelFollowDelay: time.Duration(cfg.Tracker.WheelFollowDelay * float64(time.Second)),
		WheelInputMin:    cfg.Tracker.WheelInputMin,
		WheelInputMax:    cfg.Tracker.WheelInputMax,
		WheelPower:       cfg.Tracker.WheelPower,
		WheelOutputMin:   cfg.Tracker.WheelOutputMin,
		WheelOutputMax:   cfg.Tracker.WheelOutputMax,
		WheelLeftInvert:  cfg.Tracker.WheelLeftInvert,
		WheelRightInvert: cfg.Tracker.WheelRightInvert,

		VisionFailureStreak: cfg.Tracker.VisionFailureStreak,
	})
	go faceTracker.Run()

	recorder, err := audio.Open(cfg.Audio.Device, cfg.Audio.SampleRate, cfg.Audio.Channels)
	if err != nil {
		logger.Error("audio device open failed", "error", err)
		os.Exit(1)
	}
	if cfg.Audio.AGCEnabled {
		recorder.EnableAGC(audio.AGCConfig{
			Enabled:    true,
			TargetDBFS: cfg.Audio.AGCTargetDBFS,
			MaxGainDB:  cfg.Audio.AGCMaxGainDB,
			StepDB:     cfg.Audio.AGCStepDB,
		})
	}

	liveCapacity := cfg.Audio.SampleRate * 2 * 5 // ~5s of PCM16 mono headroom
	tee := audio.NewTee(recorder, wakeHopBytes, 4, liveCapacity)
	go tee.Run()

	vadDetector := vad.New(cfg.Audio.VADAggressive)
	ep := endpoint.New(tee.LiveSource(), vadDetector, endpoint.Config{
		SampleRate:        cfg.Audio.SampleRate,
		FrameMs:           cfg.Audio.FrameMs,
		StartWin:          cfg.Endpoint.StartWin,
		StartMin:          cfg.Endpoint.StartMin,
		StartConsecMin:    cfg.Endpoint.StartConsecMin,
		EndHangMs:         cfg.Endpoint.EndHangMs,
		EndGuardMs:        cfg.Endpoint.EndGuardMs,
		PrerollMs:         cfg.Endpoint.PrerollMs,
		VADAggressiveness: cfg.Audio.VADAggressive,
		MaxUtterS:         cfg.Endpoint.MaxUtterS,
	})

	scorer, err := wakeword.NewONNXScorer(wakeword.ModelPaths{
		MelspecModel:   filepath.Join(cfg.Wake.ModelDir, "melspectrogram.onnx"),
		EmbeddingModel: filepath.Join(cfg.Wake.ModelDir, "embedding.onnx"),
		WakewordModel:  filepath.Join(cfg.Wake.ModelDir, "wakeword.onnx"),
		OnnxRuntimeLib: cfg.Wake.OnnxRuntimeLib,
	})
	if err != nil {
		logger.Error("wakeword scorer init failed", "error", err)
		os.Exit(1)
	}
	defer scorer.Close()

	wakeGate := wakeword.New(scorer, wakeword.Config{
		Threshold:        cfg.Wake.Threshold,
		MinGap:           time.Duration(cfg.Wake.MinGapS * float64(time.Second)),
		SuppressAfterTTS: time.Duration(cfg.Wake.SuppressAfterTTS * float64(time.Second)),
		RearmRatio:       cfg.Wake.RearmRatio,
		RearmLowCount:    cfg.Wake.RearmLowCount,
	})

	wakeEvents := make(chan wakeword.Event, 1)
	stopWakeScan := make(chan struct{})
	wakeScanDone := make(chan struct{})
	go func() {
		defer close(wakeScanDone)
		for {
			select {
			case <-stopWakeScan:
				return
			case frame, ok := <-tee.WakeHops():
				if !ok {
					return
				}
				ev, err := wakeGate.ProcessFrame(frame)
				if err != nil {
					logger.Warn("wakeword scoring failed", "error", err)
					continue
				}
				if ev == nil {
					continue
				}
				select {
				case wakeEvents <- *ev:
				default:
				}
			}
		}
	}()

	gate := duplex.New(cfg.Dialogue.BargeIn, time.Duration(cfg.Dialogue.CooldownAfterTTS*float64(time.Second)), tee.LiveSource(), wakeGate)

	ledIndicator, closeLED := buildLED(cfg.Transport.LEDPort, cfg.Transport.LEDBaud, logger)

	ttsClient, err := buildTTS(cfg.Transport)
	if err != nil {
		logger.Error("tts client init failed", "error", err)
		os.Exit(1)
	}

	sttClient := stt.New(cfg.Transport.STTBaseURL)

	llmClient, err := llm.New(llm.Config{
		Host:         cfg.Transport.LLMHost,
		Model:        cfg.Transport.LLMModel,
		SystemPrompt: cfg.Transport.LLMSystem,
	})
	if err != nil {
		logger.Error("llm client init failed", "error", err)
		os.Exit(1)
	}

	anim := newServoAnimator(defaultAnimationTiming(eyelidOpenDeg),
		registry.Get(servo.NeckRoll),
		registry.Get(servo.EarLeft), registry.Get(servo.EarRight),
		registry.Get(servo.NeckPitch),
		registry.Get(servo.Mouth),
		lid,
	)

	controller := dialogue.New(dialogue.Config{
		NoSpeechTimeoutS:  cfg.Endpoint.NoSpeechTimeout,
		FollowupEnable:    cfg.Dialogue.FollowupEnable,
		FollowupArmS:      cfg.Dialogue.FollowupArmS,
		FollowupMaxTurns:  cfg.Dialogue.FollowupMaxTurns,
		FollowupCooldownS: cfg.Dialogue.FollowupCooldownS,
		DeepSleepTimeoutS: cfg.Dialogue.DeepSleepTimeout,
		STTLang:           "",
		SampleRate:        cfg.Audio.SampleRate,
		FallbackUtterance: "Sorry, something went wrong.",
		ResetOnWake:       cfg.Dialogue.ResetOnWake,
		CtxTurns:          cfg.Dialogue.CtxTurns,
	}, dialogue.Deps{
		WakeEvents: wakeEvents,
		Recorder:   ep,
		Mic:        tee.LiveSource(),
		STT:        sttClient,
		LLM:        llmClient,
		TTS:        ttsClient,
		Gate:       gate,
		Wake:       wakeGate,
		Anim:       anim,
		LED:        ledIndicator,
		Logger:     logger,
	})

	go controller.Run()

	fmt.Println("companion started, press Ctrl+C to exit")
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Println("shutting down...")

	controller.Stop()
	close(stopWakeScan)
	<-wakeScanDone
	tee.Stop()
	faceTracker.Stop()
	lid.Stop()

	close(stopServoTick)
	<-servoTickDone
	for _, s := range registry.All() {
		s.SetTarget(servo.StopAngle(cfg.Calibration, s))
	}
	// The ticker goroutine has stopped, so tick the motion profile here for
	// up to one second to carry each servo to its stop angle.
	for parkUntil := time.Now().Add(time.Second); time.Now().Before(parkUntil); {
		for _, s := range registry.All() {
			_ = s.Update(time.Now())
		}
		time.Sleep(servoTickInterval)
	}
	for _, s := range registry.All() {
		_ = s.Release()
	}

	_ = recorder.Close()
	_ = visionClient.Close()
	_ = bus.Close()
	_ = ttsClient.Close()
	closeLED()
}

func buildTTS(t config.TransportConfig) (tts.Client, error) {
	switch t.TTSBackend {
	case "fifo":
		return tts.OpenFIFO(t.TTSFIFOCmd, t.TTSFIFOStatus)
	case "subprocess":
		return tts.NewSubprocess(t.TTSSubprocess), nil
	default:
		return tts.DialWebSocket(context.Background(), t.TTSWSEndpoint)
	}
}

// buildLED opens the real serial LED indicator when a port is configured, or
// falls back to a no-op so the dialogue controller never needs a nil check.
func buildLED(port string, baud int, logger logging.Logger) (dialogue.LEDSetter, func()) {
	if port == "" {
		return noopLED{}, func() {}
	}
	ind, err := led.Open(port, baud)
	if err != nil {
		logger.Warn("led open failed, continuing without status indicator", "error", err)
		return noopLED{}, func() {}
	}
	return ind, func() { _ = ind.Close() }
}

type noopLED struct{}

func (noopLED) Set(led.State) error { return nil }
