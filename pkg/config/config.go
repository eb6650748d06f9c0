// Package config assembles the companion's immutable runtime configuration
// from environment variables (optionally loaded from a .env file) plus the
// calibration overlay, once at startup. Nothing mutates it afterward.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/wrenhollow/companion-core/pkg/calibration"
)

// ErrConfig marks a startup-only configuration failure.
var ErrConfig = fmt.Errorf("config: invalid configuration")

// AudioConfig controls capture and AGC.
type AudioConfig struct {
	Device         string
	SampleRate     int
	Channels       int
	FrameMs        int
	AGCEnabled     bool
	AGCTargetDBFS  float64
	AGCMaxGainDB   float64
	AGCStepDB      float64
	VADAggressive  int
}

// EndpointConfig controls speech endpointing thresholds.
type EndpointConfig struct {
	StartWin        int
	StartMin        int
	StartConsecMin  int
	EndHangMs       int
	EndGuardMs      int
	PrerollMs       int
	NoSpeechTimeout float64
	MaxUtterS       float64
}

// WakeConfig controls the wake-word gate.
type WakeConfig struct {
	Threshold        float64
	MinGapS          float64
	SuppressAfterTTS float64
	RearmRatio       float64
	RearmLowCount    int
	ModelDir         string
	OnnxRuntimeLib   string
}

// DialogueConfig controls the dialogue controller's timing.
type DialogueConfig struct {
	FollowupEnable    bool
	FollowupArmS      float64
	FollowupMaxTurns  int
	FollowupCooldownS float64
	BargeIn           bool
	CooldownAfterTTS  float64
	DeepSleepTimeout  float64
	ResetOnWake       bool
	CtxTurns          int
}

// TrackerConfig mirrors pkg/tracker.Config's gains/deadzones/clamps, kept
// here as plain fields so it can be assembled from the environment and
// handed to tracker.New at startup.
type TrackerConfig struct {
	UpdateIntervalS float64
	InvokeIntervalS float64
	InvokeTimeoutS  float64
	NeutralTimeoutS float64
	FrameWidth      int
	FrameHeight     int
	CoordCenter     bool

	EyeNeutralDeg   float64
	EyeDeadzonePx   float64
	EyeGainDegPerPx float64
	EyeMaxDeltaDeg  float64

	PitchNeutralDeg   float64
	PitchDeadzonePx   float64
	PitchGainDegPerPx float64
	PitchMaxDeltaDeg  float64

	YawEnabled        bool
	YawChannel        string
	YawNeutralDeg     float64
	YawDeadzonePx     float64
	YawGainDegPerPx   float64
	YawMaxDeltaDeg    float64

	WheelNeutralDeg  float64
	WheelDeadzoneDeg float64
	WheelFollowDelay float64
	WheelInputMin    float64
	WheelInputMax    float64
	WheelPower       float64
	WheelOutputMin   float64
	WheelOutputMax   float64
	WheelLeftInvert  bool
	WheelRightInvert bool

	VisionFailureStreak int
}

// TransportConfig holds external collaborator endpoints.
type TransportConfig struct {
	PWMPort    string
	PWMBaud    int
	PWMFreqHz  float64
	VisionPort string
	VisionBaud int
	LEDPort    string
	LEDBaud    int

	STTBaseURL string
	LLMHost    string
	LLMModel   string
	LLMSystem  string

	TTSBackend     string // "websocket", "fifo", or "subprocess"
	TTSWSEndpoint  string
	TTSFIFOCmd     string
	TTSFIFOStatus  string
	TTSSubprocess  string

	CalibrationPath string
}

// Config is the complete, immutable process configuration.
type Config struct {
	Audio       AudioConfig
	Endpoint    EndpointConfig
	Wake        WakeConfig
	Dialogue    DialogueConfig
	Tracker     TrackerConfig
	Transport   TransportConfig
	Calibration calibration.Overlay
}

// Load reads a .env file if present, then populates Config from the
// environment, applying the spec's documented defaults for anything unset,
// and finally loads the calibration overlay.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// Missing .env is not fatal; system environment variables still apply.
	}

	cfg := &Config{
		Audio: AudioConfig{
			Device:        getenvString("AUDIO_DEVICE", ""),
			SampleRate:    getenvInt("AUDIO_SAMPLE_RATE", 16000),
			Channels:      getenvInt("AUDIO_CHANNELS", 1),
			FrameMs:       getenvInt("AUDIO_FRAME_MS", 30),
			AGCEnabled:    getenvBool("AUDIO_AGC_ENABLED", true),
			AGCTargetDBFS: getenvFloat("AUDIO_AGC_TARGET_DBFS", -26.0),
			AGCMaxGainDB:  getenvFloat("AUDIO_AGC_MAX_GAIN_DB", 18.0),
			AGCStepDB:     getenvFloat("AUDIO_AGC_STEP_DB", 1.0),
			VADAggressive: getenvInt("AUDIO_VAD_AGGRESSIVENESS", 2),
		},
		Endpoint: EndpointConfig{
			StartWin:        getenvInt("ENDPOINT_START_WIN", 5),
			StartMin:        getenvInt("ENDPOINT_START_MIN", 3),
			StartConsecMin:  getenvInt("ENDPOINT_START_CONSEC_MIN", 3),
			EndHangMs:       getenvInt("ENDPOINT_END_HANG_MS", 250),
			EndGuardMs:      getenvInt("ENDPOINT_END_GUARD_MS", 1200),
			PrerollMs:       getenvInt("ENDPOINT_PREROLL_MS", 240),
			NoSpeechTimeout: getenvFloat("ENDPOINT_NO_SPEECH_TIMEOUT_S", 3.0),
			MaxUtterS:       getenvFloat("ENDPOINT_MAX_UTTER_S", 8.0),
		},
		Wake: WakeConfig{
			Threshold:        getenvFloat("WAKE_THRESHOLD", 0.3),
			MinGapS:          getenvFloat("WAKE_MIN_GAP_S", 1.5),
			SuppressAfterTTS: getenvFloat("WAKE_SUPPRESS_AFTER_TTS_S", 0.8),
			RearmRatio:       getenvFloat("WAKE_REARM_RATIO", 0.6),
			RearmLowCount:    getenvInt("WAKE_REARM_LOW_COUNT", 3),
			ModelDir:         getenvString("WAKE_MODEL_DIR", "./models/wakeword"),
			OnnxRuntimeLib:   getenvString("WAKE_ONNXRUNTIME_LIB", ""),
		},
		Dialogue: DialogueConfig{
			FollowupEnable:    getenvBool("DIALOGUE_FOLLOWUP_ENABLE", true),
			FollowupArmS:      getenvFloat("DIALOGUE_FOLLOWUP_ARM_S", 3.0),
			FollowupMaxTurns:  getenvInt("DIALOGUE_FOLLOWUP_MAX_TURNS", 0),
			FollowupCooldownS: getenvFloat("DIALOGUE_FOLLOWUP_COOLDOWN_S", 0.10),
			BargeIn:           getenvBool("DIALOGUE_BARGE_IN", true),
			CooldownAfterTTS:  getenvFloat("DIALOGUE_COOLDOWN_AFTER_TTS_S", 0.5),
			DeepSleepTimeout:  getenvFloat("DIALOGUE_DEEP_SLEEP_TIMEOUT_S", 300.0),
			ResetOnWake:       getenvBool("DIALOGUE_RESET_ON_WAKE", false),
			CtxTurns:          getenvInt("DIALOGUE_CTX_TURNS", 6),
		},
		Tracker: TrackerConfig{
			UpdateIntervalS: getenvFloat("TRACKER_UPDATE_INTERVAL_S", 0.05),
			InvokeIntervalS: getenvFloat("TRACKER_INVOKE_INTERVAL_S", 0.1),
			InvokeTimeoutS:  getenvFloat("TRACKER_INVOKE_TIMEOUT_S", 0.2),
			NeutralTimeoutS: getenvFloat("TRACKER_NEUTRAL_TIMEOUT_S", 1.5),
			FrameWidth:      getenvInt("TRACKER_FRAME_WIDTH", 640),
			FrameHeight:     getenvInt("TRACKER_FRAME_HEIGHT", 480),
			CoordCenter:     getenvBool("TRACKER_COORDINATES_ARE_CENTER", true),

			EyeNeutralDeg:   getenvFloat("TRACKER_EYE_NEUTRAL_DEG", 90.0),
			EyeDeadzonePx:   getenvFloat("TRACKER_EYE_DEADZONE_PX", 20.0),
			EyeGainDegPerPx: getenvFloat("TRACKER_EYE_GAIN_DEG_PER_PX", 0.05),
			EyeMaxDeltaDeg:  getenvFloat("TRACKER_EYE_MAX_DELTA_DEG", 25.0),

			PitchNeutralDeg:   getenvFloat("TRACKER_PITCH_NEUTRAL_DEG", 90.0),
			PitchDeadzonePx:   getenvFloat("TRACKER_PITCH_DEADZONE_PX", 20.0),
			PitchGainDegPerPx: getenvFloat("TRACKER_PITCH_GAIN_DEG_PER_PX", 0.04),
			PitchMaxDeltaDeg:  getenvFloat("TRACKER_PITCH_MAX_DELTA_DEG", 20.0),

			YawChannel:      getenvString("TRACKER_YAW_CHANNEL", ""),
			YawNeutralDeg:   getenvFloat("TRACKER_YAW_NEUTRAL_DEG", 90.0),
			YawDeadzonePx:   getenvFloat("TRACKER_YAW_DEADZONE_PX", 20.0),
			YawGainDegPerPx: getenvFloat("TRACKER_YAW_GAIN_DEG_PER_PX", 0.05),
			YawMaxDeltaDeg:  getenvFloat("TRACKER_YAW_MAX_DELTA_DEG", 25.0),

			WheelNeutralDeg:  getenvFloat("TRACKER_WHEEL_NEUTRAL_DEG", 90.0),
			WheelDeadzoneDeg: getenvFloat("TRACKER_WHEEL_DEADZONE_DEG", 8.0),
			WheelFollowDelay: getenvFloat("TRACKER_WHEEL_FOLLOW_DELAY_S", 0.6),
			WheelInputMin:    getenvFloat("TRACKER_WHEEL_INPUT_MIN", 8.0),
			WheelInputMax:    getenvFloat("TRACKER_WHEEL_INPUT_MAX", 25.0),
			WheelPower:       getenvFloat("TRACKER_WHEEL_POWER", 1.6),
			WheelOutputMin:   getenvFloat("TRACKER_WHEEL_OUTPUT_MIN", 0.0),
			WheelOutputMax:   getenvFloat("TRACKER_WHEEL_OUTPUT_MAX", 30.0),
			WheelLeftInvert:  getenvBool("TRACKER_WHEEL_LEFT_INVERT", false),
			WheelRightInvert: getenvBool("TRACKER_WHEEL_RIGHT_INVERT", true),

			VisionFailureStreak: getenvInt("TRACKER_VISION_FAILURE_STREAK", 5),
		},
		Transport: TransportConfig{
			PWMPort:    getenvString("PWM_PORT", "/dev/ttyUSB0"),
			PWMBaud:    getenvInt("PWM_BAUD", 115200),
			PWMFreqHz:  getenvFloat("PWM_FREQ_HZ", 50.0),
			VisionPort: getenvString("VISION_PORT", "/dev/ttyUSB1"),
			VisionBaud: getenvInt("VISION_BAUD", 115200),
			LEDPort:    getenvString("LED_PORT", ""),
			LEDBaud:    getenvInt("LED_BAUD", 9600),

			STTBaseURL: getenvString("STT_BASE_URL", "http://localhost:8090"),
			LLMHost:    getenvString("LLM_HOST", "http://localhost:11434"),
			LLMModel:   getenvString("LLM_MODEL", "gemma3:1b"),
			LLMSystem:  getenvString("LLM_SYSTEM_PROMPT", defaultSystemPrompt),

			TTSBackend:    getenvString("TTS_BACKEND", "websocket"),
			TTSWSEndpoint: getenvString("TTS_WS_ENDPOINT", "ws://localhost:8765/ws"),
			TTSFIFOCmd:    getenvString("TTS_FIFO_CMD_PATH", "/tmp/companion-tts-cmd.fifo"),
			TTSFIFOStatus: getenvString("TTS_FIFO_STATUS_PATH", "/tmp/companion-tts-status.fifo"),
			TTSSubprocess: getenvString("TTS_SUBPROCESS_BINARY", ""),

			CalibrationPath: getenvString("CALIBRATION_PATH", ""),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	overlay, err := calibration.Load(cfg.Transport.CalibrationPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	cfg.Calibration = overlay

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("%w: AUDIO_SAMPLE_RATE must be positive", ErrConfig)
	}
	if c.Audio.VADAggressive < 0 || c.Audio.VADAggressive > 3 {
		return fmt.Errorf("%w: AUDIO_VAD_AGGRESSIVENESS must be in 0..3", ErrConfig)
	}
	switch c.Transport.TTSBackend {
	case "websocket", "fifo", "subprocess":
	default:
		return fmt.Errorf("%w: TTS_BACKEND must be websocket, fifo, or subprocess", ErrConfig)
	}
	return nil
}

// NeutralTimeout returns the tracker's neutral-return timeout as a
// time.Duration, a convenience for wiring tracker.Config.
func (t TrackerConfig) NeutralTimeout() time.Duration {
	return time.Duration(t.NeutralTimeoutS * float64(time.Second))
}

const defaultSystemPrompt = "You are a small animatronic companion. Keep replies to one or two short, friendly sentences suitable for being read aloud."

func getenvString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvFloat(key string, def float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
