package audio

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
)

// ErrRecorder is returned for capture device failures.
var ErrRecorder = errors.New("audio: recorder error")

// AGCConfig tunes automatic gain control. AGC runs only when Enabled is
// true.
type AGCConfig struct {
	Enabled    bool
	TargetDBFS float64
	MaxGainDB  float64
	StepDB     float64
}

// Recorder captures mono PCM16 little-endian audio from a selected input
// device and exposes a framed, blocking byte read.
type Recorder struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	sampleRate int
	channels   int

	mu      sync.Mutex
	cond    *sync.Cond
	buf     []byte
	closed  bool

	gainMu sync.Mutex
	gainDB float64
	agc    AGCConfig
}

// Open opens a raw PCM16 input stream on the given device (empty string for
// system default), at sampleRate with the given channel count.
func Open(deviceName string, sampleRate, channels int) (*Recorder, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: init context: %v", ErrRecorder, err)
	}

	r := &Recorder{
		ctx:        ctx,
		sampleRate: sampleRate,
		channels:   channels,
	}
	r.cond = sync.NewCond(&r.mu)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	if deviceName != "" {
		infos, err := ctx.Devices(malgo.Capture)
		if err == nil {
			for _, info := range infos {
				if info.Name() == deviceName {
					deviceConfig.Capture.DeviceID = info.ID.Pointer()
					break
				}
			}
		}
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			r.onFrames(input)
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("%w: init device: %v", ErrRecorder, err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("%w: start device: %v", ErrRecorder, err)
	}
	r.device = device
	return r, nil
}

func (r *Recorder) onFrames(input []byte) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.buf = append(r.buf, input...)
	r.cond.Signal()
	r.mu.Unlock()

	if r.agc.Enabled {
		r.runAGC(input)
	}
}

// ReadBytes blocks until exactly n bytes are available and returns them.
func (r *Recorder) ReadBytes(n int) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.buf) < n && !r.closed {
		r.cond.Wait()
	}
	if r.closed && len(r.buf) < n {
		return nil, fmt.Errorf("%w: closed with insufficient data", ErrRecorder)
	}
	out := make([]byte, n)
	copy(out, r.buf[:n])
	r.buf = r.buf[n:]
	return out, nil
}

// ReadFloat32 reads n samples of PCM16 and converts to float32 applying the
// current linear gain (10^(gain_db/20)).
func (r *Recorder) ReadFloat32(n int) ([]float32, error) {
	raw, err := r.ReadBytes(n * 2)
	if err != nil {
		return nil, err
	}
	gain := r.LinearGain()
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
		out[i] = float32(float64(s) / 32768.0 * gain)
	}
	return out, nil
}

// Flush discards any queued frames.
func (r *Recorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = r.buf[:0]
}

// Close stops capture and releases the device and context.
func (r *Recorder) Close() error {
	r.mu.Lock()
	r.closed = true
	r.cond.Broadcast()
	r.mu.Unlock()

	var firstErr error
	if r.device != nil {
		r.device.Stop()
		r.device.Uninit()
	}
	if r.ctx != nil {
		if err := r.ctx.Uninit(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.ctx.Free()
	}
	return firstErr
}

// SetGainDB sets the linear gain applied in ReadFloat32, expressed in dB.
func (r *Recorder) SetGainDB(db float64) {
	r.gainMu.Lock()
	defer r.gainMu.Unlock()
	r.gainDB = db
}

// GainDB returns the current gain in dB.
func (r *Recorder) GainDB() float64 {
	r.gainMu.Lock()
	defer r.gainMu.Unlock()
	return r.gainDB
}

// LinearGain converts the current dB gain to a linear multiplier.
func (r *Recorder) LinearGain() float64 {
	return math.Pow(10, r.GainDB()/20)
}

// EnableAGC turns on automatic gain control with the given tuning.
func (r *Recorder) EnableAGC(cfg AGCConfig) {
	r.agc = cfg
}

// runAGC measures per-frame dBFS on raw PCM16 bytes and steps gain toward
// the configured target, bounded by max_gain_db.
func (r *Recorder) runAGC(raw []byte) {
	n := len(raw) / 2
	if n == 0 {
		return
	}
	var sumSq float64
	for i := 0; i < n; i++ {
		s := int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
		v := float64(s) / 32768.0
		sumSq += v * v
	}
	rms := math.Sqrt(sumSq / float64(n))
	dbfs := -120.0
	if rms > 0 {
		dbfs = 20 * math.Log10(rms)
	}

	r.gainMu.Lock()
	defer r.gainMu.Unlock()
	diff := r.agc.TargetDBFS - (dbfs + r.gainDB)
	if diff > 0 {
		r.gainDB += math.Min(diff, r.agc.StepDB)
	} else if diff < 0 {
		r.gainDB += math.Max(diff, -r.agc.StepDB)
	}
	if r.gainDB > r.agc.MaxGainDB {
		r.gainDB = r.agc.MaxGainDB
	}
	if r.gainDB < -r.agc.MaxGainDB {
		r.gainDB = -r.agc.MaxGainDB
	}
}
