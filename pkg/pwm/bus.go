// Package pwm talks to a 16-channel PWM expander over a serial bus, writing
// a pulse width in microseconds per channel at a fixed carrier frequency.
package pwm

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// ErrBus is returned when a write to the PWM expander fails after retries.
var ErrBus = errors.New("pwm: bus error")

const (
	numChannels = 16
	// ticksPerCycle is the PCA9685-style 12-bit counter resolution.
	ticksPerCycle = 4096
	maxRetries    = 3
	retryBase     = 5 * time.Millisecond
)

// Port is the minimal serial contract the bus needs; satisfied by
// go.bug.st/serial's serial.Port and by a fake in tests.
type Port interface {
	Write(p []byte) (int, error)
	Close() error
}

// Bus serializes all writes to a single PWM expander. One Bus is shared by
// every Servo wired to it; its mutex serializes every write to the
// expander.
type Bus struct {
	mu       sync.Mutex
	port     Port
	freqHz   float64
	released [numChannels]bool
}

// Open opens the serial port at the given path/baud and returns a Bus ready
// to drive up to 16 channels at the given carrier frequency.
func Open(path string, baud int, freqHz float64) (*Bus, error) {
	mode := &serial.Mode{BaudRate: baud}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("pwm: open %s: %w: %v", path, ErrBus, err)
	}
	return New(port, freqHz), nil
}

// New wraps an already-open Port, useful for tests and for alternate
// transports that still implement the Port contract.
func New(port Port, freqHz float64) *Bus {
	return &Bus{port: port, freqHz: freqHz}
}

// SetFreq reprograms the carrier frequency shared by all channels.
func (b *Bus) SetFreq(hz float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.writeWithRetry(freqFrame(hz)); err != nil {
		return err
	}
	b.freqHz = hz
	return nil
}

// SetPWM writes the raw on/off tick pair for a channel (0-4095 each),
// matching the PCA9685-style wire format of the expander firmware.
func (b *Bus) SetPWM(channel int, onTicks, offTicks uint16) error {
	if channel < 0 || channel >= numChannels {
		return fmt.Errorf("pwm: channel %d out of range: %w", channel, ErrBus)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.writeWithRetry(pwmFrame(channel, onTicks, offTicks)); err != nil {
		return err
	}
	b.released[channel] = false
	return nil
}

// SetPulseUs converts a pulse width in microseconds to on/off ticks at the
// given carrier frequency and writes it atomically.
func (b *Bus) SetPulseUs(channel int, pulseUs float64, freqHz float64) error {
	if freqHz <= 0 {
		freqHz = b.freqHz
	}
	periodUs := 1_000_000.0 / freqHz
	ticks := uint16(pulseUs / periodUs * float64(ticksPerCycle))
	return b.SetPWM(channel, 0, ticks)
}

// Release writes a zero-pulse equivalent to the channel, the safe idle state
// used on servo shutdown and process teardown.
func (b *Bus) Release(channel int) error {
	if channel < 0 || channel >= numChannels {
		return fmt.Errorf("pwm: channel %d out of range: %w", channel, ErrBus)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.writeWithRetry(pwmFrame(channel, 0, 0)); err != nil {
		return err
	}
	b.released[channel] = true
	return nil
}

// Close releases every channel and closes the underlying port.
func (b *Bus) Close() error {
	var firstErr error
	for ch := 0; ch < numChannels; ch++ {
		if err := b.Release(ch); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.port.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// writeWithRetry performs the write under the caller's held lock, retrying
// with exponential backoff on I/O failure before surfacing ErrBus.
func (b *Bus) writeWithRetry(frame []byte) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if _, err := b.port.Write(frame); err != nil {
			lastErr = err
			time.Sleep(retryBase << attempt)
			continue
		}
		return nil
	}
	return fmt.Errorf("%w: after %d attempts: %v", ErrBus, maxRetries, lastErr)
}

// pwmFrame encodes a single channel on/off write. The wire format is
// firmware-defined; this lays out channel + two little-endian tick pairs,
// the common shape for PCA9685-derived expanders.
func pwmFrame(channel int, onTicks, offTicks uint16) []byte {
	return []byte{
		0xA5, // start marker
		byte(channel),
		byte(onTicks), byte(onTicks >> 8),
		byte(offTicks), byte(offTicks >> 8),
	}
}

func freqFrame(hz float64) []byte {
	raw := uint16(hz * 100)
	return []byte{0xA6, byte(raw), byte(raw >> 8)}
}
