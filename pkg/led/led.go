// Package led drives the companion's status LED, an external collaborator
// with a narrow interface: the dialogue controller only ever needs to push
// one of a small set of named states.
package led

import (
	"errors"
	"fmt"

	"go.bug.st/serial"
)

// ErrLED is returned when a write to the LED controller fails.
var ErrLED = errors.New("led: write error")

// State is one of the dialogue controller's small set of status colors.
type State byte

const (
	Off State = iota
	Listening
	Thinking
	Speaking
	AwaitFollowup
	Error
)

func (s State) frameByte() byte {
	switch s {
	case Listening:
		return 0x01
	case Thinking:
		return 0x02
	case Speaking:
		return 0x03
	case AwaitFollowup:
		return 0x04
	case Error:
		return 0xFF
	default:
		return 0x00
	}
}

// Port is the minimal serial contract the indicator needs.
type Port interface {
	Write(p []byte) (int, error)
	Close() error
}

// Indicator is a single-LED (or LED-strip) status light addressed by one
// byte per state change.
type Indicator struct {
	port Port
}

// Open opens the serial path feeding the LED controller.
func Open(path string, baud int) (*Indicator, error) {
	port, err := serial.Open(path, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("led: open %s: %w: %v", path, ErrLED, err)
	}
	return New(port), nil
}

// New wraps an already-open Port, used for tests and alternate transports.
func New(port Port) *Indicator {
	return &Indicator{port: port}
}

// Set pushes a new status state, the only operation the dialogue controller
// needs from this collaborator.
func (i *Indicator) Set(s State) error {
	if _, err := i.port.Write([]byte{0xB0, s.frameByte()}); err != nil {
		return fmt.Errorf("%w: %v", ErrLED, err)
	}
	return nil
}

// Close releases the underlying port, driving the LED off first.
func (i *Indicator) Close() error {
	_ = i.Set(Off)
	return i.port.Close()
}
