// Package vision is a request/response façade to an external camera-side
// detector, serialized over a serial bus.
package vision

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// ErrVision is returned for any detector I/O or protocol failure.
var ErrVision = errors.New("vision: error")

// ErrTimeout indicates invoke_once did not get a response within the given
// timeout, distinct from the hardware read timeout set on the port.
var ErrTimeout = errors.New("vision: timeout")

// Detection is one labeled bounding box from the detector.
type Detection struct {
	Score    float64 `json:"score"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	W        float64 `json:"w"`
	H        float64 `json:"h"`
	CenterX  float64 `json:"center_x"`
	CenterY  float64 `json:"center_y"`
}

// Port is the minimal serial contract the client needs.
type Port interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	Close() error
}

// Client serializes detect requests over a serial bus one at a time.
type Client struct {
	mu   sync.Mutex
	port Port
	r    *bufio.Reader
}

// Open opens the serial port to the detector firmware at the given baud.
func Open(path string, baud int) (*Client, error) {
	mode := &serial.Mode{BaudRate: baud}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("vision: open %s: %w: %v", path, ErrVision, err)
	}
	return New(port), nil
}

// New wraps an already-open Port, used by tests and alternate transports.
func New(port Port) *Client {
	return &Client{port: port, r: bufio.NewReader(portReader{port})}
}

// portReader adapts Port's Read into an io.Reader for bufio.
type portReader struct{ p Port }

func (pr portReader) Read(b []byte) (int, error) { return pr.p.Read(b) }

// Close releases the underlying serial port.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port.Close()
}

// InvokeOnce requests one detection pass and blocks up to timeout for a
// response. Only one request is in flight at a time; concurrent callers
// serialize on the client's lock.
func (c *Client) InvokeOnce(timeout time.Duration) ([]Detection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.port.SetReadTimeout(timeout); err != nil {
		return nil, fmt.Errorf("%w: set read timeout: %v", ErrVision, err)
	}

	if _, err := c.port.Write(requestFrame()); err != nil {
		return nil, fmt.Errorf("%w: write request: %v", ErrVision, err)
	}

	result := make(chan frameResult, 1)
	go func() {
		payload, err := readFrame(c.r)
		result <- frameResult{payload: payload, err: err}
	}()

	select {
	case res := <-result:
		if res.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, res.err)
		}
		var dets []Detection
		if err := json.Unmarshal(res.payload, &dets); err != nil {
			return nil, fmt.Errorf("%w: decode response: %v", ErrVision, err)
		}
		return dets, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}

type frameResult struct {
	payload []byte
	err     error
}

// requestFrame is a fixed one-byte "detect" instruction.
func requestFrame() []byte {
	return []byte{0xD0}
}

// readFrame reads a 4-byte little-endian length prefix followed by that many
// bytes of JSON payload, the framing used by the detector firmware.
func readFrame(r *bufio.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := readFull(r, header); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(header)
	if n > 1<<20 {
		return nil, fmt.Errorf("vision: implausible frame length %d", n)
	}
	payload := make([]byte, n)
	if _, err := readFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
