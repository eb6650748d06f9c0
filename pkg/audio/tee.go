package audio

import "sync"

// ByteSource is the minimal blocking-read contract Tee pumps from; satisfied
// by *Recorder and by fakes in tests.
type ByteSource interface {
	ReadBytes(n int) ([]byte, error)
}

// Tee pumps fixed-size hops from a single ByteSource (one physical
// microphone) to two independent consumers: a continuously-drained wake-word
// tap and a bounded live tap for the speech endpoint. Both taps see the same
// audio; neither steals bytes from the other, unlike two callers sharing one
// ReadBytes source directly.
type Tee struct {
	src     ByteSource
	hopSize int

	wakeCh chan []byte

	mu       sync.Mutex
	cond     *sync.Cond
	buf      []byte
	capacity int
	closed   bool

	stop chan struct{}
	done chan struct{}
}

// NewTee creates a Tee reading hopSize-byte chunks from src. wakeBacklog
// bounds the wake-word channel (frames are dropped, oldest first, when a
// scorer falls behind rather than blocking the pump). liveCapacity bounds
// the endpoint-facing ring buffer so a long Idle/DeepSleep period doesn't
// accumulate unread audio; once full, the oldest bytes are discarded as new
// ones arrive, so a fresh Record call always starts near-live.
func NewTee(src ByteSource, hopSize, wakeBacklog, liveCapacity int) *Tee {
	t := &Tee{
		src:      src,
		hopSize:  hopSize,
		wakeCh:   make(chan []byte, wakeBacklog),
		capacity: liveCapacity,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Run pumps hops until Stop is called.
func (t *Tee) Run() {
	defer close(t.done)
	for {
		select {
		case <-t.stop:
			return
		default:
		}
		frame, err := t.src.ReadBytes(t.hopSize)
		if err != nil {
			return
		}
		t.deliverWake(frame)
		t.deliverLive(frame)
	}
}

// Stop halts the pump.
func (t *Tee) Stop() {
	close(t.stop)
	<-t.done
	t.mu.Lock()
	t.closed = true
	t.cond.Broadcast()
	t.mu.Unlock()
}

func (t *Tee) deliverWake(frame []byte) {
	cp := append([]byte(nil), frame...)
	select {
	case t.wakeCh <- cp:
	default:
		select {
		case <-t.wakeCh:
		default:
		}
		select {
		case t.wakeCh <- cp:
		default:
		}
	}
}

func (t *Tee) deliverLive(frame []byte) {
	t.mu.Lock()
	t.buf = append(t.buf, frame...)
	if over := len(t.buf) - t.capacity; over > 0 {
		t.buf = t.buf[over:]
	}
	t.cond.Signal()
	t.mu.Unlock()
}

// WakeHops returns the channel of fresh hop-sized frames for wake-word
// scoring.
func (t *Tee) WakeHops() <-chan []byte {
	return t.wakeCh
}

// LiveSource returns an endpoint.FrameSource-compatible reader over the
// bounded live tap.
func (t *Tee) LiveSource() *liveSource {
	return &liveSource{t: t}
}

type liveSource struct{ t *Tee }

// ReadBytes blocks until n bytes are available from the live tap.
func (s *liveSource) ReadBytes(n int) ([]byte, error) {
	t := s.t
	t.mu.Lock()
	defer t.mu.Unlock()
	for len(t.buf) < n && !t.closed {
		t.cond.Wait()
	}
	if t.closed && len(t.buf) < n {
		return nil, errClosed
	}
	out := make([]byte, n)
	copy(out, t.buf[:n])
	t.buf = t.buf[n:]
	return out, nil
}

// Flush discards any buffered live audio, used on followup re-arm.
func (s *liveSource) Flush() {
	t := s.t
	t.mu.Lock()
	t.buf = t.buf[:0]
	t.mu.Unlock()
}

var errClosed = &closedError{}

type closedError struct{}

func (*closedError) Error() string { return "audio: tee closed with insufficient data" }
