package vision

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

type fakePort struct {
	mu         sync.Mutex
	writes     [][]byte
	readBuf    []byte
	readErr    error
	readTimeout time.Duration
	closed     bool
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), p...)
	f.writes = append(f.writes, cp)
	return len(p), nil
}

func (f *fakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return 0, f.readErr
	}
	if len(f.readBuf) == 0 {
		return 0, io.EOF
	}
	n := copy(p, f.readBuf)
	f.readBuf = f.readBuf[n:]
	return n, nil
}

func (f *fakePort) SetReadTimeout(t time.Duration) error {
	f.readTimeout = t
	return nil
}

func (f *fakePort) Close() error {
	f.closed = true
	return nil
}

func encodeFrame(t *testing.T, dets []Detection) []byte {
	t.Helper()
	payload, err := json.Marshal(dets)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	header := make([]byte, 4)
	binary.LittleEndian.PutUint32(header, uint32(len(payload)))
	return append(header, payload...)
}

func TestInvokeOnceDecodesDetections(t *testing.T) {
	want := []Detection{{Score: 0.9, CenterX: 100, CenterY: 50}}
	port := &fakePort{readBuf: encodeFrame(t, want)}
	c := New(port)

	got, err := c.InvokeOnce(100 * time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Score != 0.9 || got[0].CenterX != 100 {
		t.Fatalf("unexpected detections: %+v", got)
	}
	if len(port.writes) != 1 {
		t.Fatalf("expected exactly one request write, got %d", len(port.writes))
	}
}

func TestInvokeOnceTimesOutOnNoResponse(t *testing.T) {
	port := &fakePort{readErr: errors.New("no data")}
	c := New(port)

	_, err := c.InvokeOnce(20 * time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestInvokeOnceEmptyDetectionsIsNotAnError(t *testing.T) {
	port := &fakePort{readBuf: encodeFrame(t, []Detection{})}
	c := New(port)

	got, err := c.InvokeOnce(50 * time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no detections, got %v", got)
	}
}

func TestCloseClosesPort(t *testing.T) {
	port := &fakePort{}
	c := New(port)
	if err := c.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !port.closed {
		t.Fatalf("expected underlying port closed")
	}
}
