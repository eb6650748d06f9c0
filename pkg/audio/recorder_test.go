package audio

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"
)

// newRecorderForTest builds a Recorder with no underlying hardware device,
// exercising only the buffering, gain, and AGC logic.
func newRecorderForTest() *Recorder {
	r := &Recorder{sampleRate: 16000, channels: 1}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func TestReadBytesBlocksUntilEnoughData(t *testing.T) {
	r := newRecorderForTest()
	done := make(chan []byte, 1)
	go func() {
		b, err := r.ReadBytes(4)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		done <- b
	}()

	time.Sleep(10 * time.Millisecond)
	r.onFrames([]byte{1, 2})
	r.onFrames([]byte{3, 4})

	select {
	case got := <-done:
		if len(got) != 4 || got[0] != 1 || got[3] != 4 {
			t.Fatalf("unexpected bytes: %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("ReadBytes did not unblock")
	}
}

func TestFlushDiscardsQueuedFrames(t *testing.T) {
	r := newRecorderForTest()
	r.onFrames([]byte{1, 2, 3, 4})
	r.Flush()

	r.mu.Lock()
	n := len(r.buf)
	r.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected buffer empty after flush, got %d bytes", n)
	}
}

func TestReadFloat32AppliesGain(t *testing.T) {
	r := newRecorderForTest()
	r.SetGainDB(20) // 10x linear gain

	raw := make([]byte, 2)
	binary.LittleEndian.PutUint16(raw, uint16(int16(1000)))
	r.onFrames(raw)

	samples, err := r.ReadFloat32(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := float32(1000.0/32768.0) * 10
	if samples[0] < want-0.001 || samples[0] > want+0.001 {
		t.Fatalf("expected gained sample near %v, got %v", want, samples[0])
	}
}

func TestCloseUnblocksPendingReadWithError(t *testing.T) {
	r := newRecorderForTest()
	errCh := make(chan error, 1)
	go func() {
		_, err := r.ReadBytes(100)
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	r.Close()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected error from closed recorder with insufficient data")
		}
	case <-time.After(time.Second):
		t.Fatal("ReadBytes did not unblock on close")
	}
}

func TestAGCStepsGainTowardTarget(t *testing.T) {
	r := newRecorderForTest()
	r.EnableAGC(AGCConfig{Enabled: true, TargetDBFS: -20, MaxGainDB: 30, StepDB: 50})

	quiet := make([]byte, 200)
	for i := 0; i < len(quiet); i += 2 {
		binary.LittleEndian.PutUint16(quiet[i:], uint16(int16(50)))
	}
	r.runAGC(quiet)

	if r.GainDB() <= 0 {
		t.Fatalf("expected AGC to raise gain for quiet input, got %v", r.GainDB())
	}
}

func TestAGCNeverExceedsMaxGain(t *testing.T) {
	r := newRecorderForTest()
	r.EnableAGC(AGCConfig{Enabled: true, TargetDBFS: 0, MaxGainDB: 5, StepDB: 50})

	silence := make([]byte, 200)
	for i := 0; i < 5; i++ {
		r.runAGC(silence)
	}
	if r.GainDB() > 5 {
		t.Fatalf("expected gain clamped to max 5dB, got %v", r.GainDB())
	}
}
