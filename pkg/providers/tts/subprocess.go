package tts

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
)

// SubprocessClient is the last-resort transport: a one-shot subprocess per
// utterance that synthesizes and writes WAV straight to the audio device.
// It has no real cancel (the process either hasn't started or is killed)
// and synthesizes Events synchronously from Say's outcome.
type SubprocessClient struct {
	binary string
	args   []string

	mu      sync.Mutex
	running map[string]*exec.Cmd
	events  chan Event
}

// NewSubprocess configures the one-shot command. The text is appended as the
// final argument on each invocation.
func NewSubprocess(binary string, args ...string) *SubprocessClient {
	return &SubprocessClient{
		binary:  binary,
		args:    args,
		running: make(map[string]*exec.Cmd),
		events:  make(chan Event, 16),
	}
}

// Say spawns the subprocess synchronously and reports lifecycle events as it
// progresses; it blocks until the process exits.
func (c *SubprocessClient) Say(ctx context.Context, id, text string) error {
	cmd := exec.CommandContext(ctx, c.binary, append(append([]string{}, c.args...), text)...)

	c.mu.Lock()
	c.running[id] = cmd
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.running, id)
		c.mu.Unlock()
	}()

	c.emit(Event{ID: id, Status: StatusStart})
	if err := cmd.Run(); err != nil {
		c.emit(Event{ID: id, Status: StatusError, Err: err.Error()})
		return fmt.Errorf("tts: subprocess %s: %w", c.binary, err)
	}
	c.emit(Event{ID: id, Status: StatusDone})
	return nil
}

// Cancel kills the running subprocess for id, or the only running one if id
// is empty.
func (c *SubprocessClient) Cancel(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd, ok := c.running[id]
	if !ok {
		for _, running := range c.running {
			cmd = running
			ok = true
			break
		}
	}
	if !ok || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil {
		return fmt.Errorf("tts: cancel subprocess: %w", err)
	}
	c.emit(Event{ID: id, Status: StatusCancelled})
	return nil
}

// Events returns the lifecycle event stream.
func (c *SubprocessClient) Events() <-chan Event {
	return c.events
}

// Close is a no-op; there is no persistent transport to release.
func (c *SubprocessClient) Close() error {
	return nil
}

func (c *SubprocessClient) emit(e Event) {
	select {
	case c.events <- e:
	default:
	}
}
