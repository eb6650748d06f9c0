package tts

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FIFOClient is the first fallback transport: line-delimited JSON commands
// written to a named pipe, with status events read back from a second named
// pipe written by the backend.
type FIFOClient struct {
	cmdPipe  *os.File
	statPipe *os.File

	mu     sync.Mutex
	lastID string
	events chan Event
	cancel context.CancelFunc
}

// OpenFIFO opens the command and status named pipes; both must already exist
// (created by the backend or an init step), matching the line-delimited JSON
// fallback described for the TTS transport.
func OpenFIFO(cmdPath, statusPath string) (*FIFOClient, error) {
	cmdPipe, err := os.OpenFile(cmdPath, os.O_WRONLY, os.ModeNamedPipe)
	if err != nil {
		return nil, fmt.Errorf("tts: open command pipe %s: %w", cmdPath, err)
	}
	statPipe, err := os.OpenFile(statusPath, os.O_RDONLY, os.ModeNamedPipe)
	if err != nil {
		cmdPipe.Close()
		return nil, fmt.Errorf("tts: open status pipe %s: %w", statusPath, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &FIFOClient{
		cmdPipe:  cmdPipe,
		statPipe: statPipe,
		events:   make(chan Event, 16),
		cancel:   cancel,
	}
	go c.readLoop(ctx)
	return c, nil
}

func (c *FIFOClient) readLoop(ctx context.Context) {
	defer close(c.events)
	scanner := bufio.NewScanner(c.statPipe)
	for scanner.Scan() {
		var frame statusFrame
		if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil {
			continue
		}
		select {
		case c.events <- Event{ID: frame.ID, Status: Status(frame.Status), Err: frame.Error}:
		case <-ctx.Done():
			return
		}
	}
}

func (c *FIFOClient) writeLine(cmd sayCommand) error {
	line, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("tts: encode command: %w", err)
	}
	line = append(line, '\n')
	if _, err := c.cmdPipe.Write(line); err != nil {
		return fmt.Errorf("tts: write command pipe: %w", err)
	}
	return nil
}

// Say writes a say command line to the command pipe.
func (c *FIFOClient) Say(ctx context.Context, id, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastID = id
	return c.writeLine(sayCommand{Cmd: "say", ID: id, Text: text})
}

// Cancel writes a cancel command line, defaulting to the last said id.
func (c *FIFOClient) Cancel(ctx context.Context, id string) error {
	c.mu.Lock()
	if id == "" {
		id = c.lastID
	}
	c.mu.Unlock()
	return c.writeLine(sayCommand{Cmd: "cancel", ID: id})
}

// Events returns the lifecycle event stream.
func (c *FIFOClient) Events() <-chan Event {
	return c.events
}

// Close stops the reader and closes both pipes.
func (c *FIFOClient) Close() error {
	c.cancel()
	err1 := c.cmdPipe.Close()
	err2 := c.statPipe.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
