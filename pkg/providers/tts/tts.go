// Package tts implements the companion's text-to-speech transport: commands
// (say, cancel) published to the backend, status events delivered on a
// sibling stream, with a common Client capability implemented by three
// interchangeable backends (pub/sub, FIFO, subprocess).
package tts

import "context"

// Status is one lifecycle event reported for a say request.
type Status string

const (
	StatusReady     Status = "READY"
	StatusStart     Status = "START"
	StatusSpeaking  Status = "SPEAKING"
	StatusDone      Status = "DONE"
	StatusCancelled Status = "CANCELLED"
	StatusError     Status = "ERROR"
)

// Event is one status transition for a given say request id.
type Event struct {
	ID     string
	Status Status
	Err    string
}

// Client is the capability every backend implements: say, cancel, events.
// The backend is chosen once at startup (tagged-variant dynamic dispatch);
// callers depend only on this interface.
type Client interface {
	// Say requests synthesis of text under id; status updates arrive on
	// Events. The websocket and FIFO backends return once the request has
	// been submitted, not once speech finishes; the subprocess backend
	// returns when its process exits.
	Say(ctx context.Context, id, text string) error
	// Cancel stops the named request, or the most recent one if id is "".
	Cancel(ctx context.Context, id string) error
	// Events returns the channel of lifecycle events for all requests.
	Events() <-chan Event
	// Close releases transport resources.
	Close() error
}
