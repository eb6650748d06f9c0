package servo

import "fmt"

// Registry is the process-wide name -> Servo map. It is built once at
// startup and is immutable afterward; Get is safe for concurrent readers
// without additional locking because nothing mutates the map after
// BuildRegistry returns.
type Registry struct {
	byName    map[string]*Servo
	byChannel map[int]string
}

// NewRegistry creates an empty, mutable builder. Call Register for each
// actuator, then treat the returned Registry as read-only.
func NewRegistry() *Registry {
	return &Registry{
		byName:    make(map[string]*Servo),
		byChannel: make(map[int]string),
	}
}

// Register adds a servo under a unique name and channel. Returns an error
// if either is already taken.
func (r *Registry) Register(name string, channel int, cfg Config, bus Bus) (*Servo, error) {
	if _, exists := r.byName[name]; exists {
		return nil, fmt.Errorf("servo: name %q already registered", name)
	}
	if other, exists := r.byChannel[channel]; exists {
		return nil, fmt.Errorf("servo: channel %d already bound to %q", channel, other)
	}
	s, err := New(name, channel, cfg, bus)
	if err != nil {
		return nil, fmt.Errorf("servo: registering %q: %w", name, err)
	}
	r.byName[name] = s
	r.byChannel[channel] = name
	return s, nil
}

// Get returns the servo bound to name, or nil if none is registered.
func (r *Registry) Get(name string) *Servo {
	return r.byName[name]
}

// All returns every registered servo in no particular order.
func (r *Registry) All() []*Servo {
	out := make([]*Servo, 0, len(r.byName))
	for _, s := range r.byName {
		out = append(out, s)
	}
	return out
}
