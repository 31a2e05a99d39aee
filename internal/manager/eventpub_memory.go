package manager

import "sync"

// MemoryPublisher stores events in memory. Used by tests and the status page.
type MemoryPublisher struct {
	mu     sync.Mutex
	max    int
	events []Event
}

// NewMemoryPublisher keeps every event.
func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

// NewRingPublisher keeps the last n events.
func NewRingPublisher(n int) *MemoryPublisher { return &MemoryPublisher{max: n} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	if p.max > 0 && len(p.events) > p.max {
		p.events = append(p.events[:0:0], p.events[len(p.events)-p.max:]...)
	}
	p.mu.Unlock()
}

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Names returns the event names in publish order.
func (p *MemoryPublisher) Names() []string {
	evs := p.Events()
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.Name
	}
	return out
}
