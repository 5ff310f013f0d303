package relay

import (
	"context"
	"sync"

	"github.com/shopkit/checkout-go/giftwrap"
)

// MemoryPublisher keeps published events in memory. A fail hook lets tests
// reject chosen publish calls.
type MemoryPublisher struct {
	mu       sync.Mutex
	events   []*giftwrap.Event
	attempts int
	fail     func(ev *giftwrap.Event, attempt int) error
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// SetFailHook makes Publish return f's error when non-nil. attempt counts
// every Publish call starting at 1.
func (m *MemoryPublisher) SetFailHook(f func(ev *giftwrap.Event, attempt int) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = f
}

func (m *MemoryPublisher) Publish(ctx context.Context, ev *giftwrap.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.fail != nil {
		if err := m.fail(ev, m.attempts); err != nil {
			return err
		}
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *MemoryPublisher) Events() []*giftwrap.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*giftwrap.Event(nil), m.events...)
}

// For returns the events addressed to pubkey.
func (m *MemoryPublisher) For(pubkey string) []*giftwrap.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*giftwrap.Event
	for _, ev := range m.events {
		if ev.TagValue("p") == pubkey {
			out = append(out, ev)
		}
	}
	return out
}

func (m *MemoryPublisher) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}
