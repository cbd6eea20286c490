package events

import (
	"context"
	"sync"
)

// Notifier wakes stream readers when a session has new events. It carries
// no payload; readers always re-read the store.
type Notifier interface {
	Publish(ctx context.Context, sessionID string) error
	Subscribe(ctx context.Context, sessionID string) (<-chan struct{}, func())
}

// Broker is the in-process Notifier.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan struct{}]struct{})}
}

func (b *Broker) Publish(_ context.Context, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[sessionID] {
		// A pending wake-up already covers this one.
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

func (b *Broker) Subscribe(_ context.Context, sessionID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	b.mu.Lock()
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[chan struct{}]struct{})
	}
	b.subs[sessionID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[sessionID], ch)
			if len(b.subs[sessionID]) == 0 {
				delete(b.subs, sessionID)
			}
			b.mu.Unlock()
		})
	}
}

// Subscribers reports the number of live subscriptions for a session.
func (b *Broker) Subscribers(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[sessionID])
}
