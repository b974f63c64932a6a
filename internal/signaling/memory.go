package signaling

import (
	"context"
	"sync"
)

// MemoryBus is an in-process Bus for tests and single-node development. It
// mirrors the relay's loose contract: fan-out to current subscribers, slow
// subscribers drop messages rather than block the publisher.
type MemoryBus struct {
	mu     sync.RWMutex
	topics map[string][]*memorySubscription
}

// NewMemoryBus creates an empty in-process bus
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{topics: make(map[string][]*memorySubscription)}
}

// Publish fans payload out to every current subscriber of topic
func (b *MemoryBus) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	subs := make([]*memorySubscription, len(b.topics[topic]))
	copy(subs, b.topics[topic])
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.deliver(payload)
	}
	return nil
}

// Subscribe joins topic
func (b *MemoryBus) Subscribe(_ context.Context, topic string) (Subscription, error) {
	sub := &memorySubscription{
		bus:   b,
		topic: topic,
		out:   make(chan []byte, 64),
	}
	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], sub)
	b.mu.Unlock()
	return sub, nil
}

type memorySubscription struct {
	bus   *MemoryBus
	topic string
	out   chan []byte

	closeMu sync.Mutex
	closed  bool
}

func (s *memorySubscription) deliver(payload []byte) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.out <- payload:
	default:
		// slow subscriber, drop; the relay gives no delivery guarantee
	}
}

func (s *memorySubscription) Messages() <-chan []byte {
	return s.out
}

func (s *memorySubscription) Close() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	close(s.out)
	s.closeMu.Unlock()

	s.bus.mu.Lock()
	subs := s.bus.topics[s.topic]
	for i, sub := range subs {
		if sub == s {
			s.bus.topics[s.topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(s.bus.topics[s.topic]) == 0 {
		delete(s.bus.topics, s.topic)
	}
	s.bus.mu.Unlock()
	return nil
}
