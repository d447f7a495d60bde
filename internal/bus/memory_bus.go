package bus

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// subscriberBufferSize bounds how many undelivered messages a slow
// subscriber can accumulate before Publish starts dropping for it.
const subscriberBufferSize = 64

var dropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "encodis_bus_drops_total",
	Help: "Total number of messages dropped because a subscriber's channel was full.",
}, []string{"topic"})

// MemoryBus is an in-process pub/sub. Delivery is best-effort: a subscriber
// that falls behind has messages dropped for it rather than blocking the
// publisher.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]chan Message
}

// NewMemoryBus returns an empty MemoryBus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]chan Message)}
}

// Publish fans msg out to every current subscriber of topic. A subscriber
// whose buffer is full has this message dropped for it; Publish never blocks.
func (b *MemoryBus) Publish(_ context.Context, topic string, msg Message) error {
	b.mu.RLock()
	chs := append([]chan Message(nil), b.subs[topic]...)
	b.mu.RUnlock()

	for _, ch := range chs {
		select {
		case ch <- msg:
		default:
			dropsTotal.WithLabelValues(topic).Inc()
		}
	}
	return nil
}

// Subscribe registers a new buffered subscription to topic.
func (b *MemoryBus) Subscribe(_ context.Context, topic string) (Subscriber, error) {
	ch := make(chan Message, subscriberBufferSize)

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()

	return &memorySubscriber{bus: b, topic: topic, ch: ch}, nil
}

type memorySubscriber struct {
	bus   *MemoryBus
	topic string
	ch    chan Message
}

func (s *memorySubscriber) C() <-chan Message { return s.ch }

func (s *memorySubscriber) Close() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	lst := s.bus.subs[s.topic]
	out := lst[:0]
	for _, c := range lst {
		if c != s.ch {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		delete(s.bus.subs, s.topic)
	} else {
		s.bus.subs[s.topic] = out
	}
	close(s.ch)
	return nil
}

var _ Bus = (*MemoryBus)(nil)
