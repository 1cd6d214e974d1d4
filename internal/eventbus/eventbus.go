// Package eventbus is the publish-subscribe fabric described in spec.md
// §4.15: typed topics, best-effort non-blocking delivery, drop-oldest when a
// subscriber falls behind. No durability — subscribers that cannot miss an
// event should poll the store instead.
package eventbus

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Topic names the fixed set of event channels the system publishes to.
type Topic string

const (
	TopicScanProgress    Topic = "scan.progress"
	TopicJobStateChange  Topic = "job.state_change"
	TopicProviderHealth  Topic = "provider.health"
	TopicRateLimitPressure Topic = "ratelimit.pressure"
)

// Event is one published message. Payload is topic-specific and left as
// `any` deliberately — subscribers type-assert based on Topic.
type Event struct {
	Topic   Topic
	Payload any
}

// subscriberBufferSize bounds how far a subscriber may lag before the bus
// starts dropping its oldest unread events.
const subscriberBufferSize = 256

var droppedEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "curator_eventbus_dropped_total",
	Help: "Events dropped because a subscriber's buffer was full.",
}, []string{"topic"})

func init() {
	prometheus.MustRegister(droppedEvents)
}

type subscriber struct {
	topic Topic
	ch    chan Event
}

// Bus is a typed, in-process publish-subscribe hub. The zero value is not
// usable; construct with New.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]*subscriber
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[Topic][]*subscriber)}
}

// Subscribe returns a channel receiving every Event published to topic after
// this call. Callers must eventually call the returned cancel func to stop
// receiving and release the channel.
func (b *Bus) Subscribe(topic Topic) (<-chan Event, func()) {
	sub := &subscriber{topic: topic, ch: make(chan Event, subscriberBufferSize)}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		peers := b.subs[topic]
		for i, s := range peers {
			if s == sub {
				b.subs[topic] = append(peers[:i], peers[i+1:]...)
				close(sub.ch)
				break
			}
		}
	}
	return sub.ch, cancel
}

// Publish delivers payload to every current subscriber of topic. Delivery
// never blocks the publisher: a subscriber whose buffer is full has its
// oldest buffered event dropped to make room.
func (b *Bus) Publish(topic Topic, payload any) {
	b.mu.RLock()
	peers := append([]*subscriber(nil), b.subs[topic]...)
	b.mu.RUnlock()

	evt := Event{Topic: topic, Payload: payload}
	for _, s := range peers {
		select {
		case s.ch <- evt:
		default:
			// Buffer full: drop the oldest, then place the new event.
			select {
			case <-s.ch:
				droppedEvents.WithLabelValues(string(topic)).Inc()
			default:
			}
			select {
			case s.ch <- evt:
			default:
				// Lost a race with another publisher; give up silently rather
				// than block — best-effort delivery per spec.
			}
		}
	}
}
