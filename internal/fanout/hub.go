package fanout

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Event types published on session topics.
const (
	TypeSessionUpdate = "session_update"
	TypeSessionDelete = "session_delete"
	TypeAttemptInsert = "attempt_insert"
	TypePlayerJoin    = "player_join"
	TypePlayerUpdate  = "player_update"
	TypePlayerLeave   = "player_leave"
	TypePing          = "ping"
)

// Event is one change notification. ServerTime lets clients correct for
// clock skew when computing remaining round time.
type Event struct {
	Type       string    `json:"type"`
	Payload    any       `json:"payload"`
	ServerTime time.Time `json:"server_time"`
}

// Publisher delivers events to a topic. Delivery is best-effort.
type Publisher interface {
	Publish(topic string, event Event)
}

// Hub is an in-process multicast group per topic.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
	buffer int
	clock  clockwork.Clock
}

// Subscription receives the events of one topic until it is closed.
type Subscription struct {
	topic string
	ch    chan Event
}

// Events is closed when the subscription is removed, either by its
// unsubscribe func or because the hub pruned it as a dead consumer.
func (s *Subscription) Events() <-chan Event { return s.ch }

func NewHub(buffer int, clock clockwork.Clock) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Hub{
		topics: make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		clock:  clock,
	}
}

// Subscribe registers a new subscriber on topic. The returned func removes
// it and is safe to call more than once.
func (h *Hub) Subscribe(topic string) (*Subscription, func()) {
	sub := &Subscription{topic: topic, ch: make(chan Event, h.buffer)}
	h.mu.Lock()
	group := h.topics[topic]
	if group == nil {
		group = make(map[*Subscription]struct{})
		h.topics[topic] = group
	}
	group[sub] = struct{}{}
	h.mu.Unlock()

	log.Debug().Str("topic", topic).Msg("subscriber added")
	return sub, func() { h.remove(sub) }
}

// Publish stamps the event with the server time and queues it for every
// subscriber of topic. A subscriber whose queue is full is pruned.
func (h *Hub) Publish(topic string, event Event) {
	if event.ServerTime.IsZero() {
		event.ServerTime = h.clock.Now().UTC()
	}

	var dead []*Subscription
	h.mu.RLock()
	for sub := range h.topics[topic] {
		select {
		case sub.ch <- event:
		default:
			dead = append(dead, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range dead {
		log.Warn().Str("topic", topic).Msg("subscriber queue full, pruning")
		h.remove(sub)
	}
}

// Subscribers returns the number of live subscribers on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group := h.topics[sub.topic]
	if group == nil {
		return
	}
	if _, ok := group[sub]; !ok {
		return
	}
	delete(group, sub)
	close(sub.ch)
	if len(group) == 0 {
		delete(h.topics, sub.topic)
	}
}

// Multi fans one publish out to several publishers.
type Multi []Publisher

func (m Multi) Publish(topic string, event Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(topic, event)
		}
	}
}
