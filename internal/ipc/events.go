package ipc

import (
	"sync"
	"time"

	"github.com/davehusk/millennium-qecc/internal/klog"
)

// Lifecycle topics published by the population and the kernel.
const (
	TopicAgentSpawned    = "agent_spawned"
	TopicSubagentSpawned = "subagent_spawned"
	TopicAgentTerminated = "agent_terminated"
	TopicAxiomViolation  = "axiom_violation"
	TopicEnergyLow       = "energy_low"
	TopicTaskFailed      = "task_failed"
	TopicScaled          = "scaled"
)

// Event is a broadcast notification sent to all subscribers of a topic.
type Event struct {
	Topic     string
	Source    string // agent ID, or "kernel"
	Payload   []byte
	Timestamp time.Time
}

// EventBus provides pub/sub broadcast events.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan Event // topic -> list of subscriber channels
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan Event),
	}
}

// Subscribe registers a channel to receive events for a topic.
// Returns the channel the caller should read from.
func (eb *EventBus) Subscribe(topic string, bufSize int) chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if bufSize <= 0 {
		bufSize = 32
	}
	ch := make(chan Event, bufSize)
	eb.subscribers[topic] = append(eb.subscribers[topic], ch)
	return ch
}

// SubscribeAll registers one channel on every given topic.
// Unsubscribe it with UnsubscribeAll using the same topic list.
func (eb *EventBus) SubscribeAll(topics []string, bufSize int) chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if bufSize <= 0 {
		bufSize = 32
	}
	ch := make(chan Event, bufSize)
	for _, topic := range topics {
		eb.subscribers[topic] = append(eb.subscribers[topic], ch)
	}
	return ch
}

// Unsubscribe removes a channel from a topic.
func (eb *EventBus) Unsubscribe(topic string, ch chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.remove(topic, ch) {
		close(ch)
	}
}

// UnsubscribeAll removes a channel from every given topic and closes it once.
func (eb *EventBus) UnsubscribeAll(topics []string, ch chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	removed := false
	for _, topic := range topics {
		if eb.remove(topic, ch) {
			removed = true
		}
	}
	if removed {
		close(ch)
	}
}

func (eb *EventBus) remove(topic string, ch chan Event) bool {
	subs := eb.subscribers[topic]
	for i, s := range subs {
		if s == ch {
			eb.subscribers[topic] = append(subs[:i], subs[i+1:]...)
			return true
		}
	}
	return false
}

// Publish sends an event to all subscribers of the topic.
// Non-blocking: if a subscriber's channel is full, the event is dropped for that subscriber.
func (eb *EventBus) Publish(topic string, source string, payload []byte) {
	evt := Event{
		Topic:     topic,
		Source:    source,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	// Unsubscribe closes channels under the write lock, so sending while
	// holding the read lock never hits a closed channel.
	eb.mu.RLock()
	subs := eb.subscribers[topic]
	delivered := 0
	for _, ch := range subs {
		select {
		case ch <- evt:
			delivered++
		default:
			// Channel full, drop for this subscriber.
		}
	}
	eb.mu.RUnlock()

	if len(subs) > 0 {
		klog.For("events").Debug("published event", "topic", topic, "source", source, "delivered", delivered, "total_subs", len(subs))
	}
}

// TopicCount returns the number of subscribers for a topic.
func (eb *EventBus) TopicCount(topic string) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers[topic])
}

// AllTopics lists every lifecycle topic, in a stable order.
func AllTopics() []string {
	return []string{
		TopicAgentSpawned,
		TopicSubagentSpawned,
		TopicAgentTerminated,
		TopicAxiomViolation,
		TopicEnergyLow,
		TopicTaskFailed,
		TopicScaled,
	}
}
