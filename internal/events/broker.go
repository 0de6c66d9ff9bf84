// Package events fans stage changes out to live subscribers: SSE and
// WebSocket clients in this process, and other processes over Redis.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/viberacer/api/internal/contest"
)

// TopicStage carries stage transitions.
const TopicStage = "stage"

// Event is the payload delivered to subscribers.
type Event struct {
	Type     string        `json:"type"`
	From     contest.Stage `json:"from,omitempty"`
	To       contest.Stage `json:"to,omitempty"`
	Manual   bool          `json:"manual,omitempty"`
	Deadline time.Time     `json:"deadline,omitzero"`
	At       time.Time     `json:"at,omitzero"`
	Origin   string        `json:"origin,omitempty"`
}

// Broker is an in-process pub/sub keyed by topic.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
}

func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]map[chan []byte]struct{}),
	}
}

// Subscribe returns a channel that receives JSON-encoded events for topic.
func (b *Broker) Subscribe(topic string) chan []byte {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[chan []byte]struct{})
	}
	b.subs[topic][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a channel from the topic's subscribers.
func (b *Broker) Unsubscribe(topic string, ch chan []byte) {
	b.mu.Lock()
	delete(b.subs[topic], ch)
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
	b.mu.Unlock()
}

// Publish sends an event to all subscribers of topic.
func (b *Broker) Publish(topic string, event Event) {
	data, _ := json.Marshal(event)
	b.publishRaw(topic, data)
}

func (b *Broker) publishRaw(topic string, data []byte) {
	b.mu.RLock()
	for ch := range b.subs[topic] {
		select {
		case ch <- data:
		default:
			// Drop if subscriber is slow.
		}
	}
	b.mu.RUnlock()
}

// Subscribers counts subscribers of topic.
func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
