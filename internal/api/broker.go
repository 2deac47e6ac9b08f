package api

import (
	"encoding/json"
	"sync"
)

// Event is one message on an experiment topic.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Event types.
const (
	EventRunCompleted       = "run.completed"
	EventExperimentFinished = "experiment.finished"
)

func newEvent(typ string, v any) Event {
	b, _ := json.Marshal(v)
	return Event{Type: typ, Data: b}
}

// subscriberBuffer is how many events a slow subscriber may lag before
// Publish starts dropping for it.
const subscriberBuffer = 64

type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{} // experimentId -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan Event]struct{}{}}
}

func (b *Broker) Subscribe(topic string) chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = map[chan Event]struct{}{}
	}
	b.subs[topic][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(topic string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[topic]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, topic)
	}
	close(ch)
}

func (b *Broker) Publish(topic string, evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[topic] {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (b *Broker) Close() error { return nil }
