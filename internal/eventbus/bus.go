// Package eventbus fans events out to in-process subscribers. Emission
// order defines the total order of a session's stream; the bus keeps a
// bounded history so late-joining observers can replay it.
package eventbus

import (
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/helmsman-dev/helmsman/internal/event"
)

const defaultHistoryLimit = 1024

type Bus struct {
	mu           sync.RWMutex
	subscribers  map[string]chan *event.Event
	history      []*event.Event
	historyLimit int
}

func New() *Bus {
	return &Bus{
		subscribers:  make(map[string]chan *event.Event),
		historyLimit: defaultHistoryLimit,
	}
}

func (b *Bus) Subscribe(bufSize int) (string, <-chan *event.Event) {
	id := ulid.Make().String()
	ch := make(chan *event.Event, bufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// SubscribeWithReplay registers a subscriber and returns the retained
// history in emission order. The caller consumes the history before the
// channel to preserve ordering.
func (b *Bus) SubscribeWithReplay(bufSize int) (string, []*event.Event, <-chan *event.Event) {
	id := ulid.Make().String()
	ch := make(chan *event.Event, bufSize)
	b.mu.Lock()
	replay := make([]*event.Event, len(b.history))
	copy(replay, b.history)
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, replay, ch
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

func (b *Bus) Publish(ev *event.Event) {
	b.mu.Lock()
	b.history = append(b.history, ev)
	if len(b.history) > b.historyLimit {
		b.history = b.history[len(b.history)-b.historyLimit:]
	}
	subs := make([]chan *event.Event, 0, len(b.subscribers))
	for _, ch := range b.subscribers {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			// buffer full, drop event for this subscriber
		}
	}
}
