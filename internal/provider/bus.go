package provider

import "sync"

// EventSource delivers events to subscribers. The returned function
// removes the subscription.
type EventSource interface {
	Subscribe(handler func(Event)) (unsubscribe func())
}

// EventBus is an in-memory EventSource. Dispatch calls every subscriber
// synchronously on the caller's goroutine.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[int]func(Event)
	next     int
}

func NewEventBus() *EventBus {
	return &EventBus{handlers: make(map[int]func(Event))}
}

// Subscribe implements EventSource
func (b *EventBus) Subscribe(handler func(Event)) func() {
	b.mu.Lock()
	key := b.next
	b.next++
	b.handlers[key] = handler
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, key)
			b.mu.Unlock()
		})
	}
}

// Dispatch delivers e to every subscriber and reports how many received it
func (b *EventBus) Dispatch(e Event) int {
	b.mu.RLock()
	handlers := make([]func(Event), 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
	return len(handlers)
}
