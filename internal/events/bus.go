package events

import (
	"context"
	"sync"
	"time"

	"aolcore/internal/metrics"
	"aolcore/pkg/logging"
)

const (
	// subscriberQueueSize bounds each subscriber's delivery queue.
	subscriberQueueSize = 1000

	// deliveryDeadline is the per-subscriber publish deadline; a subscriber
	// that cannot accept within it is treated as dead and evicted.
	deliveryDeadline = time.Second
)

// Handler processes a dispatched event. Handlers run concurrently and must
// not assume any ordering against handlers for other kinds.
type Handler func(ctx context.Context, ev Event)

// channel is one named pub/sub channel with its subscriber queues.
type channel struct {
	name string

	mu          sync.Mutex
	subscribers map[string]chan Event
}

func (c *channel) subscribe(subscriberID string) <-chan Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	if q, ok := c.subscribers[subscriberID]; ok {
		return q
	}
	q := make(chan Event, subscriberQueueSize)
	c.subscribers[subscriberID] = q
	return q
}

func (c *channel) unsubscribe(subscriberID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscribers, subscriberID)
}

// publish delivers the event to every subscriber. Subscribers that miss the
// delivery deadline are evicted; publish never blocks indefinitely.
func (c *channel) publish(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var dead []string
	for id, q := range c.subscribers {
		select {
		case q <- ev:
		default:
			// Queue full: give the subscriber the deadline to drain.
			timer := time.NewTimer(deliveryDeadline)
			select {
			case q <- ev:
				timer.Stop()
			case <-timer.C:
				dead = append(dead, id)
			}
		}
	}

	for _, id := range dead {
		delete(c.subscribers, id)
		metrics.SubscribersEvicted.Inc()
		logging.Warn("EventBus", "Evicted slow subscriber %s from channel %s", id, c.name)
	}
}

// Bus fans events out to named channels and dispatches them to registered
// kind handlers.
type Bus struct {
	mu       sync.Mutex
	channels map[string]*channel

	handlerMu sync.RWMutex
	handlers  map[Kind][]Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		channels: make(map[string]*channel),
		handlers: make(map[Kind][]Handler),
	}
}

func (b *Bus) getOrCreateChannel(name string) *channel {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.channels[name]
	if !ok {
		ch = &channel{name: name, subscribers: make(map[string]chan Event)}
		b.channels[name] = ch
	}
	return ch
}

// Subscribe attaches a subscriber queue to the named channel. Subscribing
// twice with the same subscriber id returns the same queue.
func (b *Bus) Subscribe(channelName, subscriberID string) <-chan Event {
	return b.getOrCreateChannel(channelName).subscribe(subscriberID)
}

// Unsubscribe detaches a subscriber from the named channel.
func (b *Bus) Unsubscribe(channelName, subscriberID string) {
	b.getOrCreateChannel(channelName).unsubscribe(subscriberID)
}

// Publish delivers an event to every subscriber of the named channel.
func (b *Bus) Publish(channelName string, ev Event) {
	b.getOrCreateChannel(channelName).publish(ev)
}

// RegisterHandler adds a handler for a specific event kind.
func (b *Bus) RegisterHandler(kind Kind, handler Handler) {
	b.handlerMu.Lock()
	defer b.handlerMu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], handler)
}

// Dispatch invokes all handlers registered for the event's kind concurrently
// and waits for them. A panicking handler is logged and never interrupts the
// others.
func (b *Bus) Dispatch(ctx context.Context, ev Event) {
	b.handlerMu.RLock()
	handlers := b.handlers[ev.Kind]
	b.handlerMu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, handler := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logging.Error("EventBus", nil, "Handler for %s panicked: %v", ev.Kind, r)
				}
			}()
			h(ctx, ev)
		}(handler)
	}
	wg.Wait()
}
