package events

import (
	"runtime/debug"
	"sync"

	"github.com/cbodonnell/herosync/pkg/log"
)

// Event is a named notification with an arbitrary payload.
type Event struct {
	Name    string
	Payload interface{}
}

// Handler receives published events.
type Handler func(event Event)

// Subscription identifies a single registration on a Bus.
// The zero value is not subscribed to anything.
type Subscription struct {
	id   uint64
	name string
	bus  *Bus
}

// Name returns the event name the subscription listens to, or the empty
// string for subscriptions created with SubscribeAll.
func (s Subscription) Name() string {
	return s.name
}

// Unsubscribe removes the registration from its bus.
func (s Subscription) Unsubscribe() {
	if s.bus == nil {
		return
	}
	s.bus.Unsubscribe(s)
}

type registration struct {
	id      uint64
	handler Handler
}

// Bus is a synchronous publish/subscribe primitive keyed by event name.
type Bus struct {
	lock     sync.RWMutex
	nextID   uint64
	handlers map[string][]registration
	wildcard []registration
	logger   *log.Logger
}

// NewBus creates an empty Bus. A nil logger uses the default logger.
func NewBus(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.Default()
	}
	return &Bus{
		handlers: make(map[string][]registration),
		logger:   logger,
	}
}

// Subscribe registers a handler for the named event.
func (b *Bus) Subscribe(name string, handler Handler) Subscription {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.nextID++
	b.handlers[name] = append(b.handlers[name], registration{id: b.nextID, handler: handler})
	return Subscription{id: b.nextID, name: name, bus: b}
}

// SubscribeAll registers a handler for every event. Wildcard handlers run
// after the handlers registered for the specific name.
func (b *Bus) SubscribeAll(handler Handler) Subscription {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.nextID++
	b.wildcard = append(b.wildcard, registration{id: b.nextID, handler: handler})
	return Subscription{id: b.nextID, bus: b}
}

// Unsubscribe removes a registration. Unknown subscriptions are ignored.
func (b *Bus) Unsubscribe(sub Subscription) {
	if sub.bus != b {
		return
	}
	b.lock.Lock()
	defer b.lock.Unlock()
	if sub.name == "" {
		b.wildcard = without(b.wildcard, sub.id)
		return
	}
	regs := without(b.handlers[sub.name], sub.id)
	if len(regs) == 0 {
		delete(b.handlers, sub.name)
		return
	}
	b.handlers[sub.name] = regs
}

// Publish invokes every handler registered for name, in registration order,
// on the calling goroutine. A panicking handler is logged and skipped.
func (b *Bus) Publish(name string, payload interface{}) {
	b.lock.RLock()
	named := b.handlers[name]
	regs := make([]registration, 0, len(named)+len(b.wildcard))
	regs = append(regs, named...)
	regs = append(regs, b.wildcard...)
	b.lock.RUnlock()

	event := Event{Name: name, Payload: payload}
	for _, reg := range regs {
		b.invoke(reg, event)
	}
}

// HandlerCount returns the number of handlers that would receive name,
// wildcard handlers included.
func (b *Bus) HandlerCount(name string) int {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return len(b.handlers[name]) + len(b.wildcard)
}

func (b *Bus) invoke(reg registration, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Handler %d for event %s panicked: %v\n%s", reg.id, event.Name, r, debug.Stack())
		}
	}()
	reg.handler(event)
}

func without(regs []registration, id uint64) []registration {
	for i, reg := range regs {
		if reg.id == id {
			out := make([]registration, 0, len(regs)-1)
			out = append(out, regs[:i]...)
			return append(out, regs[i+1:]...)
		}
	}
	return regs
}
