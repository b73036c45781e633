package core

import "sync"

// System internal event codes.
type SystemEventCode int

const (
	// Shuts the application down on the next frame.
	EVENT_CODE_APPLICATION_QUIT SystemEventCode = 0x01

	// Resized/resolution changed from the OS.
	// Data is a *ResizeEvent.
	EVENT_CODE_RESIZED SystemEventCode = 0x08

	MAX_EVENT_CODE SystemEventCode = 0xFF
)

type EventContext struct {
	Type SystemEventCode
	Data interface{}
}

type ResizeEvent struct {
	Width  uint32
	Height uint32
}

type FnOnEvent func(context EventContext)

// EventBus dispatches events synchronously on the goroutine that fires
// them. Window callbacks fire from the main thread, which is also the
// thread driving the frame loop, so listeners never race an acquire.
type EventBus struct {
	mu        sync.RWMutex
	listeners map[SystemEventCode][]FnOnEvent
}

func NewEventBus() *EventBus {
	return &EventBus{
		listeners: make(map[SystemEventCode][]FnOnEvent),
	}
}

func (b *EventBus) Register(code SystemEventCode, fn FnOnEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[code] = append(b.listeners[code], fn)
}

// Fire delivers the event to every listener of its code and reports
// whether anyone was listening.
func (b *EventBus) Fire(context EventContext) bool {
	b.mu.RLock()
	fns := b.listeners[context.Type]
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(context)
	}
	return len(fns) > 0
}
