package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	// ErrUnknownMessage is returned for a Type with no handler.
	ErrUnknownMessage = errors.New("unknown message type")
	// ErrNoReceiver is returned when the target context is not listening,
	// for example a tab whose content agent has not loaded.
	ErrNoReceiver = errors.New("receiving end does not exist")
)

// HandlerFunc handles one message type.
type HandlerFunc func(ctx context.Context, msg Message) (*Response, error)

// Router dispatches messages of one context by Type.
type Router struct {
	name     string
	mu       sync.RWMutex
	handlers map[Type]HandlerFunc
}

// NewRouter creates an empty router. name appears in logs.
func NewRouter(name string) *Router {
	return &Router{name: name, handlers: make(map[Type]HandlerFunc)}
}

// Handle registers h for t, replacing any previous handler.
func (r *Router) Handle(t Type, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

// Dispatch runs the handler for msg.Type.
func (r *Router) Dispatch(ctx context.Context, msg Message) (*Response, error) {
	r.mu.RLock()
	h, ok := r.handlers[msg.Type]
	r.mu.RUnlock()

	if !ok {
		slog.Debug("unknown message", "context", r.name, "type", msg.Type)
		return nil, fmt.Errorf("%s: %w: %s", r.name, ErrUnknownMessage, msg.Type)
	}
	return h(ctx, msg)
}

// Bus connects the background router, one router per tab and any number
// of panel subscribers.
type Bus struct {
	background *Router

	mu          sync.RWMutex
	tabs        map[int]*Router
	subscribers map[int]func(Message)
	nextSub     int
}

// NewBus creates a bus with an empty background router.
func NewBus() *Bus {
	return &Bus{
		background:  NewRouter("background"),
		tabs:        make(map[int]*Router),
		subscribers: make(map[int]func(Message)),
	}
}

// Background returns the background context's router.
func (b *Bus) Background() *Router {
	return b.background
}

// AttachTab registers the content router of a tab.
func (b *Bus) AttachTab(tabID int, r *Router) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tabs[tabID] = r
}

// DetachTab removes a tab's router.
func (b *Bus) DetachTab(tabID int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tabs, tabID)
}

// SendToBackground delivers msg to the background context.
func (b *Bus) SendToBackground(ctx context.Context, msg Message) (*Response, error) {
	return b.background.Dispatch(ctx, msg)
}

// SendToTab delivers msg to the content context of tabID.
func (b *Bus) SendToTab(ctx context.Context, tabID int, msg Message) (*Response, error) {
	b.mu.RLock()
	r, ok := b.tabs[tabID]
	b.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("tab %d: %w", tabID, ErrNoReceiver)
	}
	return r.Dispatch(ctx, msg)
}

// Subscribe registers fn for messages published to panels. The returned
// function unsubscribes.
func (b *Bus) Subscribe(fn func(Message)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSub
	b.nextSub++
	b.subscribers[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subscribers, id)
	}
}

// Publish delivers msg to every subscriber, in no particular order.
func (b *Bus) Publish(msg Message) {
	b.mu.RLock()
	subs := make([]func(Message), 0, len(b.subscribers))
	for _, fn := range b.subscribers {
		subs = append(subs, fn)
	}
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(msg)
	}
}
