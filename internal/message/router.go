package message

import (
	"log/slog"
	"sync"
)

// Handler consumes one inbound message. Handlers must not retain the
// message past the call.
type Handler func(msg TypedMessage)

// Subscription is the token returned by Subscribe; calling Unsubscribe
// removes exactly the handler it was issued for.
type Subscription struct {
	router  *Router
	msgType string
	id      uint64
}

// Router dispatches inbound typed messages to registered handlers,
// decoupling the transport from business-logic consumers. Handlers for a
// type run in registration order; a panicking handler is isolated so it
// cannot block delivery to the rest.
type Router struct {
	logger   *slog.Logger
	handlers map[string][]routedHandler
	nextID   uint64

	// Statistics
	dispatched     uint64
	unhandled      uint64
	handlerPanics  uint64

	mu sync.RWMutex
}

type routedHandler struct {
	id      uint64
	handler Handler
}

// RouterStats represents router statistics for monitoring.
type RouterStats struct {
	Dispatched    uint64 `json:"dispatched"`
	Unhandled     uint64 `json:"unhandled"`
	HandlerPanics uint64 `json:"handler_panics"`
	Subscriptions int    `json:"subscriptions"`
}

// NewRouter creates an empty message router.
func NewRouter(logger *slog.Logger) *Router {
	return &Router{
		logger:   logger,
		handlers: make(map[string][]routedHandler),
	}
}

// Subscribe registers a handler for a message type and returns its
// subscription token. Multiple independent consumers may subscribe to the
// same type.
func (r *Router) Subscribe(msgType string, handler Handler) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.handlers[msgType] = append(r.handlers[msgType], routedHandler{id: id, handler: handler})

	return Subscription{router: r, msgType: msgType, id: id}
}

// Unsubscribe removes the handler this subscription was issued for.
// Safe to call more than once.
func (s Subscription) Unsubscribe() {
	if s.router == nil {
		return
	}

	s.router.mu.Lock()
	defer s.router.mu.Unlock()

	handlers := s.router.handlers[s.msgType]
	for i, h := range handlers {
		if h.id == s.id {
			s.router.handlers[s.msgType] = append(handlers[:i:i], handlers[i+1:]...)
			break
		}
	}

	if len(s.router.handlers[s.msgType]) == 0 {
		delete(s.router.handlers, s.msgType)
	}
}

// Dispatch invokes every handler registered for the message type in
// registration order.
func (r *Router) Dispatch(msg TypedMessage) {
	r.mu.RLock()
	handlers := make([]routedHandler, len(r.handlers[msg.Type]))
	copy(handlers, r.handlers[msg.Type])
	r.mu.RUnlock()

	r.mu.Lock()
	r.dispatched++
	if len(handlers) == 0 {
		r.unhandled++
	}
	r.mu.Unlock()

	if len(handlers) == 0 {
		r.logger.Debug("No handlers for message type", slog.String("type", msg.Type))
		return
	}

	for _, h := range handlers {
		r.invoke(msg, h)
	}
}

// invoke runs one handler with panic isolation.
func (r *Router) invoke(msg TypedMessage, h routedHandler) {
	defer func() {
		if rec := recover(); rec != nil {
			r.mu.Lock()
			r.handlerPanics++
			r.mu.Unlock()

			r.logger.Error("Message handler panicked",
				slog.String("type", msg.Type),
				slog.Uint64("handler_id", h.id),
				slog.Any("panic", rec),
			)
		}
	}()

	h.handler(msg)
}

// GetStats returns current router statistics
func (r *Router) GetStats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := 0
	for _, hs := range r.handlers {
		subs += len(hs)
	}

	return RouterStats{
		Dispatched:    r.dispatched,
		Unhandled:     r.unhandled,
		HandlerPanics: r.handlerPanics,
		Subscriptions: subs,
	}
}
