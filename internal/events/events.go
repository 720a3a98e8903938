package events

import (
	"sync"

	"github.com/labstack/gommon/log"
)

const (
	UserRegisterAfter = "user.register.after"
	UserLoginAfter    = "user.login.after"
	UserLogoutAfter   = "user.logout.after"
	UserTokensRevoked = "user.tokens.revoked"
)

type Handler func(payload interface{})

// UserEvent is the payload of every user.* event.
type UserEvent struct {
	UserID string
	Handle string
	// Count is the number of tokens affected, where that applies.
	Count int
}

type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: map[string][]Handler{}}
}

func (d *Dispatcher) On(event string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[event] = append(d.handlers[event], h)
}

// Trigger runs the handlers of event in registration order and returns how
// many ran. A panicking handler is logged and does not stop the others.
func (d *Dispatcher) Trigger(event string, payload interface{}) int {
	if d == nil {
		return 0
	}
	d.mu.RLock()
	handlers := make([]Handler, len(d.handlers[event]))
	copy(handlers, d.handlers[event])
	d.mu.RUnlock()

	for _, h := range handlers {
		run(event, h, payload)
	}
	return len(handlers)
}

func run(event string, h Handler, payload interface{}) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("handler for %s panicked: %v", event, r)
		}
	}()
	h(payload)
}
