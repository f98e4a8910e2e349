// Package bridge connects external senders (a browser extension, other processes) to the
// download queue: a typed message bus, a persistent mailbox for URLs that arrive while
// nobody is listening, and an HTTP/websocket transport.
package bridge

import (
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Message actions.
const (
	ActionSendURL       = "sendUrl"
	ActionGetSettings   = "getSettings"
	ActionGetCurrentTab = "getCurrentTab"
	ActionAddURL        = "addUrl"
)

var ErrNoHandler = errors.New("no handler for message action")

// Message is one request on the bus. ContentType is an optional hint for scraper selection.
type Message struct {
	Action      string `json:"action"`
	URL         string `json:"url,omitempty"`
	ContentType string `json:"contentType,omitempty"`
}

// Handler processes a message. The reply is returned to Request callers.
type Handler func(Message) (any, error)

type subscription struct {
	id      int
	handler Handler
}

// Bus routes messages by action to subscribed handlers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]subscription
	nextID int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string][]subscription)}
}

// Subscribe registers h for action and returns an id for Unsubscribe.
func (b *Bus) Subscribe(action string, h Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs[action] = append(b.subs[action], subscription{id: b.nextID, handler: h})
	return b.nextID
}

func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for action, subs := range b.subs {
		for i, s := range subs {
			if s.id == id {
				b.subs[action] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

func (b *Bus) handlers(action string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Handler, 0, len(b.subs[action]))
	for _, s := range b.subs[action] {
		out = append(out, s.handler)
	}
	return out
}

// Publish delivers m to every handler for its action and returns how many received it.
// Handler errors are logged, not returned.
func (b *Bus) Publish(m Message) int {
	hs := b.handlers(m.Action)
	for _, h := range hs {
		if _, err := h(m); err != nil {
			log.WithError(err).WithField("action", m.Action).Warn("Bridge handler failed")
		}
	}
	return len(hs)
}

// Request delivers m to the first handler for its action and returns its reply.
func (b *Bus) Request(m Message) (any, error) {
	hs := b.handlers(m.Action)
	if len(hs) == 0 {
		return nil, ErrNoHandler
	}
	return hs[0](m)
}
