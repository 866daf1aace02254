package tab

import (
	"sync"

	"github.com/zhouzirui/jarvis-connect/backend/internal/model/chat"
)

// Event types pushed to the chat page.
const (
	EventMessage  = "message"
	EventRedirect = "redirect"
)

// Event is one frame on the tab's websocket feed.
type Event struct {
	Type     string        `json:"type"`
	Message  *chat.Message `json:"message,omitempty"`
	Redirect string        `json:"redirect,omitempty"`
}

// Feed fans events out to every open page of a tab. Slow subscribers miss
// events rather than block the sender.
type Feed struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	closed bool
}

// NewFeed returns an empty feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[chan Event]struct{})}
}

// Append implements the chat Viewport: the page renders msg and scrolls to it.
func (f *Feed) Append(msg chat.Message) {
	f.Publish(Event{Type: EventMessage, Message: &msg})
}

// Publish delivers ev to all current subscribers.
func (f *Feed) Publish(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for ch := range f.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a listener. The returned func unsubscribes and closes the channel.
func (f *Feed) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if _, ok := f.subs[ch]; ok {
				delete(f.subs, ch)
				close(ch)
			}
		})
	}
}

// Close ends every subscription.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for ch := range f.subs {
		delete(f.subs, ch)
		close(ch)
	}
}

// Subscribers reports how many listeners are attached.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
