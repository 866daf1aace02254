package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/zhouzirui/jarvis-connect/backend/internal/model/chat"
	"github.com/zhouzirui/jarvis-connect/backend/internal/model/persona"
	"github.com/zhouzirui/jarvis-connect/backend/internal/store"
)

// LoginPath is where the chat page sends tabs without an identity.
const LoginPath = "/"

var (
	ErrNotAuthenticated = errors.New("chat: not authenticated")
	ErrBusy             = errors.New("chat: a message is already being sent")
	ErrEmptyMessage     = errors.New("chat: message is empty")
	// ErrDiscarded is returned when the tab logged out while the reply was in flight.
	ErrDiscarded = errors.New("chat: reply discarded after logout")
)

// Phase of the outbound exchange.
type Phase int

const (
	Idle Phase = iota
	Sending
)

func (p Phase) String() string {
	if p == Sending {
		return "sending"
	}
	return "idle"
}

// Viewport is notified of every appended message so the page can render it
// and scroll to the bottom.
type Viewport interface {
	Append(msg chat.Message)
}

// Turn is one completed send: the user's message and the assistant's reply.
type Turn struct {
	User  chat.Message `json:"user"`
	Reply chat.Message `json:"reply"`
}

// Controller owns one tab's chat page.
type Controller struct {
	mu       sync.Mutex
	store    *store.Store
	client   Exchanger
	persona  persona.Persona
	viewport Viewport
	logger   *zap.Logger
	now      func() time.Time

	phase      Phase
	messages   []chat.Message
	loaded     bool
	idSeq      uint64
	generation uint64
}

// NewController wires a chat page to its tab store and the assistant client.
func NewController(st *store.Store, client Exchanger, p persona.Persona, vp Viewport, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		store:    st,
		client:   client,
		persona:  p,
		viewport: vp,
		logger:   logger,
		now:      time.Now,
	}
}

// Init restores the history for a logged-in tab and greets first-time visitors.
func (c *Controller) Init() ([]chat.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	identity, ok := c.store.LoadIdentity()
	if !ok {
		return nil, ErrNotAuthenticated
	}
	c.loadLocked(identity)
	return c.snapshotLocked(), nil
}

// Send posts text to the assistant. Only one send may be in flight; a second
// call while Sending does nothing and returns ErrBusy.
func (c *Controller) Send(ctx context.Context, text string) (Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Turn{}, ErrEmptyMessage
	}

	c.mu.Lock()
	if c.phase == Sending {
		c.mu.Unlock()
		return Turn{}, ErrBusy
	}
	identity, ok := c.store.LoadIdentity()
	if !ok {
		c.mu.Unlock()
		return Turn{}, ErrNotAuthenticated
	}
	c.loadLocked(identity)

	now := c.now()
	user := c.appendLocked(chat.Message{
		ID:        c.nextIDLocked("user", now),
		Content:   text,
		Sender:    chat.SenderUser,
		Timestamp: now.UTC(),
	})
	c.phase = Sending
	gen := c.generation
	c.mu.Unlock()

	result := c.client.Exchange(ctx, NewRequest(text, identity.DisplayName, now))

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return Turn{User: user}, ErrDiscarded
	}
	c.phase = Idle

	replyAt := c.now()
	reply := chat.Message{Sender: chat.SenderAssistant, Timestamp: replyAt.UTC()}
	if result.OK() {
		reply.ID = c.nextIDLocked("jarvis", replyAt)
		reply.Content = result.Response
	} else {
		c.logger.Warn("chat exchange failed",
			zap.String("kind", string(result.Err.Kind)),
			zap.Int("status", result.Err.Status),
			zap.String("detail", result.Err.Detail))
		reply.ID = c.nextIDLocked("jarvis_error", replyAt)
		reply.Content = Apology(result.Err)
	}
	reply = c.appendLocked(reply)
	return Turn{User: user, Reply: reply}, nil
}

// Logout clears the whole tab store when confirmed and returns the login page.
// Without confirmation nothing changes.
func (c *Controller) Logout(confirmed bool) (string, bool) {
	if !confirmed {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.store.Clear() {
		c.logger.Error("failed to clear tab store on logout")
	}
	c.messages = nil
	c.loaded = false
	c.phase = Idle
	c.generation++
	return LoginPath, true
}

// ShouldWarnOnLeave reports whether leaving the page would lose a conversation.
func (c *Controller) ShouldWarnOnLeave() bool {
	msgs, ok := c.store.LoadMessages()
	return ok && len(msgs) > 1
}

// VerifyIdentity re-checks the login when the page becomes visible again.
// It returns the login page when the identity is gone.
func (c *Controller) VerifyIdentity() (string, bool) {
	if _, ok := c.store.LoadIdentity(); ok {
		return "", true
	}
	return LoginPath, false
}

// Identity returns the logged-in user for page rendering.
func (c *Controller) Identity() (chat.Identity, bool) {
	return c.store.LoadIdentity()
}

// Messages returns the current history in display order.
func (c *Controller) Messages() []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		if msgs, ok := c.store.LoadMessages(); ok {
			return msgs
		}
		return []chat.Message{}
	}
	return c.snapshotLocked()
}

// Phase reports whether a send is in flight.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Busy is shorthand for Phase() == Sending.
func (c *Controller) Busy() bool { return c.Phase() == Sending }

func (c *Controller) loadLocked(identity chat.Identity) {
	if c.loaded {
		return
	}
	c.loaded = true
	if msgs, ok := c.store.LoadMessages(); ok && len(msgs) > 0 {
		c.messages = msgs
		return
	}
	c.messages = make([]chat.Message, 0, 16)
	now := c.now()
	c.appendLocked(chat.Message{
		ID:        c.nextIDLocked("welcome", now),
		Content:   c.persona.Greeting(identity.DisplayName),
		Sender:    chat.SenderAssistant,
		Timestamp: now.UTC(),
	})
}

func (c *Controller) appendLocked(msg chat.Message) chat.Message {
	c.messages = append(c.messages, msg)
	if !c.store.SaveMessages(c.messages) {
		c.logger.Warn("failed to persist chat history", zap.Int("messages", len(c.messages)))
	}
	if c.viewport != nil {
		c.viewport.Append(msg)
	}
	return msg
}

func (c *Controller) nextIDLocked(prefix string, at time.Time) string {
	c.idSeq++
	return fmt.Sprintf("%s_%d_%d", prefix, at.UnixMilli(), c.idSeq)
}

func (c *Controller) snapshotLocked() []chat.Message {
	out := make([]chat.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Initials is the avatar fallback when no image is stored: the first two
// letters of a single word, or the first letter of each of the first two words.
func Initials(name string) string {
	words := strings.Fields(name)
	switch len(words) {
	case 0:
		return "U"
	case 1:
		runes := []rune(words[0])
		if len(runes) > 2 {
			runes = runes[:2]
		}
		return strings.ToUpper(string(runes))
	default:
		first := []rune(words[0])[0]
		second := []rune(words[1])[0]
		return string(unicode.ToUpper(first)) + string(unicode.ToUpper(second))
	}
}
