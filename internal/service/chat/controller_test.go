package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/jarvis-connect/backend/internal/model/chat"
	"github.com/zhouzirui/jarvis-connect/backend/internal/model/persona"
	"github.com/zhouzirui/jarvis-connect/backend/internal/store"
)

type recordingViewport struct {
	mu   sync.Mutex
	msgs []chat.Message
}

func (v *recordingViewport) Append(msg chat.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.msgs = append(v.msgs, msg)
}

func (v *recordingViewport) all() []chat.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]chat.Message(nil), v.msgs...)
}

type exchangeFunc func(ctx context.Context, req Request) Result

func (f exchangeFunc) Exchange(ctx context.Context, req Request) Result { return f(ctx, req) }

func reply(text string) Exchanger {
	return exchangeFunc(func(context.Context, Request) Result { return succeeded(text) })
}

func newLoggedInStore(t *testing.T, name string) *store.Store {
	t.Helper()
	backend, err := store.NewMemoryProvider().Open(t.Name())
	require.NoError(t, err)
	st := store.New(backend)
	if name != "" {
		require.True(t, st.SaveIdentity(chat.Identity{DisplayName: name, SessionID: "session_1", CreatedAt: time.Now()}))
	}
	return st
}

func jarvis() persona.Persona {
	return persona.Resolve(persona.NewMemoryStore(persona.Seed()), persona.DefaultID)
}

func TestInitRequiresIdentity(t *testing.T) {
	c := NewController(newLoggedInStore(t, ""), reply("x"), jarvis(), nil, nil)
	_, err := c.Init()
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	target, ok := c.VerifyIdentity()
	assert.False(t, ok)
	assert.Equal(t, LoginPath, target)
}

func TestInitGreetsFirstVisit(t *testing.T) {
	st := newLoggedInStore(t, "Tony")
	vp := &recordingViewport{}
	c := NewController(st, reply("x"), jarvis(), vp, nil)

	msgs, err := c.Init()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, chat.SenderAssistant, msgs[0].Sender)
	assert.Equal(t, "Good evening, Tony. I am JARVIS, your artificial intelligence assistant. How may I assist you today?", msgs[0].Content)
	assert.True(t, strings.HasPrefix(msgs[0].ID, "welcome_"))
	assert.Len(t, vp.all(), 1)

	stored, ok := st.LoadMessages()
	require.True(t, ok)
	assert.Equal(t, msgs, stored)
	assert.False(t, c.ShouldWarnOnLeave())
}

func TestInitRestoresHistoryWithoutNewGreeting(t *testing.T) {
	st := newLoggedInStore(t, "Tony")
	history := []chat.Message{
		{ID: "welcome_1", Content: "hi", Sender: chat.SenderAssistant, Timestamp: time.Now().UTC()},
		{ID: "user_2", Content: "hello", Sender: chat.SenderUser, Timestamp: time.Now().UTC()},
	}
	require.True(t, st.SaveMessages(history))

	c := NewController(st, reply("x"), jarvis(), nil, nil)
	msgs, err := c.Init()
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user_2", msgs[1].ID)
	assert.True(t, c.ShouldWarnOnLeave())
}

func TestSendRoundTrip(t *testing.T) {
	st := newLoggedInStore(t, "Tony")
	vp := &recordingViewport{}
	var seen Request
	c := NewController(st, exchangeFunc(func(_ context.Context, req Request) Result {
		seen = req
		return succeeded("Shall I render using proton?")
	}), jarvis(), vp, nil)
	_, err := c.Init()
	require.NoError(t, err)

	turn, err := c.Send(context.Background(), "  Run diagnostics  ")
	require.NoError(t, err)
	assert.Equal(t, "Run diagnostics", seen.Message)
	assert.Equal(t, "Tony", seen.Username)
	assert.NotEmpty(t, seen.Timestamp)

	assert.Equal(t, chat.SenderUser, turn.User.Sender)
	assert.Equal(t, "Run diagnostics", turn.User.Content)
	assert.True(t, strings.HasPrefix(turn.User.ID, "user_"))
	assert.Equal(t, chat.SenderAssistant, turn.Reply.Sender)
	assert.Equal(t, "Shall I render using proton?", turn.Reply.Content)
	assert.True(t, strings.HasPrefix(turn.Reply.ID, "jarvis_"))
	assert.NotEqual(t, turn.User.ID, turn.Reply.ID)

	stored, _ := st.LoadMessages()
	require.Len(t, stored, 3)
	assert.Equal(t, stored, c.Messages())
	assert.Len(t, vp.all(), 3)
	assert.Equal(t, Idle, c.Phase())
}

func TestSendIgnoresBlankText(t *testing.T) {
	c := NewController(newLoggedInStore(t, "Tony"), reply("x"), jarvis(), nil, nil)
	_, err := c.Send(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	_, ok := c.store.LoadMessages()
	assert.False(t, ok, "blank sends must not touch the history")
}

func TestSendWithoutIdentity(t *testing.T) {
	c := NewController(newLoggedInStore(t, ""), reply("x"), jarvis(), nil, nil)
	_, err := c.Send(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestSecondSendWhileSendingIsRejected(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	calls := 0
	c := NewController(newLoggedInStore(t, "Tony"), exchangeFunc(func(context.Context, Request) Result {
		calls++
		close(entered)
		<-release
		return succeeded("done")
	}), jarvis(), nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "first")
		done <- err
	}()
	<-entered

	assert.True(t, c.Busy())
	_, err := c.Send(context.Background(), "second")
	assert.ErrorIs(t, err, ErrBusy)
	assert.Len(t, c.Messages(), 2, "welcome and first message only")

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, calls)
	assert.False(t, c.Busy())
	assert.Len(t, c.Messages(), 3)
}

func TestSendFailuresBecomeApologies(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   string
	}{
		{"unavailable", http.StatusServiceUnavailable, "My external systems are currently unavailable. Please try again in a moment."},
		{"timeout", http.StatusRequestTimeout, "My response is taking longer than expected. Please try again."},
		{"other", http.StatusInternalServerError, "Please try again."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			c := NewController(newLoggedInStore(t, "Tony"), NewHTTPClient(srv.URL, srv.Client(), nil), jarvis(), nil, nil)
			turn, err := c.Send(context.Background(), "hello")
			require.NoError(t, err)
			assert.Equal(t, chat.SenderAssistant, turn.Reply.Sender)
			assert.Equal(t, apologyPrefix+tc.want, turn.Reply.Content)
			assert.True(t, strings.HasPrefix(turn.Reply.ID, "jarvis_error_"))
			assert.False(t, c.Busy())
		})
	}
}

func TestSendTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewController(newLoggedInStore(t, "Tony"), NewHTTPClient(url, nil, nil), jarvis(), nil, nil)
	turn, err := c.Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, apologyPrefix+"Unable to connect to my systems. Please check your connection and try again.", turn.Reply.Content)
}

func TestLogoutNeedsConfirmation(t *testing.T) {
	st := newLoggedInStore(t, "Tony")
	c := NewController(st, reply("ok"), jarvis(), nil, nil)
	_, err := c.Send(context.Background(), "hello")
	require.NoError(t, err)

	target, ok := c.Logout(false)
	assert.False(t, ok)
	assert.Empty(t, target)
	_, stillIn := st.LoadIdentity()
	assert.True(t, stillIn)

	target, ok = c.Logout(true)
	assert.True(t, ok)
	assert.Equal(t, LoginPath, target)
	_, stillIn = st.LoadIdentity()
	assert.False(t, stillIn)
	_, hasMessages := st.LoadMessages()
	assert.False(t, hasMessages)
	assert.False(t, c.ShouldWarnOnLeave())
}

func TestReplyAfterLogoutIsDropped(t *testing.T) {
	st := newLoggedInStore(t, "Tony")
	entered := make(chan struct{})
	release := make(chan struct{})
	c := NewController(st, exchangeFunc(func(context.Context, Request) Result {
		close(entered)
		<-release
		return succeeded("too late")
	}), jarvis(), nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "hello")
		done <- err
	}()
	<-entered
	_, ok := c.Logout(true)
	require.True(t, ok)
	close(release)

	assert.ErrorIs(t, <-done, ErrDiscarded)
	_, hasMessages := st.LoadMessages()
	assert.False(t, hasMessages)
}

func TestInitials(t *testing.T) {
	assert.Equal(t, "U", Initials("   "))
	assert.Equal(t, "TO", Initials("tony"))
	assert.Equal(t, "J", Initials("j"))
	assert.Equal(t, "TS", Initials("Tony Stark"))
	assert.Equal(t, "PP", Initials("pepper potts stark"))
}
