package store

import "github.com/zhouzirui/jarvis-connect/backend/internal/model/chat"

// Keys used by the auth and chat pages.
const (
	KeyIdentity = "jarvis_auth"
	KeyMessages = "jarvis_messages"
)

// SaveIdentity writes the logged-in identity.
func (s *Store) SaveIdentity(id chat.Identity) bool {
	return s.Set(KeyIdentity, id)
}

// LoadIdentity returns the stored identity when one with a display name exists.
func (s *Store) LoadIdentity() (chat.Identity, bool) {
	var id chat.Identity
	if !s.Get(KeyIdentity, &id) || !id.Present() {
		return chat.Identity{}, false
	}
	return id, true
}

// SaveMessages writes the full message history as one snapshot.
func (s *Store) SaveMessages(msgs []chat.Message) bool {
	if msgs == nil {
		msgs = []chat.Message{}
	}
	return s.Set(KeyMessages, msgs)
}

// LoadMessages returns the persisted history in display order.
func (s *Store) LoadMessages() ([]chat.Message, bool) {
	var msgs []chat.Message
	if !s.Get(KeyMessages, &msgs) {
		return nil, false
	}
	return msgs, true
}
