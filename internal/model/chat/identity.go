package chat

import (
	"strings"
	"time"
)

// Identity is written once by a successful login and lives until logout.
type Identity struct {
	DisplayName string    `json:"username"`
	Avatar      string    `json:"avatar,omitempty"`
	SessionID   string    `json:"sessionId"`
	CreatedAt   time.Time `json:"timestamp"`
}

// Present reports whether the record carries a usable display name.
func (i Identity) Present() bool {
	return strings.TrimSpace(i.DisplayName) != ""
}
