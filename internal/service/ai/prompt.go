package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/jarvis-connect/backend/internal/model/persona"
)

// DefaultUsername is used when the caller did not say who is asking.
const DefaultUsername = "User"

// BuildSystemPrompt keeps the model in character and tells it how to address the user.
func BuildSystemPrompt(p persona.Persona, username string) string {
	username = strings.TrimSpace(username)
	if username == "" {
		username = DefaultUsername
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, %s.", p.Name, p.Title)
	if p.Description != "" {
		b.WriteString(" ")
		b.WriteString(p.Description)
	}
	if len(p.Traits) > 0 {
		fmt.Fprintf(&b, " You are %s.", strings.Join(p.Traits, ", "))
	}
	if p.Tone != "" {
		fmt.Fprintf(&b, "\nRespond in %s's characteristic style: %s.", p.Name, p.Tone)
	}
	if p.PromptHint != "" {
		b.WriteString("\n")
		b.WriteString(p.PromptHint)
	}
	fmt.Fprintf(&b, " Address the user as '%s' when appropriate.", username)
	fmt.Fprintf(&b, "\nAlways maintain %s's polite and professional demeanor.", p.Name)
	return b.String()
}
