package persona

import (
	"fmt"
	"strings"
)

// DefaultID names the assistant persona served when none is configured.
const DefaultID = "jarvis"

// Persona captures how the assistant introduces itself and how it is prompted.
type Persona struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Title       string   `json:"title"`
	Tone        string   `json:"tone"`
	PromptHint  string   `json:"promptHint"`
	OpeningLine string   `json:"openingLine"` // %s is replaced with the user's display name
	Description string   `json:"description,omitempty"`
	Traits      []string `json:"traits,omitempty"`
}

// Greeting personalises the opening line for the given display name.
func (p Persona) Greeting(displayName string) string {
	if !strings.Contains(p.OpeningLine, "%s") {
		return p.OpeningLine
	}
	return fmt.Sprintf(p.OpeningLine, displayName)
}

// Seed provides the built-in assistant personas.
func Seed() []Persona {
	return []Persona{
		{
			ID:          DefaultID,
			Name:        "JARVIS",
			Title:       "Tony Stark's AI assistant",
			Tone:        "formal yet personable, with occasional dry humor",
			PromptHint:  "Keep responses concise but informative.",
			OpeningLine: "Good evening, %s. I am JARVIS, your artificial intelligence assistant. How may I assist you today?",
			Description: "Sophisticated, intelligent, witty and helpful AI assistant from Iron Man.",
			Traits:      []string{"sophisticated", "intelligent", "witty", "helpful", "polite"},
		},
	}
}
