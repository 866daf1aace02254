package auth

// State is the phase of the login form.
type State int

const (
	Idle State = iota
	FileSelected
	Validating
	Submitting
	Redirecting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case FileSelected:
		return "file_selected"
	case Validating:
		return "validating"
	case Submitting:
		return "submitting"
	case Redirecting:
		return "redirecting"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// busy reports whether the form no longer accepts input.
func (s State) busy() bool {
	return s == Submitting || s == Redirecting
}
