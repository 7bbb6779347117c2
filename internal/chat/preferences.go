package chat

import "strings"

// Preferences holds the user's matching options, re-sent on every join.
// Interests are only meaningful when RequireMatching is true; otherwise the
// slice is empty regardless of what the user typed.
type Preferences struct {
	RequireMatching bool
	Interests       []string
}

// NewPreferences builds Preferences from the raw comma-separated interests
// input. Entries are trimmed and empty ones dropped; duplicates are kept as
// typed. When requireMatching is false the input is ignored entirely.
func NewPreferences(rawInterests string, requireMatching bool) Preferences {
	p := Preferences{RequireMatching: requireMatching}
	if requireMatching {
		p.Interests = ParseInterests(rawInterests)
	}
	return p
}

// ParseInterests splits a comma-separated interest list into clean tags:
// each entry trimmed, empty entries excluded.
func ParseInterests(raw string) []string {
	parts := strings.Split(raw, ",")
	interests := make([]string, 0, len(parts))
	for _, p := range parts {
		tag := strings.TrimSpace(p)
		if tag == "" {
			continue
		}
		interests = append(interests, tag)
	}
	return interests
}
