// Package agent holds persona records and the vocative routing used by the
// shared global conversation.
package agent

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"
)

// Persona is one configured assistant identity.
type Persona struct {
	UID               string `json:"agent_uid"`
	Name              string `json:"name"`
	PersonalityPrompt string `json:"personality_prompt"`
	Voice             string `json:"voice,omitempty"`
	Archived          bool   `json:"is_archived"`
}

// vocativeRe picks out "hey <name>" style address at any position.
var vocativeRe = regexp.MustCompile(`(?i)(?:hey|hi|hello|ok|okay)\s+(\w+)`)

// Roster is the registry of configured personas.
type Roster struct {
	mu       sync.RWMutex
	personas []*Persona
	logger   *slog.Logger
}

// NewRoster creates an empty persona registry.
func NewRoster(logger *slog.Logger) *Roster {
	return &Roster{logger: logger}
}

// Register adds a persona. Registration order breaks name-collision ties.
func (r *Roster) Register(p *Persona) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.personas = append(r.personas, p)
}

// Get returns the persona with the given UID.
func (r *Roster) Get(uid string) (*Persona, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.personas {
		if p.UID == uid {
			return p, true
		}
	}
	return nil, false
}

// List returns the active personas in registration order.
func (r *Roster) List() []*Persona {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Persona, 0, len(r.personas))
	for _, p := range r.personas {
		if !p.Archived {
			out = append(out, p)
		}
	}
	return out
}

// DetectVocative finds the persona a global-conversation message addresses
// by name ("hey mirai, ..."). The mentioned token must equal one of the
// persona's name words, case-insensitively. No mention or no matching
// persona means no agent responds.
func (r *Roster) DetectVocative(text string) (*Persona, bool) {
	m := vocativeRe.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	mentioned := strings.ToLower(m[1])

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.personas {
		if p.Archived {
			continue
		}
		for _, word := range strings.Fields(strings.ToLower(p.Name)) {
			if word == mentioned {
				r.logger.Debug("vocative detected", "mention", mentioned, "agent", p.Name)
				return p, true
			}
		}
	}
	return nil, false
}
