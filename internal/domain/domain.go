package domain

import (
	"encoding/json"
	"strings"
)

// AgentType selects the upstream agent an exchange is routed to.
type AgentType string

const (
	AgentReception AgentType = "reception"
	AgentData      AgentType = "data"
	AgentRoutine   AgentType = "routine"
)

// Valid reports whether t names a known agent.
func (t AgentType) Valid() bool {
	switch t {
	case AgentReception, AgentData, AgentRoutine:
		return true
	}
	return false
}

type Profile struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Conversation struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Role           string `json:"role" enum:"user,assistant"`
	Content        string `json:"content"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID             int64  `json:"id"`
	TS             string `json:"ts" format:"date-time"`
	Type           string `json:"type"`
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	Payload        string `json:"payload_json"`
}

// Routine is the workout program shape the generation agent emits.
// JSON tags follow the agents' wire format.
type Routine struct {
	Objective   string          `json:"objectiu,omitempty"`
	Description string          `json:"descripcio,omitempty"`
	Duration    Flex            `json:"durada,omitempty"`
	Sessions    []Session       `json:"sessions,omitempty"`
	Advice      []string        `json:"consells_generals,omitempty"`
	Progression map[string]Flex `json:"progressio,omitempty"`
}

type Session struct {
	Day       string     `json:"dia,omitempty"`
	Schedule  string     `json:"horari,omitempty"`
	Focus     string     `json:"focus,omitempty"`
	Exercises []Exercise `json:"exercicis,omitempty"`
}

type Exercise struct {
	Name  string `json:"nom,omitempty"`
	Sets  Flex   `json:"series,omitempty"`
	Reps  Flex   `json:"repeticions,omitempty"`
	Rest  Flex   `json:"descans,omitempty"`
	Notes string `json:"notes,omitempty"`
}

// Flex is a string that also accepts bare JSON numbers; the agents are
// inconsistent about quoting values like reps and rest.
type Flex string

func (f *Flex) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = Flex(s)
		return nil
	}
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*f = ""
		return nil
	}
	*f = Flex(raw)
	return nil
}

func (f Flex) String() string { return string(f) }
