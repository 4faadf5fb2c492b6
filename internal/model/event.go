package model

import (
	"encoding/json"
	"time"
)

// Originator identifies who triggered an event
type Originator struct {
	ID string `json:"id"`
	// ParentIDs are enclosing scopes such as an organization or guild
	ParentIDs []string `json:"parent_ids,omitempty"`
	// Linked is true when the originator maps to a known account
	Linked bool `json:"linked"`
}

// Target identifies what an event is about (repository, channel, conversation)
type Target struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id,omitempty"`
}

// Event is one inbound or polled platform event
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Originator Originator      `json:"originator"`
	Target     Target          `json:"target"`
	Content    string          `json:"content,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// OutcomeKind classifies the result of handling one event
type OutcomeKind string

const (
	OutcomeProcessed        OutcomeKind = "processed"
	OutcomeAlreadyProcessed OutcomeKind = "already_processed"
	OutcomeDenied           OutcomeKind = "denied"
	OutcomeFailed           OutcomeKind = "failed"
)

// Outcome is the result of handling one event
type Outcome struct {
	Kind    OutcomeKind `json:"outcome"`
	EventID string      `json:"event_id"`
	Reason  string      `json:"reason,omitempty"`
}
