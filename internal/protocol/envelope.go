// Package protocol implements the versioned envelope written to the events
// topic.
//
// Version 1 is a JSON array of fixed arity:
//
//	[1, "insert"|"delete", {...event record...}, {...post-processing state...}]
//
// Changing the field set or the meaning of either record requires a new
// version, and every consumer of the topic has to be updated in lockstep.
package protocol

import "time"

// CurrentVersion is the version stamped on every encoded envelope.
const CurrentVersion = 1

type Action string

const (
	ActionInsert Action = "insert"
	ActionDelete Action = "delete"
)

func (a Action) valid() bool { return a == ActionInsert || a == ActionDelete }

// EventRecord is the event half of the envelope.
type EventRecord struct {
	GroupID        int64          `json:"group_id"`
	EventID        string         `json:"event_id"`
	OrganizationID int64          `json:"organization_id"`
	ProjectID      int64          `json:"project_id"`
	Message        string         `json:"message"`
	Platform       string         `json:"platform"`
	Datetime       time.Time      `json:"datetime"`
	Data           map[string]any `json:"data"`
	PrimaryHash    string         `json:"primary_hash"`
	RetentionDays  int            `json:"retention_days"`
}

// StateRecord carries the post-processing hints computed at publish time.
type StateRecord struct {
	IsNew                 bool `json:"is_new"`
	IsSample              bool `json:"is_sample"`
	IsRegression          bool `json:"is_regression"`
	IsNewGroupEnvironment bool `json:"is_new_group_environment"`
}

// Envelope is the decoded, version-independent view of a topic message.
type Envelope struct {
	Version int
	Action  Action
	Event   EventRecord
	State   StateRecord
}
