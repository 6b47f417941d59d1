package domain

import "time"

// CommandState is one node in a workflow's state machine. The states
// "successful", "failed" and "" (not found) are terminal/sentinel; every
// other value names a state declared in the workflow definition.
type CommandState string

const (
	StateInit       CommandState = "init"
	StateScheduled  CommandState = "scheduled"
	StateExecuting  CommandState = "executing"
	StateSuccessful CommandState = "successful"
	StateFailed     CommandState = "failed"
)

// IsTerminal reports whether s ends the command's lifecycle.
func (s CommandState) IsTerminal() bool {
	return s == StateSuccessful || s == StateFailed
}

// CommandRecord is the retained-message payload thin-edge persists for one
// in-flight or completed operation instance (spec §4.F "command record").
// It is published retained at cmd/<operation>/<command-id> and is the
// system of record; any local cache is rebuilt from it.
type CommandRecord struct {
	ID              string
	TopicID         TopicID
	Operation       string
	Status          CommandState
	WorkflowVersion string
	Input           map[string]any
	Output          map[string]any
	Failures        []string
	ResumedAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsEmpty reports whether the record represents a tombstone (empty retained
// message), which thin-edge uses to request cancellation or to signal the
// command slot has been cleared.
func (c CommandRecord) IsEmpty() bool {
	return c.Status == "" && c.Operation == ""
}

// WorkflowDefinition is the parsed form of one operation's TOML file
// (spec §4.F, §6). Built-in definitions are seeded from embedded assets and
// materialized to disk; a matching file on disk always wins.
type WorkflowDefinition struct {
	Operation   string
	Version     string // content hash, assigned at load time
	States      map[string]StateDefinition
	Source      string // absolute path, or "embedded:<name>" for built-ins
}

// StateDefinition describes one named state's action and transitions.
type StateDefinition struct {
	Name            string
	Action          ActionKind
	Script          string            // for Action == ActionScript/ActionBackgroundScript
	Operation       string            // for Action == ActionAwait: operation type to await
	AwaitTopicSelf  bool              // Action == ActionAwait always targets the same topic id (SUPPLEMENT-1 #3)
	Iterate         string            // for Action == ActionIterate: input field holding the list
	TimeoutSeconds  int
	OnTimeout       string
	OnSuccess       string
	OnError         string
	OnExitCode      map[int]string
}

// ActionKind names the action a workflow state performs.
type ActionKind string

const (
	ActionBuiltin          ActionKind = "builtin"
	ActionScript           ActionKind = "script"
	ActionBackgroundScript ActionKind = "background_script"
	ActionAwait            ActionKind = "await"
	ActionIterate          ActionKind = "iterate"
)
