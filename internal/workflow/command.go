package workflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/thin-edge/tedge-core/internal/domain"
)

// commandKey identifies one running state machine, matching the engine's
// table "(topic_id, operation, command_id) → command_record" (spec §4.F).
type commandKey struct {
	TopicID   string
	Operation string
	CommandID string
}

// commandRun is the live, in-memory half of a command: its cancel func and
// log handle. The durable half is the CommandRecord published retained on
// the broker; commandRun never needs to be consulted after a restart,
// since the engine rebuilds entirely from retained messages.
type commandRun struct {
	key     commandKey
	def     domain.WorkflowDefinition
	record  domain.CommandRecord
	log     *commandLog
	cancel  context.CancelFunc
}

// recordToJSON renders a CommandRecord the way it is published retained:
// status plus the flattened input/output fields, matching spec §6
// "Command payload skeleton. JSON with at least status".
func recordToJSON(r domain.CommandRecord) ([]byte, error) {
	m := map[string]any{"status": string(r.Status)}
	for k, v := range r.Input {
		m[k] = v
	}
	for k, v := range r.Output {
		m[k] = v
	}
	if len(r.Failures) > 0 {
		m["failures"] = r.Failures
	}
	if r.ResumedAt != nil {
		m["resumed_at"] = r.ResumedAt.Format(time.RFC3339)
	}
	m["@version"] = r.WorkflowVersion
	return json.Marshal(m)
}

// recordFromJSON parses a retained command payload back into a
// CommandRecord skeleton, used when the engine rehydrates in-flight
// commands from the broker on startup (spec §4.F "Persistence and
// resumption").
func recordFromJSON(raw []byte, topicID domain.TopicID, operation, commandID string) (domain.CommandRecord, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return domain.CommandRecord{}, domain.NewWorkflowError(domain.WorkflowKindOutputParse, operation, "", err)
	}
	r := domain.CommandRecord{
		ID:        commandID,
		TopicID:   topicID,
		Operation: operation,
		Input:     make(map[string]any),
		Output:    make(map[string]any),
	}
	for k, v := range m {
		switch k {
		case "status":
			if s, ok := v.(string); ok {
				r.Status = domain.CommandState(s)
			}
		case "@version":
			if s, ok := v.(string); ok {
				r.WorkflowVersion = s
			}
		case "failures":
			if list, ok := v.([]any); ok {
				for _, f := range list {
					if s, ok := f.(string); ok {
						r.Failures = append(r.Failures, s)
					}
				}
			}
		case "resumed_at":
			// informational only; not parsed back into time.Time
		default:
			r.Input[k] = v
		}
	}
	return r, nil
}
