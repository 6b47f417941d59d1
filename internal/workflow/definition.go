package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/thin-edge/tedge-core/internal/domain"
)

// tomlDefinition is the on-disk shape of one workflow file (spec §4.F, §6:
// "Minimum required keys per state: action, at least one on_* transition").
type tomlDefinition struct {
	Operation string                `toml:"operation"`
	States    map[string]tomlState `toml:"states"`
}

type tomlState struct {
	Action         string         `toml:"action"`
	Script         string         `toml:"script"`
	Operation      string         `toml:"operation"`
	AwaitSelf      bool           `toml:"await_self"`
	Iterate        string         `toml:"iterate"`
	TimeoutSeconds int            `toml:"timeout_s"`
	OnTimeout      string         `toml:"on_timeout"`
	OnSuccess      string         `toml:"on_success"`
	OnError        string         `toml:"on_error"`
	OnExitCode     map[string]string `toml:"on_exit_code"`
}

// parseDefinition parses raw TOML bytes into a domain.WorkflowDefinition,
// computing @version as the content's SHA-256 hex digest — the same
// hash-as-identity idiom the teacher's registry/manager.go uses for model
// blobs, here applied to a workflow's declared content instead of a byte
// stream on disk.
func parseDefinition(raw []byte, source string) (domain.WorkflowDefinition, error) {
	var td tomlDefinition
	if _, err := toml.Decode(string(raw), &td); err != nil {
		return domain.WorkflowDefinition{}, domain.NewWorkflowError(domain.WorkflowKindBadDefinition, source, "", err)
	}
	if td.Operation == "" {
		return domain.WorkflowDefinition{}, domain.NewWorkflowError(domain.WorkflowKindBadDefinition, source, "",
			fmt.Errorf("missing top-level 'operation' key"))
	}

	states := make(map[string]domain.StateDefinition, len(td.States))
	for name, s := range td.States {
		if s.Action == "" {
			return domain.WorkflowDefinition{}, domain.NewWorkflowError(domain.WorkflowKindBadDefinition, td.Operation, name,
				fmt.Errorf("state has no action"))
		}
		if s.OnSuccess == "" && s.OnError == "" && s.OnTimeout == "" && len(s.OnExitCode) == 0 {
			return domain.WorkflowDefinition{}, domain.NewWorkflowError(domain.WorkflowKindBadDefinition, td.Operation, name,
				fmt.Errorf("state has no on_* transition"))
		}
		sd := domain.StateDefinition{
			Name:           name,
			Action:         domain.ActionKind(s.Action),
			Script:         s.Script,
			Operation:      s.Operation,
			AwaitTopicSelf: true, // SUPPLEMENT-1 #3: same-device await only
			Iterate:        s.Iterate,
			TimeoutSeconds: s.TimeoutSeconds,
			OnTimeout:      s.OnTimeout,
			OnSuccess:      s.OnSuccess,
			OnError:        s.OnError,
		}
		if sd.OnError == "" {
			sd.OnError = string(domain.StateFailed)
		}
		if len(s.OnExitCode) > 0 {
			sd.OnExitCode = make(map[int]string, len(s.OnExitCode))
			for k, v := range s.OnExitCode {
				var code int
				if _, err := fmt.Sscanf(k, "%d", &code); err != nil {
					return domain.WorkflowDefinition{}, domain.NewWorkflowError(domain.WorkflowKindBadDefinition, td.Operation, name,
						fmt.Errorf("on_exit_code key %q is not an integer", k))
				}
				sd.OnExitCode[code] = v
			}
		}
		states[name] = sd
	}
	if _, ok := states[string(domain.StateSuccessful)]; !ok {
		states[string(domain.StateSuccessful)] = domain.StateDefinition{Name: string(domain.StateSuccessful)}
	}
	if _, ok := states[string(domain.StateFailed)]; !ok {
		states[string(domain.StateFailed)] = domain.StateDefinition{Name: string(domain.StateFailed)}
	}

	sum := sha256.Sum256(raw)
	return domain.WorkflowDefinition{
		Operation: td.Operation,
		Version:   hex.EncodeToString(sum[:]),
		States:    states,
		Source:    source,
	}, nil
}

// loadDefinitionFile reads and parses one workflow TOML file from disk.
func loadDefinitionFile(path string) (domain.WorkflowDefinition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.WorkflowDefinition{}, err
	}
	return parseDefinition(raw, path)
}
