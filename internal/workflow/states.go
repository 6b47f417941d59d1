package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/thin-edge/tedge-core/internal/domain"
)

// executeState runs one state's action and returns the name of the next
// state to enter. Errors are handled by the caller (drive), which routes
// to sd.OnError.
func (e *Engine) executeState(ctx context.Context, run *commandRun, sd domain.StateDefinition) (string, error) {
	timeout := time.Duration(sd.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(e.cfg.DefaultTimeoutSecs) * time.Second
	}
	stateCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var next string
	var err error

	switch sd.Action {
	case domain.ActionBuiltin:
		next, err = e.executeBuiltin(stateCtx, run, sd)
	case domain.ActionScript:
		next, err = e.executeScript(stateCtx, run, sd, false)
	case domain.ActionBackgroundScript:
		next, err = e.executeScript(stateCtx, run, sd, true)
	case domain.ActionAwait:
		next, err = e.executeAwait(stateCtx, run, sd)
	case domain.ActionIterate:
		next, err = e.executeIterate(stateCtx, run, sd)
	default:
		return "", domain.NewWorkflowError(domain.WorkflowKindBadDefinition, run.key.Operation, sd.Name,
			fmt.Errorf("unknown action %q", sd.Action))
	}

	if stateCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		if sd.OnTimeout != "" {
			return sd.OnTimeout, nil
		}
		return "", stateCtx.Err()
	}
	return next, err
}

// executeBuiltin dispatches a hand-coded state to the plugin runner using
// the operation name as the plugin name and the state name as its
// subcommand, modelling how thin-edge's real built-in workflows delegate
// orchestration steps to the software/config/log/firmware plugin contract
// (spec §6 "Plugin invocation contract").
func (e *Engine) executeBuiltin(ctx context.Context, run *commandRun, sd domain.StateDefinition) (string, error) {
	if e.plugins == nil {
		return sd.OnSuccess, nil
	}
	stdin, err := json.Marshal(run.record.Input)
	if err != nil {
		return "", err
	}
	result, err := e.plugins.Invoke(ctx, domain.PluginInvocation{
		Plugin:  run.key.Operation,
		Args:    []string{sd.Name},
		Stdin:   stdin,
		Timeout: time.Duration(sd.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		if pluginErr, ok := err.(*domain.PluginError); ok && pluginErr.Kind == domain.PluginKindNotFound {
			// No plugin registered for this operation; treat the
			// orchestration step as a no-op so the built-in skeleton
			// workflows still progress in a repo with no plugins
			// installed.
			return sd.OnSuccess, nil
		}
		return "", err
	}
	mergeOutput(run, result.Structured)
	if next, ok := sd.OnExitCode[result.ExitCode]; ok {
		return next, nil
	}
	if result.ExitCode == 0 {
		return sd.OnSuccess, nil
	}
	return "", domain.NewPluginError(domain.PluginKindExitCode, run.key.Operation, result.ExitCode, fmt.Errorf("plugin reported failure"))
}

// executeScript runs sd.Script as an external process. When background is
// true the process is started and the state is considered complete once it
// exits (background_script: "exec and detach; the engine polls for
// completion" — here modelled as waiting within the state's own timeout
// window rather than a separate poll loop, since the cooperative-scheduler
// discipline the spec describes is already provided by stateCtx).
func (e *Engine) executeScript(ctx context.Context, run *commandRun, sd domain.StateDefinition, background bool) (string, error) {
	if sd.Script == "" {
		return "", domain.NewWorkflowError(domain.WorkflowKindBadDefinition, run.key.Operation, sd.Name, fmt.Errorf("script action has no script path"))
	}
	grace := time.Duration(e.cfg.DefaultGraceSecs) * time.Second

	payload, err := recordToJSON(run.record)
	if err != nil {
		return "", err
	}

	result, err := runScript(ctx, sd.Script, payload, grace)
	if err != nil {
		return "", err
	}
	if run.log != nil && result.Freeform != "" {
		run.log.Writef("%s", strings.TrimSpace(result.Freeform))
	}
	mergeOutput(run, result.Structured)

	if next, ok := sd.OnExitCode[result.ExitCode]; ok {
		return next, nil
	}
	if result.ExitCode == 0 {
		return sd.OnSuccess, nil
	}
	return "", domain.NewPluginError(domain.PluginKindExitCode, sd.Script, result.ExitCode, fmt.Errorf("script exited non-zero"))
}

// executeAwait subscribes to a subordinate command's topic and blocks
// until it reaches a terminal state, restricted to the same device per
// SUPPLEMENT-1 decision #3.
func (e *Engine) executeAwait(ctx context.Context, run *commandRun, sd domain.StateDefinition) (string, error) {
	subCommandID, _ := run.record.Input["await_command_id"].(string)
	if subCommandID == "" {
		return "", domain.NewWorkflowError(domain.WorkflowKindBadDefinition, run.key.Operation, sd.Name,
			fmt.Errorf("await state requires input.await_command_id"))
	}
	topic := domain.TopicUnder(e.root, run.key.topicID(), fmt.Sprintf("cmd/%s/%s", sd.Operation, subCommandID))

	done := make(chan domain.CommandState, 1)
	handler := func(msg domain.Message) {
		if len(msg.Payload) == 0 {
			return
		}
		var m map[string]any
		if err := json.Unmarshal(msg.Payload, &m); err != nil {
			return
		}
		if status, ok := m["status"].(string); ok && domain.CommandState(status).IsTerminal() {
			select {
			case done <- domain.CommandState(status):
			default:
			}
		}
	}
	if err := e.transport.Subscribe(ctx, topic, 1, handler); err != nil {
		return "", err
	}
	defer e.transport.Unsubscribe(context.Background(), topic)

	select {
	case status := <-done:
		if status == domain.StateSuccessful {
			return sd.OnSuccess, nil
		}
		return "", fmt.Errorf("awaited command %s finished in state %s", subCommandID, status)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// executeIterate fans out over a JSON array input field, running the
// remaining pipeline as a single builtin-style dispatch per element and
// recombining into an array under "results" (spec §4.F action 5).
func (e *Engine) executeIterate(ctx context.Context, run *commandRun, sd domain.StateDefinition) (string, error) {
	raw, ok := run.record.Input[sd.Iterate]
	if !ok {
		return "", domain.NewWorkflowError(domain.WorkflowKindBadDefinition, run.key.Operation, sd.Name,
			fmt.Errorf("iterate field %q not present in input", sd.Iterate))
	}
	items, ok := raw.([]any)
	if !ok {
		return "", domain.NewWorkflowError(domain.WorkflowKindBadDefinition, run.key.Operation, sd.Name,
			fmt.Errorf("iterate field %q is not an array", sd.Iterate))
	}

	results := make([]any, 0, len(items))
	var failures []string
	for i, item := range items {
		if e.plugins == nil {
			results = append(results, item)
			continue
		}
		stdin, err := json.Marshal(item)
		if err != nil {
			failures = append(failures, fmt.Sprintf("item %d: %v", i, err))
			continue
		}
		res, err := e.plugins.Invoke(ctx, domain.PluginInvocation{
			Plugin: run.key.Operation,
			Args:   []string{sd.Name, fmt.Sprintf("%d", i)},
			Stdin:  stdin,
		})
		if err != nil || res.ExitCode != 0 {
			failures = append(failures, fmt.Sprintf("item %d failed", i))
			continue
		}
		if res.Structured != nil {
			results = append(results, res.Structured)
		} else {
			results = append(results, item)
		}
	}

	mergeOutput(run, map[string]any{"results": results})
	if len(failures) > 0 {
		run.record.Failures = append(run.record.Failures, failures...)
		return "", fmt.Errorf("%d of %d items failed", len(failures), len(items))
	}
	return sd.OnSuccess, nil
}

func mergeOutput(run *commandRun, structured map[string]any) {
	if structured == nil {
		return
	}
	if run.record.Output == nil {
		run.record.Output = make(map[string]any)
	}
	for k, v := range structured {
		if v == nil {
			delete(run.record.Output, k)
			continue
		}
		run.record.Output[k] = v
	}
}

func (k commandKey) topicID() domain.TopicID {
	id, _ := domain.ParseTopicID(k.TopicID)
	return id
}
