// Package workflow implements the operation workflow engine (component F):
// a user-extensible, on-disk state-machine executor driven entirely by
// retained MQTT command messages. The design mirrors agentoven's recipe
// engine (internal/workflow/engine.go there: a runs map of cancel funcs,
// one goroutine per in-flight execution) adapted from an HTTP/A2A
// agent-step model to thin-edge's builtin/script/background_script/await/
// iterate action set. That engine's step retries are not carried over: a
// failed state moves straight to its on_error transition.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/thin-edge/tedge-core/internal/config"
	"github.com/thin-edge/tedge-core/internal/domain"
)

// Engine implements domain.WorkflowEngine and is the actor that drives
// every operation command for the local device and its children.
type Engine struct {
	cfg       config.WorkflowConfig
	root      string
	transport domain.Transport
	plugins   domain.PluginRunner
	catalogue *Catalogue
	log       zerolog.Logger

	mu   sync.Mutex
	runs map[commandKey]*commandRun
}

// New wires an Engine. catalogue must already be loaded (NewCatalogue).
func New(cfg config.WorkflowConfig, mqttCfg config.MQTTConfig, transport domain.Transport, plugins domain.PluginRunner, catalogue *Catalogue, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		root:      mqttCfg.TopicRoot,
		transport: transport,
		plugins:   plugins,
		catalogue: catalogue,
		log:       log.With().Str("component", "workflow-engine").Logger(),
		runs:      make(map[commandKey]*commandRun),
	}
}

func (e *Engine) Name() string { return "workflow-engine" }

// Run subscribes to every command topic and to the catalogue directory
// watch, then blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	filter := strings.TrimSuffix(e.root, "/") + "/+/+/+/+/cmd/+/+"
	if err := e.transport.Subscribe(ctx, filter, 1, e.handleCommandMessage); err != nil {
		return err
	}
	e.catalogue.SetOnChange(e.onCatalogueChange)
	e.advertiseCapabilities(ctx)

	watchErr := make(chan error, 1)
	go func() { watchErr <- e.catalogue.Watch(ctx) }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-watchErr:
		return err
	}
}

// advertiseCapabilities publishes the empty retained meta message for
// every known operation on the main device (spec §4.F: "a user-defined
// operation becomes a capability ... advertised by an empty retained
// message on <root>/<topic_id>/cmd/<operation>").
func (e *Engine) advertiseCapabilities(ctx context.Context) {
	for _, op := range e.catalogue.Operations() {
		topic := domain.TopicUnder(e.root, domain.MainDevice, "cmd/"+op)
		_ = e.transport.Publish(ctx, topic, nil, domain.WithRetain(true))
	}
}

// onCatalogueChange re-advertises (or, if the operation has no definition
// left at all, retracts) the capability meta message after a hot reload.
func (e *Engine) onCatalogueChange(operation string) {
	topic := domain.TopicUnder(e.root, domain.MainDevice, "cmd/"+operation)
	_ = e.transport.Publish(context.Background(), topic, nil, domain.WithRetain(true))
}

// handleCommandMessage parses one inbound retained command message and
// starts, resumes or cancels the corresponding state machine.
func (e *Engine) handleCommandMessage(msg domain.Message) {
	topicID, operation, commandID, ok := parseCommandTopic(strings.TrimSuffix(e.root, "/"), msg.Topic)
	if !ok {
		return
	}
	key := commandKey{TopicID: topicID.String(), Operation: operation, CommandID: commandID}

	if len(msg.Payload) == 0 {
		e.cancel(key)
		return
	}

	e.mu.Lock()
	_, running := e.runs[key]
	e.mu.Unlock()
	if running {
		return // already driving this command; ignore echoes of our own publishes
	}

	record, err := recordFromJSON(msg.Payload, topicID, operation, commandID)
	if err != nil {
		e.log.Error().Err(err).Str("topic", msg.Topic).Msg("ignoring unparseable command record")
		return
	}
	if record.ID == "" {
		record.ID = commandID
	}
	if record.Status.IsTerminal() {
		return // already finished; nothing to drive
	}
	if record.Status == "" {
		record.Status = domain.StateInit
	}

	e.start(key, record, msg.Retained)
}

func parseCommandTopic(root, topic string) (domain.TopicID, string, string, bool) {
	rest := strings.TrimPrefix(topic, root+"/")
	parts := strings.Split(rest, "/")
	if len(parts) != 7 || parts[4] != "cmd" {
		return domain.TopicID{}, "", "", false
	}
	id, err := domain.ParseTopicID(strings.Join(parts[0:4], "/"))
	if err != nil {
		return domain.TopicID{}, "", "", false
	}
	return id, parts[5], parts[6], true
}

// start pins the definition in force for this command and launches its
// driving goroutine. resumed indicates this record already existed on the
// broker when we subscribed (i.e. we are recovering, not newly creating).
func (e *Engine) start(key commandKey, record domain.CommandRecord, resumed bool) {
	def, ok := e.catalogue.Latest(key.Operation)
	if !ok {
		e.log.Warn().Str("operation", key.Operation).Msg("no workflow definition for operation, ignoring command")
		return
	}
	version := record.WorkflowVersion
	var pinned domain.WorkflowDefinition
	var err error
	if version != "" {
		// Every command keeps running under the @version it started with,
		// even once the catalogue moves on (spec §4.F invariant 4). The
		// catalogue archives retired versions to disk precisely so this
		// Pin still succeeds after a process restart; if it still fails,
		// the version is genuinely gone and the command fails rather than
		// silently resuming under a different, unrelated definition.
		pinned, err = e.catalogue.Pin(key.Operation, version)
		if err != nil {
			e.log.Error().Err(err).Str("operation", key.Operation).Str("version", version).
				Msg("pinned workflow version unrecoverable, failing command instead of substituting the current definition")
			now := time.Now()
			record.ResumedAt = &now
			record.Status = domain.StateFailed
			record.Failures = append(record.Failures, fmt.Sprintf("workflow version %s is no longer available, cannot resume safely", version))
			e.publish(context.Background(), record)
			return
		}
	} else {
		pinned, _ = e.catalogue.Pin(key.Operation, def.Version)
		version = def.Version
	}
	record.WorkflowVersion = version

	if resumed && record.Status == domain.StateExecuting {
		// A foreground script cannot be reattached across a process
		// restart; the engine must not claim it succeeded (spec §4.F,
		// scenario 6).
		now := time.Now()
		record.ResumedAt = &now
		record.Status = domain.StateFailed
		record.Failures = append(record.Failures, "process restarted during execution, cannot verify outcome")
		e.publish(context.Background(), record)
		e.catalogue.Unpin(key.Operation, version)
		return
	}

	log, err := newCommandLog(e.cfg.LogDir, key.Operation, key.CommandID, e.cfg.LogMaxSizeMB, e.cfg.LogMaxFiles)
	if err != nil {
		e.log.Error().Err(err).Msg("failed to open command log")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	run := &commandRun{key: key, def: pinned, record: record, log: log, cancel: cancel}

	e.mu.Lock()
	e.runs[key] = run
	e.mu.Unlock()

	go e.drive(runCtx, run)
}

func (e *Engine) cancel(key commandKey) {
	e.mu.Lock()
	run, ok := e.runs[key]
	e.mu.Unlock()
	if !ok {
		return
	}
	if run.log != nil {
		run.log.Writef("cancel requested")
	}
	run.cancel()
}

// drive runs the state machine from run.record.Status to a terminal state.
func (e *Engine) drive(ctx context.Context, run *commandRun) {
	defer func() {
		e.mu.Lock()
		delete(e.runs, run.key)
		e.mu.Unlock()
		e.catalogue.Unpin(run.key.Operation, run.def.Version)
		if run.log != nil {
			run.log.Writef("command log closed, final state %s", run.record.Status)
			run.log.Close()
		}
	}()

	state := string(run.record.Status)
	if state == string(domain.StateInit) {
		// no-op: "init" is not itself a declared state unless the
		// workflow names one; fall through to look it up below.
	}

	for {
		if domain.CommandState(state).IsTerminal() {
			run.record.Status = domain.CommandState(state)
			e.publish(ctx, run.record)
			return
		}

		sd, ok := run.def.States[state]
		if !ok {
			run.record.Status = domain.StateFailed
			run.record.Failures = append(run.record.Failures, fmt.Sprintf("unknown state %q", state))
			e.publish(ctx, run.record)
			return
		}

		run.record.Status = domain.CommandState(state)
		e.publish(ctx, run.record)
		if run.log != nil {
			run.log.Writef("entering state %s (action=%s)", state, sd.Action)
		}

		next, err := e.executeState(ctx, run, sd)
		select {
		case <-ctx.Done():
			run.record.Status = domain.StateFailed
			run.record.Failures = append(run.record.Failures, "cancelled")
			if run.log != nil {
				run.log.Writef("cancelled during state %s", state)
			}
			return // do not republish: the empty retained message is already the final state
		default:
		}
		if err != nil {
			if run.log != nil {
				run.log.Writef("state %s failed: %v", state, err)
			}
			state = sd.OnError
			continue
		}
		state = next
	}
}

func (e *Engine) publish(ctx context.Context, record domain.CommandRecord) {
	payload, err := recordToJSON(record)
	if err != nil {
		e.log.Error().Err(err).Msg("failed to marshal command record")
		return
	}
	topic := domain.TopicUnder(e.root, record.TopicID, fmt.Sprintf("cmd/%s/%s", record.Operation, record.ID))
	if err := e.transport.Publish(ctx, topic, payload, domain.WithRetain(true)); err != nil {
		e.log.Error().Err(err).Str("topic", topic).Msg("failed to publish command record")
	}
}

// ─── domain.WorkflowEngine ───────────────────────────────────────────────

// Start creates a new command record under topic id with a freshly
// generated command id and publishes its initial retained message, letting
// the engine's own
// subscription pick it up and drive it (kept symmetric with how an
// external MQTT publisher would trigger the same command).
func (e *Engine) Start(ctx context.Context, id domain.TopicID, operation string, input map[string]any) (string, error) {
	if _, ok := e.catalogue.Latest(operation); !ok {
		return "", domain.NewWorkflowError(domain.WorkflowKindBadDefinition, operation, "", domain.ErrPluginNotFound)
	}
	commandID := uuid.NewString()
	record := domain.CommandRecord{
		ID:        commandID,
		TopicID:   id,
		Operation: operation,
		Status:    domain.StateInit,
		Input:     input,
		CreatedAt: time.Now(),
	}
	e.publish(ctx, record)
	return commandID, nil
}

// Cancel publishes an empty retained message on the command topic, the
// same trigger an external MQTT client would use (spec §4.F).
func (e *Engine) Cancel(ctx context.Context, id domain.TopicID, operation, commandID string) error {
	topic := domain.TopicUnder(e.root, id, fmt.Sprintf("cmd/%s/%s", operation, commandID))
	return e.transport.Publish(ctx, topic, nil, domain.WithRetain(true))
}

// Status returns the in-memory view of a running command, if any.
func (e *Engine) Status(ctx context.Context, id domain.TopicID, operation, commandID string) (domain.CommandRecord, error) {
	key := commandKey{TopicID: id.String(), Operation: operation, CommandID: commandID}
	e.mu.Lock()
	run, ok := e.runs[key]
	e.mu.Unlock()
	if !ok {
		return domain.CommandRecord{}, domain.ErrCommandNotFound
	}
	return run.record, nil
}
