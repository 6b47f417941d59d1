package mapper

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/thin-edge/tedge-core/internal/config"
	"github.com/thin-edge/tedge-core/internal/domain"
)

// Mapper is the runtime actor assembled from the three skeleton parts:
// rendered bridge rules, a (possibly no-op) converter, and an operation
// bridge (spec §4.I).
type Mapper struct {
	name      string
	transport domain.Transport
	engine    domain.WorkflowEngine
	converter Converter
	rules     []RenderedRule
	root      string
	log       zerolog.Logger

	pending map[string]pendingOp
}

type pendingOp struct {
	remoteTopic string
	id          domain.TopicID
	operation   string
}

// New assembles a Mapper. global carries the ${config.*} settings,
// mapperCfg the mapper-local ${mapper.*} settings and declared rules.
func New(name string, transport domain.Transport, engine domain.WorkflowEngine, converter Converter, global map[string]string, mapperCfg config.MapperConfig, conn Connection, root string, log zerolog.Logger) *Mapper {
	if converter == nil {
		converter = NoopConverter{}
	}
	expander := NewExpander(global, mapperCfg, conn)
	return &Mapper{
		name:      name,
		transport: transport,
		engine:    engine,
		converter: converter,
		rules:     expander.Render(mapperCfg.Rules, ""),
		root:      root,
		log:       log.With().Str("component", "mapper").Str("mapper", name).Logger(),
		pending:   make(map[string]pendingOp),
	}
}

func (m *Mapper) Name() string { return "mapper:" + m.name }

// Run installs the rendered bridge rules as local subscriptions that hand
// off to the converter, and starts the operation bridge listening for
// cloud-originated operation requests.
func (m *Mapper) Run(ctx context.Context) error {
	for _, rule := range m.rules {
		rule := rule
		if rule.Direction != "local_to_remote" {
			continue
		}
		if err := m.transport.Subscribe(ctx, rule.LocalTopic, rule.QoS, func(msg domain.Message) {
			if err := m.converter.Convert(ctx, msg, m.transport); err != nil {
				m.log.Warn().Err(err).Str("topic", msg.Topic).Msg("convert failed")
			}
		}); err != nil {
			return err
		}
	}

	opTopic := m.root + "/+/+/+/+/cmd/+/+"
	if err := m.transport.Subscribe(ctx, opTopic, 1, m.onOperationRequest); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

// cloudOperationRequest is the payload the converter hands the operation
// bridge once it has translated a cloud-side operation invocation.
type cloudOperationRequest struct {
	TopicID   string         `json:"topic_id"`
	Operation string         `json:"operation"`
	Input     map[string]any `json:"input"`
}

func (m *Mapper) onOperationRequest(msg domain.Message) {
	var req cloudOperationRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		m.log.Warn().Err(err).Str("topic", msg.Topic).Msg("malformed operation request")
		return
	}
	id, err := domain.ParseTopicID(req.TopicID)
	if err != nil {
		m.log.Warn().Err(err).Str("topic_id", req.TopicID).Msg("malformed operation topic id")
		return
	}

	ctx := context.Background()
	commandID, err := m.engine.Start(ctx, id, req.Operation, req.Input)
	if err != nil {
		m.log.Warn().Err(err).Str("operation", req.Operation).Msg("start operation")
		return
	}
	m.pending[commandID] = pendingOp{id: id, operation: req.Operation}
	m.log.Info().Str("command_id", commandID).Str("operation", req.Operation).Msg("operation bridged from cloud")
}

// ReportTerminal reports a bridged command's terminal state back to the
// cloud side via the converter (spec §4.I point 3). Nothing in this module
// calls it: neither Mapper.Run nor cmd/tedge-mapper watches commands for
// terminal states, so the caller supplies the terminal record.
func (m *Mapper) ReportTerminal(ctx context.Context, commandID string, record domain.CommandRecord) {
	op, ok := m.pending[commandID]
	if !ok {
		return
	}
	delete(m.pending, commandID)

	msg := domain.Message{
		Topic:   domain.TopicUnder(m.root, op.id, "cmd/"+op.operation+"/"+commandID),
		Payload: mustMarshal(record),
	}
	if err := m.converter.Convert(ctx, msg, m.transport); err != nil {
		m.log.Warn().Err(err).Str("command_id", commandID).Msg("report terminal state")
	}
}

func mustMarshal(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
