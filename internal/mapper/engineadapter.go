package mapper

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/thin-edge/tedge-core/internal/domain"
)

// MQTTEngine implements domain.WorkflowEngine by publishing retained
// command records directly to the broker, the same wire format the
// workflow engine itself uses (spec §6, "Command payload skeleton: JSON
// with at least status"). The mapper runs in its own process from the
// workflow engine (spec §4.I: a mapper "opens corresponding workflow
// commands on local topics"), so it drives the state machine the same
// way any other MQTT client would — by writing the initial retained
// message — rather than calling into the engine's in-process API.
type MQTTEngine struct {
	transport domain.Transport
	root      string
}

// NewMQTTEngine returns a domain.WorkflowEngine that talks to the local
// workflow engine purely over MQTT.
func NewMQTTEngine(transport domain.Transport, root string) *MQTTEngine {
	return &MQTTEngine{transport: transport, root: root}
}

func (e *MQTTEngine) Start(ctx context.Context, id domain.TopicID, operation string, input map[string]any) (string, error) {
	commandID := uuid.NewString()
	payload := map[string]any{"status": "init"}
	for k, v := range input {
		payload[k] = v
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	topic := domain.TopicUnder(e.root, id, fmt.Sprintf("cmd/%s/%s", operation, commandID))
	if err := e.transport.Publish(ctx, topic, data, domain.WithRetain(true), domain.WithQoS(1)); err != nil {
		return "", err
	}
	return commandID, nil
}

// Cancel publishes the empty-message tombstone the engine treats as a
// cancellation request (spec §4.F: "Cancellation ... empty retained MQTT
// message").
func (e *MQTTEngine) Cancel(ctx context.Context, id domain.TopicID, operation, commandID string) error {
	topic := domain.TopicUnder(e.root, id, fmt.Sprintf("cmd/%s/%s", operation, commandID))
	return e.transport.Publish(ctx, topic, nil, domain.WithRetain(true), domain.WithQoS(1))
}

// Status is not supported over this adapter and always returns an error;
// a caller that needs a command's state reads its retained command topic.
func (e *MQTTEngine) Status(ctx context.Context, id domain.TopicID, operation, commandID string) (domain.CommandRecord, error) {
	return domain.CommandRecord{}, fmt.Errorf("mapper: status polling not supported, subscribe to the command topic instead")
}
