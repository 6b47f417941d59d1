package domain

import "context"

// ─── Service interfaces ─────────────────────────────────────────────────────
// These interfaces define the boundary between the workflow/plugin/mapper
// logic and the infrastructure that backs it (an MQTT broker, a local
// snapshot cache, the filesystem). Application code depends on these;
// internal/mqttclient, internal/entitystore etc. implement them.

// Transport is the narrow view of the MQTT client actor that the rest of
// the core needs: publish/subscribe plus a liveness signal. Everything
// else (reconnect, QoS negotiation, LWT) is private to the actor.
type Transport interface {
	// Publish sends a message. Retain and QoS follow spec §4.C defaults
	// unless overridden by opts.
	Publish(ctx context.Context, topic string, payload []byte, opts ...PublishOption) error

	// Subscribe registers a handler for a topic filter. The subscription
	// is replayed automatically across reconnects.
	Subscribe(ctx context.Context, filter string, qos byte, handler MessageHandler) error

	// Unsubscribe removes a previously registered filter.
	Unsubscribe(ctx context.Context, filter string) error

	// Connected reports the current transport liveness.
	Connected() bool
}

// Message is one inbound MQTT publish delivered to a subscriber.
type Message struct {
	Topic   string
	Payload []byte
	Retained bool
}

// MessageHandler processes one inbound message. Handlers must not block the
// MQTT client actor's receive loop for long; long work is handed off to the
// subscribing actor's own mailbox.
type MessageHandler func(Message)

// PublishOption mutates a single publish call's QoS/retain behavior.
type PublishOption func(*PublishOptions)

// PublishOptions holds the resolved options for one publish.
type PublishOptions struct {
	QoS    byte
	Retain bool
}

// WithRetain marks a publish as retained (used for registrations, twin
// fragments and command records — spec §3, §4.F).
func WithRetain(retain bool) PublishOption {
	return func(o *PublishOptions) { o.Retain = retain }
}

// WithQoS overrides the default QoS (1) for a single publish.
func WithQoS(qos byte) PublishOption {
	return func(o *PublishOptions) { o.QoS = qos }
}

// ResolvedOptions applies opts over the package defaults (QoS 1, no retain).
func ResolvedOptions(opts ...PublishOption) PublishOptions {
	o := PublishOptions{QoS: 1, Retain: false}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// EntityStore is the boundary the REST/MQTT API and the workflow engine use
// to reach the entity store actor (component D) without depending on its
// mailbox/actor plumbing directly.
type EntityStore interface {
	Register(ctx context.Context, e Entity) error
	Get(ctx context.Context, id TopicID) (Entity, error)
	Update(ctx context.Context, id TopicID, mutate func(*Entity) error) error
	Delete(ctx context.Context, id TopicID, cascade bool) ([]TopicID, error)
	Query(ctx context.Context, q EntityQuery) ([]Entity, error)
	SetTwinFragment(ctx context.Context, id TopicID, key string, value any) error
	ReplaceTwin(ctx context.Context, id TopicID, twin map[string]any) error
	GetTwin(ctx context.Context, id TopicID) (map[string]any, error)
}

// EntityQuery filters the Query operation (spec §4.D "query"). RootTopicID
// and ParentTopicID are mutually exclusive: root selects the root entity and
// all its descendants, parent selects a single level of direct children.
// Results come back sorted by topic id string, not in pre-order.
type EntityQuery struct {
	RootTopicID   *TopicID
	ParentTopicID *TopicID
	EntityType    EntityType
	HasEntityType bool
}

// WorkflowEngine is the boundary the REST API and the mapper's operation
// bridge use to start and observe operation commands (component F).
type WorkflowEngine interface {
	Start(ctx context.Context, id TopicID, operation string, input map[string]any) (commandID string, err error)
	Cancel(ctx context.Context, id TopicID, operation, commandID string) error
	Status(ctx context.Context, id TopicID, operation, commandID string) (CommandRecord, error)
}

// PluginRunner is the boundary the workflow engine's "builtin" action uses
// to dispatch an operation to an external executable (component G).
type PluginRunner interface {
	Invoke(ctx context.Context, req PluginInvocation) (PluginResult, error)
}
