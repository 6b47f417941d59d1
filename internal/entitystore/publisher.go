package entitystore

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/thin-edge/tedge-core/internal/config"
	"github.com/thin-edge/tedge-core/internal/domain"
)

// Publisher is the actor half of component D+E: it drains StoreEvents and
// mirrors every registration/twin change onto a retained MQTT message under
// <root>/<topic-id>, the way the entity store's REST/MQTT surface is
// described as "eventually consistent with the retained snapshot" in
// spec §4.E.
type Publisher struct {
	root      string
	transport domain.Transport
	events    <-chan StoreEvent
	log       zerolog.Logger
}

// NewPublisher wires a Publisher reading from the same channel passed to
// New() as the store's events sink.
func NewPublisher(cfg config.MQTTConfig, transport domain.Transport, events <-chan StoreEvent, log zerolog.Logger) *Publisher {
	return &Publisher{
		root:      cfg.TopicRoot,
		transport: transport,
		events:    events,
		log:       log.With().Str("component", "entitystore-publisher").Logger(),
	}
}

func (p *Publisher) Name() string { return "entitystore-publisher" }

// Run drains events until ctx is cancelled. A publish failure is logged and
// skipped rather than fatal — the retained message catches up only on the
// entity's next mutation; the MQTT client actor does not re-send failed
// publishes after a reconnect.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-p.events:
			if !ok {
				return nil
			}
			p.publish(ctx, ev)
		}
	}
}

func (p *Publisher) publish(ctx context.Context, ev StoreEvent) {
	topic := domain.TopicUnder(p.root, ev.Entity.TopicID, "")

	if ev.Kind == EventDeleted {
		if err := p.transport.Publish(ctx, topic, nil, domain.WithRetain(true)); err != nil {
			p.log.Error().Err(err).Str("topic", topic).Msg("failed to publish tombstone")
		}
		return
	}

	payload, err := json.Marshal(ev.Entity.RegistrationPayload())
	if err != nil {
		p.log.Error().Err(err).Msg("failed to marshal entity payload")
		return
	}
	if err := p.transport.Publish(ctx, topic, payload, domain.WithRetain(true)); err != nil {
		p.log.Error().Err(err).Str("topic", topic).Msg("failed to publish entity registration")
	}
}
