package entitystore

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"github.com/thin-edge/tedge-core/internal/config"
	"github.com/thin-edge/tedge-core/internal/domain"
)

// Ingest is the actor that subscribes to the full entity topic wildcard on
// startup and rebuilds/updates the store from retained registration
// messages — the store's contents are a pure function of what the broker
// has retained, per spec §3.
//
// When a message arrives under an entity that has not been registered yet
// and auto-registration is disabled, it is held in a bounded drop-oldest
// buffer (spec §4.D "unknown-entity buffer") so a late registration can
// still resolve the earlier traffic instead of silently losing it.
type Ingest struct {
	cfg       config.EntityStoreConfig
	root      string
	transport domain.Transport
	store     *Store
	log       zerolog.Logger

	buffer *unknownBuffer
}

// NewIngest wires the ingestion actor against a live store and transport.
func NewIngest(cfg config.EntityStoreConfig, mqttCfg config.MQTTConfig, transport domain.Transport, store *Store, log zerolog.Logger) *Ingest {
	return &Ingest{
		cfg:       cfg,
		root:      mqttCfg.TopicRoot,
		transport: transport,
		store:     store,
		log:       log.With().Str("component", "entitystore-ingest").Logger(),
		buffer:    newUnknownBuffer(cfg.UnknownBufferBound),
	}
}

func (i *Ingest) Name() string { return "entitystore-ingest" }

// Run subscribes once and then blocks until ctx is cancelled; all actual
// work happens in the MQTT handler callback, which is why this actor's
// Run body is just a wait — the subscription survives broker reconnects
// because the MQTT client actor replays it.
func (i *Ingest) Run(ctx context.Context) error {
	filter := strings.TrimSuffix(i.root, "/") + "/+/+/+/+"
	if err := i.transport.Subscribe(ctx, filter, 1, i.handle); err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

func (i *Ingest) handle(msg domain.Message) {
	rest := strings.TrimPrefix(msg.Topic, strings.TrimSuffix(i.root, "/")+"/")
	id, err := domain.ParseTopicID(rest)
	if err != nil {
		i.log.Warn().Str("topic", msg.Topic).Msg("ignoring malformed entity topic")
		return
	}

	ctx := context.Background()

	if len(msg.Payload) == 0 {
		// Tombstone: the entity (or its registration) was cleared upstream.
		if _, err := i.store.Get(ctx, id); err == nil {
			_, _ = i.store.Delete(ctx, id, true)
		}
		return
	}

	var fields map[string]any
	if err := json.Unmarshal(msg.Payload, &fields); err != nil {
		i.log.Warn().Err(err).Str("topic", msg.Topic).Msg("ignoring malformed registration payload")
		return
	}

	if _, err := i.store.Get(ctx, id); err == nil {
		// Already known: treat as a twin update, not a re-registration.
		twin := stripReserved(fields)
		_ = i.store.ReplaceTwin(ctx, id, twin)
		return
	}

	e := entityFromPayload(id, fields)
	if e.ParentTopicID == nil && !id.IsZero() {
		main := domain.MainDevice
		if id != main {
			e.ParentTopicID = &main
		}
	}

	if err := i.store.Register(ctx, e); err != nil {
		if !i.cfg.AutoRegister {
			// Parent not seen yet; buffer for replay once it appears.
			i.buffer.push(e)
			return
		}
		i.log.Debug().Err(err).Str("topic", msg.Topic).Msg("dropping registration for unknown/unready entity")
		return
	}
	i.drainBufferFor(ctx, id)
}

func (i *Ingest) drainBufferFor(ctx context.Context, newParent domain.TopicID) {
	pending := i.buffer.drain()
	for _, e := range pending {
		if err := i.store.Register(ctx, e); err != nil {
			i.buffer.push(e)
		}
	}
}

func entityFromPayload(id domain.TopicID, fields map[string]any) domain.Entity {
	e := domain.Entity{TopicID: id, EntityType: domain.EntityTypeDevice, Twin: stripReserved(fields)}
	if t, ok := fields["@type"].(string); ok {
		e.EntityType = domain.EntityType(t)
	}
	if p, ok := fields["@parent"].(string); ok {
		if pid, err := domain.ParseTopicID(p); err == nil {
			e.ParentTopicID = &pid
		}
	}
	if h, ok := fields["@health"].(string); ok {
		if hid, err := domain.ParseTopicID(h); err == nil {
			e.HealthEndpointTopicID = &hid
		}
	}
	if extID, ok := fields["@id"].(string); ok {
		e.ExternalID = extID
	}
	return e
}

func stripReserved(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if !domain.IsReservedKey(k) {
			out[k] = v
		}
	}
	return out
}
