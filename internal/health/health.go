// Package health implements the liveness-publishing actor every
// actor-group service runs (spec §4.J): a retained JSON health message on
// start, on every lifecycle transition, and whenever a retained empty
// message arrives on its own cmd/health/check topic. Structurally it
// mirrors the runtime's other small subscriber actors — one goroutine,
// one mailbox-free select loop driven by a transport subscription and a
// ticker — grounded on the teacher's actor.Actor shape.
package health

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/thin-edge/tedge-core/internal/domain"
)

// Status is the retained payload published to <service>/status/health.
type Status struct {
	PID    int       `json:"pid"`
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}

const (
	statusUp   = "up"
	statusDown = "down"
)

// Reporter publishes Status for one service identity and answers
// cmd/health/check probes.
type Reporter struct {
	transport domain.Transport
	log       zerolog.Logger
	root      string
	service   domain.TopicID
	interval  time.Duration
}

// New returns a Reporter for the given service topic id. interval is the
// period of the background republish; pass 0 to publish only on start,
// lifecycle transitions and explicit checks.
func New(transport domain.Transport, root string, service domain.TopicID, interval time.Duration, log zerolog.Logger) *Reporter {
	return &Reporter{
		transport: transport,
		root:      root,
		service:   service,
		interval:  interval,
		log:       log.With().Str("component", "health").Str("service", service.String()).Logger(),
	}
}

func (r *Reporter) Name() string { return "health:" + r.service.String() }

// Run subscribes to the check trigger, publishes "up", and on return
// publishes "down" and then drops the check subscription (spec §4.J:
// published "on start and on any lifecycle transition").
func (r *Reporter) Run(ctx context.Context) error {
	checkTopic := domain.TopicUnder(r.root, r.service, "cmd/health/check")
	if err := r.transport.Subscribe(ctx, checkTopic, 1, func(domain.Message) {
		r.publish(ctx, statusUp)
	}); err != nil {
		return err
	}
	defer r.transport.Unsubscribe(context.Background(), checkTopic)

	r.publish(ctx, statusUp)
	defer r.publish(context.Background(), statusDown)

	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			r.publish(ctx, statusUp)
		}
	}
}

func (r *Reporter) publish(ctx context.Context, status string) {
	s := Status{PID: os.Getpid(), Status: status, Time: time.Now().UTC()}
	payload, err := json.Marshal(s)
	if err != nil {
		r.log.Error().Err(err).Msg("marshal health status")
		return
	}
	topic := domain.TopicUnder(r.root, r.service, "status/health")
	if err := r.transport.Publish(ctx, topic, payload, domain.WithRetain(true), domain.WithQoS(1)); err != nil {
		r.log.Warn().Err(err).Str("topic", topic).Msg("publish health status")
	}
}
