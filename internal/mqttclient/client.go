// Package mqttclient implements the MQTT client actor (component C): it
// owns the single paho connection to the local broker, reconnects with
// exponential backoff, replays subscriptions after reconnect and reports
// its own health under the same last-will/registration pattern thin-edge's
// companion tools use.
package mqttclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/thin-edge/tedge-core/internal/config"
	"github.com/thin-edge/tedge-core/internal/domain"
)

// Client is the actor's public handle, implementing domain.Transport. The
// actor's Run loop only manages connection lifecycle; Publish/Subscribe
// calls are safe to make from any goroutine, same as the paho client they
// wrap.
type Client struct {
	cfg config.MQTTConfig
	log zerolog.Logger

	clientID string
	willTopic string

	mu    sync.RWMutex
	paho  mqtt.Client
	subs  map[string]subscription
	ready chan struct{}
	connected bool

	// dial constructs the paho client from Run's options. Overridable in
	// tests to exercise reconnect behaviour without a real broker.
	dial func(*mqtt.ClientOptions) mqtt.Client
}

type subscription struct {
	qos     byte
	handler domain.MessageHandler
}

// New constructs the actor. Connect happens in Run, not here, so the actor
// can be registered with the runtime before a network attempt is made.
func New(cfg config.MQTTConfig, clientIDSuffix string, log zerolog.Logger) *Client {
	clientID := fmt.Sprintf("%s-%s", cfg.ClientIDPrefix, clientIDSuffix)
	c := &Client{
		cfg:       cfg,
		log:       log.With().Str("component", "mqtt").Logger(),
		clientID:  clientID,
		willTopic: domain.TopicUnder(cfg.TopicRoot, domain.MainDevice, "status/health/"+clientIDSuffix),
		subs:      make(map[string]subscription),
		ready:     make(chan struct{}),
		dial:      mqtt.NewClient,
	}
	return c
}

// Name satisfies actor.Actor.
func (c *Client) Name() string { return "mqtt-client" }

// CriticalFailure satisfies actor.Critical: the daemon cannot do anything
// useful without the broker, so a permanent connect failure brings the
// runtime down rather than limping along.
func (c *Client) CriticalFailure() bool { return true }

// Run connects and reconnects with exponential backoff (1s up to 60s,
// unbounded retries) until ctx is cancelled, per spec §4.C. A connection
// loss after the initial connect re-enters the same backoff loop, so a
// broker bounce at any point in the actor's life is recovered from, not
// just the first one.
func (c *Client) Run(ctx context.Context) error {
	lost := make(chan struct{}, 1)
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", c.cfg.Host, c.cfg.Port)).
		SetClientID(c.clientID).
		SetCleanSession(true).
		SetAutoReconnect(false). // backoff loop below drives reconnects explicitly
		SetKeepAlive(60 * time.Second).
		SetWill(c.willTopic, `{"status":"down"}`, 1, true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.setConnected(false)
			c.log.Warn().Err(err).Msg("mqtt connection lost")
			select {
			case lost <- struct{}{}:
			default:
			}
		}).
		SetOnConnectHandler(func(client mqtt.Client) {
			c.log.Info().Msg("mqtt connected")
			c.resubscribeAll(client)
			c.setConnected(true)
			c.publishHealthUp(client)
		})

	c.mu.Lock()
	c.paho = c.dial(opts)
	c.mu.Unlock()

	for {
		if err := c.connectWithBackoff(ctx); err != nil {
			c.disconnect()
			return err
		}

		select {
		case <-ctx.Done():
			c.disconnect()
			return ctx.Err()
		case <-lost:
			// drive straight back into the backoff loop; OnConnectHandler
			// replays subscriptions once the reconnect succeeds.
		}
	}
}

// connectWithBackoff blocks until c.paho connects or ctx is cancelled,
// retrying with unbounded exponential backoff in between.
func (c *Client) connectWithBackoff(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	bo.MaxInterval = 60 * time.Second
	bo.MaxElapsedTime = 0 // retry forever; only ctx cancellation stops us

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		tok := c.paho.Connect()
		if tok.WaitTimeout(30 * time.Second) && tok.Error() == nil {
			return nil
		}
		d := bo.NextBackOff()
		c.log.Warn().Err(tok.Error()).Dur("retry_in", d).Msg("mqtt connect failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
}

func (c *Client) disconnect() {
	c.mu.RLock()
	p := c.paho
	c.mu.RUnlock()
	if p != nil && p.IsConnected() {
		// Publish the tombstone health message before disconnecting so
		// observers see a clean "down" rather than relying on the LWT.
		tok := p.Publish(c.willTopic, 1, true, `{"status":"down"}`)
		tok.WaitTimeout(2 * time.Second)
		p.Disconnect(250)
	}
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// Connected satisfies domain.Transport.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Client) publishHealthUp(client mqtt.Client) {
	tok := client.Publish(c.willTopic, 1, true, `{"status":"up"}`)
	tok.WaitTimeout(2 * time.Second)
}

// Publish satisfies domain.Transport.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, opts ...domain.PublishOption) error {
	o := domain.ResolvedOptions(opts...)
	c.mu.RLock()
	p := c.paho
	c.mu.RUnlock()
	if p == nil || !p.IsConnected() {
		return domain.ErrTransportDown
	}
	tok := p.Publish(topic, o.QoS, o.Retain, payload)
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe satisfies domain.Transport. The filter is recorded so it
// survives reconnects (spec §4.C "subscription registry replayed on
// reconnect").
func (c *Client) Subscribe(ctx context.Context, filter string, qos byte, handler domain.MessageHandler) error {
	c.mu.Lock()
	c.subs[filter] = subscription{qos: qos, handler: handler}
	p := c.paho
	c.mu.Unlock()

	if p == nil {
		return nil // recorded; will be applied once Run connects
	}
	tok := p.Subscribe(filter, qos, c.wrapHandler(handler))
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unsubscribe satisfies domain.Transport.
func (c *Client) Unsubscribe(ctx context.Context, filter string) error {
	c.mu.Lock()
	delete(c.subs, filter)
	p := c.paho
	c.mu.Unlock()

	if p == nil {
		return nil
	}
	tok := p.Unsubscribe(filter)
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) resubscribeAll(client mqtt.Client) {
	c.mu.RLock()
	subs := make(map[string]subscription, len(c.subs))
	for k, v := range c.subs {
		subs[k] = v
	}
	c.mu.RUnlock()

	for filter, sub := range subs {
		tok := client.Subscribe(filter, sub.qos, c.wrapHandler(sub.handler))
		tok.WaitTimeout(10 * time.Second)
		if err := tok.Error(); err != nil {
			c.log.Error().Err(err).Str("filter", filter).Msg("resubscribe failed")
		}
	}
}

func (c *Client) wrapHandler(handler domain.MessageHandler) mqtt.MessageHandler {
	return func(_ mqtt.Client, m mqtt.Message) {
		handler(domain.Message{
			Topic:    m.Topic(),
			Payload:  m.Payload(),
			Retained: m.Retained(),
		})
	}
}
