package health

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/thin-edge/tedge-core/internal/domain"
)

// fakeTransport is a minimal in-memory domain.Transport for exercising a
// single Reporter without an MQTT broker.
type fakeTransport struct {
	mu        sync.Mutex
	published map[string][]byte
	handlers  map[string]domain.MessageHandler
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{published: map[string][]byte{}, handlers: map[string]domain.MessageHandler{}}
}

func (f *fakeTransport) Publish(ctx context.Context, topic string, payload []byte, opts ...domain.PublishOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[topic] = payload
	return nil
}

func (f *fakeTransport) Subscribe(ctx context.Context, filter string, qos byte, handler domain.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[filter] = handler
	return nil
}

func (f *fakeTransport) Unsubscribe(ctx context.Context, filter string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, filter)
	return nil
}

func (f *fakeTransport) Connected() bool { return true }

func (f *fakeTransport) trigger(topic string) {
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()
	if h != nil {
		h(domain.Message{Topic: topic})
	}
}

func (f *fakeTransport) get(topic string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.published[topic]
	return v, ok
}

func TestPublishesUpOnStartAndDownOnExit(t *testing.T) {
	tr := newFakeTransport()
	r := New(tr, "te", domain.MainDevice, 0, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, ok := tr.get("te/device/main//status/health")
		return ok
	}, time.Second, time.Millisecond)

	payload, _ := tr.get("te/device/main//status/health")
	var s Status
	require.NoError(t, json.Unmarshal(payload, &s))
	require.Equal(t, statusUp, s.Status)

	cancel()
	<-done

	payload, _ = tr.get("te/device/main//status/health")
	require.NoError(t, json.Unmarshal(payload, &s))
	require.Equal(t, statusDown, s.Status)
}

func TestHealthCheckTrigger(t *testing.T) {
	tr := newFakeTransport()
	r := New(tr, "te", domain.MainDevice, 0, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	require.Eventually(t, func() bool {
		_, ok := tr.get("te/device/main//status/health")
		return ok
	}, time.Second, time.Millisecond)

	tr.mu.Lock()
	delete(tr.published, "te/device/main//status/health")
	tr.mu.Unlock()

	tr.trigger("te/device/main//cmd/health/check")

	require.Eventually(t, func() bool {
		_, ok := tr.get("te/device/main//status/health")
		return ok
	}, time.Second, time.Millisecond)
}
