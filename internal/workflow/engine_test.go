package workflow

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/thin-edge/tedge-core/internal/config"
	"github.com/thin-edge/tedge-core/internal/domain"
)

// fakeTransport is an in-memory domain.Transport used to drive the engine
// without a broker, matching the style of the mapper/health packages' local
// fakeTransport helpers.
type fakeTransport struct {
	mu        sync.Mutex
	published []domain.Message
	subs      map[string]domain.MessageHandler
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{subs: make(map[string]domain.MessageHandler)}
}

func (f *fakeTransport) Publish(ctx context.Context, topic string, payload []byte, opts ...domain.PublishOption) error {
	f.mu.Lock()
	f.published = append(f.published, domain.Message{Topic: topic, Payload: payload, Retained: true})
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Subscribe(ctx context.Context, filter string, qos byte, handler domain.MessageHandler) error {
	f.mu.Lock()
	f.subs[filter] = handler
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Unsubscribe(ctx context.Context, filter string) error {
	f.mu.Lock()
	delete(f.subs, filter)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Connected() bool { return true }

func (f *fakeTransport) deliver(topic string, payload []byte, retained bool) {
	f.mu.Lock()
	handler, ok := f.subs[topic]
	f.mu.Unlock()
	if ok {
		handler(domain.Message{Topic: topic, Payload: payload, Retained: retained})
	}
}

func (f *fakeTransport) last() domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.published[len(f.published)-1]
}

func newTestEngine(t *testing.T) (*Engine, *fakeTransport) {
	t.Helper()
	transport := newFakeTransport()
	catalogue, err := NewCatalogue(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	cfg := config.WorkflowConfig{
		LogDir:             t.TempDir(),
		DefaultGraceSecs:   5,
		DefaultTimeoutSecs: 5,
	}
	mqttCfg := config.MQTTConfig{TopicRoot: "te"}
	e := New(cfg, mqttCfg, transport, nil, catalogue, zerolog.Nop())
	return e, transport
}

func TestParseCommandTopicExtractsIdOperationAndCommandID(t *testing.T) {
	id, operation, commandID, ok := parseCommandTopic("te", "te/device/main///cmd/restart/cmd-1")
	require.True(t, ok)
	require.Equal(t, "restart", operation)
	require.Equal(t, "cmd-1", commandID)
	require.Equal(t, domain.MainDevice, id)
}

func TestParseCommandTopicRejectsWrongSegmentCount(t *testing.T) {
	_, _, _, ok := parseCommandTopic("te", "te/device/main/cmd/restart")
	require.False(t, ok)
}

func TestStartPublishesInitRecordAndDriveReachesTerminal(t *testing.T) {
	e, transport := newTestEngine(t)

	commandID, err := e.Start(context.Background(), domain.MainDevice, "restart", map[string]any{})
	require.NoError(t, err)
	require.NotEmpty(t, commandID)

	msg := transport.last()
	require.Contains(t, string(msg.Payload), `"status":"init"`)

	// feed the published record back in, the way the engine's own
	// subscription would once Run starts it, and let it drive to a
	// terminal state with no plugin runner (executeBuiltin no-ops to
	// OnSuccess when plugins is nil).
	topic := domain.TopicUnder("te", domain.MainDevice, "cmd/restart/"+commandID)
	e.handleCommandMessage(domain.Message{Topic: topic, Payload: msg.Payload, Retained: true})

	require.Eventually(t, func() bool {
		last := transport.last()
		return strings.Contains(string(last.Payload), `"status":"successful"`)
	}, time.Second, 5*time.Millisecond)
}

func TestStartUnknownOperationFails(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Start(context.Background(), domain.MainDevice, "no_such_operation", nil)
	require.Error(t, err)
}

func TestCancelPublishesEmptyRetainedMessage(t *testing.T) {
	e, transport := newTestEngine(t)
	err := e.Cancel(context.Background(), domain.MainDevice, "restart", "cmd-1")
	require.NoError(t, err)
	last := transport.last()
	require.Empty(t, last.Payload)
}

func TestStartFailsWhenPinnedVersionUnrecoverable(t *testing.T) {
	e, transport := newTestEngine(t)
	topic := domain.TopicUnder("te", domain.MainDevice, "cmd/restart/cmd-1")
	payload := []byte(`{"status":"init","@version":"deadbeef-no-such-version"}`)

	e.handleCommandMessage(domain.Message{Topic: topic, Payload: payload, Retained: true})

	require.Eventually(t, func() bool {
		last := transport.last()
		return strings.Contains(string(last.Payload), `"status":"failed"`)
	}, time.Second, 5*time.Millisecond)

	last := transport.last()
	require.Contains(t, string(last.Payload), `deadbeef-no-such-version`)
	require.Contains(t, string(last.Payload), `"@version":"deadbeef-no-such-version"`,
		"the original, unresolvable version must still be recorded, never silently substituted")
}

func TestHandleCommandMessageIgnoresTerminalRecords(t *testing.T) {
	e, _ := newTestEngine(t)
	topic := domain.TopicUnder("te", domain.MainDevice, "cmd/restart/cmd-1")
	e.handleCommandMessage(domain.Message{Topic: topic, Payload: []byte(`{"status":"successful"}`), Retained: true})

	_, err := e.Status(context.Background(), domain.MainDevice, "restart", "cmd-1")
	require.ErrorIs(t, err, domain.ErrCommandNotFound)
}
