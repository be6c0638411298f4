package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/config"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/entities"
	"github.com/frostdev-ops/pma-switchbot-cloud/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doneToken struct {
	err error
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Error() error                   { return t.err }
func (t *doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient records publishes; unused paho methods panic via the nil embed
type fakeClient struct {
	pahomqtt.Client

	mu           sync.Mutex
	connected    bool
	publishErr   error
	messages     []published
	disconnected bool
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	var body []byte
	switch v := payload.(type) {
	case []byte:
		body = v
	case string:
		body = []byte(v)
	}
	f.messages = append(f.messages, published{topic: topic, qos: qos, retained: retained, payload: body})
	return &doneToken{err: f.publishErr}
}

func (f *fakeClient) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
	f.connected = false
}

func (f *fakeClient) sent() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.messages...)
}

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{TopicPrefix: "pma/switchbot", QoS: 1, Retain: true, Timeout: time.Second}
}

func TestStateTopic(t *testing.T) {
	assert.Equal(t, "pma/switchbot/e1/P1/state", StateTopic("pma/switchbot", "e1", "P1"))
	assert.Equal(t, "pma/e_1/M1_temperature/state", StateTopic("pma/", "e/1", "M1_temperature"))
	assert.Equal(t, "p/a_b_/x/state", StateTopic("p", "a+b#", "x"))
	assert.Equal(t, "pma/switchbot/status", StatusTopic("pma/switchbot"))
}

func TestPublisherSinkPublishesRetainedState(t *testing.T) {
	client := &fakeClient{connected: true}
	p := NewPublisher(client, testConfig(), logger.Discard(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.Sink("e1").PublishState(entities.State{EntityID: "P1", Available: true, Attributes: entities.Attributes{"is_on": true}})

	require.Eventually(t, func() bool { return len(client.sent()) == 1 }, time.Second, 5*time.Millisecond)
	msg := client.sent()[0]
	assert.Equal(t, "pma/switchbot/e1/P1/state", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.True(t, msg.retained)

	var state entities.State
	require.NoError(t, json.Unmarshal(msg.payload, &state))
	assert.Equal(t, "P1", state.EntityID)
	assert.Equal(t, true, state.Attributes["is_on"])
}

func TestPublishErrors(t *testing.T) {
	client := &fakeClient{connected: false}
	p := NewPublisher(client, testConfig(), logger.Discard(), nil)
	assert.ErrorIs(t, p.publish("t", nil), ErrNotConnected)

	client.connected = true
	client.publishErr = errors.New("broker gone")
	assert.ErrorIs(t, p.publish("t", nil), ErrPublishFailed)
}

func TestEnqueueWhenQueueFull(t *testing.T) {
	p := NewPublisher(&fakeClient{connected: true}, testConfig(), logger.Discard(), nil)

	for i := 0; i < queueSize; i++ {
		require.NoError(t, p.Enqueue("e1", entities.State{EntityID: "P1"}))
	}
	assert.ErrorIs(t, p.Enqueue("e1", entities.State{EntityID: "P1"}), ErrQueueFull)
}

func TestCloseMarksOffline(t *testing.T) {
	client := &fakeClient{connected: true}
	p := NewPublisher(client, testConfig(), logger.Discard(), nil)

	p.Close()
	p.Close()

	msgs := client.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, "pma/switchbot/status", msgs[0].topic)
	assert.Equal(t, "offline", string(msgs[0].payload))
	assert.True(t, client.disconnected)
}
