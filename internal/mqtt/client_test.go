package mqtt

import (
	"errors"
	"strings"
	"testing"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/smart-lamp/internal/config"
	"github.com/thatsimonsguy/smart-lamp/internal/model"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func disconnectedClient() *Client {
	return &Client{
		client:        pahomqtt.NewClient(pahomqtt.NewClientOptions()),
		cfg:           config.MQTT{StateTopic: "smartlamp/state", ClientID: "lamp-test"},
		log:           zerolog.Nop(),
		subscriptions: make(map[string]subscription),
	}
}

func TestConnectDisabled(t *testing.T) {
	_, err := Connect(config.MQTT{Enabled: false})
	assert.True(t, errors.Is(err, ErrDisabled))
}

func TestPublishValidation(t *testing.T) {
	c := disconnectedClient()

	assert.ErrorIs(t, c.Publish("", []byte("x"), 0, false), ErrInvalidTopic)
	assert.ErrorIs(t, c.Publish("a/b", []byte("x"), 3, false), ErrInvalidQoS)
	assert.ErrorIs(t, c.Publish("a/b", make([]byte, maxPayloadSize+1), 0, false), ErrPublishFailed)
	assert.ErrorIs(t, c.Publish("a/b", []byte("x"), 0, false), ErrNotConnected)
	assert.ErrorIs(t, c.PublishState(model.LampState{Mode: model.ModeManual}), ErrNotConnected)
}

func TestSubscribeValidation(t *testing.T) {
	c := disconnectedClient()
	noop := func(string, []byte) error { return nil }

	assert.ErrorIs(t, c.Subscribe("", 0, noop), ErrInvalidTopic)
	assert.ErrorIs(t, c.Subscribe("a/#", 5, noop), ErrInvalidQoS)
	assert.ErrorIs(t, c.Subscribe("a/#", 0, nil), ErrSubscribeFailed)
	assert.ErrorIs(t, c.Subscribe("a/#", 0, noop), ErrNotConnected)
	assert.Empty(t, c.subscriptions)
}

func TestWrapHandlerRecoversPanic(t *testing.T) {
	c := disconnectedClient()
	var got string

	ok := c.wrapHandler(func(topic string, payload []byte) error {
		got = topic + ":" + string(payload)
		return nil
	})
	ok(nil, fakeMessage{topic: "smartlamp/alerts/seismic", payload: []byte(`{}`)})
	assert.Equal(t, "smartlamp/alerts/seismic:{}", got)

	boom := c.wrapHandler(func(string, []byte) error { panic("bad payload") })
	require.NotPanics(t, func() {
		boom(nil, fakeMessage{topic: "x"})
	})
}

func TestStatusPayload(t *testing.T) {
	online := statusPayload("lamp-1", "online", "")
	assert.True(t, strings.HasPrefix(online, `{"status":"online","client_id":"lamp-1","timestamp":"`))

	offline := statusPayload("lamp-1", "offline", "graceful_shutdown")
	assert.Contains(t, offline, `"reason":"graceful_shutdown"`)
	assert.Equal(t, "smartlamp/state/status", statusTopic("smartlamp/state"))
}

func TestCloseNil(t *testing.T) {
	c := &Client{}
	assert.NoError(t, c.Close())

	var missing *Client
	assert.NoError(t, missing.Close())
}
