package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	alerts "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Alerts"
	config "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Config"
	logger "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Logger"
	hardware_models "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Models/hardware"
	poller "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Poller"
)

type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
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

// fakeClient embeds mqtt.Client so only the methods the publisher uses need implementing
type fakeClient struct {
	mqtt.Client
	mu          sync.Mutex
	msgs        []published
	err         error
	offline     bool
	disconnects int
}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic, qos, retained, payload.([]byte)})
	return doneToken{err: f.err}
}

func (f *fakeClient) IsConnected() bool { return !f.offline }

func (f *fakeClient) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

func TestPublisher_OnSnapshotPublishesLatest(t *testing.T) {
	fc := &fakeClient{}
	p := newWithClient(config.MQTTConfig{TopicPrefix: "dash"}, fc, logger.Nop())

	r := hardware_models.Reading{ID: 5, DeviceID: 3, Ts: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Battery: 15}
	p.OnSnapshot(poller.Snapshot{DeviceID: 3, Latest: &r, Gauge: poller.Gauge{Level: 15, Empty: 85, Critical: true}})

	require.Len(t, fc.msgs, 1)
	msg := fc.msgs[0]
	assert.Equal(t, "dash/devices/3/latest", msg.topic)
	assert.True(t, msg.retained)
	assert.Equal(t, byte(1), msg.qos)

	var body LatestMessage
	require.NoError(t, json.Unmarshal(msg.payload, &body))
	assert.Equal(t, 3, body.DeviceID)
	require.NotNil(t, body.Latest)
	assert.Equal(t, 5, body.Latest.ID)
	assert.True(t, body.Gauge.Critical)
}

func TestPublisher_OnSnapshotSwallowsErrors(t *testing.T) {
	fc := &fakeClient{err: errors.New("not connected")}
	p := newWithClient(config.MQTTConfig{TopicPrefix: "dash"}, fc, logger.Nop())

	// Should not panic
	p.OnSnapshot(poller.Snapshot{DeviceID: 1})
	assert.Len(t, fc.msgs, 1)
}

func TestPublisher_NotifyPublishesAlert(t *testing.T) {
	fc := &fakeClient{}
	p := newWithClient(config.MQTTConfig{TopicPrefix: "dash"}, fc, logger.Nop())

	err := p.Notify(context.Background(), alerts.Alert{Kind: alerts.KindBatteryCritical, DeviceID: 9, Battery: 4, Threshold: 20})
	require.NoError(t, err)

	require.Len(t, fc.msgs, 1)
	assert.Equal(t, "dash/devices/9/alerts", fc.msgs[0].topic)
	assert.False(t, fc.msgs[0].retained)
	assert.Contains(t, string(fc.msgs[0].payload), `"kind":"battery_critical"`)
}

func TestPublisher_NotifyReturnsPublishError(t *testing.T) {
	fc := &fakeClient{err: errors.New("broker gone")}
	p := newWithClient(config.MQTTConfig{TopicPrefix: "dash"}, fc, logger.Nop())

	err := p.Notify(context.Background(), alerts.Alert{DeviceID: 1})
	assert.ErrorContains(t, err, "broker gone")
}

func TestPublisher_StopDisconnectsWhileReconnecting(t *testing.T) {
	fc := &fakeClient{offline: true}
	p := newWithClient(config.MQTTConfig{TopicPrefix: "dash"}, fc, logger.Nop())

	assert.False(t, p.IsConnected())
	p.Stop()
	assert.Equal(t, 1, fc.disconnects)
}

func TestPublisher_NotStarted(t *testing.T) {
	p := New(&config.Config{MQTT: config.MQTTConfig{BrokerHost: "localhost", BrokerPort: 1883}}, logger.Nop())
	assert.False(t, p.IsConnected())
	assert.Error(t, p.Notify(context.Background(), alerts.Alert{}))
	p.Stop()
}

func TestTLSConfig(t *testing.T) {
	cfg, err := tlsConfig("")
	require.NoError(t, err)
	assert.Nil(t, cfg.RootCAs)

	_, err = tlsConfig(filepath.Join(t.TempDir(), "missing.pem"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a cert"), 0o600))
	_, err = tlsConfig(bad)
	assert.Error(t, err)
}
