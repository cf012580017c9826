package publisher

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	alerts "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Alerts"
	config "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Config"
	logger "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Logger"
	hardware_models "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Models/hardware"
	poller "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Poller"
)

// LatestMessage is published on <prefix>/devices/<id>/latest after every applied poll
type LatestMessage struct {
	DeviceID    int                      `json:"deviceId"`
	Latest      *hardware_models.Reading `json:"latest"`
	Gauge       poller.Gauge             `json:"gauge"`
	LastUpdated *time.Time               `json:"lastUpdated"`
	PublishedAt time.Time                `json:"publishedAt"`
}

// Publisher fans live snapshots and alerts out to an MQTT broker
type Publisher struct {
	cfg    config.MQTTConfig
	url    string
	client mqtt.Client
	log    *logger.Logger
	qos    byte
	wait   time.Duration
}

func New(cfg *config.Config, log *logger.Logger) *Publisher {
	return &Publisher{
		cfg:  cfg.MQTT,
		url:  cfg.GetMQTTBrokerURL(),
		log:  log.WithComponent("mqtt_publisher"),
		qos:  1,
		wait: 5 * time.Second,
	}
}

// newWithClient is used by tests to inject a client
func newWithClient(cfg config.MQTTConfig, client mqtt.Client, log *logger.Logger) *Publisher {
	return &Publisher{cfg: cfg, client: client, log: log.WithComponent("mqtt_publisher"), qos: 1, wait: time.Second}
}

// Start connects to the broker. The client keeps retrying in the background
// if the broker is not reachable yet.
func (p *Publisher) Start() error {
	opts := mqtt.NewClientOptions().
		AddBroker(p.url).
		SetClientID(p.cfg.ClientID).
		SetKeepAlive(p.cfg.KeepAlive).
		SetPingTimeout(p.cfg.PingTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetCleanSession(true)

	if p.cfg.BrokerUser != "" {
		opts.SetUsername(p.cfg.BrokerUser)
		opts.SetPassword(p.cfg.BrokerPass)
	}

	if p.cfg.UseTLS {
		tlsCfg, err := tlsConfig(p.cfg.CACertPath)
		if err != nil {
			return err
		}
		opts.SetTLSConfig(tlsCfg)
	}

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		p.log.WithError(err).Warn("mqtt connection lost")
	}
	opts.OnConnect = func(_ mqtt.Client) {
		p.log.WithField("broker", p.url).Info("mqtt connected")
	}

	p.client = mqtt.NewClient(opts)
	tk := p.client.Connect()
	if tk.WaitTimeout(p.wait) && tk.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", tk.Error())
	}
	return nil
}

// Stop disconnects the client, including one still retrying a lost connection
func (p *Publisher) Stop() {
	if p.client != nil {
		p.client.Disconnect(500)
	}
}

func (p *Publisher) IsConnected() bool {
	return p.client != nil && p.client.IsConnected()
}

func (p *Publisher) LatestTopic(deviceID int) string {
	return fmt.Sprintf("%s/devices/%d/latest", p.cfg.TopicPrefix, deviceID)
}

func (p *Publisher) AlertTopic(deviceID int) string {
	return fmt.Sprintf("%s/devices/%d/alerts", p.cfg.TopicPrefix, deviceID)
}

// OnSnapshot implements poller.Observer. Publishing failures are logged only.
func (p *Publisher) OnSnapshot(s poller.Snapshot) {
	msg := LatestMessage{
		DeviceID:    s.DeviceID,
		Latest:      s.Latest,
		Gauge:       s.Gauge,
		LastUpdated: s.LastUpdated,
		PublishedAt: time.Now().UTC(),
	}
	if err := p.publish(p.LatestTopic(s.DeviceID), true, msg); err != nil {
		p.log.WithError(err).WithDevice(s.DeviceID).Warn("failed to publish live snapshot")
	}
}

// Notify implements alerts.Notifier
func (p *Publisher) Notify(_ context.Context, a alerts.Alert) error {
	return p.publish(p.AlertTopic(a.DeviceID), false, a)
}

func (p *Publisher) publish(topic string, retained bool, v any) error {
	if p.client == nil {
		return fmt.Errorf("mqtt publisher not started")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", topic, err)
	}
	tk := p.client.Publish(topic, p.qos, retained, b)
	if !tk.WaitTimeout(p.wait) {
		return fmt.Errorf("publish %s: timed out", topic)
	}
	if tk.Error() != nil {
		return fmt.Errorf("publish %s: %w", topic, tk.Error())
	}
	return nil
}

func tlsConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return cfg, nil
	}
	ca, err := os.ReadFile(caFile)
	if err != nil {
		return nil, err
	}
	cp := x509.NewCertPool()
	if !cp.AppendCertsFromPEM(ca) {
		return nil, fmt.Errorf("bad CA file")
	}
	cfg.RootCAs = cp
	return cfg, nil
}
