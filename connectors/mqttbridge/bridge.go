// Package mqttbridge republishes dispatch lifecycle events and
// activation changes to an MQTT broker. The bridge is outbound only: it
// subscribes to the in-process buses and mirrors them onto per-microgrid
// topics so external collaborators can follow the engine without a
// direct API connection.
package mqttbridge

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/griddispatch/core/activation"
	"github.com/kilianp07/griddispatch/core/events"
	"github.com/kilianp07/griddispatch/core/model"
	"github.com/kilianp07/griddispatch/core/monitoring"
	"github.com/kilianp07/griddispatch/infra/logger"
	"github.com/kilianp07/griddispatch/internal/eventbus"
)

// Config defines the connection parameters for the bridge.
type Config struct {
	Enabled    bool            `json:"enabled"`
	Broker     string          `json:"broker"`
	ClientID   string          `json:"client_id"`
	Username   string          `json:"username"`
	Password   string          `json:"password"`
	AuthMethod string          `json:"auth_method"`
	UseTLS     bool            `json:"use_tls"`
	ClientCert string          `json:"client_cert"`
	ClientKey  string          `json:"client_key"`
	CABundle   string          `json:"ca_bundle"`
	QoS        map[string]byte `json:"qos"`
	LWTTopic   string          `json:"lwt_topic"`
	LWTPayload string          `json:"lwt_payload"`
	LWTQoS     byte            `json:"lwt_qos"`
	LWTRetain  bool            `json:"lwt_retain"`
	MaxRetries int             `json:"max_retries"`
	BackoffMS  int             `json:"backoff_ms"`
	TLSConfig  *tls.Config     `json:"-"`
}

// pahoClient is the slice of the Paho API the bridge needs; tests swap
// in a fake through newMQTTClient.
type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Bridge mirrors bus traffic onto MQTT topics
// microgrid/<id>/dispatch/event and microgrid/<id>/dispatch/activation.
type Bridge struct {
	cli        pahoClient
	log        logger.Logger
	qos        map[string]byte
	maxRetries int
	backoff    time.Duration

	lifecycle *eventbus.Bus[model.MicrogridID, events.Event]
	changes   *activation.Bus
}

// New connects to the broker and returns a bridge reading from the
// given buses. Either bus may be nil to mirror only the other.
func New(cfg Config, lifecycle *eventbus.Bus[model.MicrogridID, events.Event], changes *activation.Bus) (*Bridge, error) {
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.New("mqtt_bridge")
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffMS <= 0 {
		cfg.BackoffMS = 100
	}
	b := &Bridge{
		log:        log,
		qos:        cfg.QoS,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
		lifecycle:  lifecycle,
		changes:    changes,
	}

	opts.OnConnect = func(paho.Client) {
		log.Infof("MQTT connected")
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}

	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	b.cli = c
	return b, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the
// config. A pre-built TLSConfig wins over the paths.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// Run forwards bus traffic until the context is canceled. A feed
// dropped for slowness is resubscribed; events published while
// resubscribing are lost to the broker but remain ordered.
func (b *Bridge) Run(ctx context.Context) {
	var lsub *eventbus.Subscription[model.MicrogridID, events.Event]
	var lch <-chan events.Event
	if b.lifecycle != nil {
		lsub = b.lifecycle.SubscribeAll()
		lch = lsub.C()
		defer func() { lsub.Cancel() }()
	}
	var csub *eventbus.Subscription[model.MicrogridID, activation.Change]
	var cch <-chan activation.Change
	if b.changes != nil {
		csub = b.changes.SubscribeAll()
		cch = csub.C()
		defer func() { csub.Cancel() }()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-lch:
			if !ok {
				if err := lsub.Err(); err != nil {
					b.log.Warnf("lifecycle feed dropped, resubscribing: %v", err)
					lsub = b.lifecycle.SubscribeAll()
					lch = lsub.C()
					continue
				}
				lch = nil
				continue
			}
			b.forwardEvent(ev)
		case ch, ok := <-cch:
			if !ok {
				if err := csub.Err(); err != nil {
					b.log.Warnf("activation feed dropped, resubscribing: %v", err)
					csub = b.changes.SubscribeAll()
					cch = csub.C()
					continue
				}
				cch = nil
				continue
			}
			b.forwardChange(ch)
		}
	}
}

func (b *Bridge) forwardEvent(ev events.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.log.Errorf("encode lifecycle event %d/%d: %v", ev.MicrogridID, ev.ID, err)
		return
	}
	b.publish(fmt.Sprintf("microgrid/%d/dispatch/event", ev.MicrogridID), "event", payload)
}

func (b *Bridge) forwardChange(ch activation.Change) {
	payload, err := json.Marshal(ch)
	if err != nil {
		b.log.Errorf("encode activation change %d/%d: %v", ch.MicrogridID, ch.ID, err)
		return
	}
	b.publish(fmt.Sprintf("microgrid/%d/dispatch/activation", ch.MicrogridID), "activation", payload)
}

// publish sends one payload with the per-kind QoS and bounded retries.
func (b *Bridge) publish(topic, kind string, payload []byte) {
	qos := byte(0)
	if q, ok := b.qos[kind]; ok {
		qos = q
	}
	var err error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		token := b.cli.Publish(topic, qos, false, payload)
		token.Wait()
		err = token.Error()
		if err == nil {
			return
		}
		b.log.Errorf("publish %s attempt %d failed: %v", topic, attempt+1, err)
		time.Sleep(b.backoff * time.Duration(1<<attempt))
	}
	b.log.Errorf("giving up on %s after %d attempts: %v", topic, b.maxRetries+1, err)
	monitoring.CaptureException(err, map[string]string{"module": "mqtt_bridge", "topic": topic})
}

// Close gracefully disconnects from the broker.
func (b *Bridge) Close() {
	if b.cli != nil && b.cli.IsConnected() {
		b.cli.Disconnect(250)
	}
}
