package sink

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/temoto/hydrorelay/internal/config"
	"github.com/temoto/hydrorelay/internal/forward"
	"github.com/temoto/hydrorelay/internal/reading"
	"github.com/temoto/hydrorelay/log2"
)

const DefaultMQTTTopicPrefix = "hydrorelay/"

// MQTTLogger routes client library diagnostics into log.
func MQTTLogger(log *log2.Log, debug bool) {
	log = log.Tagged("paho")
	mqtt.ERROR = log
	mqtt.CRITICAL = log
	mqtt.WARN = log
	if debug {
		mqtt.DEBUG = log
	}
}

type mqttClient interface {
	IsConnected() bool
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type mqttOptions struct {
	BrokerURL string
	ClientID  string
	Username  string
	Timeout   time.Duration
}

func newPahoClient(o *mqttOptions) mqttClient {
	opts := mqtt.NewClientOptions().
		AddBroker(o.BrokerURL).
		SetClientID(o.ClientID).
		SetCleanSession(true).
		SetConnectTimeout(o.Timeout).
		SetWriteTimeout(o.Timeout).
		SetAutoReconnect(false)
	if o.Username != "" {
		opts.SetUsername(o.Username)
	}
	return mqtt.NewClient(opts)
}

// MQTT publishes reading JSON. One client per broker+credentials,
// connected lazily and reused across attempts.
type MQTT struct {
	log       *log2.Log
	timeout   time.Duration
	newClient func(*mqttOptions) mqttClient

	mu      sync.Mutex
	clients map[string]mqttClient
}

func NewMQTT(opt Options) *MQTT {
	opt.defaults()
	s := &MQTT{
		log:       opt.Log.Tagged(config.TypeMQTT),
		timeout:   opt.NetworkTimeout,
		newClient: opt.newMQTTClient,
		clients:   make(map[string]mqttClient),
	}
	if s.newClient == nil {
		s.newClient = newPahoClient
	}
	return s
}

func MQTTTopic(r *reading.Reading, d *config.Destination) string {
	if d.Topic != "" {
		return d.Topic
	}
	return DefaultMQTTTopicPrefix + r.Name
}

func (s *MQTT) Attempt(ctx context.Context, r *reading.Reading, d *config.Destination, done forward.CompleteFunc) {
	if d.URL == "" {
		s.log.Errorf("config error: missing url field")
		done(forward.Error)
		return
	}
	if d.QOS < 0 || d.QOS > 2 {
		s.log.Errorf("config error: qos=%d not in 0..2", d.QOS)
		done(forward.Error)
		return
	}
	b, err := json.Marshal(r)
	if err != nil {
		s.log.Error(errors.Annotate(err, "json"))
		done(forward.Error)
		return
	}
	topic := MQTTTopic(r, d)

	s.log.Infof("publishing to %s topic=%s", d.URL, topic)
	go func() {
		if err := s.publish(ctx, d, topic, b); err != nil {
			s.log.Error(err)
			done(forward.Buffer)
			return
		}
		s.log.Infof("published")
		done(forward.Success)
	}()
}

func (s *MQTT) publish(ctx context.Context, d *config.Destination, topic string, b []byte) error {
	c, err := s.client(ctx, d)
	if err != nil {
		return err
	}
	token := c.Publish(topic, byte(d.QOS), false, b)
	if err = s.wait(ctx, token); err != nil {
		s.drop(d, c)
		return errors.Annotatef(err, "mqtt publish topic=%s", topic)
	}
	return nil
}

func mqttKey(d *config.Destination) string { return d.URL + "\x00" + d.Token }

// client returns cached connected client or connects new one.
// s.mu is not held while connecting, slow broker must not block others.
func (s *MQTT) client(ctx context.Context, d *config.Destination) (mqttClient, error) {
	key := mqttKey(d)
	s.mu.Lock()
	c, ok := s.clients[key]
	s.mu.Unlock()
	if ok && c.IsConnected() {
		return c, nil
	}

	c = s.newClient(&mqttOptions{
		BrokerURL: d.URL,
		ClientID:  "hydrorelay-" + uuid.New().String(),
		Username:  d.Token,
		Timeout:   s.timeout,
	})
	if err := s.wait(ctx, c.Connect()); err != nil {
		c.Disconnect(0)
		return nil, errors.Annotatef(err, "mqtt connect %s", d.URL)
	}

	s.mu.Lock()
	if old, ok := s.clients[key]; ok && old != c && old.IsConnected() {
		// concurrent attempt connected first
		s.mu.Unlock()
		c.Disconnect(0)
		return old, nil
	}
	s.clients[key] = c
	s.mu.Unlock()
	return c, nil
}

func (s *MQTT) drop(d *config.Destination, c mqttClient) {
	key := mqttKey(d)
	s.mu.Lock()
	if cur, ok := s.clients[key]; ok && cur == c {
		delete(s.clients, key)
	}
	s.mu.Unlock()
	c.Disconnect(0)
}

func (s *MQTT) wait(ctx context.Context, token mqtt.Token) error {
	ch := make(chan bool, 1)
	go func() { ch <- token.WaitTimeout(s.timeout) }()
	select {
	case ok := <-ch:
		if !ok {
			return errors.Timeoutf("after %s", s.timeout)
		}
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects all cached clients.
func (s *MQTT) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, c := range s.clients {
		c.Disconnect(250)
		delete(s.clients, key)
	}
}
