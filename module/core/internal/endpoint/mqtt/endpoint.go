package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/nandanugg/tracker-relay/module/core/domain"
	"github.com/nandanugg/tracker-relay/module/core/internal/endpoint"
)

const disconnectQuiesceMs = 250

// ClientFactory builds the paho client. Tests swap it for a fake.
type ClientFactory func(opts *paho.ClientOptions) paho.Client

// Endpoint keeps one persistent broker connection. Paho handles reconnects;
// its callbacks drive the endpoint state.
type Endpoint struct {
	cfg       Configuration
	state     endpoint.StateSink
	incoming  endpoint.IncomingHandler
	newClient ClientFactory
	log       *logrus.Entry

	mu         sync.Mutex
	client     paho.Client
	generation uint64
}

func New(cfg Configuration, state endpoint.StateSink, incoming endpoint.IncomingHandler, log *logrus.Entry) *Endpoint {
	return &Endpoint{
		cfg:       cfg,
		state:     state,
		incoming:  incoming,
		newClient: paho.NewClient,
		log:       log,
	}
}

// WithClientFactory replaces how the paho client is constructed.
func (e *Endpoint) WithClientFactory(f ClientFactory) *Endpoint {
	e.newClient = f
	return e
}

func (e *Endpoint) Mode() domain.ConnectionMode { return domain.ModeMQTT }

func (e *Endpoint) Configuration() endpoint.ConnectionConfiguration { return e.cfg }

// Activate starts connecting in the background and returns once the attempt
// is under way. Calling it on an active endpoint does nothing.
func (e *Endpoint) Activate(_ context.Context) error {
	e.mu.Lock()
	if e.client != nil {
		e.mu.Unlock()
		return nil
	}
	e.generation++
	gen := e.generation

	opts, err := e.clientOptions(gen)
	if err != nil {
		e.mu.Unlock()
		e.state.SetState(domain.ErrorStateFrom(err))
		return err
	}
	client := e.newClient(opts)
	e.client = client
	e.mu.Unlock()

	e.state.SetState(domain.Connecting)
	e.log.WithField("broker", e.cfg.Broker).Info("connecting to mqtt broker")

	token := client.Connect()
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil && e.current(gen) {
			e.log.WithError(err).Warn("mqtt connect failed")
			e.state.SetState(domain.ErrorStateFrom(err))
		}
	}()
	return nil
}

func (e *Endpoint) Deactivate() {
	e.mu.Lock()
	client := e.client
	e.client = nil
	e.generation++
	e.mu.Unlock()

	if client != nil {
		client.Disconnect(disconnectQuiesceMs)
		e.log.Info("disconnected from mqtt broker")
	}
	e.state.SetState(domain.Disconnected)
}

func (e *Endpoint) Send(ctx context.Context, msg domain.OutgoingMessage) error {
	e.mu.Lock()
	client := e.client
	e.mu.Unlock()

	if client == nil || !client.IsConnectionOpen() {
		return domain.NotReady("mqtt not connected")
	}

	payload, err := endpoint.Encode(msg)
	if err != nil {
		return domain.TransportFailure(err)
	}

	b := msg.Base()
	token := client.Publish(b.Topic, b.QoS, b.Retained, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return domain.TransportFailure(fmt.Errorf("publish %s: %w", b.Topic, err))
		}
		return nil
	case <-ctx.Done():
		return domain.Cancelled(ctx.Err())
	}
}

func (e *Endpoint) current(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client != nil && e.generation == gen
}

func (e *Endpoint) clientOptions(gen uint64) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().
		AddBroker(e.cfg.Broker).
		SetClientID(e.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(false).
		SetWill(e.cfg.BaseTopic, lastWill(), e.cfg.QoS, false)

	if e.cfg.MaxReconnectInterval > 0 {
		opts.SetMaxReconnectInterval(e.cfg.MaxReconnectInterval)
	}
	if e.cfg.KeepAlive > 0 {
		opts.SetKeepAlive(e.cfg.KeepAlive)
	}
	if e.cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(e.cfg.ConnectTimeout)
	}
	if e.cfg.Username != "" {
		opts.SetUsername(e.cfg.Username)
		opts.SetPassword(e.cfg.Password)
	}
	if e.cfg.CAFile != "" {
		tlsCfg, err := loadTLS(e.cfg.CAFile)
		if err != nil {
			return nil, domain.ConfigurationIncomplete(err)
		}
		opts.SetTLSConfig(tlsCfg)
	}

	opts.SetOnConnectHandler(func(c paho.Client) {
		if !e.current(gen) {
			return
		}
		e.log.Info("mqtt connected")
		e.state.SetState(domain.Connected)
		e.subscribeCommands(c)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		if !e.current(gen) {
			return
		}
		e.log.WithError(err).Warn("mqtt connection lost")
		e.state.SetState(domain.ErrorStateFrom(err))
	})
	opts.SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) {
		if !e.current(gen) {
			return
		}
		e.state.SetState(domain.Connecting)
	})
	return opts, nil
}

func (e *Endpoint) subscribeCommands(c paho.Client) {
	if e.incoming == nil {
		return
	}
	topic := e.cfg.CommandTopic()
	token := c.Subscribe(topic, e.cfg.QoS, func(_ paho.Client, m paho.Message) {
		e.incoming(m.Topic(), m.Payload())
	})
	go func() {
		if token.WaitTimeout(30*time.Second) && token.Error() != nil {
			e.log.WithError(token.Error()).WithField("topic", topic).Warn("command subscription failed")
		}
	}()
}

func loadTLS(caFile string) (*tls.Config, error) {
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read ca file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("ca file contains no certificates")
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

func lastWill() string {
	return fmt.Sprintf(`{"_type":"lwt","tst":%d}`, time.Now().Unix())
}
