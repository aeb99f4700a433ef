package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/nandanugg/tracker-relay/config"
	"github.com/nandanugg/tracker-relay/module/core/domain"
	"github.com/nandanugg/tracker-relay/module/core/internal/endpoint"
	"github.com/nandanugg/tracker-relay/module/core/internal/endpoint/docstore"
	httpendpoint "github.com/nandanugg/tracker-relay/module/core/internal/endpoint/http"
	"github.com/nandanugg/tracker-relay/module/core/internal/endpoint/mqtt"
	handler "github.com/nandanugg/tracker-relay/module/core/internal/handler/http"
	"github.com/nandanugg/tracker-relay/module/core/internal/handler/subscriber"
	"github.com/nandanugg/tracker-relay/module/core/internal/metrics"
	"github.com/nandanugg/tracker-relay/module/core/internal/repository/database/postgres"
	"github.com/nandanugg/tracker-relay/module/core/internal/repository/publisher"
	"github.com/nandanugg/tracker-relay/module/core/internal/repository/publisher/rabbitmq"
	"github.com/nandanugg/tracker-relay/module/core/service"
)

type Module struct {
	LocationSvc *service.LocationService
	GeofenceSvc *service.GeofenceService
	State       *service.EndpointStateRepo

	cfg       *config.Config
	redis     *redis.Client
	log       *logrus.Logger
	processor *service.MessageProcessor
	feed      *service.FixFeed
	tracker   *service.Tracker
	commands  *subscriber.CommandSubscriber

	statusHandler   *handler.StatusHandler
	locationHandler *handler.LocationHandler
	waypointHandler *handler.WaypointHandler

	mu   sync.Mutex
	mode domain.ConnectionMode

	wg sync.WaitGroup
}

// Build wires the tracker. amqpConn may be nil to disable the transition
// fan-out; redisClient may be nil when the document store is never used.
func Build(cfg *config.Config, db *sql.DB, amqpConn *amqp.Connection, redisClient *redis.Client, log *logrus.Logger) (*Module, error) {
	reporting := domain.ReportingMode(cfg.ReportingMode)
	if reporting != domain.ReportingSignificant && reporting != domain.ReportingMove {
		return nil, fmt.Errorf("unknown reporting mode %q", cfg.ReportingMode)
	}
	if cfg.MQTTQoS < 0 || cfg.MQTTQoS > 2 {
		return nil, fmt.Errorf("mqtt qos %d out of range", cfg.MQTTQoS)
	}
	qos := byte(cfg.MQTTQoS)

	var transitionPub publisher.TransitionPublisher
	if amqpConn != nil {
		pub, err := rabbitmq.NewTransitionPublisher(amqpConn)
		if err != nil {
			return nil, fmt.Errorf("transition publisher: %w", err)
		}
		transitionPub = pub
	}

	state := service.NewEndpointStateRepo(component(log, "state"))
	processor := service.NewMessageProcessor(service.ProcessorConfig{
		NotReadyDelay:  cfg.NotReadyDelay,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		MaxAttempts:    cfg.MaxAttempts,
	}, state, component(log, "processor"))

	locationSvc := service.NewLocationService(postgres.NewLocationRepo(db), processor, service.LocationConfig{
		DeviceID:        cfg.DeviceID,
		TrackerID:       cfg.TrackerID,
		Topic:           cfg.BaseTopic,
		InfoTopic:       cfg.BaseTopic + "/info",
		QoS:             qos,
		Retain:          cfg.MQTTRetain,
		Mode:            reporting,
		MinDisplacement: cfg.MinDisplacement,
		MinInterval:     cfg.MinInterval,
	})
	geofenceSvc := service.NewGeofenceService(
		postgres.NewWaypointRepo(db),
		service.NewTransitionDetector(cfg.MaxAccuracy),
		processor,
		transitionPub,
		service.GeofenceConfig{
			DeviceID:       cfg.DeviceID,
			TrackerID:      cfg.TrackerID,
			EventTopic:     cfg.BaseTopic + "/event",
			WaypointsTopic: cfg.BaseTopic + "/waypoints",
			QoS:            qos,
			Retain:         cfg.MQTTRetain,
		},
		component(log, "geofence"),
	)

	feed := service.NewFixFeed(cfg.FixBuffer)
	m := &Module{
		LocationSvc: locationSvc,
		GeofenceSvc: geofenceSvc,
		State:       state,
		cfg:         cfg,
		redis:       redisClient,
		log:         log,
		processor:   processor,
		feed:        feed,
		tracker:     service.NewTracker(feed, locationSvc, geofenceSvc, component(log, "tracker")),
		commands:    subscriber.NewCommandSubscriber(locationSvc, geofenceSvc, component(log, "commands")),
	}
	m.statusHandler = handler.NewStatusHandler(state, processor, m, component(log, "status"))
	m.locationHandler = handler.NewLocationHandler(locationSvc, feed)
	m.waypointHandler = handler.NewWaypointHandler(geofenceSvc)
	return m, nil
}

func (m *Module) RegisterRoutes(r *gin.RouterGroup) {
	m.statusHandler.Register(r)
	m.locationHandler.Register(r)
	m.waypointHandler.Register(r)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
}

// Start activates the configured endpoint and runs the dispatcher and the
// fix consumer until ctx is done. An endpoint that fails to activate is
// reported through the state and does not stop the module.
func (m *Module) Start(ctx context.Context) error {
	mode, err := domain.ParseConnectionMode(m.cfg.ConnectionMode)
	if err != nil {
		return err
	}
	m.State.SetServiceStartedNow()
	m.feed.SetAvailable(true)

	if err := m.SwitchMode(ctx, mode); err != nil {
		m.log.WithError(err).WithField("mode", mode).Error("endpoint activation failed")
	}

	m.run(ctx, m.processor.Run)
	m.run(ctx, m.tracker.Run)
	return nil
}

// Stop releases the endpoint and waits for the background loops started by
// Start, which exit when their context is cancelled.
func (m *Module) Stop() {
	m.feed.SetAvailable(false)
	m.processor.Close()
	m.wg.Wait()
}

func (m *Module) Mode() domain.ConnectionMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// SwitchMode replaces the active endpoint. Queued messages are kept and go
// out through the new endpoint.
func (m *Module) SwitchMode(ctx context.Context, mode domain.ConnectionMode) error {
	ep, err := m.newEndpoint(mode)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.mode = mode
	m.mu.Unlock()

	m.log.WithField("mode", mode).Info("switching endpoint")
	return m.processor.SwitchTo(ctx, ep)
}

// EndpointHealth has the shape of config.EndpointProbe.
func (m *Module) EndpointHealth() (mode, state string, healthy bool) {
	st := m.State.State()
	healthy = st.Kind != domain.StateError && st.Kind != domain.StateDisconnected
	return string(m.Mode()), st.String(), healthy
}

func (m *Module) newEndpoint(mode domain.ConnectionMode) (endpoint.Endpoint, error) {
	cfg := m.cfg
	switch mode {
	case domain.ModeMQTT:
		return mqtt.New(mqtt.Configuration{
			Broker:               cfg.MQTTBroker,
			ClientID:             cfg.MQTTClientID,
			Username:             cfg.MQTTUsername,
			Password:             cfg.MQTTPassword,
			CAFile:               cfg.MQTTCAFile,
			BaseTopic:            cfg.BaseTopic,
			QoS:                  byte(cfg.MQTTQoS),
			KeepAlive:            cfg.MQTTKeepAlive,
			ConnectTimeout:       cfg.ConnectTimeout,
			MaxReconnectInterval: cfg.MQTTMaxReconnectInterval,
		}, m.State, m.commands.Handle, component(m.log, "mqtt")), nil
	case domain.ModeHTTP:
		return httpendpoint.New(httpendpoint.Configuration{
			URL:      cfg.HTTPEndpointURL,
			Username: cfg.HTTPEndpointUsername,
			Password: cfg.HTTPEndpointPassword,
			DeviceID: cfg.DeviceID,
			Timeout:  cfg.ConnectTimeout,
		}, m.State, m.commands.Handle, component(m.log, "http")), nil
	case domain.ModeDocStore:
		if m.redis == nil {
			return nil, domain.ConfigurationIncomplete(errors.New("docstore redis client is not configured"))
		}
		return docstore.New(docstore.Configuration{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Tenant:   cfg.DocStoreTenant,
			DeviceID: cfg.DeviceID,
		}, m.redis, m.State, component(m.log, "docstore")), nil
	}
	return nil, fmt.Errorf("unknown connection mode %q", mode)
}

func (m *Module) run(ctx context.Context, fn func(context.Context) error) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.log.WithError(err).Error("background loop stopped")
		}
	}()
}

func component(log *logrus.Logger, name string) *logrus.Entry {
	return log.WithField("component", name)
}
