package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/nandanugg/tracker-relay/module/core/domain"
	"github.com/nandanugg/tracker-relay/module/core/internal/endpoint"
)

// Client is the subset of *redis.Client the endpoint uses.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type installationSink interface {
	SetInstallationID(id string)
}

// installation is the pending or finished lookup of this installation's id.
type installation struct {
	done   chan struct{}
	cancel context.CancelFunc
	id     string
	err    error
}

// Endpoint keeps one merged document per device installation. Sends wait
// for the installation id, which is resolved in the background on
// activation.
type Endpoint struct {
	cfg    Configuration
	client Client
	state  endpoint.StateSink
	log    *logrus.Entry
	now    func() time.Time

	mu           sync.Mutex
	active       bool
	installation *installation
}

func New(cfg Configuration, client Client, state endpoint.StateSink, log *logrus.Entry) *Endpoint {
	return &Endpoint{
		cfg:    cfg,
		client: client,
		state:  state,
		log:    log,
		now:    time.Now,
	}
}

func (e *Endpoint) Mode() domain.ConnectionMode { return domain.ModeDocStore }

func (e *Endpoint) Configuration() endpoint.ConnectionConfiguration { return e.cfg }

func (e *Endpoint) Activate(_ context.Context) error {
	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		return nil
	}
	e.active = true
	e.resolveLocked()
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{"tenant": e.cfg.Tenant, "device": e.cfg.DeviceID}).Info("docstore endpoint active")
	e.state.SetState(domain.Connected)
	return nil
}

func (e *Endpoint) Deactivate() {
	e.mu.Lock()
	e.active = false
	if e.installation != nil {
		e.installation.cancel()
		e.installation = nil
	}
	e.mu.Unlock()

	e.state.SetState(domain.Disconnected)
}

// InstallationID returns the resolved id, or "" while it is pending.
func (e *Endpoint) InstallationID() string {
	e.mu.Lock()
	inst := e.installation
	e.mu.Unlock()
	if inst == nil {
		return ""
	}
	select {
	case <-inst.done:
		return inst.id
	default:
		return ""
	}
}

func (e *Endpoint) Send(ctx context.Context, msg domain.OutgoingMessage) error {
	if err := e.cfg.Validate(); err != nil {
		return err
	}

	id, err := e.installationID()
	if err != nil {
		return err
	}

	key := e.documentKey(id)
	switch m := msg.(type) {
	case *domain.ClearMessage:
		err = e.client.Del(ctx, key).Err()
	default:
		var fields map[string]interface{}
		fields, err = e.fields(m)
		if err == nil {
			err = e.client.HSet(ctx, key, fields).Err()
		}
	}

	if err != nil {
		if ctx.Err() != nil {
			return domain.Cancelled(ctx.Err())
		}
		e.state.SetState(domain.ErrorStateFrom(err))
		return domain.TransportFailure(fmt.Errorf("write %s: %w", key, err))
	}
	e.state.SetState(domain.Connected)
	return nil
}

func (e *Endpoint) documentKey(installationID string) string {
	return fmt.Sprintf("tenants:%s:trackers:%s-%s", e.cfg.Tenant, e.cfg.DeviceID, installationID)
}

// installationID returns the resolved id or a not-ready error. A failed
// lookup is restarted so a later send can succeed.
func (e *Endpoint) installationID() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.active || e.installation == nil {
		return "", domain.NotReady("docstore endpoint inactive")
	}
	inst := e.installation
	select {
	case <-inst.done:
	default:
		return "", domain.NotReady("installation id pending")
	}
	if inst.err != nil {
		e.resolveLocked()
		return "", domain.NotReady("installation id unavailable: " + inst.err.Error())
	}
	return inst.id, nil
}

func (e *Endpoint) resolveLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	inst := &installation{done: make(chan struct{}), cancel: cancel}
	e.installation = inst

	go func() {
		defer cancel()
		inst.id, inst.err = e.lookupInstallationID(ctx)
		close(inst.done)

		if inst.err != nil {
			if ctx.Err() == nil {
				e.log.WithError(inst.err).Warn("resolve installation id")
			}
			return
		}
		e.log.WithField("installation", inst.id).Info("installation id resolved")
		if sink, ok := e.state.(installationSink); ok {
			sink.SetInstallationID(inst.id)
		}
	}()
}

// lookupInstallationID reads the stored id for this device or claims a new
// one. Concurrent installers agree on whichever id was stored first.
func (e *Endpoint) lookupInstallationID(ctx context.Context) (string, error) {
	key := "installations:" + e.cfg.DeviceID

	id, err := e.client.Get(ctx, key).Result()
	if err == nil && id != "" {
		return id, nil
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}

	candidate := uuid.NewString()
	stored, err := e.client.SetNX(ctx, key, candidate, 0).Result()
	if err != nil {
		return "", err
	}
	if stored {
		return candidate, nil
	}
	return e.client.Get(ctx, key).Result()
}

func (e *Endpoint) fields(msg domain.OutgoingMessage) (map[string]interface{}, error) {
	now := e.now()
	fields := map[string]interface{}{
		"lastUpdate":       now.UnixMilli(),
		"lastUpdateString": now.Format("2006-01-02 15:04:05"),
	}

	switch m := msg.(type) {
	case *domain.LocationMessage:
		name := m.DeviceID
		if name == "" {
			name = e.cfg.DeviceID
		}
		fields["name"] = name
		fields["locationTimestamp"] = m.Fix.Timestamp * 1000
		fields["latitude"] = m.Fix.Lat
		fields["longitude"] = m.Fix.Lon
		setOptional(fields, "accuracy", m.Fix.Accuracy)
		setOptional(fields, "altitude", m.Fix.Altitude)
		setOptional(fields, "bearing", m.Fix.Bearing)
		setOptional(fields, "speed", m.Fix.Speed)
		if m.Battery != nil {
			fields["battery"] = *m.Battery
		}
	case *domain.TransitionMessage:
		fields["lastTransitionEvent"] = m.Event.String()
		fields["lastTransitionRegion"] = m.Description
		fields["lastTransitionRegionId"] = endpoint.RegionID(m.RegionID)
		fields["lastTransitionTimestamp"] = m.TriggeredAt.UnixMilli()
	case *domain.CardMessage:
		fields["name"] = m.Name
		if m.Face != "" {
			fields["face"] = m.Face
		}
	case *domain.WaypointsMessage:
		raw, err := json.Marshal(endpoint.Waypoints(m.Waypoints))
		if err != nil {
			return nil, err
		}
		fields["waypoints"] = string(raw)
	default:
		return nil, fmt.Errorf("unsupported message type %s", msg.Type())
	}
	return fields, nil
}

func setOptional(fields map[string]interface{}, name string, v *float64) {
	if v != nil {
		fields[name] = *v
	}
}
