package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nandanugg/tracker-relay/module/core/domain"
	"github.com/nandanugg/tracker-relay/module/core/internal/metrics"
	"github.com/nandanugg/tracker-relay/module/core/internal/repository/database"
	"github.com/nandanugg/tracker-relay/module/core/internal/repository/publisher"
)

type messageQueue interface {
	Enqueue(msg domain.OutgoingMessage) *Receipt
}

type GeofenceConfig struct {
	DeviceID       string
	TrackerID      string
	EventTopic     string
	WaypointsTopic string
	QoS            byte
	Retain         bool
}

// GeofenceService evaluates fixes against the stored waypoints, records the
// resulting transitions and queues them for delivery.
type GeofenceService struct {
	store     database.WaypointRepository
	detector  TransitionDetector
	queue     messageQueue
	publisher publisher.TransitionPublisher
	cfg       GeofenceConfig
	log       *logrus.Entry

	// mu serializes evaluate-and-write-back so two fixes cannot both fire
	// the same transition.
	mu sync.Mutex
}

// NewGeofenceService wires the service. pub may be nil when no local
// fan-out is configured.
func NewGeofenceService(store database.WaypointRepository, detector TransitionDetector, queue messageQueue, pub publisher.TransitionPublisher, cfg GeofenceConfig, log *logrus.Entry) *GeofenceService {
	return &GeofenceService{
		store:     store,
		detector:  detector,
		queue:     queue,
		publisher: pub,
		cfg:       cfg,
		log:       log,
	}
}

func (s *GeofenceService) CheckFix(ctx context.Context, fix domain.GeoPoint) ([]domain.TransitionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	regions, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list waypoints: %w", err)
	}
	events := s.detector.Evaluate(fix, regions)
	if len(events) == 0 {
		return nil, nil
	}

	created := make(map[int64]time.Time, len(regions))
	for _, r := range regions {
		created[r.ID] = r.CreatedAt
	}

	for i := range events {
		ev := &events[i]
		if err := s.store.UpdateTransition(ctx, ev.RegionID, ev.Direction, ev.Timestamp); err != nil {
			return events[:i], fmt.Errorf("record transition for waypoint %d: %w", ev.RegionID, err)
		}
		metrics.Transitions.WithLabelValues(ev.Direction.String()).Inc()
		s.log.WithFields(logrus.Fields{"waypoint": ev.Description, "event": ev.Direction.String()}).Info("waypoint transition")

		s.queue.Enqueue(&domain.TransitionMessage{
			MessageBase: domain.MessageBase{Topic: s.cfg.EventTopic, QoS: s.cfg.QoS},
			RegionID:    ev.RegionID,
			Description: ev.Description,
			Event:       ev.Direction,
			Fix:         ev.Fix,
			RegionTst:   created[ev.RegionID],
			TriggeredAt: ev.Timestamp,
			TrackerID:   s.cfg.TrackerID,
			DeviceID:    s.cfg.DeviceID,
		})

		if s.publisher != nil {
			if err := s.publisher.PublishTransition(ctx, s.cfg.DeviceID, ev); err != nil {
				s.log.WithError(err).Warn("transition fan-out failed")
			}
		}
	}
	return events, nil
}

func (s *GeofenceService) CreateWaypoint(ctx context.Context, r *domain.Region) error {
	if err := r.Validate(); err != nil {
		return err
	}
	r.LastTransition = domain.TransitionUnknown
	r.LastTriggeredAt = nil
	return s.store.Create(ctx, r)
}

func (s *GeofenceService) GetWaypoint(ctx context.Context, id int64) (*domain.Region, error) {
	return s.store.Get(ctx, id)
}

func (s *GeofenceService) UpdateWaypoint(ctx context.Context, r *domain.Region) error {
	if err := r.Validate(); err != nil {
		return err
	}
	return s.store.Update(ctx, r)
}

func (s *GeofenceService) DeleteWaypoint(ctx context.Context, id int64) error {
	return s.store.Delete(ctx, id)
}

func (s *GeofenceService) ListWaypoints(ctx context.Context) ([]domain.Region, error) {
	return s.store.List(ctx)
}

// ImportWaypoints stores waypoints received from a remote setWaypoints
// command. Invalid entries are skipped.
func (s *GeofenceService) ImportWaypoints(ctx context.Context, regions []domain.Region) (int, error) {
	imported := 0
	for i := range regions {
		if err := regions[i].Validate(); err != nil {
			s.log.WithError(err).WithField("waypoint", regions[i].Description).Warn("skipping invalid waypoint")
			continue
		}
		if err := s.CreateWaypoint(ctx, &regions[i]); err != nil {
			return imported, fmt.Errorf("import waypoint %q: %w", regions[i].Description, err)
		}
		imported++
	}
	return imported, nil
}

func (s *GeofenceService) ClearWaypoints(ctx context.Context) error {
	return s.store.DeleteAll(ctx)
}

// PublishWaypoints queues the full waypoint list for delivery.
func (s *GeofenceService) PublishWaypoints(ctx context.Context) (*Receipt, error) {
	regions, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list waypoints: %w", err)
	}
	return s.queue.Enqueue(&domain.WaypointsMessage{
		MessageBase: domain.MessageBase{Topic: s.cfg.WaypointsTopic, QoS: s.cfg.QoS, Retained: s.cfg.Retain},
		Waypoints:   regions,
	}), nil
}
