package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nandanugg/tracker-relay/module/core/domain"
	"github.com/nandanugg/tracker-relay/module/core/internal/repository/database"
)

var ErrNoFix = errors.New("no location fix available yet")

type LocationConfig struct {
	DeviceID  string
	TrackerID string
	Topic     string
	InfoTopic string
	QoS       byte
	Retain    bool
	Mode      domain.ReportingMode
	// MinDisplacement and MinInterval gate publishing in significant mode.
	MinDisplacement float64
	MinInterval     time.Duration
}

type LocationService struct {
	repo  database.LocationRepository
	queue messageQueue
	cfg   LocationConfig

	mu            sync.Mutex
	lastFix       *domain.GeoPoint
	lastPublished *domain.GeoPoint
	battery       *int
}

func NewLocationService(repo database.LocationRepository, queue messageQueue, cfg LocationConfig) *LocationService {
	return &LocationService{repo: repo, queue: queue, cfg: cfg}
}

// SaveFix records the fix in the history and, depending on the reporting
// mode, queues it for publishing.
func (s *LocationService) SaveFix(ctx context.Context, fix domain.GeoPoint) error {
	if err := s.repo.Insert(ctx, &domain.DeviceLocation{DeviceID: s.cfg.DeviceID, Fix: fix}); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f := fix
	s.lastFix = &f

	switch s.cfg.Mode {
	case domain.ReportingMove:
		s.enqueueLocked(fix, "", true)
	default:
		if s.significantLocked(fix) {
			s.enqueueLocked(fix, "", false)
		}
	}
	return nil
}

// ReportNow publishes the most recent fix regardless of the reporting mode.
// trigger is "u" for user requests and "r" for remote commands.
func (s *LocationService) ReportNow(_ context.Context, trigger string) (*Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastFix == nil {
		return nil, ErrNoFix
	}
	return s.enqueueLocked(*s.lastFix, trigger, false), nil
}

func (s *LocationService) SetBattery(level int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.battery = &level
}

func (s *LocationService) PublishCard(name, face string) *Receipt {
	return s.queue.Enqueue(&domain.CardMessage{
		MessageBase: domain.MessageBase{Topic: s.cfg.InfoTopic, QoS: s.cfg.QoS, Retained: true},
		Name:        name,
		Face:        face,
		TrackerID:   s.cfg.TrackerID,
	})
}

// Clear removes the retained location of this device from the endpoint.
func (s *LocationService) Clear() *Receipt {
	return s.queue.Enqueue(&domain.ClearMessage{
		MessageBase: domain.MessageBase{Topic: s.cfg.Topic, QoS: s.cfg.QoS, Retained: true},
	})
}

func (s *LocationService) GetLatest(ctx context.Context) (*domain.DeviceLocation, error) {
	return s.repo.GetLatest(ctx, s.cfg.DeviceID)
}

func (s *LocationService) GetHistory(ctx context.Context, start, end time.Time) ([]domain.DeviceLocation, error) {
	return s.repo.GetHistory(ctx, &domain.HistoryQuery{DeviceID: s.cfg.DeviceID, Start: start, End: end})
}

func (s *LocationService) significantLocked(fix domain.GeoPoint) bool {
	last := s.lastPublished
	if last == nil {
		return true
	}
	if s.cfg.MinInterval > 0 && time.Duration(fix.Timestamp-last.Timestamp)*time.Second >= s.cfg.MinInterval {
		return true
	}
	return haversine(last.Lat, last.Lon, fix.Lat, fix.Lon) >= s.cfg.MinDisplacement
}

func (s *LocationService) enqueueLocked(fix domain.GeoPoint, trigger string, latestOnly bool) *Receipt {
	f := fix
	s.lastPublished = &f

	var battery *int
	if s.battery != nil {
		b := *s.battery
		battery = &b
	}
	return s.queue.Enqueue(&domain.LocationMessage{
		MessageBase: domain.MessageBase{Topic: s.cfg.Topic, QoS: s.cfg.QoS, Retained: s.cfg.Retain},
		Fix:         fix,
		Battery:     battery,
		TrackerID:   s.cfg.TrackerID,
		DeviceID:    s.cfg.DeviceID,
		Trigger:     trigger,
		LatestOnly:  latestOnly,
	})
}
