package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/nandanugg/tracker-relay/module/core/domain"
)

// FixFeed is the push-style location source: producers push fixes and
// availability changes, the Tracker consumes them.
type FixFeed struct {
	fixes        chan domain.GeoPoint
	availability chan bool
}

func NewFixFeed(buffer int) *FixFeed {
	return &FixFeed{
		fixes:        make(chan domain.GeoPoint, buffer),
		availability: make(chan bool, 1),
	}
}

func (f *FixFeed) Push(ctx context.Context, fix domain.GeoPoint) error {
	select {
	case f.fixes <- fix:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetAvailable reports whether the location source currently produces fixes.
// Only the latest value is kept.
func (f *FixFeed) SetAvailable(available bool) {
	select {
	case f.availability <- available:
		return
	default:
	}
	select {
	case <-f.availability:
	default:
	}
	select {
	case f.availability <- available:
	default:
	}
}

// Tracker feeds every fix through location reporting and the geofence
// engine.
type Tracker struct {
	feed     *FixFeed
	location fixSaver
	geofence fixChecker
	log      *logrus.Entry
}

type fixSaver interface {
	SaveFix(ctx context.Context, fix domain.GeoPoint) error
}

type fixChecker interface {
	CheckFix(ctx context.Context, fix domain.GeoPoint) ([]domain.TransitionEvent, error)
}

func NewTracker(feed *FixFeed, location fixSaver, geofence fixChecker, log *logrus.Entry) *Tracker {
	return &Tracker{feed: feed, location: location, geofence: geofence, log: log}
}

func (t *Tracker) Name() string { return "tracker" }

func (t *Tracker) Run(ctx context.Context) error {
	t.log.Info("tracker started")
	for {
		select {
		case <-ctx.Done():
			t.log.Info("tracker stopping")
			return ctx.Err()
		case available := <-t.feed.availability:
			t.log.WithField("available", available).Info("location source availability changed")
		case fix := <-t.feed.fixes:
			t.handleFix(ctx, fix)
		}
	}
}

func (t *Tracker) handleFix(ctx context.Context, fix domain.GeoPoint) {
	if err := fix.Validate(); err != nil {
		t.log.WithError(err).Warn("discarding invalid fix")
		return
	}

	if err := t.location.SaveFix(ctx, fix); err != nil {
		t.log.WithError(err).Error("save location failed")
		return
	}

	if _, err := t.geofence.CheckFix(ctx, fix); err != nil {
		t.log.WithError(err).Error("geofence check failed")
	}
}
