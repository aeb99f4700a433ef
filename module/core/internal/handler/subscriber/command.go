package subscriber

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nandanugg/tracker-relay/module/core/domain"
	"github.com/nandanugg/tracker-relay/module/core/internal/metrics"
	"github.com/nandanugg/tracker-relay/module/core/service"
)

const commandTimeout = 10 * time.Second

const (
	actionReportLocation = "reportLocation"
	actionSetWaypoints   = "setWaypoints"
	actionClearWaypoints = "clearWaypoints"
	actionWaypoints      = "waypoints"
)

type reporter interface {
	ReportNow(ctx context.Context, trigger string) (*service.Receipt, error)
}

type waypointService interface {
	ImportWaypoints(ctx context.Context, regions []domain.Region) (int, error)
	ClearWaypoints(ctx context.Context) error
	PublishWaypoints(ctx context.Context) (*service.Receipt, error)
}

type commandMessage struct {
	Type      string            `json:"_type"`
	Action    string            `json:"action"`
	Waypoints *waypointsMessage `json:"waypoints,omitempty"`
}

type waypointsMessage struct {
	Type      string            `json:"_type"`
	Waypoints []waypointMessage `json:"waypoints"`
}

type waypointMessage struct {
	Description string  `json:"desc"`
	Latitude    float64 `json:"lat"`
	Longitude   float64 `json:"lon"`
	Radius      float64 `json:"rad"`
	Timestamp   int64   `json:"tst"`
}

// CommandSubscriber executes remote commands delivered by the active
// endpoint, either on the broker command topic or in HTTP responses.
type CommandSubscriber struct {
	reporter    reporter
	waypointSvc waypointService
	log         *logrus.Entry
}

func NewCommandSubscriber(reporter reporter, waypointSvc waypointService, log *logrus.Entry) *CommandSubscriber {
	return &CommandSubscriber{reporter: reporter, waypointSvc: waypointSvc, log: log}
}

// Handle has the shape of endpoint.IncomingHandler.
func (s *CommandSubscriber) Handle(topic string, payload []byte) {
	var raw commandMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		s.log.WithError(err).WithField("topic", topic).Warn("invalid incoming message")
		return
	}
	if raw.Type != "cmd" {
		s.log.WithFields(logrus.Fields{"topic": topic, "type": raw.Type}).Debug("ignoring non-command message")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	log := s.log.WithField("action", raw.Action)
	if err := s.execute(ctx, &raw); err != nil {
		log.WithError(err).Warn("remote command failed")
		return
	}
	metrics.Commands.WithLabelValues(raw.Action).Inc()
	log.Info("remote command executed")
}

func (s *CommandSubscriber) execute(ctx context.Context, cmd *commandMessage) error {
	switch cmd.Action {
	case actionReportLocation:
		_, err := s.reporter.ReportNow(ctx, "r")
		return err
	case actionSetWaypoints:
		if cmd.Waypoints == nil {
			return fmt.Errorf("waypoints: required")
		}
		regions := make([]domain.Region, 0, len(cmd.Waypoints.Waypoints))
		for _, w := range cmd.Waypoints.Waypoints {
			regions = append(regions, toRegion(w))
		}
		_, err := s.waypointSvc.ImportWaypoints(ctx, regions)
		return err
	case actionClearWaypoints:
		return s.waypointSvc.ClearWaypoints(ctx)
	case actionWaypoints:
		_, err := s.waypointSvc.PublishWaypoints(ctx)
		return err
	default:
		return fmt.Errorf("unknown action %q", cmd.Action)
	}
}

func toRegion(w waypointMessage) domain.Region {
	created := time.Now()
	if w.Timestamp > 0 {
		created = time.Unix(w.Timestamp, 0)
	}
	return domain.Region{
		Description: w.Description,
		Center:      domain.GeoPoint{Lat: w.Latitude, Lon: w.Longitude},
		Radius:      w.Radius,
		CreatedAt:   created,
	}
}
