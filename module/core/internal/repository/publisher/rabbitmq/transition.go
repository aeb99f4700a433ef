package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nandanugg/tracker-relay/module/core/domain"
	"github.com/nandanugg/tracker-relay/module/core/internal/repository/publisher"
)

var _ publisher.TransitionPublisher = (*TransitionPublisher)(nil)

const (
	ExchangeName = "tracker.events"
	QueueName    = "waypoint_transitions"
)

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// TransitionPublisher fans transition events out to local listeners.
type TransitionPublisher struct {
	ch channel
}

func NewTransitionPublisher(conn *amqp.Connection) (*TransitionPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(ExchangeName, "fanout", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(QueueName, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(QueueName, "", ExchangeName, false, nil); err != nil {
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	return &TransitionPublisher{ch: ch}, nil
}

type transitionEvent struct {
	DeviceID    string        `json:"device_id"`
	RegionID    int64         `json:"region_id"`
	Description string        `json:"description"`
	Event       string        `json:"event"`
	Location    eventLocation `json:"location"`
	Timestamp   int64         `json:"timestamp"`
}

type eventLocation struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

func (p *TransitionPublisher) PublishTransition(ctx context.Context, deviceID string, ev *domain.TransitionEvent) error {
	msg := transitionEvent{
		DeviceID:    deviceID,
		RegionID:    ev.RegionID,
		Description: ev.Description,
		Event:       ev.Direction.String(),
		Location: eventLocation{
			Latitude:  ev.Fix.Lat,
			Longitude: ev.Fix.Lon,
			Accuracy:  ev.Fix.Accuracy,
		},
		Timestamp: ev.Timestamp.Unix(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal transition: %w", err)
	}

	return p.ch.PublishWithContext(ctx, ExchangeName, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}
