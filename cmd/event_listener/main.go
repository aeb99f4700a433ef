package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/nandanugg/tracker-relay/config"
)

const (
	exchangeName = "tracker.events"
	queueName    = "waypoint_transitions"
)

type transitionEvent struct {
	DeviceID    string `json:"device_id"`
	Description string `json:"description"`
	Event       string `json:"event"`
	Timestamp   int64  `json:"timestamp"`
	Location    struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"location"`
}

func main() {
	cfg := config.Load()
	log := config.NewLogger(cfg)

	conn, err := config.NewRabbitMQ(cfg)
	if err != nil {
		log.Fatalf("rabbitmq: %v", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbitmq channel: %v", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.ExchangeDeclare(exchangeName, "fanout", true, false, false, false, nil); err != nil {
		log.Fatalf("declare exchange: %v", err)
	}

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		log.Fatalf("declare queue: %v", err)
	}

	if err := ch.QueueBind(queueName, "", exchangeName, false, nil); err != nil {
		log.Fatalf("bind queue: %v", err)
	}

	msgs, err := ch.Consume(queueName, "", true, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	log.Infof("consuming from queue '%s', waiting for waypoint transitions...", queueName)

	go func() {
		for msg := range msgs {
			var ev transitionEvent
			if err := json.Unmarshal(msg.Body, &ev); err != nil {
				log.WithError(err).Warn("invalid transition event")
				continue
			}
			log.WithFields(logrus.Fields{
				"device":    ev.DeviceID,
				"waypoint":  ev.Description,
				"event":     ev.Event,
				"latitude":  ev.Location.Latitude,
				"longitude": ev.Location.Longitude,
				"timestamp": ev.Timestamp,
			}).Info("waypoint transition")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
}
