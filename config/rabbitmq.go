package config

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// NewRabbitMQ dials the transition fan-out broker. The connection is named
// after the device so it can be told apart in the management UI.
func NewRabbitMQ(cfg *Config) (*amqp.Connection, error) {
	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName("tracker-relay/" + cfg.DeviceID)

	conn, err := amqp.DialConfig(cfg.RabbitMQURL, amqp.Config{
		Properties: props,
		Locale:     "en_US",
	})
	if err != nil {
		return nil, fmt.Errorf("rabbitmq connect: %w", err)
	}
	return conn, nil
}
