package config

import (
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// NewMQTT connects a short-lived client for tools that talk to the broker
// directly. The tracker itself connects through its endpoint.
func NewMQTT(cfg *Config, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(clientID).
		SetConnectTimeout(cfg.ConnectTimeout)
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
		opts.SetPassword(cfg.MQTTPassword)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return client, nil
}
