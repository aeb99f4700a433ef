package mqtt

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/nandanugg/tracker-relay/module/core/domain"
)

type Configuration struct {
	Broker               string
	ClientID             string
	Username             string
	Password             string
	CAFile               string
	BaseTopic            string
	QoS                  byte
	KeepAlive            time.Duration
	ConnectTimeout       time.Duration
	MaxReconnectInterval time.Duration
}

var brokerSchemes = map[string]bool{
	"tcp": true, "mqtt": true, "ssl": true, "tls": true, "mqtts": true, "ws": true, "wss": true,
}

func (c Configuration) Validate() error {
	if c.Broker == "" {
		return domain.ConfigurationIncomplete(errors.New("mqtt broker is not set"))
	}
	u, err := url.Parse(c.Broker)
	if err != nil {
		return domain.ConfigurationIncomplete(fmt.Errorf("mqtt broker: %w", err))
	}
	if !brokerSchemes[u.Scheme] || u.Host == "" {
		return domain.ConfigurationIncomplete(fmt.Errorf("mqtt broker %q: want scheme://host:port", c.Broker))
	}
	if c.ClientID == "" {
		return domain.ConfigurationIncomplete(errors.New("mqtt client id is not set"))
	}
	if c.BaseTopic == "" {
		return domain.ConfigurationIncomplete(errors.New("mqtt base topic is not set"))
	}
	if c.QoS > 2 {
		return domain.ConfigurationIncomplete(fmt.Errorf("mqtt qos %d out of range", c.QoS))
	}
	return nil
}

func (c Configuration) CommandTopic() string {
	return c.BaseTopic + "/cmd"
}
