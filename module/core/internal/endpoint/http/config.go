package http

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/nandanugg/tracker-relay/module/core/domain"
)

type Configuration struct {
	URL      string
	Username string
	Password string
	DeviceID string
	Timeout  time.Duration
}

func (c Configuration) Validate() error {
	if c.URL == "" {
		return domain.ConfigurationIncomplete(errors.New("http url is not set"))
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return domain.ConfigurationIncomplete(fmt.Errorf("http url: %w", err))
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return domain.ConfigurationIncomplete(fmt.Errorf("http url %q: want http(s)://host/path", c.URL))
	}
	return nil
}
