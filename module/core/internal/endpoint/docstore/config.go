package docstore

import (
	"errors"

	"github.com/nandanugg/tracker-relay/module/core/domain"
)

// Configuration identifies where the device document lives. Tenant and
// DeviceID are part of the document key.
type Configuration struct {
	Addr     string
	Password string
	DB       int
	Tenant   string
	DeviceID string
}

func (c Configuration) Validate() error {
	switch {
	case c.Addr == "":
		return domain.ConfigurationIncomplete(errors.New("docstore address is not set"))
	case c.Tenant == "":
		return domain.ConfigurationIncomplete(errors.New("docstore tenant is not set"))
	case c.DeviceID == "":
		return domain.ConfigurationIncomplete(errors.New("docstore device id is not set"))
	}
	return nil
}
