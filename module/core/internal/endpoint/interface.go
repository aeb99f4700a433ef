package endpoint

import (
	"context"

	"github.com/nandanugg/tracker-relay/module/core/domain"
)

// Endpoint is one pluggable transport for outgoing messages. Send failures
// wrap one of the domain send errors.
type Endpoint interface {
	Mode() domain.ConnectionMode
	Activate(ctx context.Context) error
	Deactivate()
	Send(ctx context.Context, msg domain.OutgoingMessage) error
	Configuration() ConnectionConfiguration
}

type ConnectionConfiguration interface {
	// Validate fails with domain.ErrConfigurationIncomplete when the
	// configuration cannot possibly connect.
	Validate() error
}

// IncomingHandler receives messages the transport delivers back to the
// device, such as remote commands.
type IncomingHandler func(topic string, payload []byte)

// StateSink is where endpoints report connectivity changes.
type StateSink interface {
	SetState(s domain.EndpointState)
}
