package publisher

import (
	"context"

	"github.com/nandanugg/tracker-relay/module/core/domain"
)

type TransitionPublisher interface {
	PublishTransition(ctx context.Context, deviceID string, ev *domain.TransitionEvent) error
}
