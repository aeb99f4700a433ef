package database

import (
	"context"
	"errors"
	"time"

	"github.com/nandanugg/tracker-relay/module/core/domain"
)

var ErrNotFound = errors.New("not found")

type LocationRepository interface {
	Insert(ctx context.Context, loc *domain.DeviceLocation) error
	GetLatest(ctx context.Context, deviceID string) (*domain.DeviceLocation, error)
	GetHistory(ctx context.Context, query *domain.HistoryQuery) ([]domain.DeviceLocation, error)
}

// WaypointRepository is the region store. List returns regions in creation
// order, which is also the order transitions are evaluated in.
type WaypointRepository interface {
	Create(ctx context.Context, r *domain.Region) error
	Get(ctx context.Context, id int64) (*domain.Region, error)
	Update(ctx context.Context, r *domain.Region) error
	Delete(ctx context.Context, id int64) error
	DeleteAll(ctx context.Context) error
	List(ctx context.Context) ([]domain.Region, error)
	UpdateTransition(ctx context.Context, id int64, t domain.Transition, at time.Time) error
}
