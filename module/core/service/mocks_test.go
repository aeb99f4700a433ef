package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nandanugg/tracker-relay/module/core/domain"
	"github.com/nandanugg/tracker-relay/module/core/internal/repository/database"
)

type memWaypointRepo struct {
	mu      sync.Mutex
	nextID  int64
	regions map[int64]domain.Region
	listErr error
	updErr  error
}

func newMemWaypointRepo(regions ...domain.Region) *memWaypointRepo {
	r := &memWaypointRepo{regions: map[int64]domain.Region{}}
	for _, reg := range regions {
		r.nextID++
		if reg.ID == 0 {
			reg.ID = r.nextID
		}
		r.regions[reg.ID] = reg
	}
	return r
}

func (r *memWaypointRepo) Create(_ context.Context, w *domain.Region) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	w.ID = r.nextID
	r.regions[w.ID] = *w
	return nil
}

func (r *memWaypointRepo) Get(_ context.Context, id int64) (*domain.Region, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.regions[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &w, nil
}

func (r *memWaypointRepo) Update(_ context.Context, w *domain.Region) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.regions[w.ID]; !ok {
		return database.ErrNotFound
	}
	r.regions[w.ID] = *w
	return nil
}

func (r *memWaypointRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.regions[id]; !ok {
		return database.ErrNotFound
	}
	delete(r.regions, id)
	return nil
}

func (r *memWaypointRepo) DeleteAll(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regions = map[int64]domain.Region{}
	return nil
}

func (r *memWaypointRepo) List(context.Context) ([]domain.Region, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]domain.Region, 0, len(r.regions))
	for _, w := range r.regions {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memWaypointRepo) UpdateTransition(_ context.Context, id int64, t domain.Transition, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updErr != nil {
		return r.updErr
	}
	w, ok := r.regions[id]
	if !ok {
		return database.ErrNotFound
	}
	w.LastTransition = t
	w.LastTriggeredAt = &at
	r.regions[id] = w
	return nil
}

type mockLocationRepo struct {
	insertFn     func(ctx context.Context, loc *domain.DeviceLocation) error
	getLatestFn  func(ctx context.Context, deviceID string) (*domain.DeviceLocation, error)
	getHistoryFn func(ctx context.Context, q *domain.HistoryQuery) ([]domain.DeviceLocation, error)
}

func (m *mockLocationRepo) Insert(ctx context.Context, loc *domain.DeviceLocation) error {
	if m.insertFn == nil {
		return nil
	}
	return m.insertFn(ctx, loc)
}

func (m *mockLocationRepo) GetLatest(ctx context.Context, deviceID string) (*domain.DeviceLocation, error) {
	return m.getLatestFn(ctx, deviceID)
}

func (m *mockLocationRepo) GetHistory(ctx context.Context, q *domain.HistoryQuery) ([]domain.DeviceLocation, error) {
	return m.getHistoryFn(ctx, q)
}

type recordingQueue struct {
	mu       sync.Mutex
	messages []domain.OutgoingMessage
}

func (q *recordingQueue) Enqueue(msg domain.OutgoingMessage) *Receipt {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, msg)
	return newReceipt("test")
}

func (q *recordingQueue) all() []domain.OutgoingMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.OutgoingMessage(nil), q.messages...)
}

type mockTransitionPublisher struct {
	publishFn func(ctx context.Context, deviceID string, ev *domain.TransitionEvent) error
}

func (m *mockTransitionPublisher) PublishTransition(ctx context.Context, deviceID string, ev *domain.TransitionEvent) error {
	return m.publishFn(ctx, deviceID, ev)
}
