package service

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nandanugg/tracker-relay/module/core/domain"
	"github.com/nandanugg/tracker-relay/module/core/internal/metrics"
)

// EndpointStatus is a read-only snapshot for observers.
type EndpointStatus struct {
	State          domain.EndpointState `json:"-"`
	UpdatedAt      time.Time            `json:"updated_at"`
	QueueLength    int                  `json:"queue_length"`
	StartedAt      time.Time            `json:"started_at"`
	LastSentAt     *time.Time           `json:"last_sent_at,omitempty"`
	InstallationID string               `json:"installation_id,omitempty"`
}

// EndpointStateRepo owns the connectivity state of the active endpoint and
// the outgoing queue length. Endpoints and the message processor write to
// it; everything else observes it through Status or Subscribe.
type EndpointStateRepo struct {
	mu             sync.RWMutex
	state          domain.EndpointState
	updatedAt      time.Time
	queueLength    int
	startedAt      time.Time
	lastSentAt     *time.Time
	installationID string

	subs    map[int]chan EndpointStatus
	nextSub int

	now func() time.Time
	log *logrus.Entry
}

func NewEndpointStateRepo(log *logrus.Entry) *EndpointStateRepo {
	now := time.Now()
	return &EndpointStateRepo{
		state:     domain.Initial,
		updatedAt: now,
		startedAt: now,
		subs:      make(map[int]chan EndpointStatus),
		now:       time.Now,
		log:       log,
	}
}

// SetState records a new state. Re-entering the current state only refreshes
// the update time; observers are notified on actual changes.
func (r *EndpointStateRepo) SetState(s domain.EndpointState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.updatedAt = r.now()
	if r.state == s {
		return
	}
	r.log.WithFields(logrus.Fields{"from": r.state.String(), "to": s.String()}).Debug("endpoint state changed")
	r.state = s
	metrics.EndpointState.Set(float64(s.Kind))
	r.notifyLocked()
}

func (r *EndpointStateRepo) State() domain.EndpointState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *EndpointStateRepo) SetQueueLength(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	metrics.QueueDepth.Set(float64(n))
	if r.queueLength == n {
		return
	}
	r.queueLength = n
	r.notifyLocked()
}

func (r *EndpointStateRepo) QueueLength() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.queueLength
}

func (r *EndpointStateRepo) MarkSent(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSentAt = &at
}

func (r *EndpointStateRepo) SetInstallationID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.installationID = id
}

func (r *EndpointStateRepo) SetServiceStartedNow() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startedAt = r.now()
}

func (r *EndpointStateRepo) Status() EndpointStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.statusLocked()
}

// Subscribe returns a channel that always holds the most recent status. The
// current status is delivered immediately. Call cancel to release it.
func (r *EndpointStateRepo) Subscribe() (<-chan EndpointStatus, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextSub
	r.nextSub++
	ch := make(chan EndpointStatus, 1)
	ch <- r.statusLocked()
	r.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

func (r *EndpointStateRepo) statusLocked() EndpointStatus {
	st := EndpointStatus{
		State:          r.state,
		UpdatedAt:      r.updatedAt,
		QueueLength:    r.queueLength,
		StartedAt:      r.startedAt,
		InstallationID: r.installationID,
	}
	if r.lastSentAt != nil {
		t := *r.lastSentAt
		st.LastSentAt = &t
	}
	return st
}

func (r *EndpointStateRepo) notifyLocked() {
	st := r.statusLocked()
	for _, ch := range r.subs {
		select {
		case ch <- st:
			continue
		default:
		}
		// replace the stale value nobody has read yet
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}
