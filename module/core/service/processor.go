package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nandanugg/tracker-relay/module/core/domain"
	"github.com/nandanugg/tracker-relay/module/core/internal/endpoint"
	"github.com/nandanugg/tracker-relay/module/core/internal/metrics"
)

var (
	ErrSuperseded       = errors.New("superseded by a newer location")
	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrProcessorClosed  = errors.New("message processor closed")
)

type ProcessorConfig struct {
	// NotReadyDelay is the pause before retrying while the endpoint cannot
	// accept sends yet.
	NotReadyDelay time.Duration
	// RetryBaseDelay doubles after every consecutive transport failure of
	// the head message, up to RetryMaxDelay.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// MaxAttempts drops a message after this many transport failures. Zero
	// retries forever.
	MaxAttempts int
}

func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		NotReadyDelay:  time.Second,
		RetryBaseDelay: time.Second,
		RetryMaxDelay:  2 * time.Minute,
	}
}

// Receipt tracks the fate of one enqueued message.
type Receipt struct {
	id   string
	done chan struct{}
	err  error
}

func newReceipt(id string) *Receipt {
	return &Receipt{id: id, done: make(chan struct{})}
}

func (r *Receipt) ID() string { return r.id }

// Done is closed once the message was delivered or dropped.
func (r *Receipt) Done() <-chan struct{} { return r.done }

// Err is nil for a delivered message and the drop reason otherwise. Only
// meaningful after Done is closed.
func (r *Receipt) Err() error { return r.err }

func (r *Receipt) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Receipt) resolve(err error) {
	r.err = err
	close(r.done)
}

type queued struct {
	msg      domain.OutgoingMessage
	receipt  *Receipt
	sending  bool
	failures int
}

// QueuedMessage describes a message still waiting for delivery.
type QueuedMessage struct {
	ID       string             `json:"id"`
	Type     domain.MessageType `json:"type"`
	Topic    string             `json:"topic,omitempty"`
	Failures int                `json:"failures"`
	Sending  bool               `json:"sending"`
}

// MessageProcessor owns the outgoing queue and the single dispatcher that
// drains it into the active endpoint. Producers may enqueue from any
// goroutine; only one send is ever in flight.
type MessageProcessor struct {
	cfg   ProcessorConfig
	state *EndpointStateRepo
	log   *logrus.Entry

	mu       sync.Mutex
	queue    []*queued
	endpoint endpoint.Endpoint
	epoch    uint64
	inflight context.CancelFunc
	closed   bool

	// dispatchMu is held for a whole send attempt.
	dispatchMu sync.Mutex
	switchMu   sync.Mutex

	wake     chan struct{}
	retryNow chan struct{}
	now      func() time.Time
}

func NewMessageProcessor(cfg ProcessorConfig, state *EndpointStateRepo, log *logrus.Entry) *MessageProcessor {
	return &MessageProcessor{
		cfg:      cfg,
		state:    state,
		log:      log,
		wake:     make(chan struct{}, 1),
		retryNow: make(chan struct{}, 1),
		now:      time.Now,
	}
}

// Enqueue appends msg to the queue. A latest-only location replaces every
// older latest-only location that is not already being sent.
func (p *MessageProcessor) Enqueue(msg domain.OutgoingMessage) *Receipt {
	b := msg.Base()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = p.now()
	}
	item := &queued{msg: msg, receipt: newReceipt(b.ID)}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		item.receipt.resolve(ErrProcessorClosed)
		return item.receipt
	}
	if latestOnly(msg) {
		kept := p.queue[:0]
		for _, q := range p.queue {
			if !q.sending && latestOnly(q.msg) {
				metrics.MessagesDropped.WithLabelValues("superseded").Inc()
				q.receipt.resolve(ErrSuperseded)
				continue
			}
			kept = append(kept, q)
		}
		p.queue = kept
	}
	p.queue = append(p.queue, item)
	p.state.SetQueueLength(len(p.queue))
	p.mu.Unlock()

	p.log.WithFields(logrus.Fields{"id": b.ID, "type": msg.Type()}).Debug("message queued")
	signal(p.wake)
	return item.receipt
}

func (p *MessageProcessor) Depth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *MessageProcessor) Pending() []QueuedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]QueuedMessage, 0, len(p.queue))
	for _, q := range p.queue {
		b := q.msg.Base()
		out = append(out, QueuedMessage{ID: b.ID, Type: q.msg.Type(), Topic: b.Topic, Failures: q.failures, Sending: q.sending})
	}
	return out
}

// Endpoint returns the endpoint messages are currently dispatched to.
func (p *MessageProcessor) Endpoint() endpoint.Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.endpoint
}

// SwitchTo tears down the current endpoint and activates next. A send that
// is in flight on the old endpoint is cancelled and retried on next.
func (p *MessageProcessor) SwitchTo(ctx context.Context, next endpoint.Endpoint) error {
	p.switchMu.Lock()
	defer p.switchMu.Unlock()

	p.mu.Lock()
	old := p.endpoint
	p.endpoint = nil
	p.epoch++
	if p.inflight != nil {
		p.inflight()
	}
	p.mu.Unlock()

	if old != nil {
		p.log.WithField("mode", old.Mode()).Info("deactivating endpoint")
		old.Deactivate()
	}

	// the dispatcher must be done with the old endpoint before the new one
	// becomes visible
	p.dispatchMu.Lock()
	p.mu.Lock()
	p.endpoint = next
	p.mu.Unlock()
	p.dispatchMu.Unlock()

	if next == nil {
		return nil
	}
	defer signal(p.retryNow)

	p.log.WithField("mode", next.Mode()).Info("activating endpoint")
	if err := next.Configuration().Validate(); err != nil {
		p.state.SetState(domain.ErrorStateFrom(err))
		return err
	}
	return next.Activate(ctx)
}

// Run dispatches queued messages until ctx is done.
func (p *MessageProcessor) Run(ctx context.Context) error {
	states, unsubscribe := p.state.Subscribe()
	defer unsubscribe()
	lastKind := p.state.State().Kind

	for {
		delay := p.dispatchOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if delay > 0 {
			timer := time.NewTimer(delay)
		wait:
			for {
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
					break wait
				case <-p.retryNow:
					timer.Stop()
					break wait
				case st := <-states:
					changed := st.State.Kind != lastKind
					lastKind = st.State.Kind
					if changed && st.State.Kind == domain.StateConnected {
						timer.Stop()
						break wait
					}
				}
			}
			continue
		}

		if p.Depth() == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.wake:
			}
		}
	}
}

// Close deactivates the endpoint and resolves every pending receipt.
func (p *MessageProcessor) Close() {
	p.mu.Lock()
	p.closed = true
	ep := p.endpoint
	if p.inflight != nil {
		p.inflight()
	}
	p.mu.Unlock()

	if ep != nil {
		ep.Deactivate()
	}

	p.dispatchMu.Lock()
	defer p.dispatchMu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, q := range p.queue {
		q.receipt.resolve(ErrProcessorClosed)
	}
	p.queue = nil
	p.state.SetQueueLength(0)
}

// dispatchOnce attempts to deliver the head of the queue and returns how long
// to wait before the next attempt.
func (p *MessageProcessor) dispatchOnce(ctx context.Context) time.Duration {
	p.dispatchMu.Lock()
	defer p.dispatchMu.Unlock()

	p.mu.Lock()
	if len(p.queue) == 0 {
		p.mu.Unlock()
		return 0
	}
	ep, epoch := p.endpoint, p.epoch
	if ep != nil {
		// an endpoint that cannot be configured would never become ready
		if err := ep.Configuration().Validate(); err != nil {
			if !errors.Is(err, domain.ErrConfigurationIncomplete) {
				err = domain.ConfigurationIncomplete(err)
			}
			delay := p.settleLocked(p.queue[0], err, false)
			p.mu.Unlock()
			return delay
		}
	}
	if ep == nil || !canSend(ep.Mode(), p.state.State()) {
		p.mu.Unlock()
		return p.cfg.NotReadyDelay
	}
	item := p.queue[0]
	item.sending = true
	sendCtx, cancel := context.WithCancel(ctx)
	p.inflight = cancel
	p.mu.Unlock()

	start := p.now()
	err := safeSend(sendCtx, ep, item.msg)
	cancel()
	metrics.SendDurationMs.WithLabelValues(string(ep.Mode())).Observe(float64(p.now().Sub(start).Milliseconds()))

	p.mu.Lock()
	defer p.mu.Unlock()
	p.inflight = nil
	item.sending = false
	return p.settleLocked(item, err, epoch != p.epoch)
}

func (p *MessageProcessor) settleLocked(item *queued, err error, switched bool) time.Duration {
	log := p.log.WithFields(logrus.Fields{"id": item.msg.Base().ID, "type": item.msg.Type()})

	switch {
	case err == nil:
		p.removeLocked(item, nil)
		metrics.MessagesSent.WithLabelValues(string(item.msg.Type())).Inc()
		p.state.MarkSent(p.now())
		log.Debug("message delivered")
		return 0

	case errors.Is(err, domain.ErrNotReady):
		metrics.SendFailures.WithLabelValues("not_ready").Inc()
		log.WithError(err).Debug("endpoint not ready")
		return p.cfg.NotReadyDelay

	case errors.Is(err, domain.ErrConfigurationIncomplete):
		metrics.SendFailures.WithLabelValues("configuration").Inc()
		log.WithError(err).Warn("dropping message, endpoint configuration incomplete")
		p.dropLocked(item, err, "configuration")
		p.state.SetState(domain.ErrorStateFrom(err))
		return 0
	}

	// transport failures and cancellations
	if switched {
		item.failures = 0
		log.WithError(err).Info("send interrupted by endpoint switch, retrying on new endpoint")
		return 0
	}
	item.failures++
	metrics.SendFailures.WithLabelValues("transport").Inc()

	if p.hasNewerLatestOnlyLocked(item) {
		log.WithError(err).Info("dropping stale location after failed send")
		p.dropLocked(item, ErrSuperseded, "superseded")
		return 0
	}
	if p.cfg.MaxAttempts > 0 && item.failures >= p.cfg.MaxAttempts {
		log.WithError(err).WithField("attempts", item.failures).Warn("dropping message, retries exhausted")
		p.dropLocked(item, fmt.Errorf("%w: %w", ErrRetriesExhausted, err), "retries_exhausted")
		p.state.SetState(domain.ErrorStateFrom(err))
		return 0
	}

	delay := p.backoff(item.failures)
	log.WithError(err).WithFields(logrus.Fields{"attempt": item.failures, "retry_in": delay}).Warn("send failed")
	return delay
}

func (p *MessageProcessor) backoff(failures int) time.Duration {
	d := p.cfg.RetryBaseDelay
	for i := 1; i < failures && d < p.cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	if p.cfg.RetryMaxDelay > 0 && d > p.cfg.RetryMaxDelay {
		d = p.cfg.RetryMaxDelay
	}
	return d
}

func (p *MessageProcessor) hasNewerLatestOnlyLocked(item *queued) bool {
	if !latestOnly(item.msg) {
		return false
	}
	for _, q := range p.queue {
		if q != item && latestOnly(q.msg) {
			return true
		}
	}
	return false
}

func (p *MessageProcessor) dropLocked(item *queued, reason error, label string) {
	metrics.MessagesDropped.WithLabelValues(label).Inc()
	p.removeLocked(item, reason)
}

func (p *MessageProcessor) removeLocked(item *queued, reason error) {
	for i, q := range p.queue {
		if q == item {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			break
		}
	}
	item.receipt.resolve(reason)
	p.state.SetQueueLength(len(p.queue))
}

// canSend gates sends on the observed endpoint state. Stream transports need
// a live connection; stateless ones connect on demand.
func canSend(mode domain.ConnectionMode, s domain.EndpointState) bool {
	if mode.Stateful() {
		return s.Kind == domain.StateConnected
	}
	return s.Kind != domain.StateDisconnected
}

func safeSend(ctx context.Context, ep endpoint.Endpoint, msg domain.OutgoingMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = domain.TransportFailure(fmt.Errorf("endpoint panic: %v", r))
		}
	}()
	return ep.Send(ctx, msg)
}

func latestOnly(msg domain.OutgoingMessage) bool {
	m, ok := msg.(*domain.LocationMessage)
	return ok && m.LatestOnly
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
