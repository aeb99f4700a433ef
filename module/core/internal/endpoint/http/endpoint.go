package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nandanugg/tracker-relay/module/core/domain"
	"github.com/nandanugg/tracker-relay/module/core/internal/endpoint"
)

const maxResponseBytes = 1 << 20

// Endpoint posts every message as a separate request. There is no
// connection to keep, so the endpoint reports CONNECTED after each
// successful exchange.
type Endpoint struct {
	cfg      Configuration
	state    endpoint.StateSink
	incoming endpoint.IncomingHandler
	client   *nethttp.Client
	log      *logrus.Entry

	mu     sync.Mutex
	active bool
}

func New(cfg Configuration, state endpoint.StateSink, incoming endpoint.IncomingHandler, log *logrus.Entry) *Endpoint {
	return &Endpoint{
		cfg:      cfg,
		state:    state,
		incoming: incoming,
		client:   &nethttp.Client{Timeout: cfg.Timeout},
		log:      log,
	}
}

func (e *Endpoint) Mode() domain.ConnectionMode { return domain.ModeHTTP }

func (e *Endpoint) Configuration() endpoint.ConnectionConfiguration { return e.cfg }

func (e *Endpoint) Activate(_ context.Context) error {
	e.mu.Lock()
	already := e.active
	e.active = true
	e.mu.Unlock()

	if !already {
		e.log.WithField("url", e.cfg.URL).Info("http endpoint active")
		e.state.SetState(domain.Connected)
	}
	return nil
}

func (e *Endpoint) Deactivate() {
	e.mu.Lock()
	e.active = false
	e.mu.Unlock()

	e.client.CloseIdleConnections()
	e.state.SetState(domain.Disconnected)
}

func (e *Endpoint) Send(ctx context.Context, msg domain.OutgoingMessage) error {
	if err := e.cfg.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	active := e.active
	e.mu.Unlock()
	if !active {
		return domain.NotReady("http endpoint inactive")
	}

	// a retained clear has no meaning for a request/response endpoint
	if msg.Type() == domain.TypeClear {
		return nil
	}

	body, err := endpoint.Encode(msg)
	if err != nil {
		return domain.TransportFailure(err)
	}

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodPost, e.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return domain.ConfigurationIncomplete(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.Username != "" {
		req.SetBasicAuth(e.cfg.Username, e.cfg.Password)
		req.Header.Set("X-Limit-U", e.cfg.Username)
	}
	if e.cfg.DeviceID != "" {
		req.Header.Set("X-Limit-D", e.cfg.DeviceID)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return domain.Cancelled(ctx.Err())
		}
		e.state.SetState(domain.ErrorStateFrom(err))
		return domain.TransportFailure(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("http status %d", resp.StatusCode)
		e.state.SetState(domain.ErrorStateFrom(err))
		return domain.TransportFailure(err)
	}
	e.state.SetState(domain.Connected)

	e.relayResponse(msg.Base().Topic, resp.Body)
	return nil
}

// relayResponse hands every element of a JSON array response to the
// incoming handler. Anything else is ignored.
func (e *Endpoint) relayResponse(topic string, r io.Reader) {
	if e.incoming == nil {
		return
	}
	data, err := io.ReadAll(io.LimitReader(r, maxResponseBytes))
	if err != nil {
		e.log.WithError(err).Warn("read http response")
		return
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '[' {
		return
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		e.log.WithError(err).Warn("decode http response")
		return
	}
	for _, item := range items {
		e.incoming(topic, item)
	}
}
