package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nandanugg/tracker-relay/module/core/domain"
)

type recordingSink struct {
	mu     sync.Mutex
	states []domain.EndpointState
}

func (s *recordingSink) SetState(st domain.EndpointState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, st)
}

func (s *recordingSink) last() domain.EndpointState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.states) == 0 {
		return domain.Initial
	}
	return s.states[len(s.states)-1]
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func location() *domain.LocationMessage {
	return &domain.LocationMessage{
		MessageBase: domain.MessageBase{ID: "m1", Topic: "owntracks/alice/phone"},
		Fix:         domain.GeoPoint{Lat: 52, Lon: 13, Timestamp: 1700000000},
		TrackerID:   "ph",
	}
}

func newActive(t *testing.T, url string, incoming func(string, []byte)) (*Endpoint, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	ep := New(Configuration{URL: url, Username: "alice", Password: "secret", DeviceID: "phone", Timeout: time.Second}, sink, incoming, testLogger())
	if err := ep.Activate(context.Background()); err != nil {
		t.Fatal(err)
	}
	return ep, sink
}

func TestConfiguration_Validate(t *testing.T) {
	tests := []struct {
		url string
		ok  bool
	}{
		{"https://example.com/pub", true},
		{"http://localhost:8083/pub", true},
		{"", false},
		{"ftp://example.com", false},
		{"not a url", false},
		{"http://", false},
	}
	for _, tt := range tests {
		err := Configuration{URL: tt.url}.Validate()
		if tt.ok && err != nil {
			t.Errorf("%q: unexpected error %v", tt.url, err)
		}
		if !tt.ok && !errors.Is(err, domain.ErrConfigurationIncomplete) {
			t.Errorf("%q: expected ErrConfigurationIncomplete, got %v", tt.url, err)
		}
	}
}

func TestSend_PostsJSONWithHeaders(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice" || pass != "secret" {
			t.Errorf("unexpected basic auth %q %q", user, pass)
		}
		if r.Header.Get("X-Limit-U") != "alice" || r.Header.Get("X-Limit-D") != "phone" {
			t.Errorf("unexpected limit headers %v", r.Header)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(nethttp.StatusOK)
		_, _ = w.Write([]byte("[]"))
	}))
	defer srv.Close()

	ep, sink := newActive(t, srv.URL, nil)
	if err := ep.Send(context.Background(), location()); err != nil {
		t.Fatal(err)
	}
	if got["_type"] != "location" || got["tid"] != "ph" {
		t.Errorf("unexpected body %v", got)
	}
	if sink.last() != domain.Connected {
		t.Errorf("expected CONNECTED, got %v", sink.last())
	}
}

func TestSend_Non2xxIsTransport(t *testing.T) {
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		w.WriteHeader(nethttp.StatusInternalServerError)
	}))
	defer srv.Close()

	ep, sink := newActive(t, srv.URL, nil)
	err := ep.Send(context.Background(), location())
	if !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if got := sink.last(); got.Kind != domain.StateError || got.Reason != "http status 500" {
		t.Errorf("unexpected state %v", got)
	}
}

func TestSend_NetworkFailureIsTransport(t *testing.T) {
	srv := httptest.NewServer(nethttp.HandlerFunc(func(nethttp.ResponseWriter, *nethttp.Request) {}))
	url := srv.URL
	srv.Close()

	ep, sink := newActive(t, url, nil)
	if err := ep.Send(context.Background(), location()); !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if sink.last().Kind != domain.StateError {
		t.Errorf("expected ERROR, got %v", sink.last())
	}
}

func TestSend_CancelledContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(nethttp.HandlerFunc(func(nethttp.ResponseWriter, *nethttp.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ep, _ := newActive(t, srv.URL, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if err := ep.Send(ctx, location()); !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestSend_RelaysArrayResponse(t *testing.T) {
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		_, _ = w.Write([]byte(`[{"_type":"cmd","action":"reportLocation"},{"_type":"location","lat":1,"lon":2}]`))
	}))
	defer srv.Close()

	var relayed []string
	ep, _ := newActive(t, srv.URL, func(topic string, payload []byte) {
		if topic != "owntracks/alice/phone" {
			t.Errorf("unexpected topic %q", topic)
		}
		relayed = append(relayed, string(payload))
	})
	if err := ep.Send(context.Background(), location()); err != nil {
		t.Fatal(err)
	}
	if len(relayed) != 2 || relayed[0] != `{"_type":"cmd","action":"reportLocation"}` {
		t.Errorf("unexpected relayed messages %v", relayed)
	}
}

func TestSend_ClearIsAcknowledgedLocally(t *testing.T) {
	called := false
	srv := httptest.NewServer(nethttp.HandlerFunc(func(nethttp.ResponseWriter, *nethttp.Request) { called = true }))
	defer srv.Close()

	ep, _ := newActive(t, srv.URL, nil)
	if err := ep.Send(context.Background(), &domain.ClearMessage{}); err != nil {
		t.Fatal(err)
	}
	if called {
		t.Error("clear must not issue a request")
	}
}

func TestSend_InactiveIsNotReady(t *testing.T) {
	ep := New(Configuration{URL: "http://localhost"}, &recordingSink{}, nil, testLogger())
	if err := ep.Send(context.Background(), location()); !errors.Is(err, domain.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}

	_ = ep.Activate(context.Background())
	ep.Deactivate()
	if err := ep.Send(context.Background(), location()); !errors.Is(err, domain.ErrNotReady) {
		t.Fatalf("expected ErrNotReady after deactivate, got %v", err)
	}
}

func TestActivate_ReportsConnected(t *testing.T) {
	sink := &recordingSink{}
	ep := New(Configuration{URL: "http://localhost"}, sink, nil, testLogger())
	_ = ep.Activate(context.Background())
	if sink.last() != domain.Connected {
		t.Errorf("expected CONNECTED, got %v", sink.last())
	}
}

func TestSend_MissingURLIsConfigurationIncomplete(t *testing.T) {
	sink := &recordingSink{}
	ep := New(Configuration{Username: "alice", DeviceID: "phone"}, sink, nil, testLogger())
	_ = ep.Activate(context.Background())

	err := ep.Send(context.Background(), location())
	if !errors.Is(err, domain.ErrConfigurationIncomplete) {
		t.Fatalf("expected ErrConfigurationIncomplete, got %v", err)
	}
	if errors.Is(err, domain.ErrTransport) {
		t.Errorf("missing url must not be reported as a transport error: %v", err)
	}
}

func TestSend_MissingURLCheckedBeforeActivation(t *testing.T) {
	ep := New(Configuration{}, &recordingSink{}, nil, testLogger())
	if err := ep.Send(context.Background(), location()); !errors.Is(err, domain.ErrConfigurationIncomplete) {
		t.Fatalf("expected ErrConfigurationIncomplete, got %v", err)
	}
}
