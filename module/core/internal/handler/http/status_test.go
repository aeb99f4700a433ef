package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/nandanugg/tracker-relay/module/core/domain"
	"github.com/nandanugg/tracker-relay/module/core/service"
)

type mockSwitcher struct {
	mode     domain.ConnectionMode
	switchFn func(ctx context.Context, mode domain.ConnectionMode) error
}

func (m *mockSwitcher) Mode() domain.ConnectionMode { return m.mode }

func (m *mockSwitcher) SwitchMode(ctx context.Context, mode domain.ConnectionMode) error {
	if err := m.switchFn(ctx, mode); err != nil {
		return err
	}
	m.mode = mode
	return nil
}

type mockQueue struct {
	pending []service.QueuedMessage
}

func (m *mockQueue) Pending() []service.QueuedMessage { return m.pending }

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func setupStatusRouter(state *service.EndpointStateRepo, queue queueInspector, sw endpointSwitcher) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewStatusHandler(state, queue, sw, testLogger())
	h.Register(r.Group(""))
	return r
}

func TestGetStatus(t *testing.T) {
	state := service.NewEndpointStateRepo(testLogger())
	state.SetState(domain.ErrorState("connection refused"))
	state.SetQueueLength(1)
	queue := &mockQueue{pending: []service.QueuedMessage{{ID: "m1", Type: domain.TypeLocation, Topic: "owntracks/alice/phone", Failures: 2}}}
	r := setupStatusRouter(state, queue, &mockSwitcher{mode: domain.ModeMQTT})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/status", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp statusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Mode != "mqtt" || resp.State != domain.StateError.String() || resp.Reason != "connection refused" {
		t.Errorf("unexpected status %+v", resp)
	}
	if resp.QueueLength != 1 || len(resp.Pending) != 1 || resp.Pending[0].Failures != 2 {
		t.Errorf("unexpected queue %+v", resp)
	}
}

func TestSwitchEndpoint(t *testing.T) {
	state := service.NewEndpointStateRepo(testLogger())
	sw := &mockSwitcher{mode: domain.ModeMQTT, switchFn: func(_ context.Context, mode domain.ConnectionMode) error {
		if mode == domain.ModeDocStore {
			return domain.ConfigurationIncomplete(io.ErrUnexpectedEOF)
		}
		return nil
	}}
	r := setupStatusRouter(state, &mockQueue{}, sw)

	tests := []struct {
		body string
		code int
	}{
		{`{"mode":"http"}`, http.StatusOK},
		{`{"mode":"carrier-pigeon"}`, http.StatusBadRequest},
		{`{}`, http.StatusBadRequest},
		{`{"mode":"docstore"}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("PUT", "/endpoint", bytes.NewReader([]byte(tt.body)))
		r.ServeHTTP(w, req)
		if w.Code != tt.code {
			t.Errorf("%s: expected %d, got %d", tt.body, tt.code, w.Code)
		}
	}
	if sw.mode != domain.ModeHTTP {
		t.Errorf("expected http mode, got %s", sw.mode)
	}
}

func TestStreamStatus_PushesChanges(t *testing.T) {
	state := service.NewEndpointStateRepo(testLogger())
	srv := httptest.NewServer(setupStatusRouter(state, &mockQueue{}, &mockSwitcher{mode: domain.ModeHTTP}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/status/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first statusResponse
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial status: %v", err)
	}
	if first.State != domain.StateInitial.String() {
		t.Errorf("expected initial snapshot, got %s", first.State)
	}

	state.SetState(domain.Connected)
	for {
		var next statusResponse
		if err := conn.ReadJSON(&next); err != nil {
			t.Fatalf("read update: %v", err)
		}
		if next.State == domain.StateConnected.String() {
			break
		}
	}
}
