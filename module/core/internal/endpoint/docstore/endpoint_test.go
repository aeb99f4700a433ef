package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/nandanugg/tracker-relay/module/core/domain"
)

type fakeRedis struct {
	mu      sync.Mutex
	strings map[string]string
	hashes  map[string]map[string]interface{}
	getErr  error
	hsetErr error
	gets    int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		strings: map[string]string{},
		hashes:  map[string]map[string]interface{}{},
	}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.strings[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.strings[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.strings[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) HSet(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hsetErr != nil {
		return redis.NewIntResult(0, f.hsetErr)
	}
	h, ok := f.hashes[key]
	if !ok {
		h = map[string]interface{}{}
		f.hashes[key] = h
	}
	for k, v := range values[0].(map[string]interface{}) {
		h[k] = v
	}
	return redis.NewIntResult(int64(len(values)), nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, k := range keys {
		if _, ok := f.hashes[k]; ok {
			delete(f.hashes, k)
			n++
		}
	}
	return redis.NewIntResult(int64(n), nil)
}

func (f *fakeRedis) hash(key string) map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hashes[key]
}

type recordingSink struct {
	mu             sync.Mutex
	states         []domain.EndpointState
	installationID string
}

func (s *recordingSink) SetState(st domain.EndpointState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, st)
}

func (s *recordingSink) SetInstallationID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.installationID = id
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

func testConfig() Configuration {
	return Configuration{Addr: "localhost:6379", Tenant: "ACME", DeviceID: "phone"}
}

func newTestEndpoint(client *fakeRedis) (*Endpoint, *recordingSink) {
	sink := &recordingSink{}
	ep := New(testConfig(), client, sink, testLogger())
	ep.now = func() time.Time { return time.Unix(1700000500, 0) }
	return ep, sink
}

// sendWhenReady retries while the installation id is being resolved.
func sendWhenReady(t *testing.T, ep *Endpoint, msg domain.OutgoingMessage) error {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		err := ep.Send(context.Background(), msg)
		if !errors.Is(err, domain.ErrNotReady) || time.Now().After(deadline) {
			return err
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func location() *domain.LocationMessage {
	acc := 12.0
	batt := 77
	return &domain.LocationMessage{
		MessageBase: domain.MessageBase{ID: "m1"},
		Fix:         domain.GeoPoint{Lat: 52.5, Lon: 13.4, Accuracy: &acc, Timestamp: 1700000000},
		Battery:     &batt,
	}
}

func TestConfiguration_Validate(t *testing.T) {
	if err := testConfig().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, mutate := range []func(*Configuration){
		func(c *Configuration) { c.Addr = "" },
		func(c *Configuration) { c.Tenant = "" },
		func(c *Configuration) { c.DeviceID = "" },
	} {
		cfg := testConfig()
		mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, domain.ErrConfigurationIncomplete) {
			t.Errorf("expected ErrConfigurationIncomplete, got %v", err)
		}
	}
}

func TestSend_InactiveIsNotReady(t *testing.T) {
	ep, _ := newTestEndpoint(newFakeRedis())
	if err := ep.Send(context.Background(), location()); !errors.Is(err, domain.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestSend_MissingTenantIsConfigurationIncomplete(t *testing.T) {
	client := newFakeRedis()
	cfg := testConfig()
	cfg.Tenant = ""
	ep := New(cfg, client, &recordingSink{}, testLogger())
	if err := ep.Activate(context.Background()); err != nil {
		t.Fatal(err)
	}

	err := ep.Send(context.Background(), location())
	if !errors.Is(err, domain.ErrConfigurationIncomplete) {
		t.Fatalf("expected ErrConfigurationIncomplete, got %v", err)
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.hashes) != 0 {
		t.Errorf("nothing must be written, got %v", client.hashes)
	}
}

func TestSend_MergesLocationDocument(t *testing.T) {
	client := newFakeRedis()
	ep, sink := newTestEndpoint(client)
	if err := ep.Activate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if sink.last() != domain.Connected {
		t.Errorf("expected CONNECTED after activation, got %v", sink.last())
	}

	if err := sendWhenReady(t, ep, location()); err != nil {
		t.Fatal(err)
	}

	id := ep.InstallationID()
	if id == "" {
		t.Fatal("expected installation id")
	}
	if client.strings["installations:phone"] != id {
		t.Errorf("installation id not persisted")
	}
	if sink.installationID != id {
		t.Errorf("installation id not reported to state, got %q", sink.installationID)
	}

	doc := client.hash("tenants:ACME:trackers:phone-" + id)
	if doc == nil {
		t.Fatal("expected document")
	}
	if doc["latitude"] != 52.5 || doc["longitude"] != 13.4 || doc["accuracy"] != 12.0 {
		t.Errorf("unexpected coordinates %v", doc)
	}
	if doc["battery"] != 77 || doc["name"] != "phone" {
		t.Errorf("unexpected fields %v", doc)
	}
	if doc["locationTimestamp"] != int64(1700000000000) || doc["lastUpdate"] != int64(1700000500000) {
		t.Errorf("unexpected timestamps %v", doc)
	}
	if _, ok := doc["speed"]; ok {
		t.Error("absent speed must not be written")
	}

	card := &domain.CardMessage{Name: "Alice"}
	if err := ep.Send(context.Background(), card); err != nil {
		t.Fatal(err)
	}
	doc = client.hash("tenants:ACME:trackers:phone-" + id)
	if doc["name"] != "Alice" || doc["latitude"] != 52.5 {
		t.Errorf("expected merge to keep location fields, got %v", doc)
	}
}

func TestSend_ReusesStoredInstallationID(t *testing.T) {
	client := newFakeRedis()
	client.strings["installations:phone"] = "existing-id"
	ep, _ := newTestEndpoint(client)
	_ = ep.Activate(context.Background())

	if err := sendWhenReady(t, ep, location()); err != nil {
		t.Fatal(err)
	}
	if ep.InstallationID() != "existing-id" {
		t.Errorf("expected stored id, got %q", ep.InstallationID())
	}
	if client.hash("tenants:ACME:trackers:phone-existing-id") == nil {
		t.Error("expected document under the stored id")
	}
}

func TestSend_FailedLookupIsRetried(t *testing.T) {
	client := newFakeRedis()
	client.getErr = errors.New("connection refused")
	ep, _ := newTestEndpoint(client)
	_ = ep.Activate(context.Background())

	err := sendWhenReady(t, ep, location())
	if !errors.Is(err, domain.ErrNotReady) {
		t.Fatalf("expected ErrNotReady while redis is down, got %v", err)
	}

	client.mu.Lock()
	client.getErr = nil
	client.mu.Unlock()

	if err := sendWhenReady(t, ep, location()); err != nil {
		t.Fatalf("expected recovery after lookup restart, got %v", err)
	}
}

func TestSend_WriteErrorIsTransport(t *testing.T) {
	client := newFakeRedis()
	ep, sink := newTestEndpoint(client)
	_ = ep.Activate(context.Background())
	if err := sendWhenReady(t, ep, location()); err != nil {
		t.Fatal(err)
	}

	client.mu.Lock()
	client.hsetErr = errors.New("READONLY")
	client.mu.Unlock()

	if err := ep.Send(context.Background(), location()); !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if got := sink.last(); got.Kind != domain.StateError || got.Reason != "READONLY" {
		t.Errorf("unexpected state %v", got)
	}
}

func TestSend_ClearDeletesDocument(t *testing.T) {
	client := newFakeRedis()
	ep, _ := newTestEndpoint(client)
	_ = ep.Activate(context.Background())
	if err := sendWhenReady(t, ep, location()); err != nil {
		t.Fatal(err)
	}
	key := "tenants:ACME:trackers:phone-" + ep.InstallationID()

	if err := ep.Send(context.Background(), &domain.ClearMessage{}); err != nil {
		t.Fatal(err)
	}
	if client.hash(key) != nil {
		t.Error("expected document to be deleted")
	}
}

func TestSend_WaypointsAndTransition(t *testing.T) {
	client := newFakeRedis()
	ep, _ := newTestEndpoint(client)
	_ = ep.Activate(context.Background())

	wp := &domain.WaypointsMessage{Waypoints: []domain.Region{{ID: 26, Description: "home", Center: domain.GeoPoint{Lat: 1, Lon: 2}, Radius: 50}}}
	if err := sendWhenReady(t, ep, wp); err != nil {
		t.Fatal(err)
	}
	tr := &domain.TransitionMessage{RegionID: 26, Description: "home", Event: domain.TransitionEnter, TriggeredAt: time.Unix(1700000100, 0)}
	if err := ep.Send(context.Background(), tr); err != nil {
		t.Fatal(err)
	}

	doc := client.hash("tenants:ACME:trackers:phone-" + ep.InstallationID())
	var stored []map[string]interface{}
	if err := json.Unmarshal([]byte(doc["waypoints"].(string)), &stored); err != nil {
		t.Fatalf("waypoints field is not json: %v", err)
	}
	if len(stored) != 1 || stored[0]["desc"] != "home" {
		t.Errorf("unexpected waypoints %v", stored)
	}
	if doc["lastTransitionEvent"] != "enter" || doc["lastTransitionRegionId"] != "1a" {
		t.Errorf("unexpected transition fields %v", doc)
	}
}

func TestDeactivate(t *testing.T) {
	ep, sink := newTestEndpoint(newFakeRedis())
	_ = ep.Activate(context.Background())
	ep.Deactivate()

	if sink.last() != domain.Disconnected {
		t.Errorf("expected DISCONNECTED, got %v", sink.last())
	}
	if err := ep.Send(context.Background(), location()); !errors.Is(err, domain.ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
	if ep.InstallationID() != "" {
		t.Error("expected no installation id after deactivate")
	}
}
