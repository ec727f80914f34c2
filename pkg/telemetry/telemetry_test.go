// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/throttlestat/pkg/channel"
	"github.com/Thermoquad/throttlestat/pkg/controller"
	"github.com/Thermoquad/throttlestat/pkg/dtc"
	"github.com/Thermoquad/throttlestat/pkg/transport"
)

// fakeTarget records what the hub applied
type fakeTarget struct {
	mu    sync.Mutex
	state controller.State
}

func (f *fakeTarget) State() controller.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTarget) SetAcceleratorPosition(pos float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.AcceleratorPosition = pos
}

func (f *fakeTarget) SetCruiseEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.CruiseEnabled = enabled
}

func (f *fakeTarget) SetCruiseTargetSpeed(speed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.CruiseTargetSpeed = speed
}

func newTestHub(t *testing.T, opts ...HubOption) (*Hub, *fakeTarget, *httptest.Server) {
	t.Helper()
	target := &fakeTarget{state: controller.State{
		ThrottlePosition: 45,
		CurrentSpeed:     62,
		MassAirFlow:      14.7,
		Mode:             controller.ModeFuelTrim,
		DTCs:             []dtc.DTC{dtc.CommIntermittent},
	}}
	hub := NewHub(target, opts...)
	srv := httptest.NewServer(hub.Handler())
	t.Cleanup(srv.Close)
	return hub, target, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ============================================================
// Encoding Tests
// ============================================================

func TestSnapshot_CBOR(t *testing.T) {
	s := Snapshot{
		Timestamp:           1700000000000,
		AcceleratorPosition: 0.5,
		CruiseEnabled:       true,
		CruiseTargetSpeed:   65,
		CurrentSpeed:        63,
		ThrottlePosition:    40,
		MassAirFlow:         14.2,
		Mode:                "cruise",
		DTCs:                []dtc.DTC{dtc.SpeedOutOfRange},
		ResetAttempts:       1.5,
	}

	data, err := MarshalSnapshot(s)
	if err != nil {
		t.Fatalf("MarshalSnapshot: %v", err)
	}
	got, err := UnmarshalSnapshot(data)
	if err != nil {
		t.Fatalf("UnmarshalSnapshot: %v", err)
	}
	if got.Mode != "cruise" || got.CruiseTargetSpeed != 65 || got.ResetAttempts != 1.5 {
		t.Errorf("decoded = %+v", got)
	}
	if len(got.DTCs) != 1 || got.DTCs[0] != dtc.SpeedOutOfRange {
		t.Errorf("DTCs = %v", got.DTCs)
	}

	again, _ := MarshalSnapshot(s)
	if !bytes.Equal(data, again) {
		t.Error("encoding should be deterministic")
	}
}

func TestUnmarshal_Garbage(t *testing.T) {
	if _, err := UnmarshalSnapshot([]byte{0xff, 0x00}); err == nil {
		t.Error("garbage snapshot should fail")
	}
	if _, err := UnmarshalSetRequest([]byte{0xff, 0x00}); err == nil {
		t.Error("garbage set request should fail")
	}
}

func TestApply_OnlySetFields(t *testing.T) {
	target := &fakeTarget{state: controller.State{AcceleratorPosition: 0.3, CruiseTargetSpeed: 50}}

	enabled := true
	req := SetRequest{CruiseEnabled: &enabled}
	if req.Empty() {
		t.Fatal("request with a field set is not empty")
	}
	Apply(target, req)

	st := target.State()
	if !st.CruiseEnabled {
		t.Error("cruise should be enabled")
	}
	if st.AcceleratorPosition != 0.3 || st.CruiseTargetSpeed != 50 {
		t.Errorf("untouched fields changed: %+v", st)
	}

	if !(SetRequest{}).Empty() {
		t.Error("zero request should be empty")
	}
}

// ============================================================
// HTTP API Tests
// ============================================================

func TestState_Get(t *testing.T) {
	_, _, srv := newTestHub(t)

	resp, err := http.Get(srv.URL + "/api/state")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var s Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	if s.ThrottlePosition != 45 || s.CurrentSpeed != 62 || s.Mode != "fuel-trim" {
		t.Errorf("snapshot = %+v", s)
	}
	if len(s.DTCs) != 1 || s.DTCs[0].Code != dtc.CommIntermittent.Code {
		t.Errorf("DTCs = %v", s.DTCs)
	}
}

func TestState_Post(t *testing.T) {
	_, target, srv := newTestHub(t)

	body := `{"accelerator_position": 0.75, "cruise_target_speed": 70}`
	resp, err := http.Post(srv.URL+"/api/state", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	st := target.State()
	if st.AcceleratorPosition != 0.75 || st.CruiseTargetSpeed != 70 {
		t.Errorf("state after post = %+v", st)
	}

	var s Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	if s.AcceleratorPosition != 0.75 {
		t.Errorf("response should reflect the applied request, got %+v", s)
	}
}

func TestState_BadRequests(t *testing.T) {
	_, _, srv := newTestHub(t)

	resp, err := http.Post(srv.URL+"/api/state", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/state", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("DELETE status = %d, want 405", resp.StatusCode)
	}
}

func TestState_BasicAuth(t *testing.T) {
	_, _, srv := newTestHub(t, WithAuth("driver", "secret"))

	resp, err := http.Get(srv.URL + "/api/state")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/state", nil)
	req.SetBasicAuth("driver", "secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("authorized status = %d, want 200", resp.StatusCode)
	}
}

// ============================================================
// WebSocket Tests
// ============================================================

func TestWS_InitialSnapshotAndPublish(t *testing.T) {
	hub, target, srv := newTestHub(t)

	client, err := Dial(wsURL(srv), ClientOptions{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	first, err := client.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if first.ThrottlePosition != 45 {
		t.Errorf("initial snapshot = %+v", first)
	}

	waitFor(t, func() bool { return hub.Clients() == 1 })

	target.mu.Lock()
	target.state.ThrottlePosition = 50
	target.mu.Unlock()
	hub.Publish()

	next, err := client.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if next.ThrottlePosition != 50 {
		t.Errorf("published snapshot position = %d, want 50", next.ThrottlePosition)
	}
}

func TestWS_SetRequest(t *testing.T) {
	_, target, srv := newTestHub(t)

	client, err := Dial(wsURL(srv), ClientOptions{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	enabled := true
	speed := 55
	if err := client.Send(SetRequest{CruiseEnabled: &enabled, CruiseTargetSpeed: &speed}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	waitFor(t, func() bool {
		st := target.State()
		return st.CruiseEnabled && st.CruiseTargetSpeed == 55
	})
}

func TestWS_Disconnect(t *testing.T) {
	hub, _, srv := newTestHub(t)

	client, err := Dial(wsURL(srv), ClientOptions{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	waitFor(t, func() bool { return hub.Clients() == 1 })

	client.Close()
	waitFor(t, func() bool { return hub.Clients() == 0 })
}

func TestWS_Auth(t *testing.T) {
	_, _, srv := newTestHub(t, WithAuth("driver", "secret"))

	if _, err := Dial(wsURL(srv), ClientOptions{}); err == nil {
		t.Fatal("dial without credentials should fail")
	}

	client, err := Dial(wsURL(srv), ClientOptions{Username: "driver", Password: "secret"})
	if err != nil {
		t.Fatalf("Dial with credentials: %v", err)
	}
	client.Close()
}

func TestDial_BadScheme(t *testing.T) {
	if _, err := Dial("http://localhost:1/ws", ClientOptions{}); err == nil {
		t.Error("http scheme should be rejected")
	}
}

func TestRun_PublishesAndStops(t *testing.T) {
	hub, _, srv := newTestHub(t, WithPublishInterval(10*time.Millisecond))

	client, err := Dial(wsURL(srv), ClientOptions{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	// Initial snapshot plus at least two ticks
	for i := 0; i < 3; i++ {
		if _, err := client.Next(); err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	if hub.Clients() != 0 {
		t.Errorf("clients after stop = %d, want 0", hub.Clients())
	}
}

// ============================================================
// Link Health Tests
// ============================================================

func TestSnapshot_LinkHealth(t *testing.T) {
	sim := transport.NewSimulator()
	ch := channel.New(sim, sim, nil, channel.WithSleep(func(time.Duration) {}))

	sim.FailNext(1)
	if _, err := ch.ReadPosition(); err != nil {
		t.Fatalf("ReadPosition: %v", err)
	}

	hub := NewHub(&fakeTarget{}, WithLink(ch))
	s := hub.Snapshot()
	if s.ResetAttempts != 0.75 {
		t.Errorf("reset attempts = %v, want 0.75", s.ResetAttempts)
	}
	if s.SuccessRate <= 0 {
		t.Errorf("success rate = %v, want > 0", s.SuccessRate)
	}
}
