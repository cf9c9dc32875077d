package net

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"holding-parade/server/internal/render"
	"holding-parade/server/internal/scene"
	"holding-parade/server/logging"
)

type stubScene struct {
	mu        sync.Mutex
	applied   [][]scene.Descriptor
	disposed  bool
	frameTick uint64
}

func (s *stubScene) Apply(_ context.Context, snapshot []scene.Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied = append(s.applied, snapshot)
}

func (s *stubScene) Pick(render.Point) (string, bool) { return "", false }

func (s *stubScene) Frame() scene.Frame {
	return scene.Frame{
		Tick:     s.frameTick,
		Speaker:  "B",
		Entities: []scene.EntityView{{ID: "A"}, {ID: "B"}},
	}
}

func (s *stubScene) Disposed() bool { return s.disposed }

func TestHTTPSnapshotAppliesDecodedHoldings(t *testing.T) {
	sc := &stubScene{}
	handler := NewHTTPHandler(sc, nil, HTTPHandlerConfig{})

	body := `{"holdings":[{"id":"AAPL","trend":"up","rank":1},{"id":"MSFT","trend":"down","rank":2}]}`
	req := httptest.NewRequest(http.MethodPost, "/snapshot", strings.NewReader(body))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 OK, got %d: %s", resp.Code, resp.Body.String())
	}
	var payload struct {
		Status   string `json:"status"`
		Received int    `json:"received"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.Received != 2 {
		t.Fatalf("expected two received holdings, got %d", payload.Received)
	}
	if len(sc.applied) != 1 || len(sc.applied[0]) != 2 || sc.applied[0][0].ID != "AAPL" {
		t.Fatalf("unexpected applied snapshots %+v", sc.applied)
	}
}

func TestHTTPSnapshotAcceptsBareArray(t *testing.T) {
	sc := &stubScene{}
	handler := NewHTTPHandler(sc, nil, HTTPHandlerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/snapshot", strings.NewReader(`[]`))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 OK, got %d", resp.Code)
	}
	if len(sc.applied) != 1 || len(sc.applied[0]) != 0 {
		t.Fatalf("expected an empty snapshot to be applied, got %+v", sc.applied)
	}
}

func TestHTTPSnapshotRejectsInvalidPayloads(t *testing.T) {
	cases := map[string]struct {
		method string
		body   string
		size   int64
		status int
	}{
		"wrong method": {method: http.MethodGet, status: http.StatusMethodNotAllowed},
		"malformed":    {method: http.MethodPost, body: `{"holdings":`, status: http.StatusBadRequest},
		"no holdings":  {method: http.MethodPost, body: `{}`, status: http.StatusBadRequest},
		"too large":    {method: http.MethodPost, body: `[{"id":"AAPL"}]`, size: 4, status: http.StatusRequestEntityTooLarge},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			sc := &stubScene{}
			handler := NewHTTPHandler(sc, nil, HTTPHandlerConfig{MaxSnapshotSize: tc.size})
			req := httptest.NewRequest(tc.method, "/snapshot", strings.NewReader(tc.body))
			resp := httptest.NewRecorder()
			handler.ServeHTTP(resp, req)
			if resp.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, resp.Code)
			}
			if len(sc.applied) != 0 {
				t.Fatalf("expected nothing applied, got %+v", sc.applied)
			}
		})
	}
}

func TestHTTPHealthReportsDisposedScene(t *testing.T) {
	sc := &stubScene{}
	handler := NewHTTPHandler(sc, nil, HTTPHandlerConfig{})

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if resp.Code != http.StatusOK || resp.Body.String() != "ok" {
		t.Fatalf("expected healthy response, got %d %q", resp.Code, resp.Body.String())
	}

	sc.disposed = true
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after dispose, got %d", resp.Code)
	}
}

func TestHTTPFrameAndDiagnostics(t *testing.T) {
	sc := &stubScene{frameTick: 9}
	metrics := &logging.Metrics{}
	metrics.TelemetryAdd("reconciliations", 3)
	handler := NewHTTPHandler(sc, nil, HTTPHandlerConfig{Metrics: metrics, TickRate: 30})

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/frame", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 OK, got %d", resp.Code)
	}
	var raw map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &raw); err != nil {
		t.Fatalf("failed to decode frame: %v", err)
	}
	if raw["tick"] != float64(9) || raw["speaker"] != "B" {
		t.Fatalf("unexpected frame %v", raw)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/diagnostics", nil))
	var diag struct {
		Entities  int               `json:"entities"`
		TickRate  int               `json:"tickRate"`
		Telemetry map[string]uint64 `json:"telemetry"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &diag); err != nil {
		t.Fatalf("failed to decode diagnostics: %v", err)
	}
	if diag.Entities != 2 || diag.TickRate != 30 || diag.Telemetry["reconciliations"] != 3 {
		t.Fatalf("unexpected diagnostics %+v", diag)
	}
}

func TestHTTPPprofIsOptIn(t *testing.T) {
	sc := &stubScene{}

	resp := httptest.NewRecorder()
	NewHTTPHandler(sc, nil, HTTPHandlerConfig{}).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected pprof to be disabled by default, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	NewHTTPHandler(sc, nil, HTTPHandlerConfig{EnablePprof: true}).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected pprof index when enabled, got %d", resp.Code)
	}
}
