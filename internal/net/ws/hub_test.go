package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"holding-parade/server/internal/render"
	"holding-parade/server/internal/scene"
)

type fakeScene struct {
	mu        sync.Mutex
	snapshots [][]scene.Descriptor
	picks     []render.Point
	// gate, when set, holds every Apply until it is closed.
	gate chan struct{}
}

func (f *fakeScene) Apply(_ context.Context, snapshot []scene.Descriptor) {
	f.mu.Lock()
	f.snapshots = append(f.snapshots, snapshot)
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
}

func (f *fakeScene) Pick(p render.Point) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.picks = append(f.picks, p)
	return "A", true
}

func (f *fakeScene) Frame() scene.Frame {
	return scene.Frame{Tick: 42, Entities: []scene.EntityView{{ID: "A", State: scene.StateRunning}}}
}

func (f *fakeScene) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.snapshots), len(f.picks)
}

func dial(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.Handle))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		t.Fatalf("failed to open websocket connection: %v", err)
	}
	t.Cleanup(func() {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
		if resp != nil {
			resp.Body.Close()
		}
	})
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read message: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("invalid json %s: %v", payload, err)
	}
	return msg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestHandleSendsHelloAndInitialFrame(t *testing.T) {
	hub := NewHub(&fakeScene{}, HandlerConfig{})
	conn := dial(t, hub)

	hello := readMessage(t, conn)
	if hello["type"] != "hello" || hello["session"] == "" {
		t.Fatalf("unexpected hello %v", hello)
	}
	frame := readMessage(t, conn)
	if frame["type"] != "frame" {
		t.Fatalf("expected frame, got %v", frame)
	}
	if frame["tick"] != float64(42) {
		t.Fatalf("expected tick 42, got %v", frame["tick"])
	}
	entities, _ := frame["entities"].([]any)
	if len(entities) != 1 {
		t.Fatalf("expected one entity, got %v", frame["entities"])
	}
	entity := entities[0].(map[string]any)
	if entity["state"] != "running" {
		t.Fatalf("expected state name in frame, got %v", entity["state"])
	}
	waitFor(t, func() bool { return hub.Count() == 1 })
}

func TestHandleAppliesSnapshotsAndPicks(t *testing.T) {
	sc := &fakeScene{}
	hub := NewHub(sc, HandlerConfig{})
	conn := dial(t, hub)
	readMessage(t, conn)
	readMessage(t, conn)

	if err := conn.WriteJSON(map[string]any{
		"type":     "snapshot",
		"holdings": []map[string]any{{"id": "AAPL", "trend": "increasing"}},
	}); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	if err := conn.WriteJSON(map[string]any{"type": "pick", "x": 1.5, "y": -2}); err != nil {
		t.Fatalf("write pick: %v", err)
	}

	waitFor(t, func() bool {
		snapshots, picks := sc.counts()
		return snapshots == 1 && picks == 1
	})
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.snapshots[0][0].ID != "AAPL" {
		t.Fatalf("unexpected snapshot %+v", sc.snapshots[0])
	}
	if sc.picks[0] != (render.Point{X: 1.5, Y: -2}) {
		t.Fatalf("unexpected pick %+v", sc.picks[0])
	}
}

func TestSlowApplyDoesNotStallPicks(t *testing.T) {
	gate := make(chan struct{})
	sc := &fakeScene{gate: gate}
	hub := NewHub(sc, HandlerConfig{})
	t.Cleanup(hub.Close)
	conn := dial(t, hub)
	readMessage(t, conn)
	readMessage(t, conn)

	conn.WriteJSON(map[string]any{"type": "snapshot", "holdings": []map[string]any{{"id": "A"}}})
	waitFor(t, func() bool {
		snapshots, _ := sc.counts()
		return snapshots == 1
	})

	conn.WriteJSON(map[string]any{"type": "pick", "x": 0, "y": 0})
	waitFor(t, func() bool {
		_, picks := sc.counts()
		return picks == 1
	})
	close(gate)
}

func TestHandleRateLimitsInbound(t *testing.T) {
	sc := &fakeScene{}
	hub := NewHub(sc, HandlerConfig{InboundRate: 0.001, InboundBurst: 1})
	conn := dial(t, hub)
	readMessage(t, conn)
	readMessage(t, conn)

	conn.WriteJSON(map[string]any{"type": "pick", "x": 0, "y": 0})
	conn.WriteJSON(map[string]any{"type": "pick", "x": 0, "y": 0})

	msg := readMessage(t, conn)
	if msg["type"] != "error" || msg["reason"] != "rate_limited" {
		t.Fatalf("expected rate limit error, got %v", msg)
	}
	if _, picks := sc.counts(); picks != 1 {
		t.Fatalf("expected one accepted pick, got %d", picks)
	}
}

func TestBroadcastReachesEverySession(t *testing.T) {
	hub := NewHub(&fakeScene{}, HandlerConfig{})
	first := dial(t, hub)
	second := dial(t, hub)
	for _, conn := range []*websocket.Conn{first, second} {
		readMessage(t, conn)
		readMessage(t, conn)
	}
	waitFor(t, func() bool { return hub.Count() == 2 })

	hub.NotifyPicked("AAPL")
	hub.NotifyLoading("", true)

	for _, conn := range []*websocket.Conn{first, second} {
		picked := readMessage(t, conn)
		if picked["type"] != "picked" || picked["id"] != "AAPL" {
			t.Fatalf("unexpected picked message %v", picked)
		}
		loading := readMessage(t, conn)
		if loading["type"] != "loading" || loading["complete"] != true {
			t.Fatalf("unexpected loading message %v", loading)
		}
	}
}

func TestCloseEndsSessions(t *testing.T) {
	hub := NewHub(&fakeScene{}, HandlerConfig{})
	conn := dial(t, hub)
	readMessage(t, conn)
	readMessage(t, conn)
	waitFor(t, func() bool { return hub.Count() == 1 })

	hub.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected the connection to close")
	}
	if hub.Count() != 0 {
		t.Fatalf("expected no sessions after close")
	}
}
