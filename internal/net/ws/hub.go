// Package ws streams scene frames to browser clients and accepts snapshots
// and pointer picks from them.
package ws

import (
	"context"
	"encoding/json"
	nethttp "net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"holding-parade/server/internal/render"
	"holding-parade/server/internal/scene"
	"holding-parade/server/internal/telemetry"
)

// Scene is the part of the scene manager the stream needs.
type Scene interface {
	Apply(ctx context.Context, snapshot []scene.Descriptor)
	Pick(p render.Point) (string, bool)
	Frame() scene.Frame
}

type HandlerConfig struct {
	Logger       telemetry.Logger
	Metrics      telemetry.Metrics
	InboundRate  float64
	InboundBurst int
	WriteTimeout time.Duration
}

const (
	defaultInboundRate  = 5
	defaultInboundBurst = 10
	defaultWriteTimeout = 10 * time.Second
	readLimit           = 1 << 20
)

type subscriber struct {
	id           string
	conn         *websocket.Conn
	mu           sync.Mutex
	limiter      *rate.Limiter
	writeTimeout time.Duration
}

func (s *subscriber) WriteMessage(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(messageType, data)
}

// Hub owns every websocket session.
type Hub struct {
	scene    Scene
	cfg      HandlerConfig
	logger   telemetry.Logger
	metrics  telemetry.Metrics
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	subscribers map[string]*subscriber

	// snapshots holds the newest client snapshot not yet applied.
	snapshots chan []scene.Descriptor
}

func NewHub(sc Scene, cfg HandlerConfig) *Hub {
	if cfg.Logger == nil {
		cfg.Logger = telemetry.Discard()
	}
	if cfg.InboundRate <= 0 {
		cfg.InboundRate = defaultInboundRate
	}
	if cfg.InboundBurst <= 0 {
		cfg.InboundBurst = defaultInboundBurst
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		scene:   sc,
		cfg:     cfg,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *nethttp.Request) bool {
				return true
			},
		},
		ctx:         ctx,
		cancel:      cancel,
		subscribers: make(map[string]*subscriber),
		snapshots:   make(chan []scene.Descriptor, 1),
	}
	go h.applySnapshots()
	return h
}

// offerSnapshot parks snapshot for the apply goroutine, replacing one that
// has not been picked up yet.
func (h *Hub) offerSnapshot(snapshot []scene.Descriptor) {
	for {
		select {
		case h.snapshots <- snapshot:
			return
		default:
		}
		select {
		case <-h.snapshots:
			h.add("ws_snapshots_replaced", 1)
		default:
		}
	}
}

func (h *Hub) applySnapshots() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case snapshot := <-h.snapshots:
			h.scene.Apply(h.ctx, snapshot)
		}
	}
}

// Handle upgrades the request and serves the session until the client leaves.
func (h *Hub) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("[ws] upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(readLimit)

	sub := &subscriber{
		id:           uuid.NewString(),
		conn:         conn,
		limiter:      rate.NewLimiter(rate.Limit(h.cfg.InboundRate), h.cfg.InboundBurst),
		writeTimeout: h.cfg.WriteTimeout,
	}
	h.mu.Lock()
	h.subscribers[sub.id] = sub
	count := len(h.subscribers)
	h.mu.Unlock()
	h.store("ws_sessions", uint64(count))
	defer h.disconnect(sub.id)

	if !h.send(sub, helloMessage{Type: typeHello, Session: sub.id}) {
		return
	}
	if !h.send(sub, newFrameMessage(h.scene.Frame())) {
		return
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if !sub.limiter.Allow() {
			h.add("ws_rate_limited", 1)
			if !h.send(sub, errorMessage{Type: typeError, Reason: reasonRateLimited}) {
				return
			}
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			h.logger.Printf("[ws] discarding malformed message from %s: %v", sub.id, err)
			continue
		}

		switch msg.Type {
		case typeSnapshot:
			h.offerSnapshot(msg.Holdings)
		case typePick:
			h.scene.Pick(render.Point{X: msg.X, Y: msg.Y})
		default:
			h.logger.Printf("[ws] unknown message type %q from %s", msg.Type, sub.id)
			if !h.send(sub, errorMessage{Type: typeError, Reason: reasonUnknownType}) {
				return
			}
		}
	}
}

func (h *Hub) send(sub *subscriber, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Printf("[ws] failed to marshal message for %s: %v", sub.id, err)
		return true
	}
	return sub.WriteMessage(websocket.TextMessage, data) == nil
}

// Broadcast sends payload to every session. Sessions that fail to receive it
// are dropped.
func (h *Hub) Broadcast(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Printf("[ws] failed to marshal broadcast: %v", err)
		return
	}
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		if err := sub.WriteMessage(websocket.TextMessage, data); err != nil {
			h.disconnect(sub.id)
		}
	}
	h.add("ws_broadcast_bytes", uint64(len(data)*len(subs)))
}

func (h *Hub) BroadcastFrame() {
	if h.Count() == 0 {
		return
	}
	h.Broadcast(newFrameMessage(h.scene.Frame()))
}

// NotifyPicked is wired to the scene's pick hook.
func (h *Hub) NotifyPicked(id string) {
	h.Broadcast(pickedMessage{Type: typePicked, ID: id})
}

// NotifyLoading is wired to the scene's loading progress hook.
func (h *Hub) NotifyLoading(label string, complete bool) {
	h.Broadcast(loadingMessage{Type: typeLoading, Label: label, Complete: complete})
}

// Run broadcasts a frame every interval until ctx is done.
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.BroadcastFrame()
		}
	}
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Close ends every session and stops applying client snapshots.
func (h *Hub) Close() {
	h.cancel()
	h.mu.Lock()
	subs := h.subscribers
	h.subscribers = make(map[string]*subscriber)
	h.mu.Unlock()
	for _, sub := range subs {
		sub.mu.Lock()
		sub.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(time.Second))
		sub.mu.Unlock()
		sub.conn.Close()
	}
}

func (h *Hub) disconnect(id string) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	delete(h.subscribers, id)
	count := len(h.subscribers)
	h.mu.Unlock()
	if ok {
		sub.conn.Close()
		h.store("ws_sessions", uint64(count))
	}
}

func (h *Hub) add(key string, delta uint64) {
	if h.metrics != nil {
		h.metrics.Add(key, delta)
	}
}

func (h *Hub) store(key string, value uint64) {
	if h.metrics != nil {
		h.metrics.Store(key, value)
	}
}
