package net

import (
	"encoding/json"
	"io"
	nethttp "net/http"
	"net/http/pprof"
	"time"

	"holding-parade/server/internal/net/ws"
	"holding-parade/server/internal/scene"
	"holding-parade/server/internal/telemetry"
	"holding-parade/server/logging"
)

// Scene is what the HTTP surface needs from the scene manager.
type Scene interface {
	ws.Scene
	Disposed() bool
}

type HTTPHandlerConfig struct {
	ClientDir       string
	Logger          telemetry.Logger
	Metrics         *logging.Metrics
	MaxSnapshotSize int64
	TickRate        int
	EnablePprof     bool
}

const defaultMaxSnapshotSize = 1 << 20

func NewHTTPHandler(sc Scene, hub *ws.Hub, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.Discard()
	}
	maxSize := cfg.MaxSnapshotSize
	if maxSize <= 0 {
		maxSize = defaultMaxSnapshotSize
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/healthz", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if sc.Disposed() {
			httpError(w, "scene disposed", nethttp.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		frame := sc.Frame()
		var counters map[string]uint64
		if cfg.Metrics != nil {
			counters = cfg.Metrics.Snapshot()
		}
		payload := struct {
			Status     string            `json:"status"`
			ServerTime int64             `json:"serverTime"`
			Tick       uint64            `json:"tick"`
			Entities   int               `json:"entities"`
			Speaker    string            `json:"speaker,omitempty"`
			Sessions   int               `json:"sessions"`
			TickRate   int               `json:"tickRate"`
			Telemetry  map[string]uint64 `json:"telemetry,omitempty"`
		}{
			Status:     "ok",
			ServerTime: time.Now().UnixMilli(),
			Tick:       frame.Tick,
			Entities:   len(frame.Entities),
			Speaker:    frame.Speaker,
			TickRate:   cfg.TickRate,
			Telemetry:  counters,
		}
		if hub != nil {
			payload.Sessions = hub.Count()
		}
		writeJSON(w, logger, payload)
	})

	mux.HandleFunc("/frame", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodGet {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, logger, sc.Frame())
	})

	mux.HandleFunc("/snapshot", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		if sc.Disposed() {
			httpError(w, "scene disposed", nethttp.StatusServiceUnavailable)
			return
		}
		defer r.Body.Close()
		body, err := io.ReadAll(nethttp.MaxBytesReader(w, r.Body, maxSize))
		if err != nil {
			httpError(w, "snapshot too large", nethttp.StatusRequestEntityTooLarge)
			return
		}
		snapshot, err := scene.DecodeSnapshot(body)
		if err != nil {
			logger.Printf("[http] rejecting snapshot: %v", err)
			httpError(w, "invalid payload", nethttp.StatusBadRequest)
			return
		}

		sc.Apply(r.Context(), snapshot)

		response := struct {
			Status   string `json:"status"`
			Received int    `json:"received"`
		}{
			Status:   "ok",
			Received: len(snapshot),
		}
		writeJSON(w, logger, response)
	})

	if hub != nil {
		mux.HandleFunc("/ws", hub.Handle)
	}

	if cfg.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	if cfg.ClientDir != "" {
		fs := nethttp.FileServer(nethttp.Dir(cfg.ClientDir))
		mux.Handle("/", fs)
	}

	return mux
}

func writeJSON(w nethttp.ResponseWriter, logger telemetry.Logger, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Printf("[http] failed to encode response: %v", err)
		httpError(w, "failed to encode", nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
