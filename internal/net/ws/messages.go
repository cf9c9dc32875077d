package ws

import (
	"time"

	"holding-parade/server/internal/scene"
)

const (
	typeHello    = "hello"
	typeFrame    = "frame"
	typePicked   = "picked"
	typeLoading  = "loading"
	typeError    = "error"
	typeSnapshot = "snapshot"
	typePick     = "pick"

	reasonRateLimited = "rate_limited"
	reasonUnknownType = "unknown_type"
)

type clientMessage struct {
	Type     string             `json:"type"`
	Holdings []scene.Descriptor `json:"holdings,omitempty"`
	X        float64            `json:"x"`
	Y        float64            `json:"y"`
}

type helloMessage struct {
	Type    string `json:"type"`
	Session string `json:"session"`
}

type frameMessage struct {
	Type       string `json:"type"`
	ServerTime int64  `json:"serverTime"`
	scene.Frame
}

func newFrameMessage(frame scene.Frame) frameMessage {
	return frameMessage{Type: typeFrame, ServerTime: time.Now().UnixMilli(), Frame: frame}
}

type pickedMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type loadingMessage struct {
	Type     string `json:"type"`
	Label    string `json:"label,omitempty"`
	Complete bool   `json:"complete"`
}

type errorMessage struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}
