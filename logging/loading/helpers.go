package loading

import (
	"context"

	"holding-parade/server/logging"
)

// EventProgress is emitted whenever an asset load starts or all outstanding loads finish.
const EventProgress logging.EventType = "loading.progress"

// ProgressPayload mirrors the host progress callback. An empty label means no
// particular asset.
type ProgressPayload struct {
	Label    string `json:"label,omitempty"`
	Complete bool   `json:"complete"`
}

// Progress publishes a loading progress event.
func Progress(ctx context.Context, pub logging.Publisher, tick uint64, payload ProgressPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventProgress,
		Tick:     tick,
		Actor:    logging.SceneRef(),
		Severity: logging.SeverityDebug,
		Category: logging.CategoryLoading,
		Payload:  payload,
	})
}
