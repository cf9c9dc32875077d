package lifecycle

import (
	"context"

	"holding-parade/server/logging"
)

const (
	// EventEntityCreated is emitted when an entity is attached to the scene.
	EventEntityCreated logging.EventType = "lifecycle.entity_created"
	// EventEntityDisposed is emitted when an entity is removed from the scene.
	EventEntityDisposed logging.EventType = "lifecycle.entity_disposed"
	// EventEntityFallback is emitted when an entity falls back to a placeholder shape.
	EventEntityFallback logging.EventType = "lifecycle.entity_fallback"
	// EventConstructionDiscarded is emitted when a construction finishes after teardown.
	EventConstructionDiscarded logging.EventType = "lifecycle.construction_discarded"
)

// EntityCreatedPayload captures what an entity was built from.
type EntityCreatedPayload struct {
	Instance string `json:"instance"`
	Skin     string `json:"skin"`
	State    string `json:"state"`
}

// EntityDisposedPayload captures why an entity left the scene.
type EntityDisposedPayload struct {
	Instance string `json:"instance"`
	Reason   string `json:"reason"`
}

// EntityFallbackPayload captures the failure that forced a placeholder.
type EntityFallbackPayload struct {
	Skin  string `json:"skin"`
	Error string `json:"error"`
}

// EntityCreated publishes an entity creation event.
func EntityCreated(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload EntityCreatedPayload, extra map[string]any) {
	publish(ctx, pub, EventEntityCreated, logging.SeverityInfo, tick, actor, payload, extra)
}

// EntityDisposed publishes an entity disposal event.
func EntityDisposed(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload EntityDisposedPayload, extra map[string]any) {
	publish(ctx, pub, EventEntityDisposed, logging.SeverityInfo, tick, actor, payload, extra)
}

// EntityFallback publishes a placeholder fallback event.
func EntityFallback(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload EntityFallbackPayload, extra map[string]any) {
	publish(ctx, pub, EventEntityFallback, logging.SeverityWarn, tick, actor, payload, extra)
}

// ConstructionDiscarded publishes a late construction that was released instead of attached.
func ConstructionDiscarded(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, extra map[string]any) {
	publish(ctx, pub, EventConstructionDiscarded, logging.SeverityDebug, tick, actor, nil, extra)
}

func publish(ctx context.Context, pub logging.Publisher, eventType logging.EventType, sev logging.Severity, tick uint64, actor logging.EntityRef, payload any, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		Tick:     tick,
		Actor:    actor,
		Severity: sev,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	})
}
