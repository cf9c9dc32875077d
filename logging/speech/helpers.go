package speech

import (
	"context"

	"holding-parade/server/logging"
)

const (
	// EventSpeechStarted is emitted when an entity starts talking.
	EventSpeechStarted logging.EventType = "speech.started"
	// EventSpeechFinished is emitted when the speaker returns to its trend state.
	EventSpeechFinished logging.EventType = "speech.finished"
)

// StartedPayload carries the message being displayed.
type StartedPayload struct {
	Message string `json:"message"`
}

// FinishedPayload reports whether the sequence ran to completion.
type FinishedPayload struct {
	Aborted bool `json:"aborted"`
}

// Started publishes a speech start event.
func Started(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload StartedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventSpeechStarted,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategorySpeech,
		Payload:  payload,
	})
}

// Finished publishes a speech end event.
func Finished(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload FinishedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventSpeechFinished,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategorySpeech,
		Payload:  payload,
	})
}
