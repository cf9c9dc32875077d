package scene

import (
	"context"

	"holding-parade/server/logging"
	speechevents "holding-parade/server/logging/speech"
)

type speechPhase uint8

const (
	speechIdle speechPhase = iota
	speechDisplay
	speechFade
)

// Speech lets at most one entity talk at a time. It runs under the stage lock
// as part of the tick.
type Speech struct {
	timer   float64
	phase   speechPhase
	elapsed float64
	speaker *Entity
}

func (sp *Speech) schedule(st *stage) {
	sp.timer = uniform(st.rng, st.cfg.SpeechIntervalMin, st.cfg.SpeechIntervalMax)
	sp.phase = speechIdle
	sp.elapsed = 0
	sp.speaker = nil
}

// Speaker returns the entity currently talking, if any.
func (sp *Speech) Speaker() *Entity {
	return sp.speaker
}

func (sp *Speech) update(st *stage, live []*Entity, messages MessageSource, dt float64) {
	if sp.speaker == nil {
		sp.timer -= dt
		if sp.timer > 0 {
			return
		}
		if len(live) == 0 {
			sp.schedule(st)
			return
		}
		sp.begin(st, live[st.rng.Intn(len(live))], messages)
		return
	}

	speaker := sp.speaker
	if speaker.disposed {
		sp.abort(st)
		return
	}
	sp.elapsed += dt
	if sp.phase == speechDisplay {
		if sp.elapsed < st.cfg.SpeechDisplay {
			return
		}
		sp.phase = speechFade
		sp.elapsed -= st.cfg.SpeechDisplay
	}
	if sp.elapsed < st.cfg.SpeechFade {
		speaker.setSpeechOpacity(1 - sp.elapsed/st.cfg.SpeechFade)
		return
	}
	speaker.endSpeech()
	speechevents.Finished(context.Background(), st.publisher, st.tick, logging.HoldingRef(speaker.id), speechevents.FinishedPayload{})
	sp.schedule(st)
}

func (sp *Speech) begin(st *stage, e *Entity, messages MessageSource) {
	msg := messages.Message(e.desc)
	sp.speaker = e
	sp.phase = speechDisplay
	sp.elapsed = 0
	e.beginSpeech(msg)
	st.metrics.Add("speeches_started", 1)
	speechevents.Started(context.Background(), st.publisher, st.tick, logging.HoldingRef(e.id), speechevents.StartedPayload{Message: msg})
}

// abort ends the sequence early and reschedules.
func (sp *Speech) abort(st *stage) {
	if sp.speaker == nil {
		return
	}
	speaker := sp.speaker
	if !speaker.disposed {
		speaker.endSpeech()
	} else {
		speaker.speech = nil
	}
	speechevents.Finished(context.Background(), st.publisher, st.tick, logging.HoldingRef(speaker.id), speechevents.FinishedPayload{Aborted: true})
	sp.schedule(st)
}
