package logging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (s *recordingSink) Write(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func TestRouterDeliversEventsAndMergesFields(t *testing.T) {
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	sink := &recordingSink{}
	cfg := DefaultConfig()
	cfg.Fields = map[string]any{"scene": "main"}
	router := NewRouter(cfg, ClockFunc(func() time.Time { return fixed }), nil, []NamedSink{{Name: "rec", Sink: sink}})

	router.Publish(context.Background(), Event{Type: "test.event", Severity: SeverityInfo, Extra: map[string]any{"scene": "override"}})
	router.Publish(context.Background(), Event{Type: "test.other", Severity: SeverityWarn})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := router.Close(ctx); err != nil {
		t.Fatalf("close returned error: %v", err)
	}

	events := sink.snapshot()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if got := events[0].Extra["scene"]; got != "override" {
		t.Fatalf("expected event field to win over router field, got %v", got)
	}
	if got := events[1].Extra["scene"]; got != "main" {
		t.Fatalf("expected router field to be merged, got %v", got)
	}
	if !events[1].Time.Equal(fixed) {
		t.Fatalf("expected clock time to be stamped, got %v", events[1].Time)
	}
	if !sink.closed {
		t.Fatalf("expected sink to be closed")
	}
	if stats := router.Stats(); stats.EventsTotal != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestRouterFiltersBelowMinimumSeverity(t *testing.T) {
	sink := &recordingSink{}
	cfg := DefaultConfig()
	cfg.MinimumSeverity = SeverityWarn
	router := NewRouter(cfg, nil, nil, []NamedSink{{Name: "rec", Sink: sink}})

	router.Publish(context.Background(), Event{Type: "debug", Severity: SeverityDebug})
	router.Publish(context.Background(), Event{Type: "info", Severity: SeverityInfo})
	router.Publish(context.Background(), Event{Type: "error", Severity: SeverityError})
	router.Publish(context.Background(), Event{Severity: SeverityError})

	if err := router.Close(context.Background()); err != nil {
		t.Fatalf("close returned error: %v", err)
	}
	events := sink.snapshot()
	if len(events) != 1 || events[0].Type != "error" {
		t.Fatalf("expected only the error event, got %+v", events)
	}
}

func TestRouterIgnoresPublishAfterClose(t *testing.T) {
	sink := &recordingSink{}
	router := NewRouter(DefaultConfig(), nil, nil, []NamedSink{{Name: "rec", Sink: sink}})
	if err := router.Close(context.Background()); err != nil {
		t.Fatalf("close returned error: %v", err)
	}
	router.Publish(context.Background(), Event{Type: "late", Severity: SeverityError})
	if err := router.Close(context.Background()); err != nil {
		t.Fatalf("second close returned error: %v", err)
	}
	if got := len(sink.snapshot()); got != 0 {
		t.Fatalf("expected no events after close, got %d", got)
	}
	if router.Sink("rec") != sink {
		t.Fatalf("expected Sink lookup to return the registered sink")
	}
}

func TestWithFieldsDoesNotMutateCallerEvent(t *testing.T) {
	var got Event
	pub := WithFields(PublisherFunc(func(_ context.Context, event Event) { got = event }), map[string]any{"k": "v"})
	original := Event{Type: "x", Extra: map[string]any{"a": 1}}
	pub.Publish(context.Background(), original)

	if _, ok := original.Extra["k"]; ok {
		t.Fatalf("caller event was mutated: %+v", original.Extra)
	}
	if got.Extra["k"] != "v" || got.Extra["a"] != 1 {
		t.Fatalf("unexpected forwarded extra: %+v", got.Extra)
	}
}

func TestMetricsAddStoreSnapshot(t *testing.T) {
	var metrics Metrics
	metrics.TelemetryAdd("entities_created", 2)
	metrics.TelemetryAdd("entities_created", 3)
	metrics.TelemetryStore("entities_live", 7)

	snapshot := metrics.Snapshot()
	if snapshot["entities_created"] != 5 || snapshot["entities_live"] != 7 {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}

	var nilMetrics *Metrics
	nilMetrics.TelemetryAdd("ignored", 1)
	if nilMetrics.Snapshot() != nil {
		t.Fatalf("expected nil snapshot for nil metrics")
	}
}

type flakySink struct {
	recordingSink
	failuresLeft int
}

func (s *flakySink) Write(event Event) error {
	s.mu.Lock()
	if s.failuresLeft > 0 {
		s.failuresLeft--
		s.mu.Unlock()
		return errors.New("disk full")
	}
	s.mu.Unlock()
	return s.recordingSink.Write(event)
}

func TestRouterSinkRecoversAfterFailure(t *testing.T) {
	sink := &flakySink{failuresLeft: 1}
	var warnings []string
	var warnMu sync.Mutex
	fallback := printerFunc(func(format string, args ...any) {
		warnMu.Lock()
		defer warnMu.Unlock()
		warnings = append(warnings, format)
	})
	router := NewRouter(DefaultConfig(), nil, fallback, []NamedSink{{Name: "flaky", Sink: sink}})

	router.Publish(context.Background(), Event{Type: "lost", Severity: SeverityInfo})
	router.Publish(context.Background(), Event{Type: "kept", Severity: SeverityInfo})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := router.Close(ctx); err != nil {
		t.Fatalf("close returned error: %v", err)
	}
	events := sink.snapshot()
	if len(events) != 1 || events[0].Type != "kept" {
		t.Fatalf("expected only the event after the failure, got %+v", events)
	}
	warnMu.Lock()
	defer warnMu.Unlock()
	if len(warnings) == 0 {
		t.Fatalf("expected the failure to be reported to the fallback printer")
	}
}

type printerFunc func(format string, args ...any)

func (f printerFunc) Printf(format string, args ...any) { f(format, args...) }

func TestParseSeverity(t *testing.T) {
	cases := map[string]Severity{
		"debug":   SeverityDebug,
		"":        SeverityInfo,
		" INFO ":  SeverityInfo,
		"warning": SeverityWarn,
		"error":   SeverityError,
	}
	for raw, want := range cases {
		got, err := ParseSeverity(raw)
		if err != nil {
			t.Fatalf("ParseSeverity(%q) returned error: %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseSeverity(%q) = %v, want %v", raw, got, want)
		}
	}
	if _, err := ParseSeverity("loud"); err == nil {
		t.Fatalf("expected unknown severity to be rejected")
	}
}
