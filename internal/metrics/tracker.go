// Package metrics tracks per-turn latency as reported by the agent: time
// to first byte and subagent (tool) invocations.
package metrics

import (
	"context"
	"encoding/json"
	"maps"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Sink receives every observation for export.
type Sink interface {
	ObserveTTFB(d time.Duration)
	ObserveToolLatency(agent string, d time.Duration)
}

// Invocation is the subagent call of the current turn.
type Invocation struct {
	Agent   string          `json:"agent"`
	Args    map[string]any  `json:"args,omitempty"`
	Latency *time.Duration  `json:"latency,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// Snapshot is a read-only copy of the tracker state.
type Snapshot struct {
	TTFB        *time.Duration  `json:"ttfb,omitempty"`
	AverageTTFB *time.Duration  `json:"average_ttfb,omitempty"`
	History     []time.Duration `json:"ttfb_history"`
	Invocation  *Invocation     `json:"invocation,omitempty"`
}

// Tracker is not safe for concurrent use; it belongs to the session loop.
type Tracker struct {
	sink   Sink
	tracer trace.Tracer

	ttfb    *time.Duration
	history []time.Duration
	average *time.Duration

	active *Invocation
	span   trace.Span
}

// NewTracker creates a tracker. sink and tracer may be nil.
func NewTracker(sink Sink, tracer trace.Tracer) *Tracker {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	return &Tracker{sink: sink, tracer: tracer}
}

// RecordTTFB sets the current turn's TTFB and folds it into the running
// average over every TTFB seen this session.
func (t *Tracker) RecordTTFB(d time.Duration) {
	t.ttfb = &d
	t.history = append(t.history, d)

	var sum time.Duration
	for _, h := range t.history {
		sum += h
	}
	avg := sum / time.Duration(len(t.history))
	t.average = &avg

	if t.sink != nil {
		t.sink.ObserveTTFB(d)
	}
}

// StartInvocation makes agent the active invocation, replacing any
// invocation that never completed.
func (t *Tracker) StartInvocation(ctx context.Context, agent string, args map[string]any) {
	t.endSpan(codes.Unset, "superseded")

	t.active = &Invocation{Agent: agent, Args: maps.Clone(args)}
	_, t.span = t.tracer.Start(ctx, "subagent.invoke",
		trace.WithAttributes(attribute.String("subagent.name", agent)))
}

// CompleteInvocation records the latency and result of the active
// invocation. A completion with nothing active still records them.
func (t *Tracker) CompleteInvocation(agent string, latency time.Duration, result json.RawMessage) {
	if t.active == nil {
		t.active = &Invocation{Agent: agent}
	}
	t.active.Latency = &latency
	t.active.Result = append(json.RawMessage(nil), result...)

	if t.span != nil {
		t.span.SetAttributes(attribute.Float64("subagent.latency_seconds", latency.Seconds()))
		t.endSpan(codes.Ok, "")
	}
	if t.sink != nil {
		t.sink.ObserveToolLatency(t.active.Agent, latency)
	}
}

// ClearTurn forgets the current TTFB and invocation. History and the
// running average survive.
func (t *Tracker) ClearTurn() {
	t.endSpan(codes.Error, "turn reset")
	t.ttfb = nil
	t.active = nil
}

func (t *Tracker) endSpan(code codes.Code, description string) {
	if t.span == nil {
		return
	}
	if code != codes.Unset {
		t.span.SetStatus(code, description)
	} else if description != "" {
		t.span.AddEvent(description)
	}
	t.span.End()
	t.span = nil
}

// Snapshot returns a deep copy of the tracker state.
func (t *Tracker) Snapshot() Snapshot {
	s := Snapshot{
		TTFB:        copyDuration(t.ttfb),
		AverageTTFB: copyDuration(t.average),
		History:     append([]time.Duration{}, t.history...),
	}
	if t.active != nil {
		inv := *t.active
		inv.Args = maps.Clone(t.active.Args)
		inv.Latency = copyDuration(t.active.Latency)
		inv.Result = append(json.RawMessage(nil), t.active.Result...)
		s.Invocation = &inv
	}
	return s
}

func copyDuration(d *time.Duration) *time.Duration {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}
