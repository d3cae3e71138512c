// Package sinks implements the Sink Dispatcher: fan-out delivery of
// validated envelopes to a named registry of sinks, with per-sink failure
// isolation.
package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"

	"github.com/nikodemus-eth/corvusforge/internal/envelope"
	"github.com/nikodemus-eth/corvusforge/internal/metrics"
	"github.com/nikodemus-eth/corvusforge/internal/telemetry"
)

// Sink is the interface every dispatch target implements.
type Sink interface {
	Write(ctx context.Context, env envelope.Envelope) error
}

// ErrSinkDispatch reports that every sink failed for a dispatch call.
type ErrSinkDispatch struct {
	Failures map[string]error
}

func (e *ErrSinkDispatch) Error() string {
	return fmt.Sprintf("sink dispatch: all %d sinks failed", len(e.Failures))
}

// Dispatcher maintains a named registry of sinks and fans envelopes out to
// all of them, isolating one sink's failure from the others.
type Dispatcher struct {
	log logr.Logger

	mu    sync.RWMutex
	sinks map[string]Sink
}

// NewDispatcher constructs an empty Dispatcher.
func NewDispatcher(log logr.Logger) *Dispatcher {
	return &Dispatcher{log: log, sinks: make(map[string]Sink)}
}

// Register adds or replaces a named sink.
func (d *Dispatcher) Register(name string, s Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks[name] = s
}

// Dispatch invokes every registered sink in isolation — a panic or error
// from one sink never skips the others — and returns a per-sink
// success/failure map. An empty registry returns an empty map, not an
// error. If every sink failed, ErrSinkDispatch is returned alongside the
// (all-false) result map.
func (d *Dispatcher) Dispatch(ctx context.Context, env envelope.Envelope) (map[string]bool, error) {
	ctx, span := telemetry.StartSinkDispatchSpan(ctx, env.EnvelopeID, string(env.EnvelopeKind))

	d.mu.RLock()
	snapshot := make(map[string]Sink, len(d.sinks))
	for name, s := range d.sinks {
		snapshot[name] = s
	}
	d.mu.RUnlock()

	if len(snapshot) == 0 {
		telemetry.EndSinkDispatchSpan(span, 0, 0)
		return map[string]bool{}, nil
	}

	results := make(map[string]bool, len(snapshot))
	failures := make(map[string]error)

	for name, s := range snapshot {
		if err := d.invoke(ctx, s, env); err != nil {
			results[name] = false
			failures[name] = err
			metrics.RecordSinkDispatch(name, "error")
			d.log.Error(err, "sink delivery failed", "sink", name, "envelope_id", env.EnvelopeID)
			continue
		}
		results[name] = true
		metrics.RecordSinkDispatch(name, "ok")
	}

	telemetry.EndSinkDispatchSpan(span, len(snapshot)-len(failures), len(failures))

	if len(failures) == len(snapshot) {
		return results, &ErrSinkDispatch{Failures: failures}
	}
	return results, nil
}

// invoke calls a sink's Write, converting a recovered panic into an error so
// one misbehaving sink can never abort dispatch for the others.
func (d *Dispatcher) invoke(ctx context.Context, s Sink, env envelope.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	return s.Write(ctx, env)
}

// BatchDispatch applies Dispatch to every envelope in envs, continuing
// across batch items regardless of individual failures. It returns one
// result map per envelope, in the same order, and never returns an error
// itself — per-envelope failures are visible in each entry's result map.
func (d *Dispatcher) BatchDispatch(ctx context.Context, envs []envelope.Envelope) []map[string]bool {
	out := make([]map[string]bool, len(envs))
	for i, env := range envs {
		result, _ := d.Dispatch(ctx, env)
		out[i] = result
	}
	return out
}
