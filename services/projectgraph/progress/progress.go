// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package progress carries timed load phase events to observers.
package progress

import (
	"log/slog"
	"sync"
	"time"
)

// Phase is a step of a project load.
type Phase string

const (
	// PhaseEvaluate is project evaluation by the build engine.
	PhaseEvaluate Phase = "evaluate"

	// PhaseBuild is the design-time build producing descriptors.
	PhaseBuild Phase = "build"

	// PhaseResolve is reference resolution inside the worker.
	PhaseResolve Phase = "resolve"
)

// Event is one completed phase.
type Event struct {
	Path  string
	Phase Phase

	// TargetFramework is empty unless the phase ran for a single target.
	TargetFramework string

	Elapsed time.Duration
}

// Reporter receives events. Implementations must be safe for concurrent use.
type Reporter interface {
	Report(Event)
}

// Func adapts a function to Reporter.
type Func func(Event)

// Report calls f.
func (f Func) Report(e Event) {
	f(e)
}

// Discard drops every event.
var Discard Reporter = Func(func(Event) {})

// Recorder keeps every event in arrival order.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Report appends e.
func (r *Recorder) Report(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// ForPath returns the recorded events for path.
func (r *Recorder) ForPath(path string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Path == path {
			out = append(out, e)
		}
	}
	return out
}

// LogReporter writes events to a slog logger at debug level.
type LogReporter struct {
	Logger *slog.Logger
}

// Report logs e.
func (l LogReporter) Report(e Event) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		slog.String("path", e.Path),
		slog.String("phase", string(e.Phase)),
		slog.Duration("elapsed", e.Elapsed),
	}
	if e.TargetFramework != "" {
		attrs = append(attrs, slog.String("target_framework", e.TargetFramework))
	}
	logger.Debug("project load phase", attrs...)
}

// Multi fans events out to several reporters.
func Multi(reporters ...Reporter) Reporter {
	return Func(func(e Event) {
		for _, r := range reporters {
			if r != nil {
				r.Report(e)
			}
		}
	})
}

// Timer measures one phase.
type Timer struct {
	reporter        Reporter
	path            string
	phase           Phase
	targetFramework string
	start           time.Time
}

// Start begins timing phase for path.
func Start(r Reporter, path string, phase Phase) *Timer {
	if r == nil {
		r = Discard
	}
	return &Timer{reporter: r, path: path, phase: phase, start: time.Now()}
}

// Done reports the elapsed time. targetFramework may be empty.
func (t *Timer) Done(targetFramework string) {
	t.reporter.Report(Event{
		Path:            t.path,
		Phase:           t.phase,
		TargetFramework: targetFramework,
		Elapsed:         time.Since(t.start),
	})
}
